package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ytindexer/internal/constants"
	"ytindexer/internal/logger"
	"ytindexer/pkg/tracing"
)

// RabbitMQQueue uses three durable queues: <name> (bounded, reject-publish),
// <name>.retry (per-message TTL, dead-letters back into <name>) and <name>.dead.
type RabbitMQQueue struct {
	conn     *amqp.Connection
	name     string
	maxDepth int64
	prefetch int
	logger   logger.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel

	consumeOnce sync.Once
	consumeErr  error
	consCh      *amqp.Channel
	deliveries  <-chan amqp.Delivery
}

func NewRabbitMQQueue(url, name string, maxDepth int64, prefetch int, log logger.Logger) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q := &RabbitMQQueue{
		conn:     conn,
		name:     name,
		maxDepth: maxDepth,
		prefetch: prefetch,
		logger:   log,
		pubCh:    ch,
	}

	if err := q.declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return q, nil
}

func (q *RabbitMQQueue) declare(ch *amqp.Channel) error {
	mainArgs := amqp.Table{}
	if q.maxDepth > 0 {
		mainArgs["x-max-length"] = q.maxDepth
		mainArgs["x-overflow"] = "reject-publish"
	}
	if _, err := ch.QueueDeclare(q.name, true, false, false, false, mainArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.name, err)
	}

	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.name,
	}
	if _, err := ch.QueueDeclare(q.name+constants.RetrySuffix, true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.name+constants.RetrySuffix, err)
	}

	if _, err := ch.QueueDeclare(q.name+constants.DeadLetterSuffix, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.name+constants.DeadLetterSuffix, err)
	}
	return nil
}

func (q *RabbitMQQueue) Name() string {
	return q.name
}

func (q *RabbitMQQueue) Enqueue(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return q.publish(ctx, q.name, body, "", traceHeaders(ctx))
}

func traceHeaders(ctx context.Context) amqp.Table {
	carried := tracing.InjectMap(ctx)
	if len(carried) == 0 {
		return nil
	}
	headers := amqp.Table{}
	for k, v := range carried {
		headers[k] = v
	}
	return headers
}

// publish waits for the broker confirm. A nack from a full queue is ErrQueueFull.
func (q *RabbitMQQueue) publish(ctx context.Context, routingKey string, body []byte, expiration string, headers amqp.Table) error {
	q.pubMu.Lock()
	confirm, err := q.pubCh.PublishWithDeferredConfirmWithContext(ctx,
		"",
		routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Expiration:   expiration,
			Headers:      headers,
		},
	)
	q.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", routingKey, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm publish to %s: %w", routingKey, err)
	}
	if !acked {
		return ErrQueueFull
	}
	return nil
}

func (q *RabbitMQQueue) startConsuming(ctx context.Context) error {
	q.consumeOnce.Do(func() {
		ch, err := q.conn.Channel()
		if err != nil {
			q.consumeErr = fmt.Errorf("open consumer channel: %w", err)
			return
		}
		if q.prefetch > 0 {
			if err := ch.Qos(q.prefetch, 0, false); err != nil {
				ch.Close()
				q.consumeErr = fmt.Errorf("set qos: %w", err)
				return
			}
		}
		deliveries, err := ch.ConsumeWithContext(
			context.WithoutCancel(ctx),
			q.name,
			"",
			false, // autoAck=false
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			ch.Close()
			q.consumeErr = fmt.Errorf("consume: %w", err)
			return
		}
		q.consCh = ch
		q.deliveries = deliveries
		q.logger.Infow("Started consuming", "queue", q.name, "prefetch", q.prefetch)
	})
	return q.consumeErr
}

func (q *RabbitMQQueue) Dequeue(ctx context.Context) (Delivery, error) {
	if err := q.startConsuming(ctx); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, ErrClosed
		}

		var msg Message
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			msg = Message{
				ID:      d.MessageId,
				Payload: json.RawMessage(fmt.Sprintf("%q", d.Body)),
			}
		}
		if msg.Trace == nil && len(d.Headers) > 0 {
			msg.Trace = make(map[string]string, len(d.Headers))
			for k, v := range d.Headers {
				if s, ok := v.(string); ok {
					msg.Trace[k] = s
				}
			}
		}
		msg.Attempts++

		return &rabbitDelivery{queue: q, raw: d, msg: msg}, nil
	}
}

func (q *RabbitMQQueue) Depth(ctx context.Context) (int64, error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return 0, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	info, err := ch.QueueDeclarePassive(q.name, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("inspect queue %s: %w", q.name, err)
	}
	return int64(info.Messages), nil
}

func (q *RabbitMQQueue) Close() error {
	if q.consCh != nil {
		q.consCh.Close()
	}
	if q.pubCh != nil {
		q.pubCh.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

type rabbitDelivery struct {
	queue *RabbitMQQueue
	raw   amqp.Delivery
	msg   Message
}

func (d *rabbitDelivery) Message() Message {
	return d.msg
}

func (d *rabbitDelivery) Ack(ctx context.Context) error {
	if err := d.raw.Ack(false); err != nil {
		return fmt.Errorf("ack delivery %d: %w", d.raw.DeliveryTag, err)
	}
	return nil
}

func (d *rabbitDelivery) Retry(ctx context.Context, delay time.Duration, cause error) error {
	msg := d.msg
	msg.AvailableAt = time.Now().Add(delay).UTC()
	msg.LastError = errString(cause)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	routingKey, expiration := d.queue.name, ""
	if delay > 0 {
		routingKey = d.queue.name + constants.RetrySuffix
		expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}
	if err := d.queue.publish(ctx, routingKey, body, expiration, d.raw.Headers); err != nil {
		return err
	}
	return d.Ack(ctx)
}

func (d *rabbitDelivery) DeadLetter(ctx context.Context, dl DeadLetter) error {
	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	headers := amqp.Table{
		"x-dlq-reason": dl.Reason,
		"x-dlq-kind":   string(dl.Kind),
	}
	if err := d.queue.publish(ctx, d.queue.name+constants.DeadLetterSuffix, body, "", headers); err != nil {
		return err
	}
	return d.Ack(ctx)
}
