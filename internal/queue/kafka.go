package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
	"ytindexer/internal/logger"
	"ytindexer/pkg/tracing"
)

// KafkaQueue maps a queue onto a topic. Attempts and AvailableAt travel in the message
// body; a retry republishes the message and commits the original offset.
type KafkaQueue struct {
	cfg    config.KafkaConfig
	name   string
	logger logger.Logger

	writer     *kafka.Writer
	deadWriter *kafka.Writer

	readerOnce sync.Once
	reader     atomic.Pointer[kafka.Reader]
}

func NewKafkaQueue(cfg config.KafkaConfig, name string, log logger.Logger) *KafkaQueue {
	return &KafkaQueue{
		cfg:        cfg,
		name:       name,
		logger:     log,
		writer:     newKafkaWriter(cfg.Brokers, name),
		deadWriter: newKafkaWriter(cfg.Brokers, name+constants.DeadLetterSuffix),
	}
}

func newKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           constants.KafkaBatchTimeout,
		WriteTimeout:           constants.KafkaWriteTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func (q *KafkaQueue) Name() string {
	return q.name
}

// MaxWorkers is 1: offsets are committed in order by a single reader.
func (q *KafkaQueue) MaxWorkers() int {
	return 1
}

func (q *KafkaQueue) Enqueue(ctx context.Context, msg Message) error {
	return q.publish(ctx, q.writer, msg.ID, msg)
}

func (q *KafkaQueue) publish(ctx context.Context, w *kafka.Writer, key string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := tracing.KafkaHeaders(ctx, kafka.Header{Key: "message_id", Value: []byte(key)})
	err = w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   body,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write kafka message to %s: %w", w.Topic, err)
	}
	return nil
}

func (q *KafkaQueue) getReader() *kafka.Reader {
	q.readerOnce.Do(func() {
		q.logger.Infow("Creating Kafka reader",
			"topic", q.name,
			"brokers", q.cfg.Brokers,
			"group_id", q.cfg.GroupID,
		)
		q.reader.Store(kafka.NewReader(kafka.ReaderConfig{
			Brokers:  q.cfg.Brokers,
			GroupID:  q.cfg.GroupID,
			Topic:    q.name,
			MinBytes: 1,
			MaxBytes: 10e6,
		}))
	})
	return q.reader.Load()
}

func (q *KafkaQueue) Dequeue(ctx context.Context) (Delivery, error) {
	reader := q.getReader()

	m, err := reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		msg = Message{
			ID:      string(m.Key),
			Payload: json.RawMessage(fmt.Sprintf("%q", m.Value)),
		}
	}
	if msg.Trace == nil && len(m.Headers) > 0 {
		msg.Trace = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			msg.Trace[h.Key] = string(h.Value)
		}
	}
	msg.Attempts++

	if wait := time.Until(msg.AvailableAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return &kafkaDelivery{queue: q, reader: reader, raw: m, msg: msg}, nil
}

func (q *KafkaQueue) Depth(ctx context.Context) (int64, error) {
	reader := q.reader.Load()
	if reader == nil {
		return 0, ErrDepthUnsupported
	}
	return reader.Stats().Lag, nil
}

func (q *KafkaQueue) Close() error {
	var firstErr error
	if reader := q.reader.Load(); reader != nil {
		if err := reader.Close(); err != nil {
			firstErr = err
		}
	}
	for _, w := range []*kafka.Writer{q.writer, q.deadWriter} {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type kafkaDelivery struct {
	queue  *KafkaQueue
	reader *kafka.Reader
	raw    kafka.Message
	msg    Message
}

func (d *kafkaDelivery) Message() Message {
	return d.msg
}

func (d *kafkaDelivery) Ack(ctx context.Context) error {
	if err := d.reader.CommitMessages(ctx, d.raw); err != nil {
		return fmt.Errorf("failed to commit offset %d: %w", d.raw.Offset, err)
	}
	return nil
}

func (d *kafkaDelivery) Retry(ctx context.Context, delay time.Duration, cause error) error {
	msg := d.msg
	msg.AvailableAt = time.Now().Add(delay).UTC()
	msg.LastError = errString(cause)

	if err := d.queue.publish(ctx, d.queue.writer, msg.ID, msg); err != nil {
		return err
	}
	return d.Ack(ctx)
}

func (d *kafkaDelivery) DeadLetter(ctx context.Context, dl DeadLetter) error {
	if err := d.queue.publish(ctx, d.queue.deadWriter, dl.ID, dl); err != nil {
		return err
	}
	return d.Ack(ctx)
}
