package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys share a hash tag so the scripts stay single-slot on a cluster.
type redisKeys struct {
	ready    string
	inflight string
	msgs     string
	attempts string
	dead     string
}

func newRedisKeys(name string) redisKeys {
	prefix := fmt.Sprintf("queue:{%s}:", name)
	return redisKeys{
		ready:    prefix + "ready",
		inflight: prefix + "inflight",
		msgs:     prefix + "msgs",
		attempts: prefix + "attempts",
		dead:     prefix + "dead",
	}
}

var enqueueScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 1 then
  return 1
end
local max = tonumber(ARGV[4])
if max > 0 and redis.call('HLEN', KEYS[2]) >= max then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[5])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

var claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], ARGV[1], id)
end
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
local body = redis.call('HGET', KEYS[3], id)
if not body then
  redis.call('HDEL', KEYS[4], id)
  return false
end
redis.call('ZADD', KEYS[2], ARGV[2], id)
local attempts = redis.call('HINCRBY', KEYS[4], id, 1)
return {id, body, attempts}
`)

type RedisQueue struct {
	client     *redis.Client
	name       string
	keys       redisKeys
	maxDepth   int64
	visibility time.Duration
	poll       time.Duration
}

func NewRedisQueue(client *redis.Client, name string, maxDepth int64, visibility, poll time.Duration) *RedisQueue {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &RedisQueue{
		client:     client,
		name:       name,
		keys:       newRedisKeys(name),
		maxDepth:   maxDepth,
		visibility: visibility,
		poll:       poll,
	}
}

func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	res, err := enqueueScript.Run(ctx, q.client,
		[]string{q.keys.ready, q.keys.msgs, q.keys.attempts},
		msg.ID, body, msg.AvailableAt.UnixMilli(), q.maxDepth, msg.Attempts,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to enqueue to %s: %w", q.name, err)
	}
	if res == 0 {
		return ErrQueueFull
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Delivery, error) {
	for {
		d, err := q.claim(ctx)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, redis.Nil) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.poll):
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context) (Delivery, error) {
	now := time.Now()
	deadline := now.Add(q.visibility)

	vals, err := claimScript.Run(ctx, q.client,
		[]string{q.keys.ready, q.keys.inflight, q.keys.msgs, q.keys.attempts},
		now.UnixMilli(), deadline.UnixMilli(),
	).Slice()
	if err != nil {
		return nil, err
	}
	if len(vals) != 3 {
		return nil, fmt.Errorf("unexpected claim reply from %s: %v", q.name, vals)
	}

	body, _ := vals[1].(string)
	attempts, _ := vals[2].(int64)

	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		// Keep the raw body so the consumer can dead-letter it.
		id, _ := vals[0].(string)
		msg = Message{ID: id, Payload: json.RawMessage(fmt.Sprintf("%q", body))}
	}
	msg.Attempts = int(attempts)

	return &redisDelivery{queue: q, msg: msg}, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.HLen(ctx, q.keys.msgs).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read depth of %s: %w", q.name, err)
	}
	return n, nil
}

// Close is a no-op; the redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	return nil
}

func (q *RedisQueue) Put(ctx context.Context, dl DeadLetter) error {
	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	return q.client.HSet(ctx, q.keys.dead, dl.ID, body).Err()
}

func (q *RedisQueue) List(ctx context.Context, queue string, limit int) ([]DeadLetter, error) {
	all, err := q.client.HGetAll(ctx, q.keys.dead).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters of %s: %w", q.name, err)
	}

	out := make([]DeadLetter, 0, len(all))
	for _, raw := range all {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(raw), &dl); err != nil {
			continue
		}
		if queue != "" && dl.Queue != queue {
			continue
		}
		out = append(out, dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.Before(out[j].FailedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *RedisQueue) Get(ctx context.Context, id string) (DeadLetter, error) {
	raw, err := q.client.HGet(ctx, q.keys.dead, id).Result()
	if errors.Is(err, redis.Nil) {
		return DeadLetter{}, ErrDeadLetterMissing
	}
	if err != nil {
		return DeadLetter{}, err
	}
	var dl DeadLetter
	if err := json.Unmarshal([]byte(raw), &dl); err != nil {
		return DeadLetter{}, fmt.Errorf("failed to decode dead letter %s: %w", id, err)
	}
	return dl, nil
}

func (q *RedisQueue) Delete(ctx context.Context, id string) error {
	return q.client.HDel(ctx, q.keys.dead, id).Err()
}

type redisDelivery struct {
	queue *RedisQueue
	msg   Message
}

func (d *redisDelivery) Message() Message {
	return d.msg
}

func (d *redisDelivery) Ack(ctx context.Context) error {
	k := d.queue.keys
	_, err := d.queue.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, k.inflight, d.msg.ID)
		pipe.HDel(ctx, k.msgs, d.msg.ID)
		pipe.HDel(ctx, k.attempts, d.msg.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack %s: %w", d.msg.ID, err)
	}
	return nil
}

func (d *redisDelivery) Retry(ctx context.Context, delay time.Duration, cause error) error {
	msg := d.msg
	msg.AvailableAt = time.Now().Add(delay).UTC()
	msg.LastError = errString(cause)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	k := d.queue.keys
	_, err = d.queue.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, k.inflight, msg.ID)
		pipe.HSet(ctx, k.msgs, msg.ID, body)
		pipe.ZAdd(ctx, k.ready, redis.Z{Score: float64(msg.AvailableAt.UnixMilli()), Member: msg.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retry of %s: %w", msg.ID, err)
	}
	return nil
}

func (d *redisDelivery) DeadLetter(ctx context.Context, dl DeadLetter) error {
	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	k := d.queue.keys
	_, err = d.queue.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, k.inflight, d.msg.ID)
		pipe.HDel(ctx, k.msgs, d.msg.ID)
		pipe.HDel(ctx, k.attempts, d.msg.ID)
		pipe.HSet(ctx, k.dead, dl.ID, body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to dead-letter %s: %w", d.msg.ID, err)
	}
	return nil
}
