package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	msg      Message
	seq      uint64
	deadline time.Time
	claim    uint64
}

// MemoryQueue is an in-process Queue and DeadLetterStore with the same visibility and
// attempts rules as the networked backends. It does not survive a restart.
type MemoryQueue struct {
	name       string
	maxDepth   int64
	visibility time.Duration
	poll       time.Duration

	mu       sync.Mutex
	ready    map[string]*memoryEntry
	inflight map[string]*memoryEntry
	dead     map[string]DeadLetter
	seq      uint64
	closed   bool
	notify   chan struct{}
	now      func() time.Time
}

func NewMemoryQueue(name string, maxDepth int64, visibility, poll time.Duration) *MemoryQueue {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &MemoryQueue{
		name:       name,
		maxDepth:   maxDepth,
		visibility: visibility,
		poll:       poll,
		ready:      make(map[string]*memoryEntry),
		inflight:   make(map[string]*memoryEntry),
		dead:       make(map[string]DeadLetter),
		notify:     make(chan struct{}, 1),
		now:        time.Now,
	}
}

func (q *MemoryQueue) Name() string {
	return q.name
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.maxDepth > 0 && int64(len(q.ready)+len(q.inflight)) >= q.maxDepth {
		return ErrQueueFull
	}
	if _, exists := q.ready[msg.ID]; exists {
		return nil
	}
	if _, exists := q.inflight[msg.ID]; exists {
		return nil
	}

	q.seq++
	q.ready[msg.ID] = &memoryEntry{msg: msg, seq: q.seq}
	q.signal()
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Delivery, error) {
	for {
		d, wait, err := q.claim()
		if err != nil || d != nil {
			return d, err
		}

		if wait <= 0 || wait > q.poll {
			wait = q.poll
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// claim returns a delivery, or the time until the earliest message becomes visible.
func (q *MemoryQueue) claim() (Delivery, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, 0, ErrClosed
	}

	now := q.now()
	for id, e := range q.inflight {
		if q.visibility > 0 && now.After(e.deadline) {
			delete(q.inflight, id)
			q.seq++
			e.seq = q.seq
			q.ready[id] = e
		}
	}

	var next *memoryEntry
	var wait time.Duration
	for _, e := range q.ready {
		if !e.msg.Visible(now) {
			if until := e.msg.AvailableAt.Sub(now); wait == 0 || until < wait {
				wait = until
			}
			continue
		}
		if next == nil || e.seq < next.seq {
			next = e
		}
	}
	if next == nil {
		return nil, wait, nil
	}

	delete(q.ready, next.msg.ID)
	next.msg.Attempts++
	next.deadline = now.Add(q.visibility)
	q.seq++
	next.claim = q.seq
	q.inflight[next.msg.ID] = next

	return &memoryDelivery{queue: q, msg: next.msg, claim: next.claim}, 0, nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready) + len(q.inflight)), nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// settle removes the in-flight entry if it is still owned by the given claim.
func (q *MemoryQueue) settle(id string, claim uint64) (*memoryEntry, bool) {
	e, ok := q.inflight[id]
	if !ok || e.claim != claim {
		return nil, false
	}
	delete(q.inflight, id)
	return e, true
}

func (q *MemoryQueue) Put(ctx context.Context, dl DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead[dl.ID] = dl
	return nil
}

func (q *MemoryQueue) List(ctx context.Context, queue string, limit int) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetter, 0, len(q.dead))
	for _, dl := range q.dead {
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

func (q *MemoryQueue) Get(ctx context.Context, id string) (DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	dl, ok := q.dead[id]
	if !ok {
		return DeadLetter{}, ErrDeadLetterMissing
	}
	return dl, nil
}

func (q *MemoryQueue) Delete(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.dead, id)
	return nil
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   Message
	claim uint64
}

func (d *memoryDelivery) Message() Message {
	return d.msg
}

func (d *memoryDelivery) Ack(ctx context.Context) error {
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	d.queue.settle(d.msg.ID, d.claim)
	return nil
}

func (d *memoryDelivery) Retry(ctx context.Context, delay time.Duration, cause error) error {
	q := d.queue
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.settle(d.msg.ID, d.claim)
	if !ok {
		return nil
	}
	e.msg.AvailableAt = q.now().Add(delay)
	e.msg.LastError = errString(cause)
	q.seq++
	e.seq = q.seq
	q.ready[e.msg.ID] = e
	q.signal()
	return nil
}

func (d *memoryDelivery) DeadLetter(ctx context.Context, dl DeadLetter) error {
	q := d.queue
	q.mu.Lock()
	defer q.mu.Unlock()

	q.settle(d.msg.ID, d.claim)
	q.dead[dl.ID] = dl
	return nil
}
