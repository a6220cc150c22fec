package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ytindexer/pkg/logging"
	"ytindexer/pkg/tracing"
)

type Message struct {
	ID          string            `json:"id"`
	Payload     json.RawMessage   `json:"payload"`
	Attempts    int               `json:"attempts"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
	AvailableAt time.Time         `json:"available_at"`
	LastError   string            `json:"last_error,omitempty"`
	TraceID     string            `json:"trace_id,omitempty"`
	Trace       map[string]string `json:"trace,omitempty"`
}

// NewMessage wraps payload in a fresh, immediately visible message carrying the trace of ctx.
func NewMessage(ctx context.Context, payload interface{}) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	now := time.Now().UTC()
	traceID := tracing.TraceID(ctx)
	if traceID == "" {
		traceID = logging.GetTraceID(ctx)
	}

	return Message{
		ID:          uuid.NewString(),
		Payload:     body,
		EnqueuedAt:  now,
		AvailableAt: now,
		TraceID:     traceID,
		Trace:       tracing.InjectMap(ctx),
	}, nil
}

func (m Message) Decode(v interface{}) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode message %s: %w", m.ID, err)
	}
	return nil
}

func (m Message) Visible(now time.Time) bool {
	return !now.Before(m.AvailableAt)
}

// ForReplay returns a copy that starts over: zero attempts, visible now, no recorded error.
func (m Message) ForReplay() Message {
	now := time.Now().UTC()
	m.Attempts = 0
	m.AvailableAt = now
	m.LastError = ""
	return m
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func newDeadLetterID() string {
	return uuid.NewString()
}
