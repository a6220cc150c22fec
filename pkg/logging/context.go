package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     contextKey = "trace_id"
	MessageIDKey   contextKey = "message_id"
	// ServiceNameKey is set once on the root logger, never carried in a context.
	ServiceNameKey contextKey = "service_name"
	QueueKey       contextKey = "queue"
	VideoIDKey     contextKey = "video_id"
	RequestIDKey   contextKey = "request_id"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

func WithQueue(ctx context.Context, queue string) context.Context {
	return context.WithValue(ctx, QueueKey, queue)
}

func WithVideoID(ctx context.Context, videoID string) context.Context {
	return context.WithValue(ctx, VideoIDKey, videoID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func GetMessageID(ctx context.Context) string {
	return stringValue(ctx, MessageIDKey)
}

func GetQueue(ctx context.Context) string {
	return stringValue(ctx, QueueKey)
}

func GetVideoID(ctx context.Context) string {
	return stringValue(ctx, VideoIDKey)
}

func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetLogFields returns the context values as zap key/value pairs, in a stable order.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 12)

	for _, key := range []contextKey{TraceIDKey, RequestIDKey, MessageIDKey, QueueKey, VideoIDKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}

	return fields
}
