package tracing

import (
	"context"
	"sort"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const queueTracerName = "ytindexer-queue"

// InjectMap returns the propagation fields of ctx, or nil when there is no span.
// Queue messages carry the map in their envelope.
func InjectMap(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}

func ExtractMap(ctx context.Context, m map[string]string) context.Context {
	if len(m) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(m))
}

// KafkaHeaders appends the propagation fields of ctx to headers. Existing
// headers with the same keys are replaced.
func KafkaHeaders(ctx context.Context, headers ...kafka.Header) []kafka.Header {
	fields := InjectMap(ctx)

	out := make([]kafka.Header, 0, len(headers)+len(fields))
	for _, h := range headers {
		if _, replaced := fields[h.Key]; !replaced {
			out = append(out, h)
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, kafka.Header{Key: k, Value: []byte(fields[k])})
	}
	return out
}

// StartConsumerSpan starts a consumer span parented on the trace a queue message carried.
func StartConsumerSpan(ctx context.Context, operation string, carried map[string]string) (context.Context, trace.Span) {
	ctx = ExtractMap(ctx, carried)
	return GetTracer(queueTracerName).Start(ctx, operation, trace.WithSpanKind(trace.SpanKindConsumer))
}

// TraceID returns the hex trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
