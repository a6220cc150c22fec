package logger

import (
	"context"
	"os"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ytindexer/internal/config"
	"ytindexer/pkg/logging"
)

type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Fatal(args ...interface{})
	Fatalf(template string, args ...interface{})
	Sync() error

	// The Ctx variants add request, message and trace identifiers found in ctx.
	DebugwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	InfowCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	WarnwCtx(ctx context.Context, msg string, keysAndValues ...interface{})
	ErrorwCtx(ctx context.Context, msg string, keysAndValues ...interface{})

	With(keysAndValues ...interface{}) Logger
}

type SugaredLogger struct {
	*zap.SugaredLogger
}

type Option func(*options)

type options struct {
	service string
	sink    zapcore.WriteSyncer
}

// WithService stamps service_name on every entry.
func WithService(name string) Option {
	return func(o *options) { o.service = name }
}

func withSink(ws zapcore.WriteSyncer) Option {
	return func(o *options) { o.sink = ws }
}

// New builds a JSON logger at the given level.
func New(level string, opts ...Option) (Logger, error) {
	return NewWithConfig(config.LoggingConfig{Level: level, Format: "json"}, opts...)
}

// NewWithConfig builds a JSON logger, or a colored console one for format "console".
// An empty level means info.
func NewWithConfig(cfg config.LoggingConfig, opts ...Option) (Logger, error) {
	o := options{sink: zapcore.Lock(os.Stderr)}
	for _, opt := range opts {
		opt(&o)
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
	} else {
		encoder = zapcore.NewJSONEncoder(enc)
	}

	core := zapcore.NewCore(encoder, o.sink, zap.NewAtomicLevelAt(level))
	zl := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if o.service != "" {
		zl = zl.With(zap.String(string(logging.ServiceNameKey), o.service))
	}
	return &SugaredLogger{SugaredLogger: zl.Sugar()}, nil
}

func (l *SugaredLogger) With(keysAndValues ...interface{}) Logger {
	return &SugaredLogger{SugaredLogger: l.SugaredLogger.With(keysAndValues...)}
}

func (l *SugaredLogger) DebugwCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logCtx(ctx, zapcore.DebugLevel, msg, keysAndValues)
}

func (l *SugaredLogger) InfowCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logCtx(ctx, zapcore.InfoLevel, msg, keysAndValues)
}

func (l *SugaredLogger) WarnwCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logCtx(ctx, zapcore.WarnLevel, msg, keysAndValues)
}

func (l *SugaredLogger) ErrorwCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.logCtx(ctx, zapcore.ErrorLevel, msg, keysAndValues)
}

func (l *SugaredLogger) logCtx(ctx context.Context, lvl zapcore.Level, msg string, keysAndValues []interface{}) {
	if !l.Level().Enabled(lvl) {
		return
	}
	l.Logw(lvl, msg, append(contextFields(ctx), keysAndValues...)...)
}

// contextFields falls back to the active span when no trace id was stored explicitly.
func contextFields(ctx context.Context) []interface{} {
	fields := logging.GetLogFields(ctx)
	if logging.GetTraceID(ctx) == "" {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields, string(logging.TraceIDKey), sc.TraceID().String(), "span_id", sc.SpanID().String())
		}
	}
	return fields
}

func NopLogger() Logger {
	return &SugaredLogger{SugaredLogger: zap.NewNop().Sugar()}
}
