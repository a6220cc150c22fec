package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"ytindexer/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	hashAlgorithms = []string{"md5", "sha1", "sha256"}
	sslModes       = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	samplerTypes   = []string{"", "always_on", "always_off", "traceidratio", "parentbased_always_on", "parentbased_traceidratio"}
	logLevels      = []string{"", "debug", "info", "warn", "error"}
)

// problems collects every violation so a bad file is fixed in one pass.
type problems []error

func (p *problems) add(field, format string, args ...interface{}) {
	*p = append(*p, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (p *problems) port(field string, v int) {
	if v < 1 || v > 65535 {
		p.add(field, "port must be between 1 and 65535, got %d", v)
	}
}

func (p *problems) oneOf(field, v string, allowed []string) {
	if !slices.Contains(allowed, strings.ToLower(v)) {
		p.add(field, "%q is not one of %s", v, strings.Join(allowed, ", "))
	}
}

func (p *problems) scheme(field, raw string, schemes ...string) {
	u, err := url.Parse(raw)
	if err != nil || !slices.Contains(schemes, u.Scheme) {
		p.add(field, "must be a %s URL", strings.Join(schemes, " or "))
	}
}

// ValidateStatic checks what can be checked without dialing any backend.
// All violations are returned joined.
func ValidateStatic(cfg *Config) error {
	var p problems

	p.port("server.port", cfg.Server.Port)
	if cfg.Server.ReadTimeoutSeconds <= 0 || cfg.Server.WriteTimeoutSeconds <= 0 {
		p.add("server", "read and write timeouts must be positive")
	}

	checkQueue(&p, cfg.Queue)
	checkRetry(&p, cfg.Retry)
	checkStores(&p, cfg)

	if cfg.Worker.Concurrency < 0 {
		p.add("worker.concurrency", "must not be negative")
	}

	dedup := cfg.Deduplication
	if dedup.HashAlgorithm != "" {
		p.oneOf("deduplication.hash_algorithm", dedup.HashAlgorithm, hashAlgorithms)
	}
	if dedup.TTL <= 0 {
		p.add("deduplication.ttl", "TTL must be positive")
	}
	if dedup.OnRedisError != "" {
		p.oneOf("deduplication.on_redis_error", dedup.OnRedisError, []string{constants.FallbackAllow, constants.FallbackDeny})
	}

	if cfg.Webhook.MaxBodyBytes <= 0 {
		p.add("webhook.max_body_bytes", "must be positive")
	}

	if rc := cfg.Indexing.Reconcile; rc.Enabled && (rc.Interval <= 0 || rc.BatchSize <= 0) {
		p.add("indexing.reconcile", "interval and batch_size must be positive when enabled")
	}

	if t := cfg.Enrichment.Transcript; t.Enabled && !strings.Contains(t.URL, "{video_id}") {
		p.add("enrichment.transcript.url", "transcript URL must contain the {video_id} placeholder")
	}

	if cb := cfg.CircuitBreaker; cb.FailureRatio < 0 || cb.FailureRatio > 1 {
		p.add("circuit_breaker.failure_ratio", "must be within [0, 1], got %g", cb.FailureRatio)
	}

	p.oneOf("logging.level", cfg.Logging.Level, logLevels)
	p.oneOf("tracing.sampler.type", cfg.Tracing.Sampler.Type, samplerTypes)
	if cfg.Tracing.Enabled && cfg.Tracing.OTLP.Endpoint == "" {
		p.add("tracing.otlp.endpoint", "required when tracing is enabled")
	}

	return errors.Join(p...)
}

func checkQueue(p *problems, cfg QueueConfig) {
	if cfg.Notification.Name == "" || cfg.Metadata.Name == "" {
		p.add("queue.notification.name", "queue names are required")
	} else if cfg.Notification.Name == cfg.Metadata.Name {
		p.add("queue.metadata.name", "notification and metadata queues must differ")
	}
	if cfg.Notification.MaxDepth < 0 || cfg.Metadata.MaxDepth < 0 {
		p.add("queue.max_depth", "must not be negative")
	}
	if cfg.VisibilityTimeout <= 0 {
		p.add("queue.visibility_timeout", "visibility timeout must be positive")
	}

	switch cfg.Type {
	case constants.QueueTypeRedis, constants.QueueTypeMemory:
	case constants.QueueTypeKafka:
		if len(cfg.Kafka.Brokers) == 0 || slices.Contains(cfg.Kafka.Brokers, "") {
			p.add("queue.kafka.brokers", "at least one non-empty broker address is required")
		}
	case constants.QueueTypeRabbitMQ:
		p.scheme("queue.rabbitmq.url", cfg.RabbitMQ.URL, "amqp", "amqps")
	default:
		p.add("queue.type", "unknown queue type %q (supported: redis, kafka, rabbitmq, memory)", cfg.Type)
	}
}

func checkRetry(p *problems, cfg RetryConfig) {
	if cfg.MaxAttempts < 1 {
		p.add("retry.max_attempts", "max_attempts must be at least 1")
	}
	if cfg.BackoffBase <= 0 {
		p.add("retry.backoff_base", "backoff_base must be positive")
	} else if cfg.BackoffCap < cfg.BackoffBase {
		p.add("retry.backoff_cap", "backoff_cap must be at least backoff_base")
	}
}

// checkStores validates only the backends that are configured at all.
func checkStores(p *problems, cfg *Config) {
	if pg := cfg.Database.Postgres; pg.Host != "" || pg.Port > 0 {
		if pg.Host == "" || pg.User == "" || pg.DBName == "" {
			p.add("database.postgres", "host, user and dbname are required")
		}
		p.port("database.postgres.port", pg.Port)
		if pg.SSLMode != "" {
			p.oneOf("database.postgres.sslmode", pg.SSLMode, sslModes)
		}
	}

	if rd := cfg.Database.Redis; rd.Host != "" || rd.Port > 0 {
		if rd.Host == "" {
			p.add("database.redis.host", "Redis host is required")
		}
		p.port("database.redis.port", rd.Port)
	}

	if mg := cfg.Database.MongoDB; mg.URI != "" {
		p.scheme("database.mongodb.uri", mg.URI, "mongodb", "mongodb+srv")
		if mg.Database == "" {
			p.add("database.mongodb.database", "MongoDB database name is required")
		}
	}

	for i, addr := range cfg.Search.Addresses {
		p.scheme(fmt.Sprintf("search.addresses[%d]", i), addr, "http", "https")
	}
	if idx := cfg.Search.Index; idx != "" && idx != strings.ToLower(idx) {
		p.add("search.index", "index names must be lowercase")
	}
}
