package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Search         SearchConfig
	Queue          QueueConfig
	Retry          RetryConfig
	Worker         WorkerConfig
	Deduplication  DeduplicationConfig
	Webhook        WebhookConfig
	Extractor      ExtractorConfig
	Indexing       IndexingConfig
	Enrichment     EnrichmentConfig
	API            APIConfig
	Logging        LoggingConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// Enabled reports whether the dead-letter archive database is configured.
func (c PostgresConfig) Enabled() bool {
	return c.Host != ""
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type SearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type QueueConfig struct {
	Type              string         `mapstructure:"type"`
	Notification      QueueDef       `mapstructure:"notification"`
	Metadata          QueueDef       `mapstructure:"metadata"`
	VisibilityTimeout time.Duration  `mapstructure:"visibility_timeout"`
	PollInterval      time.Duration  `mapstructure:"poll_interval"`
	Kafka             KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ          RabbitMQConfig `mapstructure:"rabbitmq"`
}

type QueueDef struct {
	Name     string `mapstructure:"name"`
	MaxDepth int64  `mapstructure:"max_depth"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type DeduplicationConfig struct {
	HashAlgorithm string        `mapstructure:"hash_algorithm"`
	TTL           time.Duration `mapstructure:"ttl"`
	OnRedisError  string        `mapstructure:"on_redis_error"`
}

type WebhookConfig struct {
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
	VerifyToken    string        `mapstructure:"verify_token"`
}

type ExtractorConfig struct {
	FilterExpression string `mapstructure:"filter_expression"`
}

type IndexingConfig struct {
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

type ReconcileConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	MinAge    time.Duration `mapstructure:"min_age"`
}

type EnrichmentConfig struct {
	Transcript TranscriptConfig `mapstructure:"transcript"`
}

type TranscriptConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	URL       string            `mapstructure:"url"`
	Languages []string          `mapstructure:"languages"`
	Headers   map[string]string `mapstructure:"headers"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	CacheTTL  time.Duration     `mapstructure:"cache_ttl"`
}

type APIConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
