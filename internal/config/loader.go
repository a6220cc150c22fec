package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"ytindexer/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", "15s")
	viper.SetDefault("server.write_timeout_seconds", "15s")

	viper.SetDefault("database.mongodb.database", constants.DefaultMongoDBName)
	viper.SetDefault("database.postgres.sslmode", "disable")

	viper.SetDefault("search.index", constants.DefaultSearchIndex)

	viper.SetDefault("queue.type", constants.QueueTypeRedis)
	viper.SetDefault("queue.notification.name", constants.DefaultNotificationQueue)
	viper.SetDefault("queue.metadata.name", constants.DefaultMetadataQueue)
	viper.SetDefault("queue.visibility_timeout", constants.DefaultVisibilityTimeout.String())
	viper.SetDefault("queue.poll_interval", constants.DefaultPollInterval.String())

	viper.SetDefault("retry.max_attempts", constants.DefaultMaxAttempts)
	viper.SetDefault("retry.backoff_base", constants.DefaultBackoffBase.String())
	viper.SetDefault("retry.backoff_cap", constants.DefaultBackoffCap.String())

	viper.SetDefault("worker.concurrency", constants.DefaultWorker)

	viper.SetDefault("deduplication.hash_algorithm", "sha256")
	viper.SetDefault("deduplication.ttl", constants.DefaultTTL.String())
	viper.SetDefault("deduplication.on_redis_error", constants.FallbackDeny)

	viper.SetDefault("webhook.max_body_bytes", constants.DefaultWebhookMaxBody)
	viper.SetDefault("webhook.enqueue_timeout", constants.DefaultEnqueueTimeout.String())

	viper.SetDefault("indexing.reconcile.enabled", true)
	viper.SetDefault("indexing.reconcile.interval", "1m")
	viper.SetDefault("indexing.reconcile.batch_size", 100)
	viper.SetDefault("indexing.reconcile.min_age", "30s")

	viper.SetDefault("enrichment.transcript.languages", []string{"en", "en-US"})
	viper.SetDefault("enrichment.transcript.timeout", "5s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

func bindEnvVariables() {
	viper.BindEnv("queue.type", "QUEUE_TYPE")
	viper.BindEnv("queue.kafka.brokers", "QUEUE_KAFKA_BROKERS")
	viper.BindEnv("queue.kafka.group_id", "QUEUE_KAFKA_GROUP_ID")
	viper.BindEnv("queue.rabbitmq.url", "QUEUE_RABBITMQ_URL")

	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("search.addresses", "SEARCH_ADDRESSES")
	viper.BindEnv("search.username", "SEARCH_USERNAME")
	viper.BindEnv("search.password", "SEARCH_PASSWORD")
	viper.BindEnv("search.index", "SEARCH_INDEX")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("webhook.verify_token", "WEBHOOK_VERIFY_TOKEN")
	viper.BindEnv("enrichment.transcript.url", "ENRICHMENT_TRANSCRIPT_URL")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if brokers := splitList(viper.GetString("QUEUE_KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Queue.Kafka.Brokers = brokers
	}

	if addresses := splitList(viper.GetString("SEARCH_ADDRESSES")); len(addresses) > 0 {
		cfg.Search.Addresses = addresses
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	return nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
