package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixDedup  = "dedup:"
	CacheKeyPrefixEnrich = "enrich:"
)

const (
	DefaultNotificationQueue = "notifications"
	DefaultMetadataQueue     = "metadata"
	DeadLetterSuffix         = ".dead"
	RetrySuffix              = ".retry"
)

const (
	QueueTypeRedis    = "redis"
	QueueTypeKafka    = "kafka"
	QueueTypeRabbitMQ = "rabbitmq"
	QueueTypeMemory   = "memory"
)

const (
	DefaultMongoDBName       = "ytindexer"
	VideosCollection         = "videos"
	ChannelsCollection       = "channels"
	DefaultSearchIndex       = "videos"
	DefaultDeadLetterTable   = "dead_letters"
	DefaultWebhookMaxBody    = 1 << 20
	DefaultEnqueueTimeout    = 5 * time.Second
	DefaultVisibilityTimeout = 60 * time.Second
	DefaultPollInterval      = 250 * time.Millisecond
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit  = 10
	MaxLimit      = 100
	DefaultTTL    = 24 * time.Hour
	DefaultWorker = 4
)

// MaxResultWindow is Elasticsearch's default index.max_result_window.
const MaxResultWindow = 10000

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffCap  = 60 * time.Second
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)

const (
	ServiceNameAPI       = "api-service"
	ServiceNameExtractor = "extractor-service"
	ServiceNameIndexer   = "indexer-service"
	ServiceNameCLI       = "ytctl"
)

const (
	APIName    = "YouTube Indexer API"
	APIVersion = "1.0.0"
	APIDocs    = "/docs/index.html"
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)
