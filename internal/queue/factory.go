package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"ytindexer/internal/config"
	"ytindexer/internal/constants"
	"ytindexer/internal/logger"
)

// New builds the backend selected by cfg.Type for one queue. rdb is required for the redis backend only.
func New(cfg config.QueueConfig, def config.QueueDef, rdb *redis.Client, prefetch int, log logger.Logger) (Queue, error) {
	switch cfg.Type {
	case constants.QueueTypeRedis, "":
		if rdb == nil {
			return nil, fmt.Errorf("redis queue %s requires a redis client", def.Name)
		}
		return NewRedisQueue(rdb, def.Name, def.MaxDepth, cfg.VisibilityTimeout, cfg.PollInterval), nil
	case constants.QueueTypeKafka:
		kcfg := cfg.Kafka
		if kcfg.GroupID == "" {
			kcfg.GroupID = "ytindexer-" + def.Name
		}
		return NewKafkaQueue(kcfg, def.Name, log), nil
	case constants.QueueTypeRabbitMQ:
		return NewRabbitMQQueue(cfg.RabbitMQ.URL, def.Name, def.MaxDepth, prefetch, log)
	case constants.QueueTypeMemory:
		return NewMemoryQueue(def.Name, def.MaxDepth, cfg.VisibilityTimeout, cfg.PollInterval), nil
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}

// NativeDeadLetters returns the backend's own dead-letter store when it can be listed.
func NativeDeadLetters(q Queue) (DeadLetterStore, bool) {
	store, ok := q.(DeadLetterStore)
	return store, ok
}
