package deduplication

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Repository interface {
	// Claim stores owner under key unless the key exists. It reports true when owner
	// holds the key afterwards, which includes a key claimed earlier by the same owner.
	Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release deletes key only while owner still holds it.
	Release(ctx context.Context, key, owner string) error
}

type RedisRepository struct {
	client *redis.Client
}

func NewRepository(client *redis.Client) Repository {
	return &RedisRepository{client: client}
}

var claimScript = redis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return ARGV[1]
end
return redis.call('GET', KEYS[1])
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (r *RedisRepository) Claim(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	holder, err := claimScript.Run(ctx, r.client, []string{key}, owner, ttl.Milliseconds()).Text()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis claim failed: %w", err)
	}
	return holder == owner, nil
}

func (r *RedisRepository) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, r.client, []string{key}, owner).Err(); err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	return nil
}
