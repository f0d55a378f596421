package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps all entries in one hash so that Clear is a single DEL.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore stores the session under "<prefix>:session". A zero ttl keeps
// the entries until Clear.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "storefront"
	}
	return &RedisStore{
		client: client,
		key:    sessionKey(prefix),
		ttl:    ttl,
	}
}

func (r *RedisStore) Load(ctx context.Context) (domain.Tokens, error) {
	entries, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return domain.Tokens{}, fmt.Errorf("redis hgetall failed: %w", err)
	}
	return fromEntries(entries), nil
}

func (r *RedisStore) Save(ctx context.Context, tokens domain.Tokens) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		pipe.HSet(ctx, r.key, toEntries(tokens))
		if r.ttl > 0 {
			pipe.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func sessionKey(prefix string) string {
	return fmt.Sprintf("%s:session", prefix)
}
