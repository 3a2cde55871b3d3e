package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisStateKeyPrefix = "github-oauth:state:"

// RedisStateStore keeps pending state tokens in Redis so callback handling can
// happen on a different process than the one that started the flow.
type RedisStateStore struct {
	client redis.UniversalClient
}

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// SetState registers a state token with a TTL derived from expiresAt.
func (s *RedisStateStore) SetState(ctx context.Context, state string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, redisStateKeyPrefix+state, "1", ttl).Err(); err != nil {
		return fmt.Errorf("persist state token: %w", err)
	}
	return nil
}

// ConsumeState atomically removes the token via GETDEL so concurrent callbacks
// see at most one winner. Expired tokens have already been evicted by the TTL.
func (s *RedisStateStore) ConsumeState(ctx context.Context, state string) (bool, error) {
	_, err := s.client.GetDel(ctx, redisStateKeyPrefix+state).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("consume state token: %w", err)
	}
	return true, nil
}
