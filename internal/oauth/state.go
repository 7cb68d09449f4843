package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const statePrefix = "oauth:state:"

// RedisStateStore keeps consent states in Redis so any API instance can complete the callback.
type RedisStateStore struct {
	client *redis.Client
}

// NewRedisStateStore creates a Redis-backed state store.
func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// Put stores state → owner for ttl.
func (s *RedisStateStore) Put(ctx context.Context, state string, ownerID uuid.UUID, ttl time.Duration) error {
	return s.client.SetEx(ctx, statePrefix+state, ownerID.String(), ttl).Err()
}

// Take consumes a state. Each state can be taken once.
func (s *RedisStateStore) Take(ctx context.Context, state string) (uuid.UUID, error) {
	v, err := s.client.GetDel(ctx, statePrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrInvalidState
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("read state: %w", err)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, ErrInvalidState
	}
	return id, nil
}
