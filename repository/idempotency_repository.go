package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoredResponse is a previously returned HTTP response, replayed for a repeated Idempotency-Key.
type StoredResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyRepository stores responses keyed by client-supplied idempotency keys.
type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (*StoredResponse, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Save(ctx context.Context, key string, resp *StoredResponse, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type RedisIdempotencyRepository struct {
	client redis.Cmdable
}

func NewRedisIdempotencyRepository(client redis.Cmdable) *RedisIdempotencyRepository {
	return &RedisIdempotencyRepository{client: client}
}

func (r *RedisIdempotencyRepository) responseKey(key string) string {
	return "idem:checkout:" + key
}

func (r *RedisIdempotencyRepository) lockKey(key string) string {
	return "idem:checkout:lock:" + key
}

// Get returns nil, nil when nothing is stored for key.
func (r *RedisIdempotencyRepository) Get(ctx context.Context, key string) (*StoredResponse, error) {
	val, err := r.client.Get(ctx, r.responseKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp StoredResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	return &resp, nil
}

// Reserve marks key as in flight; false means another request holds it.
func (r *RedisIdempotencyRepository) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.lockKey(key), "1", ttl).Result()
}

func (r *RedisIdempotencyRepository) Save(ctx context.Context, key string, resp *StoredResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.responseKey(key), data, ttl).Err()
}

func (r *RedisIdempotencyRepository) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.lockKey(key)).Err()
}
