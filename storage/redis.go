package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
)

const defaultRedisPrefix = "vetkd-custody:secret:"

// RedisMap implements a durable map on a Redis server. Durability is that of
// the server's persistence configuration (AOF with fsync always for crash safety).
type RedisMap struct {
	client      *redis.Client
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewRedisMap connects to the server addressed by a redis:// URL.
func NewRedisMap(url, prefix string, log *slog.Logger) (*RedisMap, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisMap{
		client:      client,
		prefix:      prefix,
		log:         log,
		locationURI: redactURI(url),
	}, nil
}

func (r *RedisMap) key(key []byte) string {
	return r.prefix + hex.EncodeToString(key)
}

func (r *RedisMap) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return value, true, nil
}

// Insert uses SET ... GET so the replace and the read of the previous value are atomic.
func (r *RedisMap) Insert(ctx context.Context, key []byte, value []byte) ([]byte, bool, error) {
	previous, err := r.client.SetArgs(ctx, r.key(key), value, redis.SetArgs{Get: true}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return []byte(previous), true, nil
}

func (r *RedisMap) Available(ctx context.Context) bool {
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.log.Debug("Redis backend unavailable", "err", err)
		return false
	}
	return true
}

func (r *RedisMap) Name() string {
	return fmt.Sprintf("redis-%d", r.client.Options().DB)
}

func (r *RedisMap) LocationURI() string {
	return r.locationURI
}

func (r *RedisMap) Close() error {
	return r.client.Close()
}
