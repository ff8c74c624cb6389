// Package redis keeps session results as JSON strings in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
	"github.com/JakeFAU/patent-crawler/internal/storage"
)

// Config addresses the Redis server and shapes the keys.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys as "<prefix>:<session key>".
	Prefix string
	// TTL expires a session's key after its last write; zero never expires.
	TTL time.Duration
}

// client is the subset of *redis.Client the store uses.
type client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// ResultStore writes one key per session.
type ResultStore struct {
	client client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	s := NewWithClient(rdb, cfg)
	if err := s.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return s, nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(c client, cfg Config) *ResultStore {
	return &ResultStore{client: c, prefix: cfg.Prefix, ttl: cfg.TTL}
}

// Ping checks the connection; it backs the readiness probe.
func (s *ResultStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *ResultStore) Close() error {
	return s.client.Close()
}

// PutResults overwrites the session key and refreshes its TTL.
func (s *ResultStore) PutResults(ctx context.Context, sessionKey string, records []crawler.PatentRecord) error {
	if err := storage.ValidateKey(sessionKey); err != nil {
		return err
	}
	data, err := storage.Encode(records)
	if err != nil {
		return err
	}
	key := s.key(sessionKey)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetResults reads and decodes the session key.
func (s *ResultStore) GetResults(ctx context.Context, sessionKey string) ([]crawler.PatentRecord, error) {
	if err := storage.ValidateKey(sessionKey); err != nil {
		return nil, err
	}
	key := s.key(sessionKey)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, crawler.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return storage.Decode(data)
}

func (s *ResultStore) key(sessionKey string) string {
	if s.prefix == "" {
		return sessionKey
	}
	return s.prefix + ":" + sessionKey
}
