// Package redis adapts a Redis server to the domain.CacheStore port.
package redis

import (
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/knowme-ai/internal/config"
	"github.com/fairyhunter13/knowme-ai/internal/domain"
)

// Store implements domain.CacheStore on top of go-redis. Connection-level
// failures are wrapped with domain.ErrStoreUnavailable so callers can fail
// open without string matching.
type Store struct {
	rdb *goredis.Client
}

// New builds a Store from configuration. The connection is lazy; readiness is
// probed via Ping.
func New(cfg config.Config) *Store {
	opts := &goredis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	}
	if cfg.RedisUsername != "" && cfg.RedisPassword != "" {
		opts.Username = cfg.RedisUsername
		opts.Password = cfg.RedisPassword
	}
	return &Store{rdb: goredis.NewClient(opts)}
}

// NewWithClient wraps an existing client (tests use miniredis-backed clients).
func NewWithClient(rdb *goredis.Client) *Store { return &Store{rdb: rdb} }

// Get returns the raw entry for key, ok=false on miss.
func (s *Store) Get(ctx domain.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: get %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return val, true, nil
}

// Set writes the entry with the given TTL. A ttl of zero stores without
// expiry; callers that want "cache disabled" skip the call entirely.
func (s *Store) Set(ctx domain.Context, key string, val []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}

// Delete removes the entry; missing keys are not an error.
func (s *Store) Delete(ctx domain.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", domain.ErrStoreUnavailable, key, err)
	}
	return nil
}

// Ping probes the connection for readiness checks.
func (s *Store) Ping(ctx domain.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }
