package app

import (
	"context"
	"fmt"

	"github.com/fairyhunter13/knowme-ai/internal/config"
)

// Pinger is the minimal probe interface shared by the redis store and the
// datocms client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KeyPool is the slice of the pool the readiness check needs.
type KeyPool interface {
	Size() int
}

// BuildReadinessChecks returns the redis, content-source and key-pool checks
// for /readyz.
func BuildReadinessChecks(_ config.Config, store, content Pinger, pool KeyPool) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func() error,
) {
	redisCheck := func(ctx context.Context) error {
		if store == nil {
			return fmt.Errorf("redis not configured")
		}
		return store.Ping(ctx)
	}
	contentCheck := func(ctx context.Context) error {
		if content == nil {
			return fmt.Errorf("content source not configured")
		}
		return content.Ping(ctx)
	}
	poolCheck := func() error {
		if pool == nil || pool.Size() == 0 {
			return fmt.Errorf("no provider credentials configured")
		}
		return nil
	}
	return redisCheck, contentCheck, poolCheck
}
