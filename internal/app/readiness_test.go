package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fairyhunter13/knowme-ai/internal/config"
	"github.com/fairyhunter13/knowme-ai/internal/service/keypool"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func Test_BuildReadinessChecks(t *testing.T) {
	ctx := context.Background()
	pool, err := keypool.New([]string{"sk-1"}, time.Minute)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return fmt.Errorf("down") })

	redisCheck, contentCheck, poolCheck := BuildReadinessChecks(config.Config{}, ok, down, pool)
	if err := redisCheck(ctx); err != nil {
		t.Fatalf("redis check: %v", err)
	}
	if err := contentCheck(ctx); err == nil {
		t.Fatalf("expected content check failure")
	}
	if err := poolCheck(); err != nil {
		t.Fatalf("pool check: %v", err)
	}
}

func Test_BuildReadinessChecks_NilDeps(t *testing.T) {
	redisCheck, contentCheck, poolCheck := BuildReadinessChecks(config.Config{}, nil, nil, nil)
	if err := redisCheck(context.Background()); err == nil {
		t.Fatalf("expected unconfigured redis failure")
	}
	if err := contentCheck(context.Background()); err == nil {
		t.Fatalf("expected unconfigured content failure")
	}
	if err := poolCheck(); err == nil {
		t.Fatalf("expected unconfigured pool failure")
	}
}
