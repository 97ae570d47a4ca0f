package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	rediscache "github.com/fairyhunter13/knowme-ai/internal/adapter/cache/redis"
	"github.com/fairyhunter13/knowme-ai/internal/domain"
)

func newCacheStore(t *testing.T) domain.CacheStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rediscache.NewWithClient(rdb)
}

func Test_Profile_CachedAcrossCalls(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{profile: testProfile()}
	svc := NewProfileService(newCacheStore(t), source, 24*time.Hour)

	first, err := svc.Profile(ctx)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.Profile(ctx)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.FullName != second.FullName {
		t.Fatalf("profiles differ: %q vs %q", first.FullName, second.FullName)
	}
	if source.calls != 1 {
		t.Fatalf("expected single source fetch, got %d", source.calls)
	}
}

func Test_Profile_SourceFailurePropagates(t *testing.T) {
	source := &fakeSource{err: fmt.Errorf("datocms 502")}
	svc := NewProfileService(newCacheStore(t), source, 24*time.Hour)

	_, err := svc.Profile(context.Background())
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}
