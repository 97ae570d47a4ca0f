// Package cachedfetch wraps a slow authoritative fetch with a cache store,
// adding TTL and fail-open semantics: a broken cache never fails a request,
// only a broken source does.
package cachedfetch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/knowme-ai/internal/adapter/observability"
	"github.com/fairyhunter13/knowme-ai/internal/domain"
)

// Key namespaces a cache key by content kind to avoid collisions across
// content types.
func Key(kind, key string) string { return "knowme:" + kind + ":" + key }

// GetOrFetch returns the cached value for kind/key, repopulating the store
// from fetch on miss.
//
// Store failures on read are treated as misses (fail open); a corrupt entry
// is deleted best-effort and treated as a miss; a failed write after a
// successful fetch is logged and swallowed. Only a fetch failure propagates,
// wrapped with domain.ErrSourceUnavailable. A ttl of zero disables caching
// for this kind entirely.
//
// No lock is held across the fetch-and-populate sequence, so two concurrent
// misses for the same key may both invoke fetch; the fetch contract is
// idempotent and read-only, so the duplicate work is accepted.
func GetOrFetch[T any](ctx domain.Context, store domain.CacheStore, kind, key string, ttl time.Duration, fetch func(domain.Context) (T, error)) (T, error) {
	var zero T
	cacheKey := Key(kind, key)
	useCache := store != nil && ttl > 0

	if useCache {
		raw, ok, err := store.Get(ctx, cacheKey)
		if err != nil {
			observability.CacheStoreFailuresTotal.WithLabelValues("get").Inc()
			slog.Warn("cache store get failed; treating as miss",
				slog.String("key", cacheKey), slog.Any("error", err))
		} else if ok {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				// Stale or corrupt entry: self-heal and fall through to fetch.
				slog.Warn("corrupt cache entry; refetching",
					slog.String("key", cacheKey), slog.Any("error", err))
				if derr := store.Delete(ctx, cacheKey); derr != nil {
					observability.CacheStoreFailuresTotal.WithLabelValues("delete").Inc()
				}
			} else {
				observability.CacheHitsTotal.WithLabelValues(kind).Inc()
				return v, nil
			}
		}
		observability.CacheMissesTotal.WithLabelValues(kind).Inc()
	}

	v, err := fetch(ctx)
	if err != nil {
		return zero, fmt.Errorf("%w: fetch %s/%s: %v", domain.ErrSourceUnavailable, kind, key, err)
	}

	if useCache {
		raw, err := json.Marshal(v)
		if err != nil {
			slog.Warn("cache value not serializable; skipping write",
				slog.String("key", cacheKey), slog.Any("error", err))
			return v, nil
		}
		if err := store.Set(ctx, cacheKey, raw, ttl); err != nil {
			// The fetched value is already in hand; never fail on a write.
			observability.CacheStoreFailuresTotal.WithLabelValues("set").Inc()
			slog.Warn("cache store set failed; serving fetched value",
				slog.String("key", cacheKey), slog.Any("error", err))
		}
	}
	return v, nil
}
