// Package usecase orchestrates chat completions: résumé context collection,
// prompt assembly, credential rotation and provider invocation.
package usecase

import (
	"time"

	"github.com/fairyhunter13/knowme-ai/internal/domain"
	"github.com/fairyhunter13/knowme-ai/internal/service/cachedfetch"
)

// profileCacheKind namespaces the résumé profile in the cache store.
const profileCacheKind = "profile"

// ProfileService serves the résumé profile through the cache store, falling
// back to the content source on miss.
type ProfileService struct {
	store  domain.CacheStore
	source domain.ContentSource
	ttl    time.Duration
}

// NewProfileService wires the cached retrieval path. A nil store or zero ttl
// disables caching and every call hits the source.
func NewProfileService(store domain.CacheStore, source domain.ContentSource, ttl time.Duration) *ProfileService {
	return &ProfileService{store: store, source: source, ttl: ttl}
}

// Profile returns the formatted résumé profile. Source failures surface as
// domain.ErrSourceUnavailable; cache failures never do.
func (s *ProfileService) Profile(ctx domain.Context) (domain.ResumeProfile, error) {
	return cachedfetch.GetOrFetch(ctx, s.store, profileCacheKind, "resume", s.ttl, s.source.Fetch)
}
