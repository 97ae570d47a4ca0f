// Package keypool multiplexes outbound model-provider calls across a pool of
// API keys, tracking per-key health and rotating around rate limits.
package keypool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/knowme-ai/internal/adapter/observability"
	"github.com/fairyhunter13/knowme-ai/internal/domain"
)

// State enumerates credential health.
type State int

const (
	StateAvailable State = iota
	StateCoolingDown
	StateExhausted
)

// Credential is one API key with its health bookkeeping. All fields are
// guarded by the owning Pool's mutex.
type Credential struct {
	ID            string
	Secret        string
	state         State
	coolDownUntil time.Time
	lastUsed      time.Time
}

// eligible reports whether the credential may be acquired at now. A cooling
// credential whose expiry has passed is available again (lazy recovery).
func (c *Credential) eligible(now time.Time) bool {
	switch c.state {
	case StateExhausted:
		return false
	case StateCoolingDown:
		return !now.Before(c.coolDownUntil)
	default:
		return true
	}
}

// Pool holds the configured credentials and the round-robin cursor.
// Acquire and the Report* methods are safe for concurrent use; the critical
// section is in-memory only and never performs I/O.
type Pool struct {
	mu              sync.Mutex
	creds           []*Credential
	cursor          int
	defaultCooldown time.Duration
	now             func() time.Time
}

// New builds a Pool from the configured secrets in order. At least one secret
// is required; an empty pool is unusable and refused up front.
func New(secrets []string, defaultCooldown time.Duration) (*Pool, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("%w: no api keys configured", domain.ErrInvalidArgument)
	}
	if defaultCooldown <= 0 {
		defaultCooldown = time.Minute
	}
	creds := make([]*Credential, len(secrets))
	for i, s := range secrets {
		creds[i] = &Credential{ID: fmt.Sprintf("key-%d", i+1), Secret: s}
	}
	p := &Pool{creds: creds, cursor: len(creds) - 1, defaultCooldown: defaultCooldown, now: time.Now}
	observability.CredentialsAvailable.Set(float64(len(creds)))
	return p, nil
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int { return len(p.creds) }

// Acquire returns an available credential, scanning round-robin from the
// position after the last acquisition. It mutates no health state. Fails with
// domain.ErrPoolExhausted when a full scan finds nothing eligible.
func (p *Pool) Acquire() (*Credential, error) {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 1; i <= len(p.creds); i++ {
		idx := (p.cursor + i) % len(p.creds)
		c := p.creds[idx]
		if !c.eligible(now) {
			continue
		}
		if c.state == StateCoolingDown {
			// Lazy recovery: the expiry passed, no background timer needed.
			c.state = StateAvailable
			c.coolDownUntil = time.Time{}
		}
		p.cursor = idx
		p.updateAvailableGaugeLocked(now)
		return c, nil
	}
	p.updateAvailableGaugeLocked(now)
	return nil, domain.ErrPoolExhausted
}

// ReportSuccess clears any cool-down and records last use.
func (p *Pool) ReportSuccess(c *Credential) {
	if c == nil {
		return
	}
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	c.state = StateAvailable
	c.coolDownUntil = time.Time{}
	c.lastUsed = now
	p.updateAvailableGaugeLocked(now)
}

// ReportRateLimited puts the credential into cool-down until now+retryAfter,
// or the pool's default when the upstream gave no hint.
func (p *Pool) ReportRateLimited(c *Credential, retryAfter time.Duration) {
	if c == nil {
		return
	}
	if retryAfter <= 0 {
		retryAfter = p.defaultCooldown
	}
	now := p.now()
	p.mu.Lock()
	c.state = StateCoolingDown
	c.coolDownUntil = now.Add(retryAfter)
	p.updateAvailableGaugeLocked(now)
	p.mu.Unlock()
	observability.CredentialCooldownsTotal.Inc()
	slog.Warn("credential rate-limited; cooling down",
		slog.String("credential", c.ID),
		slog.Duration("retry_after", retryAfter))
}

// ReportFatal permanently removes the credential from rotation, e.g. when the
// provider rejects the key as revoked or invalid.
func (p *Pool) ReportFatal(c *Credential) {
	if c == nil {
		return
	}
	now := p.now()
	p.mu.Lock()
	c.state = StateExhausted
	p.updateAvailableGaugeLocked(now)
	p.mu.Unlock()
	observability.CredentialExhaustionsTotal.Inc()
	slog.Error("credential permanently exhausted", slog.String("credential", c.ID))
}

func (p *Pool) updateAvailableGaugeLocked(now time.Time) {
	n := 0
	for _, c := range p.creds {
		if c.eligible(now) {
			n++
		}
	}
	observability.CredentialsAvailable.Set(float64(n))
}
