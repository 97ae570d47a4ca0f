// Package domain holds the core entities, ports, and error taxonomy.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument         = errors.New("invalid argument")
	ErrPoolExhausted           = errors.New("credential pool exhausted")
	ErrAllCredentialsExhausted = errors.New("all credentials exhausted")
	ErrSourceUnavailable       = errors.New("content source unavailable")
	ErrContextUnavailable      = errors.New("context unavailable")
	ErrProviderUnavailable     = errors.New("model provider unavailable")
	ErrStoreUnavailable        = errors.New("cache store unavailable")
	ErrRateLimited             = errors.New("rate limited")
	ErrUpstreamRateLimit       = errors.New("upstream rate limit")
	ErrUpstreamFatal           = errors.New("upstream fatal error")
)

// Message roles accepted in chat history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged turn of chat history. The caller owns the
// history; the server keeps no session state.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatHistory is the ordered sequence of prior turns passed in by the caller.
type ChatHistory struct {
	Messages []Message `json:"messages"`
}

// StreamChunk is one increment of a streamed model response. A chunk with
// Done set carries no text; a chunk with Err set terminates the stream.
type StreamChunk struct {
	Text string
	Done bool
	Err  error
}

// ResumeProfile aggregates the formatted résumé sections used to build the
// model context. Every field originates from the content source.
type ResumeProfile struct {
	FullName       string    `json:"full_name"`
	Summary        string    `json:"summary"`
	Skills         string    `json:"skills"`
	Languages      string    `json:"languages"`
	Experience     string    `json:"experience"`
	Projects       string    `json:"projects"`
	Education      string    `json:"education"`
	Certifications string    `json:"certifications"`
	ContactDetails string    `json:"contact_details"`
	ResumeText     string    `json:"resume_text"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// ContentSource (port)
// Fetch returns the full résumé profile from the authoritative source.
// Implementations must be idempotent and side-effect free.
type ContentSource interface {
	Fetch(ctx Context) (ResumeProfile, error)
}

// CacheStore (port)
// Get reports a miss with ok=false and a nil error; infrastructure failures
// return an error wrapping ErrStoreUnavailable.
type CacheStore interface {
	Get(ctx Context, key string) (val []byte, ok bool, err error)
	Set(ctx Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx Context, key string) error
}

// ModelProvider (port)
// Invoke returns the full response text. InvokeStream emits chunks on the
// returned channel in production order and closes it after a Done or Err
// chunk; the stream is finite and not restartable. Both report rate limiting
// via errors wrapping ErrUpstreamRateLimit (see RetryAfterFrom) and revoked
// or invalid credentials via errors wrapping ErrUpstreamFatal.
type ModelProvider interface {
	Invoke(ctx Context, secret, systemPrompt, query string, history ChatHistory) (string, error)
	InvokeStream(ctx Context, secret, systemPrompt, query string, history ChatHistory) (<-chan StreamChunk, error)
}

// RateLimitError carries the provider's retry-after hint alongside the
// ErrUpstreamRateLimit sentinel.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return "upstream rate limit" }

// Unwrap lets errors.Is match ErrUpstreamRateLimit.
func (e *RateLimitError) Unwrap() error { return ErrUpstreamRateLimit }

// RetryAfterFrom extracts the retry-after hint from err, or 0.
func RetryAfterFrom(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}

// Context is an alias to keep adapters and usecases on std context.
type Context = context.Context
