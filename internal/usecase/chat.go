package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/fairyhunter13/knowme-ai/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/knowme-ai/internal/adapter/observability"
	"github.com/fairyhunter13/knowme-ai/internal/config"
	"github.com/fairyhunter13/knowme-ai/internal/domain"
	"github.com/fairyhunter13/knowme-ai/internal/service/keypool"
)

// ChatService answers visitor questions about the résumé. Each exchange
// collects the profile context, renders the persona prompt and invokes the
// model provider, rotating credentials around rate limits.
type ChatService struct {
	cfg      config.Config
	pool     *keypool.Pool
	provider domain.ModelProvider
	profiles *ProfileService
}

// NewChatService wires the orchestrator.
func NewChatService(cfg config.Config, pool *keypool.Pool, provider domain.ModelProvider, profiles *ProfileService) *ChatService {
	return &ChatService{cfg: cfg, pool: pool, provider: provider, profiles: profiles}
}

// collectContext loads the résumé profile and renders the system prompt.
// A source failure means the model is never invoked.
func (s *ChatService) collectContext(ctx domain.Context) (string, error) {
	profile, err := s.profiles.Profile(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrContextUnavailable, err)
	}
	return RenderSystemPrompt(profile)
}

// Complete runs one buffered completion.
//
// A rate-limited credential is cooled down and the next one is tried; a
// fatally rejected credential is retired; at most pool-size credentials are
// attempted before giving up with ErrProviderUnavailable. Transient upstream
// failures are retried inside the provider client, not by rotation.
func (s *ChatService) Complete(ctx domain.Context, query string, history domain.ChatHistory) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("%w: empty query", domain.ErrInvalidArgument)
	}
	systemPrompt, err := s.collectContext(ctx)
	if err != nil {
		return "", err
	}
	exchangeID := uuid.NewString()

	for attempt := 0; attempt < s.pool.Size(); attempt++ {
		cred, err := s.pool.Acquire()
		if err != nil {
			break
		}
		out, err := s.provider.Invoke(ctx, cred.Secret, systemPrompt, query, history)
		switch {
		case err == nil:
			s.pool.ReportSuccess(cred)
			s.recordUsage(exchangeID, cred.ID, systemPrompt, query, out)
			return out, nil
		case errors.Is(err, domain.ErrUpstreamRateLimit):
			s.pool.ReportRateLimited(cred, domain.RetryAfterFrom(err))
		case errors.Is(err, domain.ErrUpstreamFatal):
			s.pool.ReportFatal(cred)
		case ctx.Err() != nil:
			return "", ctx.Err()
		default:
			// The provider already spent its retry budget; the credential
			// itself is healthy.
			return "", fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
	}
	return "", fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, domain.ErrAllCredentialsExhausted)
}

// Stream runs one streaming completion. Chunks are forwarded in order as the
// provider produces them; the returned channel closes after a terminal chunk.
// Rotation applies only to failures before the first byte of the stream; a
// stream that breaks mid-flight is surfaced as a terminal error chunk and
// never replayed on another credential.
func (s *ChatService) Stream(ctx domain.Context, query string, history domain.ChatHistory) (<-chan domain.StreamChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidArgument)
	}
	systemPrompt, err := s.collectContext(ctx)
	if err != nil {
		return nil, err
	}
	exchangeID := uuid.NewString()

	for attempt := 0; attempt < s.pool.Size(); attempt++ {
		cred, err := s.pool.Acquire()
		if err != nil {
			break
		}
		upstream, err := s.provider.InvokeStream(ctx, cred.Secret, systemPrompt, query, history)
		switch {
		case err == nil:
			out := make(chan domain.StreamChunk, 1)
			go s.forward(ctx, exchangeID, cred, systemPrompt, query, upstream, out)
			return out, nil
		case errors.Is(err, domain.ErrUpstreamRateLimit):
			s.pool.ReportRateLimited(cred, domain.RetryAfterFrom(err))
		case errors.Is(err, domain.ErrUpstreamFatal):
			s.pool.ReportFatal(cred)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
		}
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrProviderUnavailable, domain.ErrAllCredentialsExhausted)
}

// forward relays provider chunks to the consumer and settles the credential
// when the stream ends. An interrupted stream still counts as a success for
// the credential once the configured minimum of chunks was delivered; the
// provider did its part.
func (s *ChatService) forward(ctx domain.Context, exchangeID string, cred *keypool.Credential, systemPrompt, query string, upstream <-chan domain.StreamChunk, out chan<- domain.StreamChunk) {
	defer close(out)
	delivered := 0
	var completion strings.Builder

	for chunk := range upstream {
		if chunk.Err != nil {
			if delivered >= s.cfg.StreamSuccessMinChunks {
				s.pool.ReportSuccess(cred)
			}
			slog.Warn("stream interrupted",
				slog.String("exchange_id", exchangeID),
				slog.String("credential", cred.ID),
				slog.Int("chunks_delivered", delivered),
				slog.Any("error", chunk.Err))
			emit(ctx, out, domain.StreamChunk{Err: chunk.Err, Done: true})
			return
		}
		if chunk.Done {
			s.pool.ReportSuccess(cred)
			s.recordUsage(exchangeID, cred.ID, systemPrompt, query, completion.String())
			emit(ctx, out, chunk)
			return
		}
		select {
		case out <- chunk:
			delivered++
			completion.WriteString(chunk.Text)
		case <-ctx.Done():
			if delivered >= s.cfg.StreamSuccessMinChunks {
				s.pool.ReportSuccess(cred)
			}
			emit(ctx, out, domain.StreamChunk{Err: ctx.Err(), Done: true})
			return
		}
	}
}

// emit delivers a terminal chunk without blocking on a departed consumer.
func emit(ctx domain.Context, out chan<- domain.StreamChunk, chunk domain.StreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
		select {
		case out <- chunk:
		default:
		}
	}
}

// recordUsage accounts approximate token usage for metrics and logs.
func (s *ChatService) recordUsage(exchangeID, credentialID, systemPrompt, query, completion string) {
	usage := tokencount.CalculateUsageDefault(systemPrompt, query, completion, s.cfg.GeminiModel)
	observability.AITokensTotal.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	observability.AITokensTotal.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
	slog.Info("chat exchange completed",
		slog.String("exchange_id", exchangeID),
		slog.String("credential", credentialID),
		slog.String("model", usage.Model),
		slog.Int("prompt_tokens", usage.PromptTokens),
		slog.Int("completion_tokens", usage.CompletionTokens))
}
