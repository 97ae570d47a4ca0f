// Package gemini implements domain.ModelProvider against the Gemini
// generateContent REST API. Credentials are passed per call so a pool can
// rotate them; the client itself holds no key.
package gemini

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/knowme-ai/internal/adapter/observability"
	"github.com/fairyhunter13/knowme-ai/internal/config"
	"github.com/fairyhunter13/knowme-ai/internal/domain"
)

// Client talks to the Gemini API.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a Gemini client. The stream timeout is generous because a
// long completion can take minutes to drain.
func New(cfg config.Config) *Client {
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: 300 * time.Second},
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	SystemInstruction *content  `json:"system_instruction,omitempty"`
	Contents          []content `json:"contents"`
	GenerationConfig  struct {
		Temperature float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// buildRequest maps the chat history onto Gemini contents. Assistant turns
// use the "model" role per the Gemini wire format.
func (c *Client) buildRequest(systemPrompt, query string, history domain.ChatHistory) ([]byte, error) {
	req := generateRequest{
		Contents: make([]content, 0, len(history.Messages)+1),
	}
	if systemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	for _, m := range history.Messages {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: query}}})
	req.GenerationConfig.Temperature = 0.7
	return json.Marshal(req)
}

func (c *Client) endpoint(verb string) string {
	return fmt.Sprintf("%s/models/%s:%s", c.cfg.GeminiBaseURL, c.cfg.GeminiModel, verb)
}

// getBackoffConfig returns a configured ExponentialBackOff for the current
// environment.
func (c *Client) getBackoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

// classifyStatus maps a non-2xx response to the domain error taxonomy.
// Rate limits and auth failures are permanent for this credential; the
// caller rotates to the next one. Only 5xx stays retryable here.
func classifyStatus(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return backoff.Permanent(&domain.RateLimitError{RetryAfter: retryAfterHint(resp, body)})
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("%w: status %d", domain.ErrUpstreamFatal, resp.StatusCode))
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("%w: status %d: %s", domain.ErrUpstreamFatal, resp.StatusCode, snippet(body)))
	default:
		return fmt.Errorf("gemini status %d: %s", resp.StatusCode, snippet(body))
	}
}

// retryAfterHint extracts the provider cool-down hint from the Retry-After
// header or the RetryInfo detail Gemini embeds in 429 bodies ("26s" style).
func retryAfterHint(resp *http.Response, body []byte) time.Duration {
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	var out struct {
		Error struct {
			Details []struct {
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err == nil {
		for _, d := range out.Error.Details {
			if d.RetryDelay == "" {
				continue
			}
			if delay, err := time.ParseDuration(d.RetryDelay); err == nil && delay > 0 {
				return delay
			}
		}
	}
	return 0
}

func snippet(b []byte) string {
	s := string(b)
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

// Invoke performs a blocking completion with the given credential.
func (c *Client) Invoke(ctx domain.Context, secret, systemPrompt, query string, history domain.ChatHistory) (string, error) {
	payload, err := c.buildRequest(systemPrompt, query, history)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", domain.ErrInvalidArgument, err)
	}

	var out generateResponse
	op := func() error {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("generateContent"), bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", secret)

		resp, err := c.hc.Do(req)
		observability.AIRequestDuration.WithLabelValues("complete").Observe(time.Since(start).Seconds())
		if err != nil {
			observability.AIRequestsTotal.WithLabelValues("complete", "transport_error").Inc()
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			observability.AIRequestsTotal.WithLabelValues("complete", outcomeFor(resp.StatusCode)).Inc()
			slog.Warn("gemini non-2xx",
				slog.Int("status", resp.StatusCode),
				slog.String("op", "complete"),
				slog.String("model", c.cfg.GeminiModel))
			return classifyStatus(resp, body)
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return fmt.Errorf("gemini decode: %w", err)
		}
		return nil
	}

	bo := backoff.WithContext(c.getBackoffConfig(), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		observability.AIRequestsTotal.WithLabelValues("complete", "empty").Inc()
		return "", fmt.Errorf("gemini returned no candidates")
	}
	observability.AIRequestsTotal.WithLabelValues("complete", "success").Inc()
	return joinParts(out.Candidates[0].Content.Parts), nil
}

func outcomeFor(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 400 && status < 500:
		return "client_error"
	default:
		return "server_error"
	}
}

func joinParts(parts []part) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// InvokeStream opens an SSE completion stream with the given credential. The
// returned channel carries text chunks and is closed after a terminal Done or
// Err chunk. Errors before the first byte of the stream (auth, rate limit)
// surface from this call directly so the caller can rotate credentials.
func (c *Client) InvokeStream(ctx domain.Context, secret, systemPrompt, query string, history domain.ChatHistory) (<-chan domain.StreamChunk, error) {
	payload, err := c.buildRequest(systemPrompt, query, history)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", domain.ErrInvalidArgument, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("streamGenerateContent")+"?alt=sse", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", secret)

	resp, err := c.hc.Do(req)
	if err != nil {
		observability.AIRequestsTotal.WithLabelValues("stream", "transport_error").Inc()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		observability.AIRequestsTotal.WithLabelValues("stream", outcomeFor(resp.StatusCode)).Inc()
		slog.Warn("gemini stream non-2xx",
			slog.Int("status", resp.StatusCode),
			slog.String("model", c.cfg.GeminiModel))
		err := classifyStatus(resp, body)
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}

	ch := make(chan domain.StreamChunk, 1)
	go c.pump(ctx, resp.Body, ch)
	return ch, nil
}

// pump reads SSE events off the response body and forwards the text parts.
// It always closes the channel after emitting a terminal chunk.
func (c *Client) pump(ctx domain.Context, body io.ReadCloser, ch chan<- domain.StreamChunk) {
	defer close(ch)
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		data := bytes.TrimPrefix(line, []byte("data: "))
		if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
			break
		}
		var event generateResponse
		if err := json.Unmarshal(data, &event); err != nil {
			// Skip keep-alives and partial frames.
			continue
		}
		if len(event.Candidates) == 0 {
			continue
		}
		text := joinParts(event.Candidates[0].Content.Parts)
		if text == "" {
			continue
		}
		observability.AIStreamChunksTotal.Inc()
		select {
		case ch <- domain.StreamChunk{Text: text}:
		case <-ctx.Done():
			observability.AIRequestsTotal.WithLabelValues("stream", "cancelled").Inc()
			send(ctx, ch, domain.StreamChunk{Err: ctx.Err(), Done: true})
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		observability.AIRequestsTotal.WithLabelValues("stream", "transport_error").Inc()
		send(ctx, ch, domain.StreamChunk{Err: err, Done: true})
		return
	}
	if ctx.Err() != nil {
		observability.AIRequestsTotal.WithLabelValues("stream", "cancelled").Inc()
		send(ctx, ch, domain.StreamChunk{Err: ctx.Err(), Done: true})
		return
	}
	observability.AIRequestsTotal.WithLabelValues("stream", "success").Inc()
	send(ctx, ch, domain.StreamChunk{Done: true})
}

// send delivers the terminal chunk without blocking forever on a consumer
// that already gave up. The channel buffer holds one chunk for late readers.
func send(ctx domain.Context, ch chan<- domain.StreamChunk, chunk domain.StreamChunk) {
	select {
	case ch <- chunk:
	case <-ctx.Done():
		select {
		case ch <- chunk:
		default:
		}
	}
}
