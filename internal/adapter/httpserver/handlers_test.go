package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fairyhunter13/knowme-ai/internal/config"
	"github.com/fairyhunter13/knowme-ai/internal/domain"
	"github.com/fairyhunter13/knowme-ai/internal/service/keypool"
	"github.com/fairyhunter13/knowme-ai/internal/usecase"
)

type stubSource struct {
	err error
}

func (s *stubSource) Fetch(domain.Context) (domain.ResumeProfile, error) {
	if s.err != nil {
		return domain.ResumeProfile{}, s.err
	}
	return domain.ResumeProfile{FullName: "Jane Doe", Summary: "Backend engineer."}, nil
}

type stubProvider struct {
	reply  string
	err    error
	chunks []domain.StreamChunk
}

func (p *stubProvider) Invoke(domain.Context, string, string, string, domain.ChatHistory) (string, error) {
	return p.reply, p.err
}

func (p *stubProvider) InvokeStream(ctx domain.Context, _, _, _ string, _ domain.ChatHistory) (<-chan domain.StreamChunk, error) {
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan domain.StreamChunk)
	go func() {
		defer close(ch)
		for _, c := range p.chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func newTestServer(t *testing.T, source *stubSource, provider *stubProvider) *Server {
	t.Helper()
	pool, err := keypool.New([]string{"sk-1"}, time.Minute)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	cfg := config.Config{GeminiModel: "gemini-2.0-flash-lite", StreamSuccessMinChunks: 1}
	chat := usecase.NewChatService(cfg, pool, provider, usecase.NewProfileService(nil, source, 0))
	return NewServer(cfg, chat, nil, nil, nil)
}

func postJSON(t *testing.T, h http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func Test_Ping(t *testing.T) {
	s := newTestServer(t, &stubSource{}, &stubProvider{})
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	s.PingHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["message"] != "pong" {
		t.Fatalf("body = %v", out)
	}
}

func Test_Query_Success_AppendsHistory(t *testing.T) {
	s := newTestServer(t, &stubSource{}, &stubProvider{reply: "I know Go."})
	rec := postJSON(t, s.QueryHandler(), `{"query":"skills?","history":{"messages":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var out queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Response != "I know Go." {
		t.Fatalf("response = %q", out.Response)
	}
	msgs := out.History.Messages
	if len(msgs) != 4 {
		t.Fatalf("expected 4 history messages, got %d", len(msgs))
	}
	if msgs[2].Role != "user" || msgs[2].Content != "skills?" {
		t.Fatalf("user turn not appended: %+v", msgs[2])
	}
	if msgs[3].Role != "assistant" || msgs[3].Content != "I know Go." {
		t.Fatalf("assistant turn not appended: %+v", msgs[3])
	}
}

func Test_Query_InvalidJSON(t *testing.T) {
	s := newTestServer(t, &stubSource{}, &stubProvider{})
	rec := postJSON(t, s.QueryHandler(), `{"query":`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "INVALID_ARGUMENT") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func Test_Query_UnsupportedAcceptRejected(t *testing.T) {
	s := newTestServer(t, &stubSource{}, &stubProvider{reply: "ok"})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"query":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/xml")
	rec := httptest.NewRecorder()
	s.QueryHandler()(rec, req)

	if rec.Code != http.StatusNotAcceptable {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "NOT_ACCEPTABLE") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func Test_Query_EmptyQueryRejected(t *testing.T) {
	s := newTestServer(t, &stubSource{}, &stubProvider{})
	rec := postJSON(t, s.QueryHandler(), `{"query":"   "}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func Test_Query_BadHistoryRoleRejected(t *testing.T) {
	s := newTestServer(t, &stubSource{}, &stubProvider{})
	rec := postJSON(t, s.QueryHandler(), `{"query":"hi","history":{"messages":[{"role":"system","content":"x"}]}}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
}

func Test_Query_ContextUnavailableMaps503(t *testing.T) {
	s := newTestServer(t, &stubSource{err: fmt.Errorf("datocms down")}, &stubProvider{})
	rec := postJSON(t, s.QueryHandler(), `{"query":"skills?"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "CONTEXT_UNAVAILABLE") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func Test_Query_ProviderUnavailableMaps503(t *testing.T) {
	s := newTestServer(t, &stubSource{}, &stubProvider{err: &domain.RateLimitError{}})
	rec := postJSON(t, s.QueryHandler(), `{"query":"skills?"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "PROVIDER_UNAVAILABLE") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func Test_QueryStream_WritesChunksThenDone(t *testing.T) {
	s := newTestServer(t, &stubSource{}, &stubProvider{chunks: []domain.StreamChunk{
		{Text: "Hel"},
		{Text: "lo"},
		{Done: true},
	}})
	rec := postJSON(t, s.QueryStreamHandler(), `{"query":"skills?"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content-type = %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `data: {"text":"Hel"}`) || !strings.Contains(body, `data: {"text":"lo"}`) {
		t.Fatalf("missing chunk frames: %s", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("missing terminal frame: %s", body)
	}
	if idx := strings.Index(body, "Hel"); idx > strings.Index(body, "lo") {
		t.Fatalf("chunks out of order: %s", body)
	}
}

func Test_QueryStream_InterruptionBecomesErrorEvent(t *testing.T) {
	s := newTestServer(t, &stubSource{}, &stubProvider{chunks: []domain.StreamChunk{
		{Text: "partial"},
		{Err: errors.New("connection reset"), Done: true},
	}})
	rec := postJSON(t, s.QueryStreamHandler(), `{"query":"skills?"}`)

	body := rec.Body.String()
	if !strings.Contains(body, `data: {"text":"partial"}`) {
		t.Fatalf("missing partial chunk: %s", body)
	}
	if !strings.Contains(body, "event: error") {
		t.Fatalf("missing error event: %s", body)
	}
	if strings.Contains(body, "[DONE]") {
		t.Fatalf("interrupted stream must not emit [DONE]: %s", body)
	}
}

func Test_QueryStream_SetupFailureIsJSONError(t *testing.T) {
	s := newTestServer(t, &stubSource{err: fmt.Errorf("datocms down")}, &stubProvider{})
	rec := postJSON(t, s.QueryStreamHandler(), `{"query":"skills?"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("content-type = %q", got)
	}
}

func Test_Readyz(t *testing.T) {
	s := newTestServer(t, &stubSource{}, &stubProvider{})
	s.RedisCheck = func(context.Context) error { return nil }
	s.ContentCheck = func(context.Context) error { return nil }
	s.PoolCheck = func() error { return nil }

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	s.ReadyzHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	s.RedisCheck = func(context.Context) error { return fmt.Errorf("redis down") }
	rec = httptest.NewRecorder()
	s.ReadyzHandler()(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "redis down") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
