package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/knowme-ai/internal/config"
	"github.com/fairyhunter13/knowme-ai/internal/domain"
	"github.com/fairyhunter13/knowme-ai/internal/usecase"
)

// Server bundles the chat service and readiness probes behind the handlers.
type Server struct {
	Cfg          config.Config
	Chat         *usecase.ChatService
	RedisCheck   func(context.Context) error
	ContentCheck func(context.Context) error
	PoolCheck    func() error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, chat *usecase.ChatService, redisCheck, contentCheck func(context.Context) error, poolCheck func() error) *Server {
	return &Server{Cfg: cfg, Chat: chat, RedisCheck: redisCheck, ContentCheck: contentCheck, PoolCheck: poolCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type chatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

type chatHistory struct {
	Messages []chatMessage `json:"messages" validate:"dive"`
}

type queryRequest struct {
	Query   string      `json:"query" validate:"required,max=4000"`
	History chatHistory `json:"history"`
}

type queryResponse struct {
	Response string      `json:"response"`
	History  chatHistory `json:"history"`
}

func toDomainHistory(h chatHistory) domain.ChatHistory {
	out := domain.ChatHistory{Messages: make([]domain.Message, 0, len(h.Messages))}
	for _, m := range h.Messages {
		out.Messages = append(out.Messages, domain.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// decodeQuery parses, validates and sanitizes the request body shared by the
// buffered and streaming endpoints.
func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (*queryRequest, bool) {
	if a := r.Header.Get("Accept"); a != "" && a != "*/*" &&
		!strings.Contains(a, "application/json") && !strings.Contains(a, "text/event-stream") {
		writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
			Code: "NOT_ACCEPTABLE", Message: "not acceptable", Details: map[string]any{"accept": a},
		}})
		return nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
		return nil, false
	}
	req.Query = SanitizeQuery(req.Query)
	if err := getValidator().Struct(req); err != nil {
		verrs := map[string]string{}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				verrs[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
		return nil, false
	}
	return &req, true
}

// PingHandler answers the liveness ping used by the portfolio frontend.
func (s *Server) PingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
	}
}

// QueryHandler runs a buffered chat completion and echoes the updated history.
func (s *Server) QueryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := s.decodeQuery(w, r)
		if !ok {
			return
		}
		out, err := s.Chat.Complete(r.Context(), req.Query, toDomainHistory(req.History))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		history := req.History
		history.Messages = append(history.Messages,
			chatMessage{Role: domain.RoleUser, Content: req.Query},
			chatMessage{Role: domain.RoleAssistant, Content: out},
		)
		writeJSON(w, http.StatusOK, queryResponse{Response: out, History: history})
	}
}

// sseEvent is one data frame on the stream.
type sseEvent struct {
	Text string `json:"text"`
}

// QueryStreamHandler streams the completion as server-sent events. Chunks go
// out as JSON data frames, the stream ends with a [DONE] frame, and an
// upstream interruption becomes an error event instead.
func (s *Server) QueryStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := s.decodeQuery(w, r)
		if !ok {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, r, fmt.Errorf("streaming unsupported by connection"), nil)
			return
		}

		ch, err := s.Chat.Stream(r.Context(), req.Query, toDomainHistory(req.History))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for chunk := range ch {
			if chunk.Err != nil {
				payload, _ := json.Marshal(map[string]string{"message": chunk.Err.Error()})
				fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
				flusher.Flush()
				return
			}
			if chunk.Done {
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			payload, _ := json.Marshal(sseEvent{Text: chunk.Text})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// HealthzHandler is the trivial liveness probe.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes the cache store, the content source and the key pool.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		if s.ContentCheck != nil {
			if err := s.ContentCheck(ctx); err != nil {
				checks = append(checks, check{Name: "datocms", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "datocms", OK: true})
			}
		}
		if s.PoolCheck != nil {
			if err := s.PoolCheck(); err != nil {
				checks = append(checks, check{Name: "keypool", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "keypool", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
