// Package tokencount estimates token usage for chat completions.
//
// Gemini does not ship a public Go tokenizer, so counts use tiktoken's
// cl100k_base as an approximation. The numbers feed metrics and logs, not
// billing, so an approximation is acceptable.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Usage holds token counts for one completion.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
}

// Counter caches tiktoken encodings per model.
type Counter struct {
	encodingCache map[string]*tiktoken.Tiktoken
	mu            sync.RWMutex
}

// NewCounter creates a token counter.
func NewCounter() *Counter {
	return &Counter{encodingCache: make(map[string]*tiktoken.Tiktoken)}
}

// DefaultCounter is a shared counter instance.
var DefaultCounter = NewCounter()

func (c *Counter) encodingFor(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModelName(model)

	c.mu.RLock()
	if enc, ok := c.encodingCache[name]; ok {
		c.mu.RUnlock()
		return enc, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodingCache[name]; ok {
		return enc, nil
	}

	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding",
			slog.String("model", model), slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.encodingCache[name] = enc
	return enc, nil
}

// normalizeModelName maps model IDs onto a tiktoken-known family. All Gemini
// variants share one approximation.
func normalizeModelName(model string) string {
	model = strings.ToLower(model)
	if strings.Contains(model, "/") {
		parts := strings.Split(model, "/")
		model = parts[len(parts)-1]
	}
	switch {
	case strings.Contains(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	default:
		// Gemini and everything else approximate with the GPT-4 encoding.
		return "gpt-4"
	}
}

// CountTokens counts the tokens in text for the given model.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.encodingFor(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CalculateUsage computes prompt and completion token counts for one chat
// turn. Counting failures degrade to a rough 4-chars-per-token estimate.
func (c *Counter) CalculateUsage(systemPrompt, query, completion, model string) Usage {
	prompt := systemPrompt + "\n" + query
	promptTokens, err := c.CountTokens(prompt, model)
	if err != nil {
		slog.Warn("prompt token count failed, estimating",
			slog.String("model", model), slog.Any("error", err))
		promptTokens = len(prompt) / 4
	}
	completionTokens, err := c.CountTokens(completion, model)
	if err != nil {
		slog.Warn("completion token count failed, estimating",
			slog.String("model", model), slog.Any("error", err))
		completionTokens = len(completion) / 4
	}
	return Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		Model:            model,
	}
}

// CalculateUsageDefault computes usage with the shared counter.
func CalculateUsageDefault(systemPrompt, query, completion, model string) Usage {
	return DefaultCounter.CalculateUsage(systemPrompt, query, completion, model)
}
