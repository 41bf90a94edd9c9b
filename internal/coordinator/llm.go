// Package coordinator is the entry point for user requests: it resolves the
// assignee, gathers retrieval context, and runs the LLM call on a bounded
// worker pool behind a polling interface.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/execdesk/execdesk/internal/common/config"
	"github.com/execdesk/execdesk/internal/common/errors"
)

// GenerateParams tunes one LLM call. A zero value uses backend defaults.
type GenerateParams struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Generator produces a completion for a prompt pair. Implementations must
// honor the context deadline.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (string, error)
}

// HTTPGenerator calls an Ollama-compatible chat endpoint. The API key comes
// from the environment and is never logged.
type HTTPGenerator struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewHTTPGenerator creates a generator for the configured LLM backend.
func NewHTTPGenerator(cfg config.LLMConfig) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		apiKey:  cfg.APIKey(),
		// per-call deadlines come from the request context
		client: &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// Generate implements Generator against the /api/chat endpoint.
func (g *HTTPGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (string, error) {
	model := params.Model
	if model == "" {
		model = g.model
	}
	options := make(map[string]any)
	if params.Temperature > 0 {
		options["temperature"] = params.Temperature
	}
	if params.MaxTokens > 0 {
		options["num_predict"] = params.MaxTokens
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal chat request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errors.Transient("LLM backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", errors.Transient(fmt.Sprintf("LLM backend returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", errors.InternalError(fmt.Sprintf("LLM backend returned %d: %s", resp.StatusCode, data), nil)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "failed to decode chat response")
	}
	if parsed.Message.Content == "" {
		return "", errors.InternalError("LLM backend returned an empty response", nil)
	}
	return parsed.Message.Content, nil
}

var _ Generator = (*HTTPGenerator)(nil)

// timeoutError builds the error text recorded when a request deadline
// expires.
func timeoutError(d time.Duration) string {
	return fmt.Sprintf("request timeout after %s", d)
}
