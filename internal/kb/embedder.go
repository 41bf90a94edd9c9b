package kb

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/execdesk/execdesk/internal/common/config"
	"github.com/execdesk/execdesk/internal/common/errors"
)

// Embedder computes fixed-dimensional embeddings for texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// HTTPEmbedder calls an Ollama-compatible embeddings endpoint. The API key,
// if any, comes from the environment and is never logged.
type HTTPEmbedder struct {
	baseURL string
	model   string
	apiKey  string
	dim     int
	client  *http.Client
}

// NewHTTPEmbedder creates an embedder for the configured backend.
func NewHTTPEmbedder(cfg config.KnowledgeConfig) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: cfg.EmbeddingURL,
		model:   cfg.EmbeddingModel,
		apiKey:  cfg.EmbeddingAPIKey(),
		dim:     cfg.EmbeddingDim,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Dimension implements Embedder.
func (e *HTTPEmbedder) Dimension() int { return e.dim }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements Embedder. Texts are embedded one at a time against the
// /api/embeddings endpoint.
func (e *HTTPEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := e.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *HTTPEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal embedding request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Transient("embedding backend unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, errors.Transient(fmt.Sprintf("embedding backend returned %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errors.InternalError(fmt.Sprintf("embedding backend returned %d: %s", resp.StatusCode, data), nil)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode embedding response")
	}
	if len(parsed.Embedding) == 0 {
		return nil, errors.InternalError("embedding backend returned an empty vector", nil)
	}
	return parsed.Embedding, nil
}

// HashEmbedder produces deterministic pseudo-embeddings from token hashes.
// It is the offline fallback used in tests and when no embedding backend is
// configured: identical texts map to identical vectors and texts sharing
// tokens land closer together than unrelated ones.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hash embedder with the given dimensionality.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

// Dimension implements Embedder.
func (e *HashEmbedder) Dimension() int { return e.dim }

// Embed implements Embedder. Never fails.
func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, e.embedOne(text))
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		sum := sha256.Sum256([]byte(tok))
		idx := binary.BigEndian.Uint32(sum[:4]) % uint32(e.dim)
		sign := float32(1)
		if sum[4]%2 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}
	// L2-normalize so cosine similarity behaves
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}
