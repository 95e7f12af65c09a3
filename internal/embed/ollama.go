package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

const (
	defaultOllamaHost = "http://localhost:11434"
	ollamaBatchSize   = 32
)

// OllamaEmbedder generates dense embeddings through an Ollama-compatible
// HTTP API.
type OllamaEmbedder struct {
	client *http.Client
	host   string
	model  string
	dims   int
}

var _ Embedder = (*OllamaEmbedder)(nil)

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// NewOllamaEmbedder creates the embedder. Dimensions are detected from a
// probe embedding when not configured.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = defaultOllamaHost
	}
	if cfg.Model == "" {
		return nil, citeerrors.New(citeerrors.ErrCodeConfigMissing, "embedding model id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	e := &OllamaEmbedder{
		client: &http.Client{Timeout: cfg.Timeout},
		host:   strings.TrimSuffix(cfg.Host, "/"),
		model:  cfg.Model,
		dims:   cfg.Dimensions,
	}

	if e.dims == 0 {
		probe, err := e.request(ctx, []string{"dimension probe"})
		if err != nil {
			return nil, citeerrors.Wrap(err, citeerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("failed to detect dimensions of model %s", cfg.Model))
		}
		if len(probe) == 0 || len(probe[0]) == 0 {
			return nil, citeerrors.New(citeerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("model %s returned an empty probe embedding", cfg.Model))
		}
		e.dims = len(probe[0])
	}
	return e, nil
}

// Embed returns normalized vectors for the texts, batching requests. Empty
// texts become zero vectors without an API call.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))

	var pending []int
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.dims)
		} else {
			pending = append(pending, i)
		}
	}

	for start := 0; start < len(pending); start += ollamaBatchSize {
		end := start + ollamaBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		batchTexts := make([]string, len(batch))
		for i, idx := range batch {
			batchTexts[i] = texts[idx]
		}

		vectors, err := citeerrors.RetryWithResult(ctx, citeerrors.DefaultRetryConfig(), func() ([][]float32, error) {
			return e.request(ctx, batchTexts)
		})
		if err != nil {
			return nil, citeerrors.Wrap(err, citeerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedding batch failed for model %s", e.model))
		}
		if len(vectors) != len(batch) {
			return nil, citeerrors.New(citeerrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("model %s returned %d vectors for %d texts", e.model, len(vectors), len(batch)))
		}
		for i, v := range vectors {
			results[batch[i]] = v
		}
	}
	return results, nil
}

func (e *OllamaEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(map[string]any{
		"model": e.model,
		"input": texts,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding api returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Embeddings [][]float64 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vectors := make([][]float32, len(out.Embeddings))
	for i, emb := range out.Embeddings {
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		vectors[i] = normalize(v)
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int { return e.dims }

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string { return e.model }

// normalize scales a vector to unit length. Zero vectors pass through.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
