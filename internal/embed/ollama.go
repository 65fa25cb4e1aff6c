package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/james-andrews-coulter/essay-search-engine/internal/errors"
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string

	// Model is the embedding model to use.
	Model string

	// Timeout bounds each API request.
	Timeout time.Duration

	// MaxRetries for transient failures.
	MaxRetries int

	// SkipHealthCheck skips the initial availability probe (for testing).
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns the default Ollama configuration.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:       DefaultOllamaHost,
		Model:      DefaultOllamaModel,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

// ollamaEmbedRequest is the Ollama /api/embed request body. Input is a
// string or []string for batches.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// ollamaEmbedResponse is the Ollama /api/embed response body.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaEmbedder embeds text through a local Ollama server.
type OllamaEmbedder struct {
	mu     sync.RWMutex
	config OllamaConfig
	client *http.Client
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder and detects the model's
// dimensionality with a probe request.
func NewOllamaEmbedder(ctx context.Context, config OllamaConfig) (*OllamaEmbedder, error) {
	if config.Host == "" {
		config.Host = DefaultOllamaHost
	}
	if config.Model == "" {
		config.Model = DefaultOllamaModel
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	e := &OllamaEmbedder{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}

	if !config.SkipHealthCheck {
		if err := e.healthCheck(ctx); err != nil {
			return nil, errors.New(errors.ErrCodeNetworkUnavailable,
				fmt.Sprintf("ollama not reachable at %s", config.Host), err).
				WithSuggestion("start ollama or switch the embeddings provider to static")
		}

		dims, err := e.detectDimensions(ctx)
		if err != nil {
			return nil, errors.New(errors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("model %s returned no embedding", config.Model), err)
		}
		e.dims = dims
	}

	return e, nil
}

func (e *OllamaEmbedder) healthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	vecs, err := e.doEmbed(ctx, []string{"dimension detection"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return 0, fmt.Errorf("empty embedding returned")
	}
	return len(vecs[0]), nil
}

// Embed generates an embedding for a single text. Whitespace-only input
// yields a zero vector without an API call.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if strings.TrimSpace(text) == "" {
		return make([]float32, e.dims), nil
	}

	vecs, err := e.doEmbedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "no embedding returned", nil)
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	return e.doEmbedWithRetry(ctx, texts)
}

func (e *OllamaEmbedder) doEmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	cfg := errors.DefaultRetryConfig()
	cfg.MaxRetries = e.config.MaxRetries

	return errors.RetryWithResult(ctx, cfg, func() ([][]float32, error) {
		return e.doEmbed(ctx, texts)
	})
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeNetworkTimeout, "embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("embedding failed with status %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float32, len(emb))
		for j, val := range emb {
			vec[j] = float32(val)
		}
		vecs[i] = normalizeVector(vec)
	}
	return vecs, nil
}

// Dimensions returns the detected embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Available reports whether the Ollama server responds.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	return e.healthCheck(ctx) == nil
}

// Close releases resources.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}
