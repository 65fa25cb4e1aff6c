// Package embed turns query text into dense vectors. The engine only ever
// embeds queries; chunk vectors ship precomputed in the dataset's vector
// asset. Providers: ollama (local server) and static (hash-based, no
// dependencies, degraded semantic quality).
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default embedding model.
	DefaultOllamaModel = "qwen3-embedding:0.6b"

	// DefaultTimeout is the default timeout for embedding requests.
	DefaultTimeout = 60 * time.Second

	// ConnectTimeout bounds the initial health check.
	ConnectTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// DefaultCacheSize is the default number of query embeddings kept in
	// the LRU cache.
	DefaultCacheSize = 1000
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks whether the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length. Zero vectors are
// returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
