package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
)

// StaticModelName identifies the hash-based fallback embedder.
const StaticModelName = "static-hash"

// Weights for vector generation. Token hashes carry most of the signal;
// character trigrams add tolerance for inflections and typos.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// tokenRegex matches alphanumeric sequences.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// proseStopWords are filtered before hashing so function words do not
// dominate the vector.
var proseStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"of": true, "to": true, "in": true, "on": true, "for": true,
	"is": true, "are": true, "was": true, "be": true, "it": true,
	"that": true, "this": true, "with": true, "as": true, "at": true,
}

// StaticEmbedder generates embeddings by hashing tokens and character
// n-grams into a fixed number of buckets. No network, no model download,
// deterministic output, reduced semantic quality. Dimensions are
// configurable so the query vector can match whatever the dataset's
// vector asset ships with.
type StaticEmbedder struct {
	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder producing vectors of the
// given dimensionality.
func NewStaticEmbedder(dims int) (*StaticEmbedder, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("invalid dimensions: %d", dims)
	}
	return &StaticEmbedder{dims: dims}, nil
}

// Embed generates an embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)

	for _, token := range tokenRegex.FindAllString(strings.ToLower(text), -1) {
		if proseStopWords[token] {
			continue
		}

		e.addHash(vector, token, tokenWeight)

		runes := []rune(token)
		for i := 0; i+ngramSize <= len(runes); i++ {
			e.addHash(vector, string(runes[i:i+ngramSize]), ngramWeight)
		}
	}

	return vector
}

func (e *StaticEmbedder) addHash(vector []float32, s string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	sum := h.Sum64()

	bucket := int(sum % uint64(e.dims))
	// Low bit of the upper half picks the sign so buckets cancel rather
	// than only accumulate.
	if (sum>>32)&1 == 1 {
		vector[bucket] += weight
	} else {
		vector[bucket] -= weight
	}
}

// Dimensions returns the configured embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the static model identifier.
func (e *StaticEmbedder) ModelName() string {
	return StaticModelName
}

// Available always reports true; the static embedder has no dependencies.
func (e *StaticEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
