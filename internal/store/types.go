// Package store provides the in-memory search indexes built from an
// accepted dataset: a bleve keyword index over the ranked metadata fields
// and an HNSW vector store for dense similarity and related-chunk lookup.
// Both are rebuilt from the manifest on every session load; nothing here
// persists.
package store

import "fmt"

// KeywordConfig configures the keyword index and its query-time boosts.
type KeywordConfig struct {
	// Field boosts, descending priority. Body text gets the lowest boost
	// so it cannot drown out title evidence.
	BookTitleBoost    float64
	ChapterTitleBoost float64
	TagBoost          float64
	ContentBoost      float64

	// Fuzziness is the edit distance for terms of at least MinFuzzyLength
	// runes. Short terms match exactly; fuzz on a 3-letter word matches
	// half the dictionary.
	Fuzziness      int
	MinFuzzyLength int
}

// DefaultKeywordConfig returns the default keyword index configuration.
func DefaultKeywordConfig() KeywordConfig {
	return KeywordConfig{
		BookTitleBoost:    4.0,
		ChapterTitleBoost: 3.0,
		TagBoost:          2.0,
		ContentBoost:      1.0,
		Fuzziness:         1,
		MinFuzzyLength:    4,
	}
}

// KeywordResult is a single keyword index hit.
type KeywordResult struct {
	// ChunkID is the matched chunk's manifest ID.
	ChunkID int

	// Score is the bleve relevance score. Comparable within one query
	// only; the engine normalizes against the best hit.
	Score float64
}

// VectorConfig configures the vector store.
type VectorConfig struct {
	// Dimensions is the fixed embedding dimensionality.
	Dimensions int

	// M and EfSearch are HNSW graph parameters.
	M        int
	EfSearch int
}

// DefaultVectorConfig returns the default vector store configuration.
func DefaultVectorConfig(dims int) VectorConfig {
	return VectorConfig{
		Dimensions: dims,
		M:          16,
		EfSearch:   20,
	}
}

// VectorResult is a single vector similarity hit.
type VectorResult struct {
	// ChunkID is the chunk's manifest ID.
	ChunkID int

	// Score is cosine similarity in [-1, 1] (dot product of unit vectors).
	Score float64
}

// ErrDimensionMismatch is returned when a vector's dimensionality does not
// match the store's configured dimensions.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
