package store

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"
)

// VectorStore holds the dataset's chunk embeddings. The HNSW graph serves
// nearest-neighbor lookups (top similarity, related chunks); the vecs map
// keeps every normalized vector addressable by chunk ID so the ranking
// engine can score arbitrary candidate sets exactly, not just graph top-k.
type VectorStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig
	closed bool

	vecs    map[int][]float32
	idMap   map[int]uint64    // chunk ID -> internal key
	keyMap  map[uint64]int    // internal key -> chunk ID
	nextKey uint64
}

// NewVectorStore creates an empty vector store for cosine similarity over
// vectors of the configured dimensionality.
func NewVectorStore(config VectorConfig) (*VectorStore, error) {
	if config.Dimensions <= 0 {
		return nil, fmt.Errorf("invalid dimensions: %d", config.Dimensions)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	if config.M > 0 {
		graph.M = config.M
	}
	if config.EfSearch > 0 {
		graph.EfSearch = config.EfSearch
	}

	return &VectorStore{
		graph:  graph,
		config: config,
		vecs:   make(map[int][]float32),
		idMap:  make(map[int]uint64),
		keyMap: make(map[uint64]int),
	}, nil
}

// Add inserts vectors keyed by chunk ID. Vectors are normalized on the way
// in; re-adding an existing ID replaces its vector via lazy deletion (the
// old graph node is orphaned rather than removed, which avoids a coder/hnsw
// issue when deleting the last node).
func (s *VectorStore) Add(ctx context.Context, vectors map[int][]float32) error {
	if len(vectors) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{
				Expected: s.config.Dimensions,
				Got:      len(v),
			}
		}
	}

	for id, v := range vectors {
		if existingKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(v))
		copy(vec, v)
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.vecs[id] = vec
		s.idMap[id] = key
		s.keyMap[key] = id
	}

	return nil
}

// Search returns the k nearest chunks to the query vector, best first.
func (s *VectorStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      len(query),
		}
	}

	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeInPlace(q)

	nodes := s.graph.Search(q, k)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			// Orphaned by a replace; skip.
			continue
		}
		results = append(results, &VectorResult{
			ChunkID: id,
			Score:   float64(dot(q, node.Value)),
		})
	}

	return results, nil
}

// Related returns the k chunks nearest to the given chunk's own vector,
// excluding the chunk itself. Returns false if the chunk has no vector.
func (s *VectorStore) Related(ctx context.Context, chunkID, k int) ([]*VectorResult, bool, error) {
	s.mu.RLock()
	vec, ok := s.vecs[chunkID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	// Ask for one extra neighbor since the chunk itself is its own nearest.
	hits, err := s.Search(ctx, vec, k+1)
	if err != nil {
		return nil, false, err
	}

	results := make([]*VectorResult, 0, k)
	for _, h := range hits {
		if h.ChunkID == chunkID {
			continue
		}
		results = append(results, h)
		if len(results) == k {
			break
		}
	}

	return results, true, nil
}

// Similarity returns the cosine similarity between the (normalized) query
// and the chunk's stored vector. Returns false if the chunk is unknown.
func (s *VectorStore) Similarity(chunkID int, query []float32) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vec, ok := s.vecs[chunkID]
	if !ok {
		return 0, false
	}

	return float64(dot(query, vec)), true
}

// Contains reports whether the chunk has a stored vector.
func (s *VectorStore) Contains(chunkID int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.idMap[chunkID]
	return exists
}

// Count returns the number of stored vectors.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.idMap)
}

// Dimensions returns the configured vector dimensionality.
func (s *VectorStore) Dimensions() int {
	return s.config.Dimensions
}

// Close releases the store. Further calls fail.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	s.vecs = nil
	s.idMap = nil
	s.keyMap = nil

	return nil
}

// NormalizeQuery returns a unit-length copy of v for use with Similarity.
func NormalizeQuery(v []float32) []float32 {
	q := make([]float32, len(v))
	copy(q, v)
	normalizeInPlace(q)
	return q
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
