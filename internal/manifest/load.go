package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/james-andrews-coulter/essay-search-engine/internal/errors"
)

// Dataset is an accepted, validated manifest ready for a session: chunks in
// manifest order plus vectors re-keyed by chunk ID. Positional coupling
// between the two parallel arrays ends here; everything downstream looks
// vectors up by ID.
type Dataset struct {
	Manifest *Manifest

	// Vectors maps chunk ID to its unit-normalized embedding.
	// Nil in the keyword-only variant.
	Vectors map[int][]float32

	// Dimensions is the vector dimensionality (0 when Vectors is nil).
	Dimensions int

	// Model is the embedding model the vectors were built with.
	Model string
}

// Dense reports whether the dataset carries vectors.
func (d *Dataset) Dense() bool {
	return len(d.Vectors) > 0
}

// DecodeManifest decodes a manifest document from r.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, errors.New(errors.ErrCodeManifestInvalid,
			fmt.Sprintf("decode manifest: %v", err), err)
	}
	return &m, nil
}

// DecodeVectors decodes a vector asset document from r.
func DecodeVectors(r io.Reader) (*VectorAsset, error) {
	var v VectorAsset
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return nil, errors.New(errors.ErrCodeManifestInvalid,
			fmt.Sprintf("decode vector asset: %v", err), err)
	}
	return &v, nil
}

// DecodeVersion decodes a version descriptor from r.
func DecodeVersion(r io.Reader) (Version, error) {
	var v Version
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return Version{}, errors.New(errors.ErrCodeVersionFetch,
			fmt.Sprintf("decode version descriptor: %v", err), err)
	}
	return v, nil
}

// unitNormTolerance is how far a sampled vector's L2 norm may drift from 1.
// The build step normalizes embeddings; a gross violation means the asset
// was produced by a different pipeline and similarity scores would be junk.
const unitNormTolerance = 0.05

// Accept validates a manifest (and optional vector asset) and produces a
// session-ready Dataset. Violations are rejected here, at the point the
// manifest enters the system, never discovered mid-query.
//
// Checks, in order:
//   - chunk IDs unique across the manifest
//   - vector count equals chunk count (the alignment invariant)
//   - every vector has the declared dimensionality
//   - sampled vectors are unit-normalized within tolerance
func Accept(m *Manifest, vectors *VectorAsset) (*Dataset, error) {
	if m == nil {
		return nil, errors.ValidationError("nil manifest", nil)
	}

	seen := make(map[int]int, len(m.Chunks))
	for i := range m.Chunks {
		id := m.Chunks[i].ID
		if prev, dup := seen[id]; dup {
			return nil, errors.New(errors.ErrCodeDuplicateChunkID,
				fmt.Sprintf("chunk ID %d appears at positions %d and %d", id, prev, i), nil)
		}
		seen[id] = i
	}

	ds := &Dataset{Manifest: m}

	if vectors == nil {
		return ds, nil
	}

	if len(vectors.Embeddings) != len(m.Chunks) {
		return nil, errors.AlignmentError(fmt.Sprintf(
			"vector count %d does not match chunk count %d",
			len(vectors.Embeddings), len(m.Chunks)))
	}

	dims := vectors.Dimensions
	if dims == 0 && len(vectors.Embeddings) > 0 {
		dims = len(vectors.Embeddings[0])
	}

	byID := make(map[int][]float32, len(m.Chunks))
	for i, vec := range vectors.Embeddings {
		if len(vec) != dims {
			return nil, errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("vector %d has %d dimensions, expected %d", i, len(vec), dims), nil)
		}
		byID[m.Chunks[i].ID] = vec
	}

	// Spot-check normalization on first, middle, and last vectors.
	for _, i := range sampleIndexes(len(vectors.Embeddings)) {
		if n := norm(vectors.Embeddings[i]); math.Abs(n-1.0) > unitNormTolerance {
			return nil, errors.New(errors.ErrCodeManifestInvalid,
				fmt.Sprintf("vector %d is not unit-normalized (norm %.4f)", i, n), nil)
		}
	}

	ds.Vectors = byID
	ds.Dimensions = dims
	ds.Model = vectors.Model
	return ds, nil
}

func sampleIndexes(n int) []int {
	switch {
	case n == 0:
		return nil
	case n == 1:
		return []int{0}
	case n == 2:
		return []int{0, 1}
	default:
		return []int{0, n / 2, n - 1}
	}
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
