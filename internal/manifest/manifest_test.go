package manifest

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enginerrors "github.com/james-andrews-coulter/essay-search-engine/internal/errors"
)

func testManifest() *Manifest {
	return &Manifest{
		Books: []Book{
			{Title: "The Art of Travel", Author: "Alain de Botton", SafeTitle: "the_art_of_travel", ChunkCount: 3},
		},
		Chunks: []Chunk{
			{ID: 0, BookTitle: "How to Travel", ChapterTitle: "On Anticipation", Tags: "travel", Content: "On the pleasures of anticipation."},
			{ID: 1, BookTitle: "Status Anxiety", ChapterTitle: "Intro", Tags: "anxiety", Content: "An introduction."},
			{ID: 2, BookTitle: "Status Anxiety", ChapterTitle: "Outro", Tags: "anxiety, calm", Content: "A conclusion."},
		},
		TotalChunks: 3,
		LastUpdated: "2025-11-02T10:00:00Z",
	}
}

func unitVec(dims, hot int) []float32 {
	v := make([]float32, dims)
	v[hot%dims] = 1
	return v
}

func TestChunk_TagList_NormalizesAndPreservesOrder(t *testing.T) {
	c := Chunk{Tags: " Anxiety , calm,  ,SELF-KNOWLEDGE"}
	assert.Equal(t, []string{"anxiety", "calm", "self-knowledge"}, c.TagList())
}

func TestChunk_TagList_EmptyTags(t *testing.T) {
	c := Chunk{Tags: ""}
	assert.Nil(t, c.TagList())
}

func TestChunk_HasAllTags_ANDSemantics(t *testing.T) {
	c := Chunk{Tags: "anxiety, calm"}

	assert.True(t, c.HasAllTags(nil))
	assert.True(t, c.HasAllTags([]string{"anxiety"}))
	assert.True(t, c.HasAllTags([]string{"anxiety", "calm"}))
	// OR would pass here; AND must not.
	assert.False(t, c.HasAllTags([]string{"anxiety", "travel"}))
	assert.False(t, c.HasAllTags([]string{"travel"}))
}

func TestDecodeManifest_RoundTrip(t *testing.T) {
	doc := `{
		"books": [{"title": "T", "author": "A", "safe_title": "t", "chunk_count": 1}],
		"chunks": [{"chunk_id": 7, "book_title": "T", "chapter_title": "C", "tags": "x,y", "content": "body"}],
		"total_chunks": 1,
		"last_updated": "2025-11-02T10:00:00Z"
	}`

	m, err := DecodeManifest(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, m.Chunks, 1)
	assert.Equal(t, 7, m.Chunks[0].ID)
	assert.Equal(t, []string{"x", "y"}, m.Chunks[0].TagList())
	assert.Equal(t, 1, m.TotalChunks)
}

func TestDecodeManifest_Malformed(t *testing.T) {
	_, err := DecodeManifest(strings.NewReader("{nope"))
	require.Error(t, err)
	assert.Equal(t, enginerrors.ErrCodeManifestInvalid, enginerrors.GetCode(err))
}

func TestDecodeVersion(t *testing.T) {
	v, err := DecodeVersion(strings.NewReader(`{"timestamp": 1730500000, "checksum": "abc123", "embeddings_size": 1048576}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1730500000), v.Timestamp)
	assert.Equal(t, "abc123", v.Checksum)
}

func TestVersion_Equal_ComparesChecksumOnly(t *testing.T) {
	a := Version{Timestamp: 1, Checksum: "abc"}
	b := Version{Timestamp: 2, Checksum: "abc"}
	c := Version{Timestamp: 1, Checksum: "def"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestAccept_KeywordOnly(t *testing.T) {
	ds, err := Accept(testManifest(), nil)
	require.NoError(t, err)
	assert.False(t, ds.Dense())
	assert.Nil(t, ds.Vectors)
}

func TestAccept_RejectsDuplicateChunkIDs(t *testing.T) {
	m := testManifest()
	m.Chunks[2].ID = 0

	_, err := Accept(m, nil)
	require.Error(t, err)
	assert.Equal(t, enginerrors.ErrCodeDuplicateChunkID, enginerrors.GetCode(err))
}

func TestAccept_RekeysVectorsByChunkID(t *testing.T) {
	m := testManifest()
	va := &VectorAsset{
		Model:      "Xenova/bge-large-en-v1.5",
		Dimensions: 4,
		Embeddings: [][]float32{unitVec(4, 0), unitVec(4, 1), unitVec(4, 2)},
	}

	ds, err := Accept(m, va)
	require.NoError(t, err)
	require.True(t, ds.Dense())
	assert.Equal(t, 4, ds.Dimensions)

	// Vector at position i is reachable by the ID of chunk i.
	assert.Equal(t, va.Embeddings[0], ds.Vectors[0])
	assert.Equal(t, va.Embeddings[1], ds.Vectors[1])
	assert.Equal(t, va.Embeddings[2], ds.Vectors[2])
}

func TestAccept_RejectsCountMismatch(t *testing.T) {
	m := testManifest()
	va := &VectorAsset{
		Dimensions: 4,
		Embeddings: [][]float32{unitVec(4, 0), unitVec(4, 1)}, // one short
	}

	_, err := Accept(m, va)
	require.Error(t, err)
	assert.Equal(t, enginerrors.ErrCodeAlignment, enginerrors.GetCode(err))
	assert.True(t, enginerrors.IsFatal(err))
}

func TestAccept_RejectsRaggedDimensions(t *testing.T) {
	m := testManifest()
	va := &VectorAsset{
		Dimensions: 4,
		Embeddings: [][]float32{unitVec(4, 0), unitVec(3, 1), unitVec(4, 2)},
	}

	_, err := Accept(m, va)
	require.Error(t, err)
	assert.Equal(t, enginerrors.ErrCodeDimensionMismatch, enginerrors.GetCode(err))
}

func TestAccept_RejectsUnnormalizedVectors(t *testing.T) {
	m := testManifest()
	big := []float32{3, 4, 0, 0} // norm 5
	va := &VectorAsset{
		Dimensions: 4,
		Embeddings: [][]float32{big, unitVec(4, 1), unitVec(4, 2)},
	}

	_, err := Accept(m, va)
	require.Error(t, err)
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, 5.0, norm([]float32{3, 4}), 1e-9)
	assert.InDelta(t, 1.0, norm(unitVec(8, 3)), 1e-9)
	assert.InDelta(t, 0.0, norm([]float32{0, 0}), math.SmallestNonzeroFloat64)
}

func TestBuildTagIndex(t *testing.T) {
	ti := BuildTagIndex(testManifest())

	assert.Equal(t, 3, ti.Len())
	assert.Equal(t, 2, ti.Count("anxiety"))
	assert.Equal(t, 1, ti.Count("calm"))
	assert.Equal(t, 1, ti.Count("Travel")) // case-insensitive lookup
	assert.True(t, ti.Has("calm"))
	assert.False(t, ti.Has("stoicism"))
	assert.Equal(t, []string{"anxiety", "calm", "travel"}, ti.All())
}

func TestTagIndex_WithPrefix(t *testing.T) {
	ti := BuildTagIndex(testManifest())
	assert.Equal(t, []string{"calm"}, ti.WithPrefix("ca"))
	assert.Empty(t, ti.WithPrefix("zz"))
}
