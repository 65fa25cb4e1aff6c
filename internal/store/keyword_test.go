package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
)

func testChunks() []manifest.Chunk {
	return []manifest.Chunk{
		{
			ID:           0,
			BookTitle:    "How to Travel",
			ChapterTitle: "On Going for a Walk",
			Tags:         "travel, attention",
			Content:      "The pleasures of a short walk are underrated.",
		},
		{
			ID:           1,
			BookTitle:    "A Calmer Life",
			ChapterTitle: "Introduction",
			Tags:         "anxiety",
			Content:      "Anxiety is not a sign of weakness but of imagination.",
		},
		{
			ID:           2,
			BookTitle:    "A Calmer Life",
			ChapterTitle: "Conclusion",
			Tags:         "anxiety, calm",
			Content:      "Calm is an achievement, not a birthright.",
		},
	}
}

func TestKeywordIndex_IndexAndSearch(t *testing.T) {
	idx, err := NewKeywordIndex(DefaultKeywordConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(context.Background(), testChunks()))

	count, err := idx.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	results, err := idx.Search(context.Background(), "anxiety", nil, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Greater(t, results[0].Score, 0.0)

	ids := make(map[int]bool)
	for _, r := range results {
		ids[r.ChunkID] = true
	}
	assert.True(t, ids[1])
	assert.True(t, ids[2])
}

func TestKeywordIndex_TitleOutranksContent(t *testing.T) {
	idx, err := NewKeywordIndex(DefaultKeywordConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	chunks := []manifest.Chunk{
		{ID: 10, BookTitle: "Silence", ChapterTitle: "One", Content: "Nothing relevant here."},
		{ID: 11, BookTitle: "Other", ChapterTitle: "Two", Content: "A chapter that mentions silence in passing."},
	}
	require.NoError(t, idx.Index(context.Background(), chunks))

	results, err := idx.Search(context.Background(), "silence", nil, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Book title carries the highest boost, so the title hit wins.
	assert.Equal(t, 10, results[0].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestKeywordIndex_FuzzyMatchesMisspelling(t *testing.T) {
	idx, err := NewKeywordIndex(DefaultKeywordConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(context.Background(), testChunks()))

	// One edit away from "anxiety"; term is long enough to fuzz.
	results, err := idx.Search(context.Background(), "anxiaty", nil, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	ids := make(map[int]bool)
	for _, r := range results {
		ids[r.ChunkID] = true
	}
	assert.True(t, ids[1] || ids[2])
}

func TestKeywordIndex_PrefixMatchesPartialWord(t *testing.T) {
	idx, err := NewKeywordIndex(DefaultKeywordConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(context.Background(), testChunks()))

	results, err := idx.Search(context.Background(), "anx", nil, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestKeywordIndex_AllowedRestrictsCandidates(t *testing.T) {
	idx, err := NewKeywordIndex(DefaultKeywordConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(context.Background(), testChunks()))

	results, err := idx.Search(context.Background(), "anxiety", []int{2}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].ChunkID)
}

func TestKeywordIndex_EmptyQueryReturnsNothing(t *testing.T) {
	idx, err := NewKeywordIndex(DefaultKeywordConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	require.NoError(t, idx.Index(context.Background(), testChunks()))

	results, err := idx.Search(context.Background(), "   ", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordIndex_SearchAfterCloseFails(t *testing.T) {
	idx, err := NewKeywordIndex(DefaultKeywordConfig())
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	_, err = idx.Search(context.Background(), "anything", nil, 10)
	assert.Error(t, err)
}
