// Package manifest defines the versioned dataset the engine consumes: the
// chunk manifest, the optional dense vector asset, and the version
// descriptor used for drift detection. The files are produced by an
// external build step; this package only decodes and validates them.
package manifest

import (
	"strings"
)

// Chunk is one retrievable unit of text (a chapter or sub-section).
// Field names mirror the on-disk manifest format.
type Chunk struct {
	// ID is the global document ID, unique across the manifest and never
	// reused after deletion within a manifest version.
	ID int `json:"chunk_id"`

	// BookTitle is the collection title, the strongest ranking signal.
	BookTitle string `json:"book_title"`

	Author    string `json:"author"`
	SafeTitle string `json:"safe_title"`

	// ChapterTitle is the section title.
	ChapterTitle string `json:"chapter_title"`

	// Tags is a comma-delimited list of short semantic labels (may be empty).
	Tags string `json:"tags"`

	// Content is the full markdown body of the chunk.
	Content string `json:"content"`

	WordCount int    `json:"word_count"`
	CharCount int    `json:"char_count"`
	File      string `json:"file"`
}

// TagList splits the comma-delimited tag field into normalized
// (lowercased, trimmed) tags, dropping empties. Order is preserved.
func (c *Chunk) TagList() []string {
	if c.Tags == "" {
		return nil
	}
	parts := strings.Split(c.Tags, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.ToLower(strings.TrimSpace(p))
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// HasAllTags reports whether the chunk carries every tag in want.
// Tags in want must already be normalized (lowercased, trimmed).
// AND semantics: an empty want always passes.
func (c *Chunk) HasAllTags(want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := c.TagList()
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Book is one collection entry in the manifest.
type Book struct {
	Title      string `json:"title"`
	Author     string `json:"author"`
	SafeTitle  string `json:"safe_title"`
	ChunkCount int    `json:"chunk_count"`
}

// Manifest is the full set of chunk records for one dataset version.
// It is immutable once loaded into a session; updates replace it wholesale
// for the next session.
type Manifest struct {
	Books       []Book  `json:"books"`
	Chunks      []Chunk `json:"chunks"`
	TotalChunks int     `json:"total_chunks"`
	LastUpdated string  `json:"last_updated"`
}

// VectorAsset is the optional dense vector file. Embeddings[i] corresponds
// to Manifest.Chunks[i]; the alignment is validated at acceptance time and
// re-keyed by chunk ID immediately after (see Accept).
type VectorAsset struct {
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Version is the small drift-detection descriptor. Checksums are compared
// for equality only, never ordered; the hash algorithm is opaque here.
type Version struct {
	Timestamp      int64  `json:"timestamp"`
	Checksum       string `json:"checksum"`
	EmbeddingsSize int64  `json:"embeddings_size,omitempty"`
}

// Equal reports whether two version descriptors denote the same dataset.
func (v Version) Equal(other Version) bool {
	return v.Checksum == other.Checksum
}

// IsZero reports whether the descriptor is unset.
func (v Version) IsZero() bool {
	return v.Checksum == "" && v.Timestamp == 0
}
