// Package rank implements the two-variant ranking engine: a boosted fuzzy
// keyword variant over the bleve index, and a dense variant combining
// embedding similarity with additive metadata boosts and tiered acceptance
// floors. The dense variant is used whenever the dataset ships vectors and
// a dimension-compatible embedder is available; otherwise the engine
// degrades to keyword-only.
package rank

import "github.com/james-andrews-coulter/essay-search-engine/internal/manifest"

// Variant names the ranking strategy that produced a result set.
type Variant string

const (
	// VariantKeyword is boosted fuzzy keyword matching.
	VariantKeyword Variant = "keyword"

	// VariantDense is embedding similarity with metadata boosts.
	VariantDense Variant = "dense"

	// VariantBrowse is manifest-order listing for empty queries.
	VariantBrowse Variant = "browse"
)

// Signal names a metadata match that contributed a dense boost.
type Signal string

const (
	SignalBookExact      Signal = "book-exact"
	SignalBookPartial    Signal = "book-partial"
	SignalChapterExact   Signal = "chapter-exact"
	SignalChapterPartial Signal = "chapter-partial"
	SignalTagExact       Signal = "tag-exact"
	SignalTagPartial     Signal = "tag-partial"
)

// Query is a single search request.
type Query struct {
	// Text is the free-text query. May be empty, in which case the
	// engine browses the (possibly tag-filtered) manifest in order.
	Text string

	// Tags restricts candidates to chunks carrying every listed tag.
	Tags []string

	// Page is the 1-based result page. Out-of-range values clamp.
	Page int
}

// Hit is a single ranked result.
type Hit struct {
	// Chunk is the matched chunk.
	Chunk *manifest.Chunk

	// Score is the final relevance score. Keyword scores are normalized
	// against the page's best hit; dense scores are base similarity plus
	// metadata boosts.
	Score float64

	// Signals lists the metadata matches behind a dense hit's boosts.
	// Empty for keyword and browse results.
	Signals []Signal
}

// Results is one page of ranked hits.
type Results struct {
	Hits []Hit

	// Page is the clamped 1-based page actually returned.
	Page int

	// TotalPages is the number of pages available. Zero when nothing
	// matched.
	TotalPages int

	// TotalHits counts all accepted hits across pages.
	TotalHits int

	// Variant names the strategy that produced the ranking.
	Variant Variant
}
