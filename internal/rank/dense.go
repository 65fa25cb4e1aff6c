package rank

import (
	"context"
	"strings"

	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
	"github.com/james-andrews-coulter/essay-search-engine/internal/store"
)

// matchLevel grades how query text matches a metadata field.
type matchLevel int

const (
	matchNone matchLevel = iota
	matchPartial
	matchExact
)

// denseSearch scores every candidate exactly: base cosine similarity plus
// one additive boost per metadata tier, with the acceptance floor picked by
// the strongest signal present. Scoring the full candidate set (rather
// than graph top-k) is what lets a weak-similarity chunk survive on a
// title match.
func (e *Engine) denseSearch(ctx context.Context, text string, candidates []*manifest.Chunk) ([]Hit, error) {
	queryVec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	queryVec = store.NormalizeQuery(queryVec)

	normalized := strings.ToLower(strings.TrimSpace(text))

	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		base, ok := e.vectors.Similarity(c.ID, queryVec)
		if !ok {
			// Keyword-only chunk in a dense dataset; nothing to score
			// against, skip rather than punish.
			continue
		}

		score, signals := e.applyBoosts(base, normalized, c)

		if base < e.floorFor(signals) {
			continue
		}

		hits = append(hits, Hit{Chunk: c, Score: score, Signals: signals})
	}

	e.sortHits(hits)
	return hits, nil
}

// applyBoosts adds at most one boost per tier: the strongest book-title
// signal, the strongest chapter-title signal, and the strongest tag signal.
func (e *Engine) applyBoosts(base float64, query string, c *manifest.Chunk) (float64, []Signal) {
	score := base
	var signals []Signal

	switch gradeMatch(query, c.BookTitle) {
	case matchExact:
		score += e.cfg.BoostExactBook
		signals = append(signals, SignalBookExact)
	case matchPartial:
		score += e.cfg.BoostPartialBook
		signals = append(signals, SignalBookPartial)
	}

	switch gradeMatch(query, c.ChapterTitle) {
	case matchExact:
		score += e.cfg.BoostExactChapter
		signals = append(signals, SignalChapterExact)
	case matchPartial:
		score += e.cfg.BoostPartialChapter
		signals = append(signals, SignalChapterPartial)
	}

	switch gradeTagMatch(query, c.TagList()) {
	case matchExact:
		score += e.cfg.BoostExactTag
		signals = append(signals, SignalTagExact)
	case matchPartial:
		score += e.cfg.BoostPartialTag
		signals = append(signals, SignalTagPartial)
	}

	return score, signals
}

// floorFor picks the acceptance floor from the strongest signal tier:
// any title match beats any tag match beats no signal at all.
func (e *Engine) floorFor(signals []Signal) float64 {
	hasTitle := false
	hasTag := false
	for _, s := range signals {
		switch s {
		case SignalBookExact, SignalBookPartial, SignalChapterExact, SignalChapterPartial:
			hasTitle = true
		case SignalTagExact, SignalTagPartial:
			hasTag = true
		}
	}

	switch {
	case hasTitle:
		return e.cfg.FloorTitleMatch
	case hasTag:
		return e.cfg.FloorTagMatch
	default:
		return e.cfg.FloorNoSignal
	}
}

// gradeMatch compares the lowercased query against a metadata field.
// Exact means equal after folding; partial means either contains the
// other.
func gradeMatch(query, field string) matchLevel {
	if query == "" || field == "" {
		return matchNone
	}
	f := strings.ToLower(strings.TrimSpace(field))
	if f == query {
		return matchExact
	}
	if strings.Contains(f, query) || strings.Contains(query, f) {
		return matchPartial
	}
	return matchNone
}

// gradeTagMatch returns the strongest match across the chunk's tags.
// Tags arrive already normalized from TagList.
func gradeTagMatch(query string, tags []string) matchLevel {
	best := matchNone
	for _, tag := range tags {
		if tag == query {
			return matchExact
		}
		if strings.Contains(tag, query) || strings.Contains(query, tag) {
			best = matchPartial
		}
	}
	return best
}
