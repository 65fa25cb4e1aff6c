package rank

import (
	"context"

	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
)

// keywordSearch runs the boosted fuzzy variant. Scores are normalized so
// the best hit is 1.0, then hits scoring below MinScoreRatio of the best
// are discarded; bleve scores are only comparable within a single query,
// so an absolute cutoff would be meaningless.
func (e *Engine) keywordSearch(ctx context.Context, text string, candidates []*manifest.Chunk, tagFiltered bool) ([]Hit, error) {
	var allowed []int
	if tagFiltered {
		allowed = candidateIDs(candidates)
		if len(allowed) == 0 {
			return []Hit{}, nil
		}
	}

	results, err := e.keyword.Search(ctx, text, allowed, len(e.chunks))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	top := results[0].Score
	for _, r := range results {
		if r.Score > top {
			top = r.Score
		}
	}
	if top <= 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		ratio := r.Score / top
		if ratio < e.cfg.MinScoreRatio {
			continue
		}
		chunk, ok := e.chunks[r.ChunkID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Chunk: chunk, Score: ratio})
	}

	e.sortHits(hits)
	return hits, nil
}
