package rank

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/james-andrews-coulter/essay-search-engine/internal/config"
	"github.com/james-andrews-coulter/essay-search-engine/internal/embed"
	"github.com/james-andrews-coulter/essay-search-engine/internal/errors"
	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
	"github.com/james-andrews-coulter/essay-search-engine/internal/store"
)

// Engine ranks chunks from one accepted dataset. Construction builds the
// keyword index and, when the dataset and embedder line up, the vector
// store. An Engine is immutable after construction; version swaps build a
// new Engine rather than mutating this one.
type Engine struct {
	mu     sync.RWMutex
	closed bool

	cfg     config.RankingConfig
	logger  *slog.Logger
	chunks  map[int]*manifest.Chunk
	order   map[int]int // chunk ID -> manifest position, for stable ties
	ordered []*manifest.Chunk

	keyword *store.KeywordIndex

	// vectors and embedder are nil when the engine is keyword-only.
	vectors  *store.VectorStore
	embedder embed.Embedder
}

// NewEngine builds the indexes for a dataset. If the dataset carries
// vectors but the embedder is missing or its dimensionality differs from
// the vector asset, the engine degrades to keyword-only with a warning
// instead of failing.
func NewEngine(ctx context.Context, dataset *manifest.Dataset, embedder embed.Embedder, cfg config.RankingConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kwCfg := store.KeywordConfig{
		BookTitleBoost:    cfg.BookTitleBoost,
		ChapterTitleBoost: cfg.ChapterTitleBoost,
		TagBoost:          cfg.TagBoost,
		ContentBoost:      cfg.ContentBoost,
		Fuzziness:         cfg.Fuzziness,
		MinFuzzyLength:    cfg.MinFuzzyLength,
	}
	keyword, err := store.NewKeywordIndex(kwCfg)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "failed to create keyword index", err)
	}
	if err := keyword.Index(ctx, dataset.Manifest.Chunks); err != nil {
		_ = keyword.Close()
		return nil, errors.New(errors.ErrCodeInternal, "failed to index chunks", err)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		chunks:  make(map[int]*manifest.Chunk, len(dataset.Manifest.Chunks)),
		order:   make(map[int]int, len(dataset.Manifest.Chunks)),
		keyword: keyword,
	}
	for i := range dataset.Manifest.Chunks {
		c := &dataset.Manifest.Chunks[i]
		e.chunks[c.ID] = c
		e.order[c.ID] = i
		e.ordered = append(e.ordered, c)
	}

	if dataset.Dense() {
		switch {
		case embedder == nil:
			logger.Warn("dataset has vectors but no embedder configured, using keyword ranking",
				"dimensions", dataset.Dimensions)
		case embedder.Dimensions() != dataset.Dimensions:
			logger.Warn("embedder dimensions do not match vector asset, using keyword ranking",
				"embedder_dims", embedder.Dimensions(),
				"asset_dims", dataset.Dimensions,
				"model", embedder.ModelName())
		default:
			vectors, err := store.NewVectorStore(store.DefaultVectorConfig(dataset.Dimensions))
			if err != nil {
				_ = keyword.Close()
				return nil, errors.New(errors.ErrCodeInternal, "failed to create vector store", err)
			}
			if err := vectors.Add(ctx, dataset.Vectors); err != nil {
				_ = keyword.Close()
				_ = vectors.Close()
				return nil, errors.New(errors.ErrCodeInternal, "failed to load vectors", err)
			}
			e.vectors = vectors
			e.embedder = embedder
		}
	}

	logger.Info("ranking engine ready",
		"chunks", len(e.chunks),
		"variant", string(e.Variant()))

	return e, nil
}

// Variant reports the strategy the engine uses for non-empty queries.
func (e *Engine) Variant() Variant {
	if e.vectors != nil {
		return VariantDense
	}
	return VariantKeyword
}

// Search runs one query and returns the requested page.
func (e *Engine) Search(ctx context.Context, q Query) (*Results, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, errors.New(errors.ErrCodeSearchFailed, "engine is closed", nil)
	}

	candidates := e.filterByTags(q.Tags)

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return e.browse(candidates, q.Page), nil
	}

	if e.vectors != nil {
		hits, err := e.denseSearch(ctx, text, candidates)
		if err == nil {
			return e.paginate(hits, q.Page, VariantDense), nil
		}
		// A failed query embedding degrades this query to keywords
		// rather than failing the search outright.
		e.logger.Warn("query embedding failed, falling back to keyword ranking",
			"error", err)
	}

	hits, err := e.keywordSearch(ctx, text, candidates, q.Tags != nil)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "keyword search failed", err)
	}
	return e.paginate(hits, q.Page, VariantKeyword), nil
}

// Related returns up to k chunks nearest to the given chunk's vector.
// Keyword-only engines return an empty slice.
func (e *Engine) Related(ctx context.Context, chunkID, k int) ([]Hit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, errors.New(errors.ErrCodeSearchFailed, "engine is closed", nil)
	}
	if e.vectors == nil {
		return []Hit{}, nil
	}

	results, ok, err := e.vectors.Related(ctx, chunkID, k)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "related lookup failed", err)
	}
	if !ok {
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		chunk, exists := e.chunks[r.ChunkID]
		if !exists {
			continue
		}
		hits = append(hits, Hit{Chunk: chunk, Score: r.Score})
	}
	return hits, nil
}

// Chunk returns the chunk with the given ID, if present.
func (e *Engine) Chunk(id int) (*manifest.Chunk, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.chunks[id]
	return c, ok
}

// ChunkCount returns the number of indexed chunks.
func (e *Engine) ChunkCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.chunks)
}

// Close releases both indexes. The embedder is owned by the caller and is
// not closed here.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	if err := e.keyword.Close(); err != nil {
		firstErr = err
	}
	if e.vectors != nil {
		if err := e.vectors.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// filterByTags returns candidates in manifest order. A nil or empty tag
// list keeps every chunk. The filter is normalized here so callers can
// pass tags in any casing.
func (e *Engine) filterByTags(tags []string) []*manifest.Chunk {
	want := normalizeTags(tags)
	if len(want) == 0 {
		return e.ordered
	}

	var out []*manifest.Chunk
	for _, c := range e.ordered {
		if c.HasAllTags(want) {
			out = append(out, c)
		}
	}
	return out
}

// normalizeTags lowercases and trims filter tags, dropping empties.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// browse lists candidates in manifest order with zero scores.
func (e *Engine) browse(candidates []*manifest.Chunk, page int) *Results {
	hits := make([]Hit, len(candidates))
	for i, c := range candidates {
		hits[i] = Hit{Chunk: c}
	}
	return e.paginate(hits, page, VariantBrowse)
}

// paginate clamps the requested page into range and slices out one page.
func (e *Engine) paginate(hits []Hit, page int, variant Variant) *Results {
	pageSize := e.cfg.PageSize
	if pageSize <= 0 {
		pageSize = config.DefaultPageSize
	}

	total := len(hits)
	totalPages := (total + pageSize - 1) / pageSize

	if totalPages == 0 {
		return &Results{Hits: []Hit{}, Page: 1, TotalPages: 0, TotalHits: 0, Variant: variant}
	}

	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}

	return &Results{
		Hits:       hits[start:end],
		Page:       page,
		TotalPages: totalPages,
		TotalHits:  total,
		Variant:    variant,
	}
}

// sortHits orders by score descending, ties broken by manifest order so
// identical queries always return identical pages.
func (e *Engine) sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return e.order[hits[i].Chunk.ID] < e.order[hits[j].Chunk.ID]
	})
}

func candidateIDs(candidates []*manifest.Chunk) []int {
	ids := make([]int, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	return ids
}
