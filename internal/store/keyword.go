package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
)

// ProseAnalyzerName is the name of the analyzer used for all indexed fields:
// unicode tokenization plus lowercasing, no stemming. Stemming makes scores
// drift between index versions; fuzziness at query time covers inflections
// well enough for chapter-length prose.
const ProseAnalyzerName = "prose_analyzer"

// KeywordIndex is an in-memory bleve index over the four ranked chunk
// fields. It is rebuilt from the manifest on every session load and never
// touches disk.
type KeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	config KeywordConfig
	closed bool
}

// keywordDocument is the document shape handed to bleve. Field names here
// are the field names used in queries.
type keywordDocument struct {
	BookTitle    string `json:"book_title"`
	ChapterTitle string `json:"chapter_title"`
	Tags         string `json:"tags"`
	Content      string `json:"content"`
}

// NewKeywordIndex creates an empty in-memory keyword index.
func NewKeywordIndex(config KeywordConfig) (*KeywordIndex, error) {
	indexMapping, err := createKeywordMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index: %w", err)
	}

	return &KeywordIndex{
		index:  idx,
		config: config,
	}, nil
}

func createKeywordMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(ProseAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = ProseAnalyzerName

	return indexMapping, nil
}

// Index adds chunks to the index. Document IDs are the decimal chunk IDs.
func (k *KeywordIndex) Index(ctx context.Context, chunks []manifest.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return fmt.Errorf("index is closed")
	}

	batch := k.index.NewBatch()
	for i := range chunks {
		c := &chunks[i]
		doc := keywordDocument{
			BookTitle:    c.BookTitle,
			ChapterTitle: c.ChapterTitle,
			Tags:         strings.Join(c.TagList(), " "),
			Content:      c.Content,
		}
		if err := batch.Index(strconv.Itoa(c.ID), doc); err != nil {
			return fmt.Errorf("failed to index chunk %d: %w", c.ID, err)
		}
	}

	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}

	return nil
}

// Search returns chunks matching the query, best first. If allowed is
// non-nil, only those chunk IDs are candidates; the engine uses this for
// tag-filtered searches. Scores carry the per-field boosts and are only
// comparable within a single query.
func (k *KeywordIndex) Search(ctx context.Context, queryStr string, allowed []int, limit int) ([]*KeywordResult, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*KeywordResult{}, nil
	}

	var q query.Query = k.buildQuery(queryStr)
	if allowed != nil {
		ids := make([]string, len(allowed))
		for i, id := range allowed {
			ids[i] = strconv.Itoa(id)
		}
		q = bleve.NewConjunctionQuery(q, query.NewDocIDQuery(ids))
	}

	searchRequest := bleve.NewSearchRequest(q)
	searchRequest.Size = limit

	result, err := k.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*KeywordResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := strconv.Atoi(hit.ID)
		if err != nil {
			return nil, fmt.Errorf("unexpected document ID %q: %w", hit.ID, err)
		}
		results = append(results, &KeywordResult{
			ChunkID: id,
			Score:   hit.Score,
		})
	}

	return results, nil
}

// buildQuery expands the query string into a boosted disjunction: for each
// field, one match query per term with fuzziness on terms long enough to
// fuzz safely, plus a prefix query so partial words ("anx") still hit.
func (k *KeywordIndex) buildQuery(queryStr string) query.Query {
	terms := strings.Fields(strings.ToLower(queryStr))

	fields := []struct {
		name  string
		boost float64
	}{
		{"book_title", k.config.BookTitleBoost},
		{"chapter_title", k.config.ChapterTitleBoost},
		{"tags", k.config.TagBoost},
		{"content", k.config.ContentBoost},
	}

	var clauses []query.Query
	for _, f := range fields {
		for _, term := range terms {
			mq := bleve.NewMatchQuery(term)
			mq.SetField(f.name)
			mq.SetBoost(f.boost)
			if len([]rune(term)) >= k.config.MinFuzzyLength {
				mq.SetFuzziness(k.config.Fuzziness)
			}
			clauses = append(clauses, mq)

			pq := bleve.NewPrefixQuery(term)
			pq.SetField(f.name)
			// Prefix hits are weaker evidence than analyzed matches.
			pq.SetBoost(f.boost * 0.5)
			clauses = append(clauses, pq)
		}
	}

	return bleve.NewDisjunctionQuery(clauses...)
}

// DocCount returns the number of indexed chunks.
func (k *KeywordIndex) DocCount() (uint64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return 0, fmt.Errorf("index is closed")
	}

	return k.index.DocCount()
}

// Close releases the index. Further calls fail.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true

	return k.index.Close()
}
