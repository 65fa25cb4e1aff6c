// Package session coordinates one serving lifetime over an active store:
// load gates searches until the dataset is accepted and indexed, update
// checks stage new versions in the background, and a reload is the only
// moment a staged version becomes the one being served.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/james-andrews-coulter/essay-search-engine/internal/cache"
	"github.com/james-andrews-coulter/essay-search-engine/internal/config"
	"github.com/james-andrews-coulter/essay-search-engine/internal/embed"
	"github.com/james-andrews-coulter/essay-search-engine/internal/errors"
	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
	"github.com/james-andrews-coulter/essay-search-engine/internal/rank"
)

// UpdateNotice is pushed to Updates subscribers when a newer dataset has
// been staged and is waiting for a reload.
type UpdateNotice struct {
	// Version is the staged dataset's descriptor.
	Version manifest.Version

	// StagedAt is when the staging install completed.
	StagedAt time.Time
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	ID            string           `json:"id"`
	Ready         bool             `json:"ready"`
	State         cache.State      `json:"state"`
	Variant       rank.Variant     `json:"variant,omitempty"`
	ChunkCount    int              `json:"chunk_count"`
	StoreTag      string           `json:"store_tag,omitempty"`
	Version       manifest.Version `json:"version"`
	UpdatePending bool             `json:"update_pending"`
	StartedAt     time.Time        `json:"started_at"`
}

// Session owns the controller, the embedder, and the current engine.
type Session struct {
	mu sync.RWMutex

	id        string
	startedAt time.Time
	cfg       *config.Config
	logger    *slog.Logger

	controller *cache.Controller
	embedder   embed.Embedder
	engine     *rank.Engine

	tag     string
	version manifest.Version
	tags    *manifest.TagIndex
	ready   bool
	closed  bool

	noticeMu sync.Mutex
	updates  chan UpdateNotice
}

// New creates an unloaded session. Nothing touches the network or disk
// until Load.
func New(cfg *config.Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:         uuid.NewString(),
		startedAt:  time.Now(),
		cfg:        cfg,
		logger:     logger,
		controller: cache.NewController(cfg, logger),
		updates:    make(chan UpdateNotice, 1),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Controller exposes the sync controller, mainly for the CLI.
func (s *Session) Controller() *cache.Controller {
	return s.controller
}

// Updates delivers staged-update notices. The channel holds one pending
// notice; a second staging before a reload just keeps the newest.
func (s *Session) Updates() <-chan UpdateNotice {
	return s.updates
}

// Load ensures an active store exists (installing if the cache is empty),
// verifies it, builds the embedder and the ranking engine, and opens the
// search gate. Progress, when non-nil, receives install events.
func (s *Session) Load(ctx context.Context, progress cache.ProgressFunc) error {
	tag, err := s.controller.Ensure(ctx, progress)
	if err != nil {
		return err
	}

	if err := s.controller.Verify(tag); err != nil {
		return err
	}

	return s.serve(ctx, tag)
}

// serve builds an engine over a store and swaps it in.
func (s *Session) serve(ctx context.Context, tag string) error {
	dataset, err := s.controller.OpenDataset(ctx, tag)
	if err != nil {
		return err
	}

	version, err := s.controller.Store().ReadVersion(tag)
	if err != nil {
		return err
	}

	embedder := s.ensureEmbedder(ctx, dataset)

	engine, err := rank.NewEngine(ctx, dataset, embedder, s.cfg.Ranking, s.logger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.engine
	s.engine = engine
	s.tag = tag
	s.version = version
	s.tags = manifest.BuildTagIndex(dataset.Manifest)
	s.ready = true
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	s.logger.Info("session serving",
		"session", s.id,
		"tag", tag,
		"chunks", engine.ChunkCount(),
		"variant", string(engine.Variant()))
	return nil
}

// ensureEmbedder builds the query embedder once. A dense dataset with an
// unreachable ollama degrades to the static provider at the dataset's
// dimensionality rather than losing dense ranking entirely.
func (s *Session) ensureEmbedder(ctx context.Context, dataset *manifest.Dataset) embed.Embedder {
	s.mu.Lock()
	existing := s.embedder
	s.mu.Unlock()
	if existing != nil {
		return existing
	}
	if !dataset.Dense() {
		return nil
	}

	provider, err := embed.ParseProvider(s.cfg.Embeddings.Provider)
	if err != nil {
		s.logger.Warn("invalid embeddings provider, using static", "error", err)
		provider = embed.ProviderStatic
	}

	opts := embed.Options{
		Provider:   provider,
		Host:       s.cfg.Embeddings.OllamaHost,
		Model:      s.cfg.Embeddings.Model,
		Dimensions: dataset.Dimensions,
		CacheSize:  s.cfg.Embeddings.CacheSize,
		Timeout:    s.cfg.Embeddings.Timeout,
		MaxRetries: s.cfg.Embeddings.MaxRetries,
	}

	embedder, err := embed.NewEmbedder(ctx, opts)
	if err != nil && provider != embed.ProviderStatic {
		s.logger.Warn("embedding provider unavailable, degrading to static",
			"provider", string(provider), "error", err)
		opts.Provider = embed.ProviderStatic
		embedder, err = embed.NewEmbedder(ctx, opts)
	}
	if err != nil {
		s.logger.Warn("no embedder available, dense ranking disabled", "error", err)
		return nil
	}

	s.mu.Lock()
	s.embedder = embedder
	s.mu.Unlock()
	return embedder
}

// Search runs a query against the current engine. Before Load completes it
// fails fast with the not-ready error instead of blocking.
func (s *Session) Search(ctx context.Context, q rank.Query) (*rank.Results, error) {
	engine, err := s.currentEngine()
	if err != nil {
		return nil, err
	}
	return engine.Search(ctx, q)
}

// Related returns chunks similar to the given chunk.
func (s *Session) Related(ctx context.Context, chunkID, k int) ([]rank.Hit, error) {
	engine, err := s.currentEngine()
	if err != nil {
		return nil, err
	}
	return engine.Related(ctx, chunkID, k)
}

// Tags returns the current dataset's tag index, or an error before Load.
func (s *Session) Tags() (*manifest.TagIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.ready || s.tags == nil {
		return nil, errors.NotReady("session has not finished loading")
	}
	return s.tags, nil
}

// Chunk looks up a chunk by ID.
func (s *Session) Chunk(id int) (*manifest.Chunk, bool, error) {
	engine, err := s.currentEngine()
	if err != nil {
		return nil, false, err
	}
	c, ok := engine.Chunk(id)
	return c, ok, nil
}

func (s *Session) currentEngine() (*rank.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errors.New(errors.ErrCodeInternal, "session is closed", nil)
	}
	if !s.ready || s.engine == nil {
		return nil, errors.NotReady("session has not finished loading")
	}
	return s.engine, nil
}

// CheckForUpdate compares the remote dataset against the active store and
// stages a newer one without interrupting serving. Returns whether an
// update is now pending.
func (s *Session) CheckForUpdate(ctx context.Context) (bool, manifest.Version, error) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if !ready {
		return false, manifest.Version{}, errors.NotReady("cannot check for updates before the session loads")
	}

	updated, remote, err := s.controller.CheckForUpdate(ctx, nil)
	if err != nil {
		return false, manifest.Version{}, err
	}
	if !updated {
		return false, remote, nil
	}

	s.publishUpdate(UpdateNotice{Version: remote, StagedAt: time.Now()})

	return true, remote, nil
}

// publishUpdate replaces any pending notice with the newest one. The mutex
// keeps concurrent drift checks from racing between the drain and the
// send; the sends themselves never block.
func (s *Session) publishUpdate(notice UpdateNotice) {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()

	select {
	case s.updates <- notice:
	default:
		// Drop the stale notice, keep the newest.
		select {
		case <-s.updates:
		default:
		}
		select {
		case s.updates <- notice:
		default:
		}
	}
}

// Reload applies a staged update, if any, and rebuilds the engine over the
// newly activated store. This is the only path that changes which version
// answers queries.
func (s *Session) Reload(ctx context.Context) (bool, error) {
	tag, applied, err := s.controller.ApplyStaged()
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	if err := s.controller.Verify(tag); err != nil {
		return false, err
	}
	if err := s.serve(ctx, tag); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.id = uuid.NewString()
	s.startedAt = time.Now()
	s.mu.Unlock()

	return true, nil
}

// Status returns a snapshot for the status command and endpoint.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		ID:        s.id,
		Ready:     s.ready,
		State:     s.controller.State(),
		StoreTag:  s.tag,
		Version:   s.version,
		StartedAt: s.startedAt,
	}
	if s.engine != nil {
		st.Variant = s.engine.Variant()
		st.ChunkCount = s.engine.ChunkCount()
	}
	st.UpdatePending, _ = s.controller.UpdatePending()
	return st
}

// Close releases the engine and the embedder.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.ready = false

	var firstErr error
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			firstErr = err
		}
		s.engine = nil
	}
	if s.embedder != nil {
		if err := s.embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.embedder = nil
	}
	return firstErr
}
