package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/james-andrews-coulter/essay-search-engine/internal/config"
	"github.com/james-andrews-coulter/essay-search-engine/internal/errors"
	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
)

// State is the controller's lifecycle phase.
type State string

const (
	// StateIdle means no store is being prepared or served.
	StateIdle State = "idle"

	// StateInstalling means assets are being fetched into a new store.
	StateInstalling State = "installing"

	// StateActivating means a complete store is being swapped in.
	StateActivating State = "activating"

	// StateServing means an active store is answering reads.
	StateServing State = "serving"
)

// fetchConcurrency caps parallel asset downloads per install.
const fetchConcurrency = 4

// installLockName is the cross-process install lock at the cache root.
const installLockName = "install.lock"

// Controller drives the install -> activate -> serve lifecycle. Exactly
// one store is active at a time; updates found while serving are staged
// into a fresh store and only swapped in when the session reloads.
type Controller struct {
	mu    sync.Mutex
	state State

	dataset config.DatasetConfig
	cache   config.CacheConfig
	store   *AssetStore
	fetcher *fetcher
	logger  *slog.Logger

	updatePending bool
	stagedTag     string
	stagedVersion manifest.Version
}

// NewController creates a controller over the configured cache root.
func NewController(cfg *config.Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		state:   StateIdle,
		dataset: cfg.Dataset,
		cache:   cfg.Cache,
		store:   NewAssetStore(cfg.Cache.RootDir, cfg.Cache.StorePrefix, logger),
		fetcher: newFetcher(cfg.Cache.FetchTimeout),
		logger:  logger,
	}
}

// Store exposes the underlying asset store.
func (c *Controller) Store() *AssetStore {
	return c.store
}

// State returns the current lifecycle phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UpdatePending reports whether a newer store is staged and waiting for a
// session reload.
func (c *Controller) UpdatePending() (bool, manifest.Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatePending, c.stagedVersion
}

// FetchRemoteVersion downloads and decodes the remote version descriptor.
// A cache-busting query parameter keeps intermediaries from pinning the
// drift check to a stale descriptor.
func (c *Controller) FetchRemoteVersion(ctx context.Context) (manifest.Version, error) {
	base := strings.TrimSuffix(c.dataset.BaseURL, "/")
	url := base + "/" + strings.TrimPrefix(c.dataset.VersionPath, "/")
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	url += sep + "t=" + strconv.FormatInt(time.Now().UnixNano(), 10)

	var v manifest.Version
	_, err := c.fetcher.fetch(ctx, url, func(r io.Reader) (int64, error) {
		decoded, err := manifest.DecodeVersion(r)
		if err != nil {
			return 0, err
		}
		v = decoded
		return 0, nil
	})
	if err != nil {
		return manifest.Version{}, errors.New(errors.ErrCodeVersionFetch,
			"failed to fetch remote version descriptor", err)
	}
	return v, nil
}

// TagFor derives the store tag for a version: the checksum prefix when
// present, otherwise the sanitized timestamp.
func TagFor(v manifest.Version) string {
	if v.Checksum != "" {
		tag := v.Checksum
		if len(tag) > 12 {
			tag = tag[:12]
		}
		return tag
	}
	if v.Timestamp != 0 {
		return strconv.FormatInt(v.Timestamp, 10)
	}
	return "unversioned"
}

// Install fetches every dataset asset into the store for v. The version
// descriptor is written only after all assets landed, so a crash mid-fetch
// leaves an incomplete store that is never served and gets pruned later.
// A cross-process file lock serializes installs over the same cache root.
func (c *Controller) Install(ctx context.Context, v manifest.Version, progress ProgressFunc) (string, error) {
	c.setState(StateInstalling)
	defer c.setStateIfInstalling(StateIdle)

	if err := os.MkdirAll(c.store.Root(), 0755); err != nil {
		return "", errors.New(errors.ErrCodeStorePermission,
			fmt.Sprintf("failed to create cache root: %v", err), err)
	}

	lock := flock.New(filepath.Join(c.store.Root(), installLockName))
	locked, err := lock.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("failed to acquire install lock: %w", err)
	}
	if !locked {
		return "", fmt.Errorf("another install is in progress")
	}
	defer func() { _ = lock.Unlock() }()

	tag := TagFor(v)
	if c.store.Complete(tag) {
		c.logger.Info("store already installed", "tag", tag)
		return tag, nil
	}

	assets, err := PlanAssets(c.dataset)
	if err != nil {
		return "", errors.ConfigError("invalid dataset configuration", err)
	}

	c.logger.Info("installing store", "tag", tag, "assets", len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for i, asset := range assets {
		g.Go(func() error {
			n, err := c.fetcher.fetch(gctx, asset.URL, func(r io.Reader) (int64, error) {
				return c.store.WriteAsset(tag, asset.Local, r)
			})
			if err != nil {
				if asset.Required {
					return err
				}
				c.logger.Warn("optional asset unavailable, continuing without it",
					"asset", asset.Name, "url", asset.URL, "error", err)
				return nil
			}
			c.logger.Debug("cached asset", "asset", asset.Name, "bytes", n)
			if progress != nil {
				progress(asset.Name, n, i+1, len(assets))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		_ = c.store.RemoveStore(tag)
		return "", err
	}

	if err := c.verifyChecksum(tag, v); err != nil {
		_ = c.store.RemoveStore(tag)
		return "", err
	}

	if err := c.store.WriteVersion(tag, v); err != nil {
		_ = c.store.RemoveStore(tag)
		return "", err
	}

	c.logger.Info("store installed", "tag", tag)
	return tag, nil
}

// verifyChecksum compares the cached vector asset against the version
// descriptor's fingerprint. A mismatch means the remote deployed between
// the version fetch and the asset fetch; the install is thrown away and
// the error is retryable.
func (c *Controller) verifyChecksum(tag string, v manifest.Version) error {
	if v.Checksum == "" || c.dataset.VectorsPath == "" {
		return nil
	}

	local, err := localPathFor(c.dataset, c.dataset.VectorsPath)
	if err != nil {
		return err
	}
	if !c.store.HasAsset(tag, local) {
		// Vector asset was optional and missing; nothing to verify.
		return nil
	}

	sum, err := c.store.ChecksumAsset(tag, local)
	if err != nil {
		return err
	}
	if !strings.EqualFold(sum, v.Checksum) {
		return errors.AssetFetchError(fmt.Sprintf(
			"vector asset drifted during install: descriptor %s, fetched %s", v.Checksum, sum), nil)
	}
	return nil
}

// Activate atomically swaps the active store to tag and prunes the rest.
func (c *Controller) Activate(tag string) error {
	c.setState(StateActivating)

	if !c.store.Complete(tag) {
		c.setState(StateIdle)
		return errors.New(errors.ErrCodeSwapIncomplete,
			fmt.Sprintf("store %s has no version descriptor, refusing to activate", tag), nil)
	}

	if err := c.store.SetCurrent(tag); err != nil {
		c.setState(StateIdle)
		return err
	}
	if err := c.store.Prune(tag); err != nil {
		c.logger.Warn("failed to prune old stores", "error", err)
	}

	c.setState(StateServing)
	c.logger.Info("store activated", "tag", tag)
	return nil
}

// Ensure makes sure a complete store is active, installing one when the
// cache is empty. Offline starts succeed whenever a complete store exists.
func (c *Controller) Ensure(ctx context.Context, progress ProgressFunc) (string, error) {
	current, err := c.store.Current()
	if err != nil {
		return "", err
	}
	if current != "" && c.store.Complete(current) {
		c.setState(StateServing)
		return current, nil
	}

	v, err := c.FetchRemoteVersion(ctx)
	if err != nil {
		return "", err
	}
	tag, err := c.Install(ctx, v, progress)
	if err != nil {
		return "", err
	}
	if err := c.Activate(tag); err != nil {
		return "", err
	}
	return tag, nil
}

// CheckForUpdate compares the remote version against the active store and
// stages a newer dataset into a fresh store without touching the one being
// served. The swap happens in ApplyStaged, driven by a session reload.
func (c *Controller) CheckForUpdate(ctx context.Context, progress ProgressFunc) (bool, manifest.Version, error) {
	current, err := c.store.Current()
	if err != nil {
		return false, manifest.Version{}, err
	}
	if current == "" {
		return false, manifest.Version{}, errors.NotReady("no active store to compare against")
	}

	installed, err := c.store.ReadVersion(current)
	if err != nil {
		return false, manifest.Version{}, err
	}

	remote, err := c.FetchRemoteVersion(ctx)
	if err != nil {
		return false, manifest.Version{}, err
	}

	if remote.Equal(installed) {
		return false, remote, nil
	}

	tag, err := c.Install(ctx, remote, progress)
	if err != nil {
		return false, manifest.Version{}, err
	}
	// Install flips state to idle on its way out; we are still serving
	// the old store.
	c.setState(StateServing)

	c.mu.Lock()
	c.updatePending = true
	c.stagedTag = tag
	c.stagedVersion = remote
	c.mu.Unlock()

	c.logger.Info("update staged", "tag", tag, "timestamp", remote.Timestamp)
	return true, remote, nil
}

// ApplyStaged activates the staged store, if any, and returns its tag.
// Called on session reload; this is the only path that swaps versions.
func (c *Controller) ApplyStaged() (string, bool, error) {
	c.mu.Lock()
	if !c.updatePending {
		c.mu.Unlock()
		return "", false, nil
	}
	tag := c.stagedTag
	c.updatePending = false
	c.stagedTag = ""
	c.stagedVersion = manifest.Version{}
	c.mu.Unlock()

	if err := c.Activate(tag); err != nil {
		return "", false, err
	}
	return tag, true, nil
}

// Verify recomputes the active store's vector checksum against its own
// descriptor. A mismatch means on-disk corruption, which is fatal.
func (c *Controller) Verify(tag string) error {
	v, err := c.store.ReadVersion(tag)
	if err != nil {
		return err
	}
	if v.Checksum == "" || c.dataset.VectorsPath == "" {
		return nil
	}

	local, err := localPathFor(c.dataset, c.dataset.VectorsPath)
	if err != nil {
		return err
	}
	if !c.store.HasAsset(tag, local) {
		return nil
	}

	sum, err := c.store.ChecksumAsset(tag, local)
	if err != nil {
		return err
	}
	if !strings.EqualFold(sum, v.Checksum) {
		return errors.New(errors.ErrCodeStoreCorrupt, fmt.Sprintf(
			"store %s vector asset corrupt: descriptor %s, on disk %s", tag, v.Checksum, sum), nil).
			WithSuggestion("run sync --force to reinstall the dataset")
	}
	return nil
}

// Fetch returns a reader for a store asset, cache-first: a cached copy is
// served directly, a miss goes to the network and the bytes are written
// through to the store before the reader is returned. This is how an
// optional asset that was unreachable during install gets recovered once
// the origin serves it again.
func (c *Controller) Fetch(ctx context.Context, tag, ref string) (io.ReadCloser, error) {
	base, err := url.Parse(c.dataset.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", c.dataset.BaseURL, err)
	}
	remote, local, err := resolveAsset(base, ref)
	if err != nil {
		return nil, err
	}

	if c.store.HasAsset(tag, local) {
		return c.store.OpenAsset(tag, local)
	}

	if _, err := c.fetcher.fetch(ctx, remote, func(r io.Reader) (int64, error) {
		return c.store.WriteAsset(tag, local, r)
	}); err != nil {
		return nil, err
	}
	c.logger.Info("recovered uncached asset", "tag", tag, "asset", local)
	return c.store.OpenAsset(tag, local)
}

// OpenDataset loads and validates the cached manifest and vector asset
// from a store, producing a session-ready dataset. A vector asset missing
// from the cache is re-fetched through the cache-first path; when even
// that fails, or the late fetch does not match the store's descriptor,
// the dataset degrades to keyword-only.
func (c *Controller) OpenDataset(ctx context.Context, tag string) (*manifest.Dataset, error) {
	manifestLocal, err := localPathFor(c.dataset, c.dataset.ManifestPath)
	if err != nil {
		return nil, err
	}

	mf, err := c.store.OpenAsset(tag, manifestLocal)
	if err != nil {
		return nil, err
	}
	defer func() { _ = mf.Close() }()

	m, err := manifest.DecodeManifest(mf)
	if err != nil {
		return nil, err
	}

	vectors, err := c.openVectors(ctx, tag)
	if err != nil {
		return nil, err
	}

	return manifest.Accept(m, vectors)
}

// openVectors returns the store's vector asset, fetching it on a cache
// miss. Returns nil without error when the asset stays unavailable.
func (c *Controller) openVectors(ctx context.Context, tag string) (*manifest.VectorAsset, error) {
	if c.dataset.VectorsPath == "" {
		return nil, nil
	}

	vectorsLocal, err := localPathFor(c.dataset, c.dataset.VectorsPath)
	if err != nil {
		return nil, err
	}
	cached := c.store.HasAsset(tag, vectorsLocal)

	vf, err := c.Fetch(ctx, tag, c.dataset.VectorsPath)
	if err != nil {
		c.logger.Warn("vector asset unavailable, dense ranking disabled",
			"tag", tag, "error", err)
		return nil, nil
	}

	if !cached {
		// Late fetch: the origin may have deployed a newer version since
		// this store was installed. Keep only an asset that matches the
		// store's own descriptor.
		if err := c.Verify(tag); err != nil {
			_ = vf.Close()
			_ = c.store.RemoveAsset(tag, vectorsLocal)
			c.logger.Warn("late-fetched vector asset does not match installed version, dense ranking disabled",
				"tag", tag, "error", err)
			return nil, nil
		}
	}

	vectors, err := manifest.DecodeVectors(vf)
	_ = vf.Close()
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// setStateIfInstalling resets to s only when still installing, so a
// deferred reset does not clobber a later Activate.
func (c *Controller) setStateIfInstalling(s State) {
	c.mu.Lock()
	if c.state == StateInstalling {
		c.state = s
	}
	c.mu.Unlock()
}

// localPathFor maps a dataset config reference to its store-relative path.
func localPathFor(ds config.DatasetConfig, ref string) (string, error) {
	base, err := url.Parse(ds.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", ds.BaseURL, err)
	}
	_, local, err := resolveAsset(base, ref)
	if err != nil {
		return "", err
	}
	return local, nil
}
