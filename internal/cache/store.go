package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/james-andrews-coulter/essay-search-engine/internal/errors"
	"github.com/james-andrews-coulter/essay-search-engine/internal/manifest"
)

// currentFileName records the active store tag at the cache root. It is
// replaced by rename, so readers see either the old tag or the new one,
// never a torn write.
const currentFileName = "CURRENT"

// AssetStore manages versioned store directories under the cache root.
type AssetStore struct {
	root   string
	prefix string
	logger *slog.Logger
}

// NewAssetStore creates an asset store rooted at root. Directories are
// created lazily on first write.
func NewAssetStore(root, prefix string, logger *slog.Logger) *AssetStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetStore{root: root, prefix: prefix, logger: logger}
}

// Root returns the cache root directory.
func (s *AssetStore) Root() string {
	return s.root
}

// StoreDir returns the directory for a store tag.
func (s *AssetStore) StoreDir(tag string) string {
	return filepath.Join(s.root, "stores", s.prefix+tag)
}

// WriteAsset streams r into the store under the asset's local path,
// atomically: the bytes land in a temp file first and are renamed into
// place only after a successful sync.
func (s *AssetStore) WriteAsset(tag, local string, r io.Reader) (int64, error) {
	dest := filepath.Join(s.StoreDir(tag), filepath.FromSlash(local))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, errors.New(errors.ErrCodeStorePermission,
			fmt.Sprintf("failed to create store directory: %v", err), err)
	}

	tmpPath := dest + ".tmp"
	defer func() { _ = os.Remove(tmpPath) }()

	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, errors.New(errors.ErrCodeStorePermission,
			fmt.Sprintf("failed to create temp file: %v", err), err)
	}

	n, err := io.Copy(file, r)
	if err != nil {
		_ = file.Close()
		return 0, fmt.Errorf("failed to write asset %s: %w", local, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return 0, fmt.Errorf("failed to sync asset %s: %w", local, err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("failed to close asset %s: %w", local, err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, fmt.Errorf("failed to rename asset %s: %w", local, err)
	}
	return n, nil
}

// OpenAsset opens a cached asset for reading.
func (s *AssetStore) OpenAsset(tag, local string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.StoreDir(tag), filepath.FromSlash(local)))
	if os.IsNotExist(err) {
		return nil, errors.New(errors.ErrCodeAssetNotCached,
			fmt.Sprintf("asset %s not cached in store %s", local, tag), err)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// RemoveAsset deletes one asset from the store. Removing an asset that
// does not exist is not an error.
func (s *AssetStore) RemoveAsset(tag, local string) error {
	err := os.Remove(filepath.Join(s.StoreDir(tag), filepath.FromSlash(local)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// HasAsset reports whether the asset exists in the store.
func (s *AssetStore) HasAsset(tag, local string) bool {
	info, err := os.Stat(filepath.Join(s.StoreDir(tag), filepath.FromSlash(local)))
	return err == nil && info.Mode().IsRegular()
}

// WriteVersion writes the store's version descriptor. This is the install
// completion marker; callers must only invoke it after every asset landed.
func (s *AssetStore) WriteVersion(tag string, v manifest.Version) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal version: %w", err)
	}
	_, err = s.WriteAsset(tag, VersionFileName, strings.NewReader(string(data)))
	return err
}

// ReadVersion reads a store's version descriptor. A missing descriptor
// means the install never completed.
func (s *AssetStore) ReadVersion(tag string) (manifest.Version, error) {
	f, err := s.OpenAsset(tag, VersionFileName)
	if err != nil {
		return manifest.Version{}, err
	}
	defer func() { _ = f.Close() }()
	return manifest.DecodeVersion(f)
}

// Complete reports whether the store finished installing.
func (s *AssetStore) Complete(tag string) bool {
	return s.HasAsset(tag, VersionFileName)
}

// ListStores returns all store tags on disk, complete or not, sorted.
func (s *AssetStore) ListStores() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "stores"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tags []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), s.prefix) {
			tags = append(tags, strings.TrimPrefix(e.Name(), s.prefix))
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// RemoveStore deletes a store directory and everything in it.
func (s *AssetStore) RemoveStore(tag string) error {
	return os.RemoveAll(s.StoreDir(tag))
}

// SetCurrent atomically points the cache at a store tag.
func (s *AssetStore) SetCurrent(tag string) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return errors.New(errors.ErrCodeStorePermission,
			fmt.Sprintf("failed to create cache root: %v", err), err)
	}

	dest := filepath.Join(s.root, currentFileName)
	tmpPath := dest + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(tag+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write current marker: %w", err)
	}
	return os.Rename(tmpPath, dest)
}

// Current returns the active store tag, or "" when none is active.
func (s *AssetStore) Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.root, currentFileName))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Prune removes every store except keep. Incomplete leftovers from aborted
// installs go too.
func (s *AssetStore) Prune(keep string) error {
	tags, err := s.ListStores()
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if tag == keep {
			continue
		}
		s.logger.Info("pruning store", "tag", tag)
		if err := s.RemoveStore(tag); err != nil {
			return err
		}
	}
	return nil
}

// ChecksumAsset computes the MD5 hex digest of a cached asset. The dataset
// build pipeline fingerprints the vector asset with MD5; this mirrors it
// for drift and corruption checks.
func (s *AssetStore) ChecksumAsset(tag, local string) (string, error) {
	f, err := s.OpenAsset(tag, local)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AssetSize returns a cached asset's size in bytes.
func (s *AssetStore) AssetSize(tag, local string) (int64, error) {
	info, err := os.Stat(filepath.Join(s.StoreDir(tag), filepath.FromSlash(local)))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
