// Package cache implements the offline asset store and the sync
// controller. Dataset assets are fetched into versioned store directories
// (stores/essay-data-<tag>/), each a complete self-contained snapshot; a
// store only becomes eligible for serving once its version descriptor is
// written, which happens strictly after every asset landed. Activation is
// an atomic pointer swap, and an update discovered while serving is staged
// into a fresh store and applied only on session reload.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/james-andrews-coulter/essay-search-engine/internal/config"
)

// Asset is one dataset file to fetch and cache.
type Asset struct {
	// Name is a short label for logs and progress reporting.
	Name string

	// URL is the absolute fetch location.
	URL string

	// Local is the store-relative path the asset is cached under.
	Local string

	// Required marks assets whose absence fails the install. Optional
	// assets (the vector asset, extras) log and continue.
	Required bool
}

// VersionFileName is the completion marker inside a store directory. It is
// written last; a store without it is an aborted install.
const VersionFileName = "version.json"

// externalDir is where cross-origin assets live inside a store.
const externalDir = "ext"

// PlanAssets expands the dataset config into the fetch list for one
// install. The version descriptor is deliberately absent: the controller
// writes it from the descriptor it resolved before fetching, never from a
// second fetch that could race a remote deploy.
func PlanAssets(ds config.DatasetConfig) ([]Asset, error) {
	base, err := url.Parse(ds.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", ds.BaseURL, err)
	}

	var assets []Asset
	add := func(name, ref string, required bool) error {
		u, local, err := resolveAsset(base, ref)
		if err != nil {
			return err
		}
		assets = append(assets, Asset{Name: name, URL: u, Local: local, Required: required})
		return nil
	}

	if err := add("manifest", ds.ManifestPath, true); err != nil {
		return nil, err
	}
	if ds.VectorsPath != "" {
		if err := add("vectors", ds.VectorsPath, false); err != nil {
			return nil, err
		}
	}
	if ds.TagsPath != "" {
		if err := add("tags", ds.TagsPath, false); err != nil {
			return nil, err
		}
	}
	for i, extra := range ds.ExtraAssets {
		if err := add(fmt.Sprintf("extra-%d", i), extra, false); err != nil {
			return nil, err
		}
	}

	return assets, nil
}

// resolveAsset turns a config reference into an absolute URL and a
// store-relative local path. Same-origin assets keep their URL path so the
// store mirrors the app layout; cross-origin assets are keyed by the
// SHA-256 of the full URL, which keeps distinct query strings distinct.
func resolveAsset(base *url.URL, ref string) (string, string, error) {
	u, err := base.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("invalid asset reference %q: %w", ref, err)
	}

	if u.Host == base.Host && u.Scheme == base.Scheme {
		local := strings.TrimPrefix(path.Clean(u.Path), "/")
		if local == "" || local == "." {
			return "", "", fmt.Errorf("asset reference %q has no path", ref)
		}
		return u.String(), local, nil
	}

	sum := sha256.Sum256([]byte(u.String()))
	return u.String(), path.Join(externalDir, hex.EncodeToString(sum[:])), nil
}
