package embed

import (
	"context"
	"fmt"
	"time"
)

// ProviderType identifies an embedding provider.
type ProviderType string

const (
	// ProviderOllama embeds through a local Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic embeds with the hash-based fallback.
	ProviderStatic ProviderType = "static"
)

// Options configures embedder construction.
type Options struct {
	Provider ProviderType

	// Host and Model apply to the ollama provider.
	Host  string
	Model string

	// Dimensions applies to the static provider, which must match the
	// dataset's vector asset to be usable for dense ranking.
	Dimensions int

	// CacheSize is the LRU query cache size; 0 means the default.
	CacheSize int

	Timeout    time.Duration
	MaxRetries int
}

// NewEmbedder creates an embedder for the given provider, wrapped in the
// LRU cache. It does not fall back between providers; callers that want
// degradation decide it themselves.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var inner Embedder

	switch opts.Provider {
	case ProviderOllama:
		cfg := DefaultOllamaConfig()
		if opts.Host != "" {
			cfg.Host = opts.Host
		}
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		if opts.MaxRetries > 0 {
			cfg.MaxRetries = opts.MaxRetries
		}
		e, err := NewOllamaEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		inner = e

	case ProviderStatic:
		e, err := NewStaticEmbedder(opts.Dimensions)
		if err != nil {
			return nil, err
		}
		inner = e

	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", opts.Provider)
	}

	return NewCachedEmbedder(inner, opts.CacheSize), nil
}

// ParseProvider maps a config string to a ProviderType.
func ParseProvider(s string) (ProviderType, error) {
	switch ProviderType(s) {
	case ProviderOllama:
		return ProviderOllama, nil
	case ProviderStatic:
		return ProviderStatic, nil
	default:
		return "", fmt.Errorf("unknown embedding provider: %q", s)
	}
}
