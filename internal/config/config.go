// Package config provides configuration loading for the essay search engine.
//
// Precedence, lowest to highest:
//  1. Built-in defaults
//  2. Config file (~/.essaysearch/config.yaml or an explicit path)
//  3. Environment variables (ESSAYSEARCH_*), optionally loaded from .env
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPageSize is the fixed result page size when no override is set.
const DefaultPageSize = 25

// Config represents the complete essaysearch configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Dataset    DatasetConfig    `yaml:"dataset" json:"dataset"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Ranking    RankingConfig    `yaml:"ranking" json:"ranking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// DatasetConfig describes where the versioned dataset lives.
// Paths are relative to BaseURL; the build step that produces them is an
// external collaborator, so only the well-known locations are configurable.
type DatasetConfig struct {
	// BaseURL is the app origin serving the dataset files.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// ManifestPath is the chunk manifest location relative to BaseURL.
	ManifestPath string `yaml:"manifest_path" json:"manifest_path"`

	// VersionPath is the version descriptor location relative to BaseURL.
	VersionPath string `yaml:"version_path" json:"version_path"`

	// VectorsPath is the dense vector asset location relative to BaseURL.
	// Empty disables the dense-retrieval variant.
	VectorsPath string `yaml:"vectors_path" json:"vectors_path"`

	// TagsPath is the precomputed tag index location (optional asset).
	TagsPath string `yaml:"tags_path" json:"tags_path"`

	// ExtraAssets are additional optional assets to pre-fetch at install.
	// Absolute URLs are treated as cross-origin and cached by full URL.
	ExtraAssets []string `yaml:"extra_assets" json:"extra_assets"`
}

// CacheConfig configures the local asset store.
type CacheConfig struct {
	// RootDir is the local cache root (default: ~/.essaysearch).
	RootDir string `yaml:"root_dir" json:"root_dir"`

	// StorePrefix is the named-store prefix; the active store is
	// <prefix><dataset-version-tag>.
	StorePrefix string `yaml:"store_prefix" json:"store_prefix"`

	// FetchTimeout bounds a single asset fetch.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
}

// RankingConfig exposes the ranking tuning parameters.
// The boost and floor values are empirical; tests validate behaviors
// (what is kept, what is dropped, relative order), not these numbers.
type RankingConfig struct {
	// PageSize is the fixed result page size.
	PageSize int `yaml:"page_size" json:"page_size"`

	// Keyword variant field boosts, descending priority.
	BookTitleBoost    float64 `yaml:"book_title_boost" json:"book_title_boost"`
	ChapterTitleBoost float64 `yaml:"chapter_title_boost" json:"chapter_title_boost"`
	TagBoost          float64 `yaml:"tag_boost" json:"tag_boost"`
	ContentBoost      float64 `yaml:"content_boost" json:"content_boost"`

	// Fuzziness is the edit distance tolerated for keyword terms at or
	// above MinFuzzyLength runes. Shorter terms match exactly.
	Fuzziness      int `yaml:"fuzziness" json:"fuzziness"`
	MinFuzzyLength int `yaml:"min_fuzzy_length" json:"min_fuzzy_length"`

	// MinScoreRatio excludes keyword hits scoring below this fraction of
	// the best hit. Applied only when the query is non-empty.
	MinScoreRatio float64 `yaml:"min_score_ratio" json:"min_score_ratio"`

	// Dense variant additive boosts, strictly ordered by signal strength.
	BoostExactBook      float64 `yaml:"boost_exact_book" json:"boost_exact_book"`
	BoostPartialBook    float64 `yaml:"boost_partial_book" json:"boost_partial_book"`
	BoostExactChapter   float64 `yaml:"boost_exact_chapter" json:"boost_exact_chapter"`
	BoostPartialChapter float64 `yaml:"boost_partial_chapter" json:"boost_partial_chapter"`
	BoostExactTag       float64 `yaml:"boost_exact_tag" json:"boost_exact_tag"`
	BoostPartialTag     float64 `yaml:"boost_partial_tag" json:"boost_partial_tag"`

	// Tiered acceptance floors on base similarity. A title-level match
	// survives far lower similarity than a tag-only match, which survives
	// lower similarity than a chunk with no metadata signal at all.
	FloorTitleMatch float64 `yaml:"floor_title_match" json:"floor_title_match"`
	FloorTagMatch   float64 `yaml:"floor_tag_match" json:"floor_tag_match"`
	FloorNoSignal   float64 `yaml:"floor_no_signal" json:"floor_no_signal"`
}

// EmbeddingsConfig configures the query embedder for the dense variant.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama" or "static".
	Provider string `yaml:"provider" json:"provider"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// Model is the embedding model name. Must match the model the vector
	// asset was built with for similarities to be meaningful.
	Model string `yaml:"model" json:"model"`

	// Dimensions is the expected embedding dimension (0 = detect).
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// CacheSize is the query-embedding LRU capacity.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// MaxRetries is the retry budget for embedding requests.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Timeout bounds a single embedding request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ServerConfig configures the local HTTP session surface.
type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// TelemetryConfig configures local query metrics. All data stays on disk.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	DBPath  string `yaml:"db_path" json:"db_path"`
}

// Default returns the default configuration.
func Default() *Config {
	root := defaultRootDir()
	return &Config{
		Version: 1,
		Dataset: DatasetConfig{
			ManifestPath: "data/metadata.json",
			VersionPath:  "data/version.json",
			VectorsPath:  "data/embeddings.json",
			TagsPath:     "data/tags.json",
		},
		Cache: CacheConfig{
			RootDir:      root,
			StorePrefix:  "essay-data-",
			FetchTimeout: 60 * time.Second,
		},
		Ranking: RankingConfig{
			PageSize:          DefaultPageSize,
			BookTitleBoost:    4.0,
			ChapterTitleBoost: 3.0,
			TagBoost:          2.0,
			ContentBoost:      1.0,
			Fuzziness:         1,
			MinFuzzyLength:    4,
			MinScoreRatio:     0.05,

			BoostExactBook:      0.30,
			BoostPartialBook:    0.25,
			BoostExactChapter:   0.20,
			BoostPartialChapter: 0.15,
			BoostExactTag:       0.10,
			BoostPartialTag:     0.05,

			FloorTitleMatch: 0.15,
			FloorTagMatch:   0.25,
			FloorNoSignal:   0.55,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			OllamaHost: "http://localhost:11434",
			Model:      "qwen3-embedding:0.6b",
			CacheSize:  1000,
			MaxRetries: 3,
			Timeout:    60 * time.Second,
		},
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8780,
			LogLevel: "info",
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			DBPath:  filepath.Join(root, "telemetry.db"),
		},
	}
}

// defaultRootDir returns the default cache root (~/.essaysearch).
func defaultRootDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".essaysearch")
	}
	return filepath.Join(home, ".essaysearch")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(defaultRootDir(), "config.yaml")
}

// Load reads configuration from the given path, layered over defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithDotenv loads an optional .env file from the working directory
// before reading configuration. Missing .env is ignored.
func LoadWithDotenv(path string) (*Config, error) {
	_ = godotenv.Load()
	return Load(path)
}

// Save writes the configuration to the given path as YAML.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides applies ESSAYSEARCH_* environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ESSAYSEARCH_BASE_URL"); v != "" {
		cfg.Dataset.BaseURL = v
	}
	if v := os.Getenv("ESSAYSEARCH_CACHE_DIR"); v != "" {
		cfg.Cache.RootDir = v
	}
	if v := os.Getenv("ESSAYSEARCH_OLLAMA_HOST"); v != "" {
		cfg.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("ESSAYSEARCH_EMBED_PROVIDER"); v != "" {
		cfg.Embeddings.Provider = v
	}
	if v := os.Getenv("ESSAYSEARCH_LOG_LEVEL"); v != "" {
		cfg.Server.LogLevel = v
	}
	if v := os.Getenv("ESSAYSEARCH_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Ranking.PageSize = n
		}
	}
	if v := os.Getenv("ESSAYSEARCH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Server.Port = n
		}
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Ranking.PageSize <= 0 {
		return fmt.Errorf("ranking.page_size must be positive, got %d", c.Ranking.PageSize)
	}
	if c.Ranking.MinScoreRatio < 0 || c.Ranking.MinScoreRatio > 1 {
		return fmt.Errorf("ranking.min_score_ratio must be in [0,1], got %f", c.Ranking.MinScoreRatio)
	}
	if c.Ranking.Fuzziness < 0 || c.Ranking.Fuzziness > 2 {
		return fmt.Errorf("ranking.fuzziness must be 0-2, got %d", c.Ranking.Fuzziness)
	}
	// The floors must preserve the tier ordering or the acceptance logic
	// inverts: metadata evidence must never demand MORE similarity.
	if !(c.Ranking.FloorTitleMatch <= c.Ranking.FloorTagMatch &&
		c.Ranking.FloorTagMatch <= c.Ranking.FloorNoSignal) {
		return fmt.Errorf("ranking floors must be ordered title <= tag <= no-signal (got %.2f, %.2f, %.2f)",
			c.Ranking.FloorTitleMatch, c.Ranking.FloorTagMatch, c.Ranking.FloorNoSignal)
	}
	switch c.Embeddings.Provider {
	case "", "ollama", "static":
	default:
		return fmt.Errorf("embeddings.provider must be ollama or static, got %q", c.Embeddings.Provider)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// DenseEnabled reports whether the dense-retrieval variant is configured.
func (c *Config) DenseEnabled() bool {
	return c.Dataset.VectorsPath != ""
}
