// Package config loads CiteLoom configuration from a TOML file, a discovered
// .env file, and the process environment. Precedence, lowest to highest:
//
//  1. Hardcoded defaults
//  2. TOML config file
//  3. .env file (never overrides already-set variables)
//  4. Process environment
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvDiscoveryDepth is how many ancestor directories are searched for a .env file.
const EnvDiscoveryDepth = 3

// Config represents the complete CiteLoom configuration.
type Config struct {
	Chunking  ChunkingConfig           `toml:"chunking"`
	Qdrant    QdrantConfig             `toml:"qdrant"`
	Paths     PathsConfig              `toml:"paths"`
	Zotero    ZoteroConfig             `toml:"zotero"`
	Retrieval RetrievalConfig          `toml:"retrieval"`
	Ingestion IngestionConfig          `toml:"ingestion"`
	Projects  map[string]ProjectConfig `toml:"project"`
}

// ChunkingConfig is the chunking policy. Version participates in the content
// fingerprint, so bumping it invalidates every cached document.
type ChunkingConfig struct {
	MaxTokens           int    `toml:"max_tokens"`
	OverlapTokens       int    `toml:"overlap_tokens"`
	HeadingContextDepth int    `toml:"heading_context_depth"`
	TokenizerFamily     string `toml:"tokenizer_family"`
	Version             string `toml:"version"`
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// RawDocs is the root for source documents when ingesting from a directory.
	RawDocs string `toml:"raw_docs"`
	// VarDir holds checkpoints, downloads, audit logs, and collection metadata.
	VarDir string `toml:"var_dir"`
	// AuditDir overrides <var_dir>/audit when set.
	AuditDir string `toml:"audit_dir"`
}

// ZoteroConfig configures the Zotero source. All fields can be overridden by
// ZOTERO_* environment variables.
type ZoteroConfig struct {
	LibraryID   string `toml:"library_id"`
	LibraryType string `toml:"library_type"` // "user" or "group"
	APIKey      string `toml:"api_key"`
	Local       bool   `toml:"local"`
	// Strategy selects the source router strategy:
	// local-first, web-first, auto, local-only, web-only.
	Strategy string `toml:"strategy"`
	// DataDir overrides Zotero profile discovery when set.
	DataDir string `toml:"data_dir"`
}

// RetrievalConfig is the retrieval policy.
type RetrievalConfig struct {
	TopK             int     `toml:"top_k"`
	MaxCharsPerChunk int     `toml:"max_chars_per_chunk"`
	MinScore         float64 `toml:"min_score"`
}

// IngestionConfig tunes the ingestion pipeline.
type IngestionConfig struct {
	Workers         int  `toml:"workers"`
	PreferCached    bool `toml:"prefer_cached"`
	MinCachedLength int  `toml:"min_cached_length"`
	// DocTimeoutSec and PageTimeoutSec bound document conversion.
	DocTimeoutSec  int `toml:"doc_timeout_sec"`
	PageTimeoutSec int `toml:"page_timeout_sec"`
}

// ProjectConfig declares one project table, e.g. [project."citeloom/clean-arch"].
type ProjectConfig struct {
	Collection     string `toml:"collection"`
	EmbeddingModel string `toml:"embedding_model"`
	SparseModel    string `toml:"sparse_model"`
	HybridEnabled  bool   `toml:"hybrid_enabled"`
}

// NewConfig creates a Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			MaxTokens:           512,
			OverlapTokens:       64,
			HeadingContextDepth: 2,
			TokenizerFamily:     "whitespace",
			Version:             "v1",
		},
		Qdrant: QdrantConfig{
			URL: "http://localhost:6334",
		},
		Paths: PathsConfig{
			RawDocs: "raw_docs",
			VarDir:  "var",
		},
		Zotero: ZoteroConfig{
			LibraryType: "user",
			Strategy:    "auto",
		},
		Retrieval: RetrievalConfig{
			TopK:             6,
			MaxCharsPerChunk: 1200,
			MinScore:         0.0,
		},
		Ingestion: IngestionConfig{
			Workers:         4,
			PreferCached:    true,
			MinCachedLength: 100,
			DocTimeoutSec:   120,
			PageTimeoutSec:  10,
		},
		Projects: map[string]ProjectConfig{},
	}
}

// Load loads configuration from the given TOML path. An empty path falls back
// to $CITELOOM_CONFIG, then ./citeloom.toml. A missing file is fine; defaults
// plus environment apply.
func Load(path string) (*Config, error) {
	loadDotEnv()

	if path == "" {
		path = os.Getenv("CITELOOM_CONFIG")
	}
	if path == "" {
		path = "citeloom.toml"
	}

	cfg := NewConfig()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if os.Getenv("CITELOOM_CONFIG") != "" {
		// An explicitly named config file must exist.
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadDotEnv discovers a .env file in the working directory or up to
// EnvDiscoveryDepth ancestors. godotenv never overrides variables already set
// in the process environment, so the system environment always wins.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i <= EnvDiscoveryDepth; i++ {
		candidate := filepath.Join(dir, ".env")
		if _, err := os.Stat(candidate); err == nil {
			_ = godotenv.Load(candidate)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// applyEnvOverrides applies recognized environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ZOTERO_LIBRARY_ID"); v != "" {
		c.Zotero.LibraryID = v
	}
	if v := os.Getenv("ZOTERO_LIBRARY_TYPE"); v != "" {
		c.Zotero.LibraryType = v
	}
	if v := os.Getenv("ZOTERO_API_KEY"); v != "" {
		c.Zotero.APIKey = v
	}
	if v := os.Getenv("ZOTERO_LOCAL"); v != "" {
		c.Zotero.Local = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("QDRANT_URL"); v != "" {
		c.Qdrant.URL = v
	}
	if v := os.Getenv("QDRANT_API_KEY"); v != "" {
		c.Qdrant.APIKey = v
	}
	// OPENAI_API_KEY is read directly by the embedder when configured.
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be positive, got %d", c.Chunking.MaxTokens)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.overlap_tokens must be in [0, max_tokens), got %d", c.Chunking.OverlapTokens)
	}
	if c.Chunking.Version == "" {
		return fmt.Errorf("chunking.version must not be empty")
	}

	switch c.Zotero.LibraryType {
	case "", "user", "group":
	default:
		return fmt.Errorf("zotero.library_type must be 'user' or 'group', got %q", c.Zotero.LibraryType)
	}

	switch c.Zotero.Strategy {
	case "", "local-first", "web-first", "auto", "local-only", "web-only":
	default:
		return fmt.Errorf("zotero.strategy must be one of local-first, web-first, auto, local-only, web-only; got %q", c.Zotero.Strategy)
	}

	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		return fmt.Errorf("retrieval.min_score must be in [0,1], got %f", c.Retrieval.MinScore)
	}

	if c.Ingestion.Workers <= 0 {
		return fmt.Errorf("ingestion.workers must be positive, got %d", c.Ingestion.Workers)
	}

	for id, p := range c.Projects {
		if p.EmbeddingModel == "" {
			return fmt.Errorf("project %q: embedding_model is required", id)
		}
		if p.HybridEnabled && p.SparseModel == "" {
			return fmt.Errorf("project %q: hybrid_enabled requires sparse_model", id)
		}
	}

	return nil
}

// Project returns the project table for the given id, or an error naming the
// missing table.
func (c *Config) Project(id string) (ProjectConfig, error) {
	p, ok := c.Projects[id]
	if !ok {
		return ProjectConfig{}, fmt.Errorf("project %q not declared in config", id)
	}
	return p, nil
}

// AuditDir returns the effective audit directory.
func (c *Config) AuditDir() string {
	if c.Paths.AuditDir != "" {
		return c.Paths.AuditDir
	}
	return filepath.Join(c.Paths.VarDir, "audit")
}

// CheckpointDir returns the checkpoint directory.
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.Paths.VarDir, "checkpoints")
}

// DownloadDir returns the Zotero download directory.
func (c *Config) DownloadDir() string {
	return filepath.Join(c.Paths.VarDir, "zotero_downloads")
}

// CollectionMetaPath returns the path of the collection-binding metadata file.
func (c *Config) CollectionMetaPath() string {
	return filepath.Join(c.Paths.VarDir, "collections.json")
}
