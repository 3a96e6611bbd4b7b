package model

import (
	"fmt"
	"time"
)

// Config is the complete nbgrade configuration
type Config struct {
	Chunking     ChunkingConfig     `yaml:"chunking" mapstructure:"chunking"`
	Collaborator CollaboratorConfig `yaml:"collaborator" mapstructure:"collaborator"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Source       SourceConfig       `yaml:"source" mapstructure:"source"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
}

// ChunkingConfig holds the notebook splitting tunables
type ChunkingConfig struct {
	MaxCellLines  int `yaml:"max_cell_lines" mapstructure:"max_cell_lines"`   // Code cells longer than this are split
	LinesPerChunk int `yaml:"lines_per_chunk" mapstructure:"lines_per_chunk"` // Window size
	ChunkOverlap  int `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`     // Lines shared by consecutive windows
}

// Validate checks the tunables are usable
func (c ChunkingConfig) Validate() error {
	if c.MaxCellLines <= 0 {
		return fmt.Errorf("chunking.max_cell_lines must be positive, got %d", c.MaxCellLines)
	}
	if c.LinesPerChunk <= 0 {
		return fmt.Errorf("chunking.lines_per_chunk must be positive, got %d", c.LinesPerChunk)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.LinesPerChunk {
		return fmt.Errorf("chunking.chunk_overlap must be in [0, %d), got %d", c.LinesPerChunk, c.ChunkOverlap)
	}
	return nil
}

// CollaboratorConfig configures the semantic-evaluation service client
type CollaboratorConfig struct {
	Backend           string        `yaml:"backend" mapstructure:"backend"` // http or openai
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	Model             string        `yaml:"model" mapstructure:"model"`                             // Chat model (openai backend)
	EmbeddingModel    string        `yaml:"embedding_model" mapstructure:"embedding_model"`         // Embedding model (openai backend)
	CallTimeout       time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`               // Bound on every single call
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"` // 0 disables rate limiting
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	HTTPProxy         string        `yaml:"http_proxy" mapstructure:"http_proxy"`
	HTTPSProxy        string        `yaml:"https_proxy" mapstructure:"https_proxy"`
	NoProxy           string        `yaml:"no_proxy" mapstructure:"no_proxy"`
}

// ConcurrencyConfig bounds parallel work
type ConcurrencyConfig struct {
	EvidenceWorkers int `yaml:"evidence_workers" mapstructure:"evidence_workers"` // Concurrent requirement tasks; <= 0 means one per requirement
	Workers         int `yaml:"workers" mapstructure:"workers"`                   // Concurrent evaluations in batch mode
	TopK            int `yaml:"top_k" mapstructure:"top_k"`                       // Chunks retrieved per requirement
}

// CacheConfig configures collaborator response caching
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskDir   string        `yaml:"disk_dir" mapstructure:"disk_dir"`
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr           string   `yaml:"addr" mapstructure:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUpload      string   `yaml:"max_upload" mapstructure:"max_upload"` // Human-readable size, e.g. "10MB"
}

// SourceConfig configures loading documents from URLs
type SourceConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent     string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// OutputConfig controls report rendering
type OutputConfig struct {
	Verbose       bool `yaml:"verbose" mapstructure:"verbose"`
	IncludeFooter bool `yaml:"include_footer" mapstructure:"include_footer"`
}

// DefaultMLServiceURL is where the ML service listens unless configured otherwise
const DefaultMLServiceURL = "http://localhost:5050"

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			MaxCellLines:  200,
			LinesPerChunk: 150,
			ChunkOverlap:  30,
		},
		Collaborator: CollaboratorConfig{
			Backend:        "http",
			BaseURL:        DefaultMLServiceURL,
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			CallTimeout:    5 * time.Minute,
			Burst:          5,
		},
		Concurrency: ConcurrencyConfig{
			EvidenceWorkers: 8,
			Workers:         4,
			TopK:            3,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: 30 * time.Minute,
			DiskDir:   ".nbgrade-cache",
			DiskTTL:   24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:           ":5051",
			AllowedOrigins: []string{"http://localhost:5173"},
			MaxUpload:      "10MB",
		},
		Source: SourceConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "nbgrade/0.1 (+https://github.com/ppiankov/nbgrade)",
			MaxBodyBytes:  10_000_000,
			RespectRobots: true,
		},
		Output: OutputConfig{
			IncludeFooter: true,
		},
	}
}

// Validate checks the whole configuration
func (c *Config) Validate() error {
	if err := c.Chunking.Validate(); err != nil {
		return err
	}
	switch c.Collaborator.Backend {
	case "http", "openai":
	default:
		return fmt.Errorf("collaborator.backend must be http or openai, got %q", c.Collaborator.Backend)
	}
	if c.Collaborator.CallTimeout < 0 {
		return fmt.Errorf("collaborator.call_timeout must not be negative")
	}
	return nil
}
