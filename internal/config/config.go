// Package config loads and validates Embeddenator's configuration:
// VSA parameters, chunking, hierarchical bundler, retrieval, path
// filters, and worker/daemon settings. Layered the way the teacher
// layers config: hardcoded defaults, then a project file
// (.embeddenator.yaml), then environment variable overrides, highest
// precedence last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/embeddenator/embeddenator/internal/errorsx"
)

// VSAConfig carries the core algebra parameters (spec.md §3): the
// ambient vector dimension, target nonzero density, and the bundle-
// hybrid selector's integrity budget.
type VSAConfig struct {
	Dimension       int `yaml:"dimension" json:"dimension"`
	TargetNonzero   int `yaml:"target_nonzero" json:"target_nonzero"`
	IntegrityBudget int `yaml:"integrity_budget" json:"integrity_budget"`
}

// ChunkingConfig configures the fixed-size byte chunker.
type ChunkingConfig struct {
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
}

// HierarchyConfig configures the router/shard bundler. MaxChunksPerNode
// of 0 means "unbounded" — a single node never splits (spec.md §6's
// stated config default).
type HierarchyConfig struct {
	MaxChunksPerNode int `yaml:"max_chunks_per_node" json:"max_chunks_per_node"`
}

// RetrievalConfig configures the inverted index's bucket-shift sweep
// (SPEC_FULL.md §9, Decided Open Question 1).
type RetrievalConfig struct {
	ShiftWidth        int     `yaml:"shift_width" json:"shift_width"`
	CandidatePoolSize int     `yaml:"candidate_pool_size" json:"candidate_pool_size"`
	UnfoldThreshold   float64 `yaml:"unfold_threshold" json:"unfold_threshold"`
	DefaultTopK       int     `yaml:"default_top_k" json:"default_top_k"`
	IndexCachePath    string  `yaml:"index_cache_path" json:"index_cache_path"`
}

// PathsConfig configures which paths ingestion includes and excludes.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// PerformanceConfig configures the worker pool used for bulk, fan-out
// passes (ingestion, hierarchical bundling, compaction).
type PerformanceConfig struct {
	IndexWorkers int `yaml:"index_workers" json:"index_workers"`
	CacheSize    int `yaml:"cache_size" json:"cache_size"`
}

// DaemonConfig configures the `serve` subcommand's Unix-socket server.
type DaemonConfig struct {
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	LogLevel   string `yaml:"log_level" json:"log_level"`
}

// Config is the complete Embeddenator configuration.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	VSA         VSAConfig         `yaml:"vsa" json:"vsa"`
	Chunking    ChunkingConfig    `yaml:"chunking" json:"chunking"`
	Hierarchy   HierarchyConfig   `yaml:"hierarchy" json:"hierarchy"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" json:"retrieval"`
	Paths       PathsConfig       `yaml:"paths" json:"paths"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Daemon      DaemonConfig      `yaml:"daemon" json:"daemon"`
}

// defaultExcludePatterns are always excluded from ingestion scans.
var defaultExcludePatterns = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/*.engram",
	"**/*-manifest.json",
}

// New returns a Config populated with Embeddenator's defaults.
func New() *Config {
	return &Config{
		Version: 1,
		VSA: VSAConfig{
			Dimension:       10000,
			TargetNonzero:   100,
			IntegrityBudget: 4,
		},
		Chunking: ChunkingConfig{
			ChunkSize: 4096,
		},
		Hierarchy: HierarchyConfig{
			MaxChunksPerNode: 0, // unbounded (spec.md §6's stated default)
		},
		Retrieval: RetrievalConfig{
			ShiftWidth:        2,
			CandidatePoolSize: 64,
			UnfoldThreshold:   0.5,
			DefaultTopK:       10,
			IndexCachePath:    "",
		},
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Performance: PerformanceConfig{
			IndexWorkers: runtime.NumCPU(),
			CacheSize:    4096,
		},
		Daemon: DaemonConfig{
			SocketPath: defaultSocketPath(),
			LogLevel:   "info",
		},
	}
}

func defaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".embeddenator", "daemon.sock")
	}
	return filepath.Join(home, ".embeddenator", "daemon.sock")
}

// Load applies, in increasing precedence: hardcoded defaults, a
// project config file (.embeddenator.yaml or .yml in dir), then
// EMBEDDENATOR_* environment variable overrides, then validates.
func Load(dir string) (*Config, error) {
	cfg := New()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".embeddenator.yaml", ".embeddenator.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return c.loadYAML(path)
	}
	return nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errorsx.IoError(fmt.Sprintf("failed to read config file %s", path), err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return errorsx.IoError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith overlays other's non-zero-value fields onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.VSA.Dimension != 0 {
		c.VSA.Dimension = other.VSA.Dimension
	}
	if other.VSA.TargetNonzero != 0 {
		c.VSA.TargetNonzero = other.VSA.TargetNonzero
	}
	if other.VSA.IntegrityBudget != 0 {
		c.VSA.IntegrityBudget = other.VSA.IntegrityBudget
	}
	if other.Chunking.ChunkSize != 0 {
		c.Chunking.ChunkSize = other.Chunking.ChunkSize
	}
	if other.Hierarchy.MaxChunksPerNode != 0 {
		c.Hierarchy.MaxChunksPerNode = other.Hierarchy.MaxChunksPerNode
	}
	if other.Retrieval.ShiftWidth != 0 {
		c.Retrieval.ShiftWidth = other.Retrieval.ShiftWidth
	}
	if other.Retrieval.CandidatePoolSize != 0 {
		c.Retrieval.CandidatePoolSize = other.Retrieval.CandidatePoolSize
	}
	if other.Retrieval.UnfoldThreshold != 0 {
		c.Retrieval.UnfoldThreshold = other.Retrieval.UnfoldThreshold
	}
	if other.Retrieval.DefaultTopK != 0 {
		c.Retrieval.DefaultTopK = other.Retrieval.DefaultTopK
	}
	if other.Retrieval.IndexCachePath != "" {
		c.Retrieval.IndexCachePath = other.Retrieval.IndexCachePath
	}
	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}
	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.CacheSize != 0 {
		c.Performance.CacheSize = other.Performance.CacheSize
	}
	if other.Daemon.SocketPath != "" {
		c.Daemon.SocketPath = other.Daemon.SocketPath
	}
	if other.Daemon.LogLevel != "" {
		c.Daemon.LogLevel = other.Daemon.LogLevel
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("EMBEDDENATOR_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.VSA.Dimension = n
		}
	}
	if v := os.Getenv("EMBEDDENATOR_TARGET_NONZERO"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.VSA.TargetNonzero = n
		}
	}
	if v := os.Getenv("EMBEDDENATOR_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Chunking.ChunkSize = n
		}
	}
	if v := os.Getenv("EMBEDDENATOR_MAX_CHUNKS_PER_NODE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Hierarchy.MaxChunksPerNode = n
		}
	}
	if v := os.Getenv("EMBEDDENATOR_SHIFT_WIDTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.ShiftWidth = n
		}
	}
	if v := os.Getenv("EMBEDDENATOR_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Performance.IndexWorkers = n
		}
	}
	if v := os.Getenv("EMBEDDENATOR_DAEMON_SOCKET"); v != "" {
		c.Daemon.SocketPath = v
	}
	if v := os.Getenv("EMBEDDENATOR_LOG_LEVEL"); v != "" {
		c.Daemon.LogLevel = v
	}
}

// Validate checks the invariants the rest of the module assumes hold.
func (c *Config) Validate() error {
	if c.VSA.Dimension <= 0 {
		return errorsx.New(errorsx.KindInternal, "vsa.dimension must be positive", nil)
	}
	if c.VSA.TargetNonzero <= 0 || c.VSA.TargetNonzero > c.VSA.Dimension {
		return errorsx.New(errorsx.KindInternal, "vsa.target_nonzero must be positive and at most dimension", nil)
	}
	if c.Chunking.ChunkSize <= 0 {
		return errorsx.New(errorsx.KindInternal, "chunking.chunk_size must be positive", nil)
	}
	if c.Hierarchy.MaxChunksPerNode < 0 {
		return errorsx.New(errorsx.KindInternal, "hierarchy.max_chunks_per_node must be non-negative", nil)
	}
	if c.Retrieval.ShiftWidth < 0 {
		return errorsx.New(errorsx.KindInternal, "retrieval.shift_width must be non-negative", nil)
	}
	if c.Retrieval.UnfoldThreshold < -1 || c.Retrieval.UnfoldThreshold > 1 {
		return errorsx.New(errorsx.KindInternal, "retrieval.unfold_threshold must be within [-1, 1]", nil)
	}
	if c.Performance.IndexWorkers <= 0 {
		return errorsx.New(errorsx.KindInternal, "performance.index_workers must be positive", nil)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Daemon.LogLevel)] {
		return errorsx.New(errorsx.KindInternal, "daemon.log_level must be debug, info, warn, or error", nil)
	}
	return nil
}

// EffectiveMaxChunksPerNode resolves the "unbounded" (0) config value
// to the sentinel internal/hierarchy.Build actually needs to skip
// splitting — a very large bound rather than a literal no-op, since
// Build's splitting logic divides by it.
func (c *Config) EffectiveMaxChunksPerNode() int {
	if c.Hierarchy.MaxChunksPerNode <= 0 {
		return 1 << 30
	}
	return c.Hierarchy.MaxChunksPerNode
}

// WriteYAML serializes c to path, matching the teacher's config
// round-trip helper for `embeddenator doctor --write-config`-style flows.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errorsx.IoError("failed to marshal config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errorsx.IoError("failed to write config file", err)
	}
	return nil
}
