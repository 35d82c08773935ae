// Package config handles onegraph configuration from environment variables
// and an optional YAML file.
//
// Settings start from built-in defaults, are overlaid by the YAML file when
// one is given, and are finally overridden by ONEGRAPH_* environment
// variables.
//
// Example Usage:
//
//	cfg, err := config.LoadFile("onegraph.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// Environment Variables:
//   - ONEGRAPH_DATA_DIR="./data"
//   - ONEGRAPH_IN_MEMORY=false
//   - ONEGRAPH_SYNC_WRITES=false
//   - ONEGRAPH_LOW_MEMORY=false
//   - ONEGRAPH_LOG_LEVEL="info"
//   - ONEGRAPH_LOG_FORMAT="text" or "json"
//   - ONEGRAPH_CACHE_ENABLED=true
//   - ONEGRAPH_CACHE_SIZE=1000
//   - ONEGRAPH_CACHE_TTL=5m
//   - ONEGRAPH_DEFAULT_LABELS="Person,Software"
//   - ONEGRAPH_MAX_MATCHES=10000
//   - ONEGRAPH_TRACE_ENABLED=false
//   - ONEGRAPH_MEMORY_LIMIT="2GB"
//   - ONEGRAPH_GC_PERCENT=100
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file written by `onegraph init`.
const DefaultFileName = "onegraph.yaml"

// Config holds all onegraph settings.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
	Engine  EngineConfig  `yaml:"engine"`
	Tracing TracingConfig `yaml:"tracing"`
	Memory  MemoryConfig  `yaml:"memory"`
}

// StorageConfig selects and tunes the repository backend.
type StorageConfig struct {
	// DataDir is the badger directory.
	DataDir string `yaml:"data_dir"`
	// InMemory keeps everything in memory; DataDir is ignored.
	InMemory bool `yaml:"in_memory"`
	// SyncWrites fsyncs every commit.
	SyncWrites bool `yaml:"sync_writes"`
	// LowMemory shrinks badger's caches and memtables.
	LowMemory bool `yaml:"low_memory"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// CacheConfig holds compiled-pattern cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// EngineConfig holds traversal execution settings.
type EngineConfig struct {
	// DefaultLabels scopes graph proxies when a command passes none.
	DefaultLabels []string `yaml:"default_labels"`
	// MaxMatches caps bindings per pattern.
	MaxMatches int `yaml:"max_matches"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	// Enabled writes spans to stderr.
	Enabled bool `yaml:"enabled"`
}

// MemoryConfig holds Go runtime memory settings.
type MemoryConfig struct {
	// RuntimeLimitStr is the soft memory limit ("0" or "unlimited" for none).
	RuntimeLimitStr string `yaml:"limit"`
	// RuntimeLimit is RuntimeLimitStr in bytes.
	RuntimeLimit int64 `yaml:"-"`
	// GCPercent is passed to debug.SetGCPercent when not 100.
	GCPercent int `yaml:"gc_percent"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{DataDir: "./data"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Cache:   CacheConfig{Enabled: true, Size: 1000, TTL: 5 * time.Minute},
		Engine:  EngineConfig{MaxMatches: 10000},
		Memory:  MemoryConfig{RuntimeLimitStr: "0", GCPercent: 100},
	}
}

// LoadFromEnv loads the defaults overridden by environment variables.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile overlays the YAML file at path on the defaults, then applies
// environment variables. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// WriteFile writes cfg as YAML.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Storage.DataDir = getEnv("ONEGRAPH_DATA_DIR", c.Storage.DataDir)
	c.Storage.InMemory = getEnvBool("ONEGRAPH_IN_MEMORY", c.Storage.InMemory)
	c.Storage.SyncWrites = getEnvBool("ONEGRAPH_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.LowMemory = getEnvBool("ONEGRAPH_LOW_MEMORY", c.Storage.LowMemory)

	c.Logging.Level = getEnv("ONEGRAPH_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("ONEGRAPH_LOG_FORMAT", c.Logging.Format)

	c.Cache.Enabled = getEnvBool("ONEGRAPH_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.Size = getEnvInt("ONEGRAPH_CACHE_SIZE", c.Cache.Size)
	c.Cache.TTL = getEnvDuration("ONEGRAPH_CACHE_TTL", c.Cache.TTL)

	c.Engine.DefaultLabels = getEnvStringSlice("ONEGRAPH_DEFAULT_LABELS", c.Engine.DefaultLabels)
	c.Engine.MaxMatches = getEnvInt("ONEGRAPH_MAX_MATCHES", c.Engine.MaxMatches)

	c.Tracing.Enabled = getEnvBool("ONEGRAPH_TRACE_ENABLED", c.Tracing.Enabled)

	c.Memory.RuntimeLimitStr = getEnv("ONEGRAPH_MEMORY_LIMIT", c.Memory.RuntimeLimitStr)
	c.Memory.RuntimeLimit = parseMemorySize(c.Memory.RuntimeLimitStr)
	c.Memory.GCPercent = getEnvInt("ONEGRAPH_GC_PERCENT", c.Memory.GCPercent)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		return fmt.Errorf("data directory required unless running in memory")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("invalid cache size: %d", c.Cache.Size)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("invalid cache ttl: %s", c.Cache.TTL)
	}
	if c.Engine.MaxMatches <= 0 {
		return fmt.Errorf("invalid max matches: %d", c.Engine.MaxMatches)
	}
	if c.Memory.RuntimeLimit < 0 {
		return fmt.Errorf("invalid memory limit: %s", c.Memory.RuntimeLimitStr)
	}
	return nil
}

// String returns a safe string representation.
func (c *Config) String() string {
	dataDir := c.Storage.DataDir
	if c.Storage.InMemory {
		dataDir = "<memory>"
	}
	return fmt.Sprintf(
		"Config{DataDir: %s, Log: %s/%s, Cache: %v(%d, %s), Labels: %v, Trace: %v}",
		dataDir,
		c.Logging.Level, c.Logging.Format,
		c.Cache.Enabled, c.Cache.Size, c.Cache.TTL,
		c.Engine.DefaultLabels,
		c.Tracing.Enabled,
	)
}

// ApplyRuntimeMemory applies the memory limit and GC percent to the Go
// runtime.
func (c *MemoryConfig) ApplyRuntimeMemory() {
	if c.RuntimeLimit > 0 {
		debug.SetMemoryLimit(c.RuntimeLimit)
	}
	if c.GCPercent != 100 {
		debug.SetGCPercent(c.GCPercent)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

// parseMemorySize parses sizes such as "512MB" or "2G". Unparseable input
// yields 0 (no limit).
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}
	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	for _, unit := range []struct {
		suffix string
		size   int64
	}{
		{"K", 1 << 10},
		{"M", 1 << 20},
		{"G", 1 << 30},
		{"T", 1 << 40},
	} {
		if strings.HasSuffix(s, unit.suffix) {
			multiplier = unit.size
			s = strings.TrimSuffix(s, unit.suffix)
			break
		}
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize renders bytes with a binary unit.
func FormatMemorySize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGT"[exp])
}
