package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg := LoadFromEnv()

	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.False(t, cfg.Storage.InMemory)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 1000, cfg.Cache.Size)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10000, cfg.Engine.MaxMatches)
	assert.Empty(t, cfg.Engine.DefaultLabels)
	assert.Zero(t, cfg.Memory.RuntimeLimit)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("ONEGRAPH_DATA_DIR", "/var/lib/onegraph")
	t.Setenv("ONEGRAPH_IN_MEMORY", "yes")
	t.Setenv("ONEGRAPH_LOG_LEVEL", "debug")
	t.Setenv("ONEGRAPH_LOG_FORMAT", "json")
	t.Setenv("ONEGRAPH_CACHE_ENABLED", "off")
	t.Setenv("ONEGRAPH_CACHE_TTL", "30")
	t.Setenv("ONEGRAPH_DEFAULT_LABELS", "Person, Software,,")
	t.Setenv("ONEGRAPH_MAX_MATCHES", "5")
	t.Setenv("ONEGRAPH_TRACE_ENABLED", "1")
	t.Setenv("ONEGRAPH_MEMORY_LIMIT", "512MB")

	cfg := LoadFromEnv()
	assert.Equal(t, "/var/lib/onegraph", cfg.Storage.DataDir)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, []string{"Person", "Software"}, cfg.Engine.DefaultLabels)
	assert.Equal(t, 5, cfg.Engine.MaxMatches)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, int64(512<<20), cfg.Memory.RuntimeLimit)
}

func TestLoadFromEnv_InvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv("ONEGRAPH_CACHE_SIZE", "lots")
	t.Setenv("ONEGRAPH_CACHE_ENABLED", "maybe")
	t.Setenv("ONEGRAPH_CACHE_TTL", "soon")

	cfg := LoadFromEnv()
	assert.Equal(t, 1000, cfg.Cache.Size)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  data_dir: /tmp/graph
  sync_writes: true
logging:
  level: warn
cache:
  size: 42
  ttl: 1m
engine:
  default_labels: [Person]
`), 0o644))

	t.Run("file over defaults", func(t *testing.T) {
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/graph", cfg.Storage.DataDir)
		assert.True(t, cfg.Storage.SyncWrites)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.Equal(t, "text", cfg.Logging.Format, "unset keys keep defaults")
		assert.Equal(t, 42, cfg.Cache.Size)
		assert.Equal(t, time.Minute, cfg.Cache.TTL)
		assert.Equal(t, []string{"Person"}, cfg.Engine.DefaultLabels)
	})

	t.Run("env over file", func(t *testing.T) {
		t.Setenv("ONEGRAPH_CACHE_SIZE", "7")
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Cache.Size)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Default().Storage, cfg.Storage)
	})

	t.Run("malformed file", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("cache: [unclosed"), 0o644))
		_, err := LoadFile(bad)
		assert.Error(t, err)
	})
}

func TestWriteFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	cfg := Default()
	cfg.Storage.DataDir = "/srv/onegraph"
	cfg.Engine.DefaultLabels = []string{"Person", "Software"}
	cfg.Cache.TTL = 90 * time.Second
	require.NoError(t, cfg.WriteFile(path))

	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Storage, got.Storage)
	assert.Equal(t, cfg.Engine, got.Engine)
	assert.Equal(t, cfg.Cache, got.Cache)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"no data dir", func(c *Config) { c.Storage.DataDir = "" }, "data directory"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "log format"},
		{"bad cache size", func(c *Config) { c.Cache.Size = 0 }, "cache size"},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }, "cache ttl"},
		{"bad max matches", func(c *Config) { c.Engine.MaxMatches = 0 }, "max matches"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("in memory needs no data dir", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.DataDir = ""
		cfg.Storage.InMemory = true
		assert.NoError(t, cfg.Validate())
	})

	t.Run("disabled cache ignores size", func(t *testing.T) {
		cfg := Default()
		cfg.Cache.Enabled = false
		cfg.Cache.Size = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestString(t *testing.T) {
	cfg := Default()
	assert.Contains(t, cfg.String(), "DataDir: ./data")

	cfg.Storage.InMemory = true
	assert.Contains(t, cfg.String(), "DataDir: <memory>")
}

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1024", 1024},
		{"1024B", 1024},
		{"1K", 1 << 10},
		{"1kb", 1 << 10},
		{"512mb", 512 << 20},
		{"2G", 2 << 30},
		{"1TB", 1 << 40},
		{"  2GB  ", 2 << 30},
		{"0", 0},
		{"unlimited", 0},
		{"", 0},
		{"abc", 0},
		{"-1GB", -1 << 30},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseMemorySize(tt.input))
		})
	}
}

func TestFormatMemorySize(t *testing.T) {
	assert.Equal(t, "512 B", FormatMemorySize(512))
	assert.Equal(t, "1.50 KB", FormatMemorySize(1536))
	assert.Equal(t, "1.00 MB", FormatMemorySize(1<<20))
	assert.Equal(t, "2.00 GB", FormatMemorySize(2<<30))
	assert.Equal(t, "1.00 TB", FormatMemorySize(1<<40))
}
