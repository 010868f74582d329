package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/zerowire/pkg/compression"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing table", func(c *Config) { c.Table = "" }, true},
		{"zero attempts", func(c *Config) { c.Reliability.MaxAttempts = 0 }, true},
		{"max below base", func(c *Config) { c.Reliability.MaxDelay = time.Millisecond }, true},
		{"zero max fields", func(c *Config) { c.Schema.MaxFields = 0 }, true},
		{"debug without dir", func(c *Config) {
			c.Debug.RawEnabled = true
			c.Debug.OutputDir = ""
		}, true},
		{"raw gzip unsupported", func(c *Config) {
			c.Debug.RawEnabled = true
			c.Debug.RawCompression = "gzip"
		}, true},
		{"bad codec ignored when disabled", func(c *Config) { c.Debug.EncodedCompression = "brotli" }, false},
		{"encoded snappy", func(c *Config) {
			c.Debug.EncodedEnabled = true
			c.Debug.EncodedCompression = "snappy"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("events")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeConfig))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zerowire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
table: main.default.events
endpoint: localhost:9000
reliability:
  max_attempts: 3
  base_delay: 50ms
debug:
  encoded_enabled: true
  encoded_compression: zstd
  encoded_max_files: 4
`), 0600))

	t.Setenv("ZEROWIRE_DEBUG_OUTPUT_DIR", "/tmp/zw")
	t.Setenv("ZEROWIRE_SECURITY_CLIENT_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "main.default.events", cfg.Table)
	assert.Equal(t, "localhost:9000", cfg.Endpoint)
	assert.Equal(t, 3, cfg.Reliability.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, cfg.Reliability.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Reliability.MaxDelay, "defaults survive")
	assert.True(t, cfg.Debug.EncodedEnabled)
	assert.Equal(t, compression.Zstd, cfg.Debug.EncodedAlgorithm())
	assert.Equal(t, 4, cfg.Debug.EncodedMaxFiles)
	assert.Equal(t, 10, cfg.Debug.RawMaxFiles)
	assert.Equal(t, "/tmp/zw", cfg.Debug.OutputDir)
	assert.Equal(t, "s3cret", cfg.Security.ClientSecret)
}

func TestLoad_RequiresTable(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.True(t, ingesterrors.IsType(err, ingesterrors.ErrorTypeConfig))
}

func TestLoadWithOverrides(t *testing.T) {
	t.Setenv("ZEROWIRE_TABLE", "from.env")

	cfg, err := LoadWithOverrides("", map[string]any{
		"table":                    "from.flag",
		"reliability.max_attempts": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "from.flag", cfg.Table)
	assert.Equal(t, 2, cfg.Reliability.MaxAttempts)
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := DefaultConfig("events")
	cfg.Security.ClientID = "${ZW_TEST_CLIENT}"
	require.NoError(t, Save(path, cfg))

	t.Setenv("ZW_TEST_CLIENT", "client-42")
	var got Config
	require.NoError(t, LoadFile(path, &got))
	assert.Equal(t, "events", got.Table)
	assert.Equal(t, "client-42", got.Security.ClientID)
	assert.Equal(t, cfg.Debug.FlushInterval, got.Debug.FlushInterval)
}
