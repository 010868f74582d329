// Package config provides the configuration for zerowire.
//
// The configuration is organized into logical sections:
//   - Schema: descriptor naming and the flattened field limit
//   - Encoding: per-record size limit
//   - Reliability: retry attempts and backoff bounds
//   - Security: endpoint transport and OAuth2 client credentials
//   - Observability: metrics, tracing, logging
//   - Debug: raw and encoded mirror files, rotation and retention
//
// Example usage:
//
//	cfg := config.DefaultConfig("main.default.events")
//	cfg.Debug.EncodedEnabled = true
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"time"

	"github.com/ajitpratap0/zerowire/pkg/compression"
	"github.com/ajitpratap0/zerowire/pkg/ingesterrors"
	"github.com/ajitpratap0/zerowire/pkg/schema"
)

// DefaultMaxRecordBytes is the largest encoded record the service accepts.
const DefaultMaxRecordBytes = 4_194_285

// Config is the configuration consumed by the wrapper and the CLI.
type Config struct {
	// Table is the fully qualified destination table
	Table string `yaml:"table" json:"table" mapstructure:"table"`
	// Endpoint is the ingest service address (host:port)
	Endpoint string `yaml:"endpoint" json:"endpoint" mapstructure:"endpoint"`

	Schema        SchemaConfig        `yaml:"schema" json:"schema" mapstructure:"schema"`
	Encoding      EncodingConfig      `yaml:"encoding" json:"encoding" mapstructure:"encoding"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability" mapstructure:"reliability"`
	Security      SecurityConfig      `yaml:"security" json:"security" mapstructure:"security"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
	Debug         DebugConfig         `yaml:"debug" json:"debug" mapstructure:"debug"`
}

// SchemaConfig controls descriptor generation.
type SchemaConfig struct {
	// MessageName names the generated record message
	MessageName string `yaml:"message_name" json:"message_name" mapstructure:"message_name"`
	// MaxFields caps the flattened field count
	MaxFields int `yaml:"max_fields" json:"max_fields" mapstructure:"max_fields"`
}

// EncodingConfig controls row encoding.
type EncodingConfig struct {
	// MaxRecordBytes rejects encoded rows larger than this
	MaxRecordBytes int `yaml:"max_record_bytes" json:"max_record_bytes" mapstructure:"max_record_bytes"`
}

// ReliabilityConfig bounds retries. MaxAttempts counts every transmission
// pass of one batch, including the first.
type ReliabilityConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay" mapstructure:"max_delay"`
}

// SecurityConfig contains transport and credential settings.
type SecurityConfig struct {
	// Insecure disables TLS on the ingest connection
	Insecure bool `yaml:"insecure" json:"insecure" mapstructure:"insecure"`
	// ClientID for the OAuth2 client credentials grant
	ClientID string `yaml:"client_id" json:"client_id" mapstructure:"client_id"`
	// ClientSecret for the OAuth2 client credentials grant (prefer the environment)
	ClientSecret string `yaml:"client_secret" json:"client_secret" mapstructure:"client_secret"`
	// TokenURL of the authorization server
	TokenURL string `yaml:"token_url" json:"token_url" mapstructure:"token_url"`
	// Scopes requested with the token
	Scopes []string `yaml:"scopes" json:"scopes" mapstructure:"scopes"`
	// RefreshThreshold treats tokens this close to expiry as expired
	RefreshThreshold time.Duration `yaml:"refresh_threshold" json:"refresh_threshold" mapstructure:"refresh_threshold"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	// EnableMetrics registers and updates the prometheus collectors
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics" mapstructure:"enable_metrics"`
	// EnableTracing creates spans around batches and passes
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	// ServiceName is reported on traces
	ServiceName string `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
}

// DebugConfig configures the debug mirrors.
type DebugConfig struct {
	// RawEnabled mirrors every input batch as an Arrow IPC stream
	RawEnabled bool `yaml:"raw_enabled" json:"raw_enabled" mapstructure:"raw_enabled"`
	// EncodedEnabled mirrors every converted row as length-delimited protobuf
	EncodedEnabled bool `yaml:"encoded_enabled" json:"encoded_enabled" mapstructure:"encoded_enabled"`
	// OutputDir is the root of the arrow/ and proto/ directories
	OutputDir string `yaml:"output_dir" json:"output_dir" mapstructure:"output_dir"`
	// BaseName prefixes every debug file; defaults to the table name
	BaseName string `yaml:"base_name" json:"base_name" mapstructure:"base_name"`
	// FlushInterval flushes buffered writes at most this far apart
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval" mapstructure:"flush_interval"`
	// MaxFileSize rotates a file once it grows past this many bytes
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size" mapstructure:"max_file_size"`
	// RawMaxFiles retains this many closed raw files (<= 0 keeps all)
	RawMaxFiles int `yaml:"raw_max_files" json:"raw_max_files" mapstructure:"raw_max_files"`
	// EncodedMaxFiles retains this many closed encoded files (<= 0 keeps all)
	EncodedMaxFiles int `yaml:"encoded_max_files" json:"encoded_max_files" mapstructure:"encoded_max_files"`
	// RawCompression compresses Arrow IPC bodies (none, lz4, zstd)
	RawCompression string `yaml:"raw_compression" json:"raw_compression" mapstructure:"raw_compression"`
	// EncodedCompression compresses the encoded stream (none, gzip, snappy, lz4, zstd, s2)
	EncodedCompression string `yaml:"encoded_compression" json:"encoded_compression" mapstructure:"encoded_compression"`
	// CompressionLevel sets compression ratio vs speed (1-9)
	CompressionLevel int `yaml:"compression_level" json:"compression_level" mapstructure:"compression_level"`
}

// DefaultConfig creates a Config with production defaults for table.
//
// Example:
//
//	cfg := config.DefaultConfig("main.default.events")
//	cfg.Reliability.MaxAttempts = 3 // Override default
func DefaultConfig(table string) *Config {
	return &Config{
		Table: table,
		Schema: SchemaConfig{
			MessageName: schema.DefaultMessageName,
			MaxFields:   schema.DefaultMaxFields,
		},
		Encoding: EncodingConfig{
			MaxRecordBytes: DefaultMaxRecordBytes,
		},
		Reliability: ReliabilityConfig{
			MaxAttempts: 5,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    30 * time.Second,
		},
		Security: SecurityConfig{
			RefreshThreshold: time.Minute,
		},
		Observability: ObservabilityConfig{
			EnableMetrics: true,
			EnableTracing: false,
			LogLevel:      "info",
			ServiceName:   "zerowire",
		},
		Debug: DebugConfig{
			OutputDir:          "./zerowire-debug",
			FlushInterval:      5 * time.Second,
			MaxFileSize:        64 << 20, // 64MB
			RawMaxFiles:        10,
			EncodedMaxFiles:    10,
			RawCompression:     string(compression.None),
			EncodedCompression: string(compression.None),
			CompressionLevel:   int(compression.Default),
		},
	}
}

// Validate checks the configuration, returning a config-typed error for the
// first problem found.
func (c *Config) Validate() error {
	if c.Table == "" {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "table is required")
	}
	if c.Schema.MaxFields <= 0 {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "schema.max_fields must be positive")
	}
	if c.Encoding.MaxRecordBytes <= 0 {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "encoding.max_record_bytes must be positive")
	}
	if c.Reliability.MaxAttempts <= 0 {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "reliability.max_attempts must be positive")
	}
	if c.Reliability.BaseDelay < 0 || c.Reliability.MaxDelay < c.Reliability.BaseDelay {
		return ingesterrors.Newf(ingesterrors.ErrorTypeConfig,
			"reliability delays invalid: base %s, max %s", c.Reliability.BaseDelay, c.Reliability.MaxDelay)
	}
	if c.Debug.Enabled() {
		if err := c.Debug.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Enabled reports whether either mirror is on.
func (d *DebugConfig) Enabled() bool {
	return d.RawEnabled || d.EncodedEnabled
}

// RawAlgorithm returns the Arrow IPC body compression.
func (d *DebugConfig) RawAlgorithm() compression.Algorithm {
	alg, _ := compression.Parse(d.RawCompression)
	return alg
}

// EncodedAlgorithm returns the encoded stream compression.
func (d *DebugConfig) EncodedAlgorithm() compression.Algorithm {
	alg, _ := compression.Parse(d.EncodedCompression)
	return alg
}

func (d *DebugConfig) validate() error {
	if d.OutputDir == "" {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "debug.output_dir is required when a mirror is enabled")
	}
	if d.MaxFileSize <= 0 {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "debug.max_file_size must be positive")
	}
	if d.FlushInterval < 0 {
		return ingesterrors.New(ingesterrors.ErrorTypeConfig, "debug.flush_interval cannot be negative")
	}
	raw, err := compression.Parse(d.RawCompression)
	if err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "invalid debug.raw_compression")
	}
	switch raw {
	case compression.None, compression.LZ4, compression.Zstd:
	default:
		return ingesterrors.Newf(ingesterrors.ErrorTypeConfig,
			"debug.raw_compression %q not supported by Arrow IPC (use lz4 or zstd)", raw)
	}
	if _, err := compression.Parse(d.EncodedCompression); err != nil {
		return ingesterrors.Wrap(err, ingesterrors.ErrorTypeConfig, "invalid debug.encoded_compression")
	}
	return nil
}

// HasCredentials returns true if OAuth2 client credentials are configured.
func (s *SecurityConfig) HasCredentials() bool {
	return s.ClientID != "" && s.TokenURL != ""
}
