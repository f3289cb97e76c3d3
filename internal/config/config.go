// Package config loads server and CLI configuration from the environment
// and an optional YAML file.
//
// Precedence, highest first: environment variables, the config file,
// defaults. Keys in the file are the lower-case environment names, for
// example listen_addr or s3_bucket.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/AtharvRG/fractal/internal/compress"
	"github.com/AtharvRG/fractal/internal/envelope"
	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/internal/router"
	"github.com/AtharvRG/fractal/internal/share"
	"github.com/AtharvRG/fractal/internal/shortlink"
)

// ConfigFileEnv names the environment variable that points at a config
// file when none is given explicitly.
const ConfigFileEnv = "CONFIG_FILE"

// Server holds share server configuration.
type Server struct {
	ListenAddr  string `mapstructure:"listen_addr" validate:"required"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`

	// Short-link storage
	StoreBackend  string `mapstructure:"store_backend" validate:"oneof=memory postgres"`
	DatabaseURL   string `mapstructure:"database_url" validate:"required_if=StoreBackend postgres"`
	MigrationsDir string `mapstructure:"migrations_dir"`

	MaxTTL            time.Duration `mapstructure:"max_ttl" validate:"gt=0"`
	DefaultTTL        time.Duration `mapstructure:"default_ttl" validate:"gte=0,ltefield=MaxTTL"`
	ShortIDLength     int           `mapstructure:"short_id_length" validate:"min=4,max=64"`
	MaxCreateAttempts int           `mapstructure:"max_create_attempts" validate:"min=1,max=20"`
	EphemeralTTL      time.Duration `mapstructure:"ephemeral_ttl" validate:"gt=0"`
	PurgeInterval     time.Duration `mapstructure:"purge_interval" validate:"gt=0"`

	// Write protection. An empty secret leaves create and delete open.
	ServiceTokenSecret      string `mapstructure:"service_token_secret"`
	CreateRequestsPerMinute int    `mapstructure:"create_requests_per_minute" validate:"gte=0"`
	MaxBodyBytes            int64  `mapstructure:"max_body_bytes" validate:"gt=0"`

	// Paste storage
	PasteBackend string `mapstructure:"paste_backend" validate:"oneof=none s3"`
	S3Endpoint   string `mapstructure:"s3_endpoint" validate:"omitempty,url"`
	S3Bucket     string `mapstructure:"s3_bucket" validate:"required_if=PasteBackend s3"`
	S3AccessKey  string `mapstructure:"s3_access_key"`
	S3SecretKey  string `mapstructure:"s3_secret_key"`
	S3Region     string `mapstructure:"s3_region" validate:"required_if=PasteBackend s3"`
}

// ShortLink returns the short-link service settings.
func (c *Server) ShortLink() shortlink.Config {
	cfg := shortlink.DefaultConfig()
	cfg.MaxTTL = c.MaxTTL
	cfg.DefaultTTL = c.DefaultTTL
	cfg.IDLength = c.ShortIDLength
	cfg.MaxAttempts = c.MaxCreateAttempts
	return cfg
}

// Logging returns the logger settings.
func (c *Server) Logging() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat, OutputPath: "stdout"}
}

func serverDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("store_backend", "memory")
	v.SetDefault("database_url", "")
	v.SetDefault("migrations_dir", "")
	v.SetDefault("max_ttl", shortlink.DefaultMaxTTL)
	v.SetDefault("default_ttl", time.Duration(0))
	v.SetDefault("short_id_length", shortlink.DefaultIDLength)
	v.SetDefault("max_create_attempts", shortlink.DefaultMaxAttempts)
	v.SetDefault("ephemeral_ttl", shortlink.DefaultEphemeralTTL)
	v.SetDefault("purge_interval", time.Hour)
	v.SetDefault("service_token_secret", "")
	v.SetDefault("create_requests_per_minute", 30)
	v.SetDefault("max_body_bytes", int64(32<<20))
	v.SetDefault("paste_backend", "none")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_bucket", "treeshare")
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("s3_region", "us-east-1")
}

// LoadServer reads server configuration. path may be empty.
func LoadServer(path string) (*Server, error) {
	v, err := newViper(path, serverDefaults)
	if err != nil {
		return nil, err
	}
	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Client holds treeshare CLI configuration.
type Client struct {
	// Server is the share server API root, used for #sb:, #s: and #o: links.
	Server string `mapstructure:"treeshare_server" validate:"omitempty,url"`
	// BaseURL is where generated links point.
	BaseURL     string `mapstructure:"treeshare_base_url" validate:"required,url"`
	Token       string `mapstructure:"treeshare_token"`
	GitHubToken string `mapstructure:"github_token"`

	ChunkSize        int   `mapstructure:"chunk_size" validate:"gt=0"`
	MaxRawBytes      int64 `mapstructure:"max_raw_bytes" validate:"gt=0"`
	MaxEncodedLength int   `mapstructure:"max_encoded_length" validate:"gt=0"`
	BrotliQuality    int   `mapstructure:"brotli_quality" validate:"min=0,max=11"`

	ResolveTimeout time.Duration `mapstructure:"resolve_timeout" validate:"gt=0"`
	LinkCacheDir   string        `mapstructure:"link_cache_dir"`
}

// Thresholds returns the embed limits.
func (c *Client) Thresholds() router.Thresholds {
	return router.Thresholds{MaxRawBytes: c.MaxRawBytes, MaxEncodedLength: c.MaxEncodedLength}
}

func clientDefaults(v *viper.Viper) {
	v.SetDefault("treeshare_server", "")
	v.SetDefault("treeshare_base_url", "https://fractal.dev")
	v.SetDefault("treeshare_token", "")
	v.SetDefault("github_token", "")
	v.SetDefault("chunk_size", envelope.DefaultChunkSize)
	v.SetDefault("max_raw_bytes", int64(router.DefaultMaxRawBytes))
	v.SetDefault("max_encoded_length", router.DefaultMaxEncodedLength)
	v.SetDefault("brotli_quality", compress.DefaultBrotliQuality)
	v.SetDefault("resolve_timeout", share.DefaultResolveTimeout)
	v.SetDefault("link_cache_dir", defaultCacheDir())
}

// LoadClient reads CLI configuration. path may be empty.
func LoadClient(path string) (*Client, error) {
	v, err := newViper(path, clientDefaults)
	if err != nil {
		return nil, err
	}
	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func newViper(path string, defaults func(*viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return v, nil
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "treeshare")
}
