// Package config loads the process-wide configuration described in
// spec §6, following the teacher framework's three-layer precedence:
// defaults → environment variables → functional options. Struct tags
// document each field's env var and default for operators; Load applies
// the same values explicitly rather than through reflection.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every option recognized by the process, per spec §6.
type Config struct {
	ImageDir    string `env:"PROMPTSMITH_IMAGE_DIR" default:"./data/images"`
	ArtifactDir string `env:"PROMPTSMITH_ARTIFACT_DIR" default:"./data/artifacts"`
	DataDir     string `env:"PROMPTSMITH_DATA_DIR" default:"./data/records"`

	CompareThreshold float64 `env:"PROMPTSMITH_COMPARE_THRESHOLD" default:"0.30"`

	// AnthropicAPIKey gates the Judge/Planner/Refiner adapters. When empty,
	// every call to those adapters falls back to its deterministic path,
	// per spec §6 ("openai_api_key ... absence forces all ... calls to
	// their deterministic fallbacks").
	AnthropicAPIKey string `env:"PROMPTSMITH_ANTHROPIC_API_KEY"`
	VisionModel     string `env:"PROMPTSMITH_VISION_MODEL" default:"claude-sonnet-4-5"`
	TextModel       string `env:"PROMPTSMITH_TEXT_MODEL" default:"claude-sonnet-4-5"`

	// AWSRegion gates the Generator adapter and ImageModel names the Bedrock
	// model. When the region is empty the generator falls back to a
	// deterministic stub image.
	AWSRegion     string `env:"PROMPTSMITH_AWS_REGION"`
	ImageModel    string `env:"PROMPTSMITH_IMAGE_MODEL" default:"amazon.titan-image-generator-v2:0"`

	StorageBucket string `env:"PROMPTSMITH_STORAGE_BUCKET"`
	StoragePrefix string `env:"PROMPTSMITH_STORAGE_PREFIX" default:"promptsmith"`

	// RedisAddr enables the history read cache in front of the in-memory
	// repository (repository.RedisHistoryCache) when set.
	RedisAddr string `env:"PROMPTSMITH_REDIS_ADDR"`

	// OTelEndpoint gates the real OpenTelemetry provider (internal/telemetry
	// NewOTel). When empty, every orchestrator runs with telemetry.NoOp.
	OTelEndpoint string `env:"PROMPTSMITH_OTEL_ENDPOINT"`

	HTTP    HTTPConfig
	Logging LoggingConfig
}

// HTTPConfig configures the HTTP surface's server.
type HTTPConfig struct {
	Addr            string        `env:"PROMPTSMITH_HTTP_ADDR" default:":8080"`
	ReadTimeout     time.Duration `env:"PROMPTSMITH_HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `env:"PROMPTSMITH_HTTP_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `env:"PROMPTSMITH_HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `env:"PROMPTSMITH_LOG_LEVEL" default:"info"`
	Format string `env:"PROMPTSMITH_LOG_FORMAT" default:"json"`
	Output string `env:"PROMPTSMITH_LOG_OUTPUT" default:"stdout"`
}

// Option mutates a Config after defaults and environment have been applied,
// the highest-priority layer in the three-tier hierarchy.
type Option func(*Config)

// WithImageDir overrides the image blob directory.
func WithImageDir(dir string) Option { return func(c *Config) { c.ImageDir = dir } }

// WithCompareThreshold overrides the default drift threshold.
func WithCompareThreshold(t float64) Option { return func(c *Config) { c.CompareThreshold = t } }

// Load builds a Config from defaults, then environment variables, then the
// given options, in that precedence order.
func Load(opts ...Option) (*Config, error) {
	cfg := &Config{
		ImageDir:         "./data/images",
		ArtifactDir:      "./data/artifacts",
		DataDir:          "./data/records",
		CompareThreshold: 0.30,
		VisionModel:      "claude-sonnet-4-5",
		TextModel:        "claude-sonnet-4-5",
		ImageModel:       "amazon.titan-image-generator-v2:0",
		StoragePrefix:    "promptsmith",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}

	applyEnv(cfg)

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PROMPTSMITH_IMAGE_DIR"); v != "" {
		cfg.ImageDir = v
	}
	if v := os.Getenv("PROMPTSMITH_ARTIFACT_DIR"); v != "" {
		cfg.ArtifactDir = v
	}
	if v := os.Getenv("PROMPTSMITH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PROMPTSMITH_COMPARE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CompareThreshold = f
		}
	}
	if v := os.Getenv("PROMPTSMITH_ANTHROPIC_API_KEY"); v != "" {
		cfg.AnthropicAPIKey = v
	}
	if v := os.Getenv("PROMPTSMITH_VISION_MODEL"); v != "" {
		cfg.VisionModel = v
	}
	if v := os.Getenv("PROMPTSMITH_TEXT_MODEL"); v != "" {
		cfg.TextModel = v
	}
	if v := os.Getenv("PROMPTSMITH_AWS_REGION"); v != "" {
		cfg.AWSRegion = v
	}
	if v := os.Getenv("PROMPTSMITH_IMAGE_MODEL"); v != "" {
		cfg.ImageModel = v
	}
	if v := os.Getenv("PROMPTSMITH_STORAGE_BUCKET"); v != "" {
		cfg.StorageBucket = v
	}
	if v := os.Getenv("PROMPTSMITH_STORAGE_PREFIX"); v != "" {
		cfg.StoragePrefix = v
	}
	if v := os.Getenv("PROMPTSMITH_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("PROMPTSMITH_OTEL_ENDPOINT"); v != "" {
		cfg.OTelEndpoint = v
	}
	if v := os.Getenv("PROMPTSMITH_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if d, err := time.ParseDuration(os.Getenv("PROMPTSMITH_HTTP_READ_TIMEOUT")); err == nil {
		cfg.HTTP.ReadTimeout = d
	}
	if d, err := time.ParseDuration(os.Getenv("PROMPTSMITH_HTTP_WRITE_TIMEOUT")); err == nil {
		cfg.HTTP.WriteTimeout = d
	}
	if d, err := time.ParseDuration(os.Getenv("PROMPTSMITH_HTTP_SHUTDOWN_TIMEOUT")); err == nil {
		cfg.HTTP.ShutdownTimeout = d
	}
	if v := os.Getenv("PROMPTSMITH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PROMPTSMITH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PROMPTSMITH_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
}

func (c *Config) validate() error {
	if c.CompareThreshold < 0 || c.CompareThreshold > 1 {
		return fmt.Errorf("config: compare_threshold must be in [0,1], got %v", c.CompareThreshold)
	}
	return nil
}
