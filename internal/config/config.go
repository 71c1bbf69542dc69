package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Source    Source    `yaml:"source"`
	Pipeline  Pipeline  `yaml:"pipeline"`
	Database  Database  `yaml:"database"`
	Translate Translate `yaml:"translate"`
	Metrics   Metrics   `yaml:"metrics"`
	LogLevel  string    `yaml:"log_level"`
}

// Source describes where units and their documents come from
type Source struct {
	Manifest       string `yaml:"manifest"`
	UseObjectStore bool   `yaml:"use_object_store"`
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Secure         bool   `yaml:"secure"`
}

// Pipeline represents orchestration-specific configuration
type Pipeline struct {
	StateFilter        string  `yaml:"state_filter"`
	MaxUnits           int     `yaml:"max_units"`
	AcquireConcurrency int     `yaml:"acquire_concurrency"`
	ParseWorkers       int     `yaml:"parse_workers"`
	Retries            int     `yaml:"retries"`
	RetryBackoffMs     int     `yaml:"retry_backoff_ms"`
	RetryBackoffCapMs  int     `yaml:"retry_backoff_cap_ms"`
	AcquireTimeoutS    int     `yaml:"acquire_timeout_s"`
	ParseTimeoutS      int     `yaml:"parse_timeout_s"`
	GracePeriodS       int     `yaml:"grace_period_s"`
	MinSuccessFraction float64 `yaml:"min_success_fraction"`
	Resume             bool    `yaml:"resume"`
	Translate          bool    `yaml:"translate"`
	UseOCR             bool    `yaml:"use_ocr"`
	DataDir            string  `yaml:"data_dir"`
	CheckpointDir      string  `yaml:"checkpoint_dir"`
}

// Database represents record store configuration
type Database struct {
	Path string `yaml:"path"`
}

// Translate represents the translation service configuration
type Translate struct {
	Endpoint   string `yaml:"endpoint"`
	TargetLang string `yaml:"target_lang"`
}

// Metrics represents metrics exposure configuration
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Source: Source{
			Secure: true,
		},
		Pipeline: Pipeline{
			AcquireConcurrency: 5,
			ParseWorkers:       4,
			Retries:            3,
			RetryBackoffMs:     500,
			RetryBackoffCapMs:  30000,
			AcquireTimeoutS:    1800,
			ParseTimeoutS:      300,
			GracePeriodS:       15,
			UseOCR:             true,
			DataDir:            "data/rolls",
			CheckpointDir:      "data/checkpoints",
		},
		Database: Database{
			Path: "data/voters.db",
		},
		Translate: Translate{
			TargetLang: "en",
		},
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("manifest") {
		cfg.Source.Manifest, _ = flags.GetString("manifest")
	}
	if flags.Changed("use-object-store") {
		cfg.Source.UseObjectStore, _ = flags.GetBool("use-object-store")
	}
	if flags.Changed("src-endpoint") {
		cfg.Source.Endpoint, _ = flags.GetString("src-endpoint")
	}
	if flags.Changed("src-access-key") {
		cfg.Source.AccessKey, _ = flags.GetString("src-access-key")
	}
	if flags.Changed("src-secret-key") {
		cfg.Source.SecretKey, _ = flags.GetString("src-secret-key")
	}
	if flags.Changed("src-secure") {
		cfg.Source.Secure, _ = flags.GetBool("src-secure")
	}

	if flags.Changed("state") {
		cfg.Pipeline.StateFilter, _ = flags.GetString("state")
	}
	if flags.Changed("max-units") {
		cfg.Pipeline.MaxUnits, _ = flags.GetInt("max-units")
	}
	if flags.Changed("acquire-concurrency") {
		cfg.Pipeline.AcquireConcurrency, _ = flags.GetInt("acquire-concurrency")
	}
	if flags.Changed("parse-workers") {
		cfg.Pipeline.ParseWorkers, _ = flags.GetInt("parse-workers")
	}
	if flags.Changed("retries") {
		cfg.Pipeline.Retries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Pipeline.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("grace-period-s") {
		cfg.Pipeline.GracePeriodS, _ = flags.GetInt("grace-period-s")
	}
	if flags.Changed("min-success") {
		cfg.Pipeline.MinSuccessFraction, _ = flags.GetFloat64("min-success")
	}
	if flags.Changed("resume") {
		cfg.Pipeline.Resume, _ = flags.GetBool("resume")
	}
	if flags.Changed("translate") {
		cfg.Pipeline.Translate, _ = flags.GetBool("translate")
	}
	if flags.Changed("ocr") {
		cfg.Pipeline.UseOCR, _ = flags.GetBool("ocr")
	}
	if flags.Changed("data-dir") {
		cfg.Pipeline.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("checkpoint-dir") {
		cfg.Pipeline.CheckpointDir, _ = flags.GetString("checkpoint-dir")
	}

	if flags.Changed("db") {
		cfg.Database.Path, _ = flags.GetString("db")
	}
	if flags.Changed("translate-endpoint") {
		cfg.Translate.Endpoint, _ = flags.GetString("translate-endpoint")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Source.Manifest == "" {
		return fmt.Errorf("manifest is required")
	}

	if c.Source.UseObjectStore {
		if c.Source.Endpoint == "" {
			return fmt.Errorf("source endpoint is required with object store source")
		}
		if c.Source.AccessKey == "" || c.Source.SecretKey == "" {
			return fmt.Errorf("source credentials are required with object store source")
		}
	}

	if c.Pipeline.AcquireConcurrency <= 0 {
		return fmt.Errorf("acquire concurrency must be positive")
	}
	if c.Pipeline.ParseWorkers <= 0 {
		return fmt.Errorf("parse workers must be positive")
	}
	if c.Pipeline.Retries <= 0 {
		return fmt.Errorf("retries must be positive")
	}
	if c.Pipeline.MinSuccessFraction < 0 || c.Pipeline.MinSuccessFraction > 1 {
		return fmt.Errorf("min success fraction must be between 0 and 1")
	}

	if c.Pipeline.Translate && c.Translate.Endpoint == "" {
		return fmt.Errorf("translate endpoint is required when translation is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	return nil
}
