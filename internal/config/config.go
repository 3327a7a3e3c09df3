package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for FileVault
type Config struct {
	// Server configuration
	Listen   string `mapstructure:"listen"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	// TLS configuration
	EnableTLS bool   `mapstructure:"enable_tls"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage"`

	// Image presets
	Presets []PresetConfig `mapstructure:"presets"`

	// ACL configuration
	ACL ACLConfig `mapstructure:"acl"`

	// Metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StorageConfig defines storage backend configuration
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // s3, badger, pebble

	// S3-compatible backends. Endpoint is empty for AWS proper; set it
	// for gateway providers (Storj, MinIO, ...).
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`

	// Embedded backends (badger, pebble)
	Root       string `mapstructure:"root"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

// PresetConfig defines a named image variant
type PresetConfig struct {
	ID     string `mapstructure:"id"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
	Fit    string `mapstructure:"fit"` // cover, contain
}

// ACLConfig defines access control configuration
type ACLConfig struct {
	Enable bool `mapstructure:"enable"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Load loads configuration from flags, config file and environment
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("FILEVAULT")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultPresets are applied when no presets are configured.
func DefaultPresets() []PresetConfig {
	return []PresetConfig{
		{ID: "thumb", Width: 100, Height: 100, Fit: "cover"},
		{ID: "preview", Width: 640, Height: 480, Fit: "contain"},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("enable_tls", false)

	v.SetDefault("storage.backend", "badger")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "media")
	v.SetDefault("storage.root", "")
	v.SetDefault("storage.sync_writes", false)

	v.SetDefault("acl.enable", false)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":    "listen",
		"data-dir":  "data_dir",
		"log-level": "log_level",
		"backend":   "storage.backend",
		"tls-cert":  "cert_file",
		"tls-key":   "key_file",
	}

	for flag, key := range flags {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}

	return nil
}

func validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case "s3":
		if cfg.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 backend")
		}
	case "badger", "pebble":
		if cfg.DataDir == "" {
			return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or FILEVAULT_DATA_DIR environment variable")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		if cfg.Storage.Root == "" {
			cfg.Storage.Root = filepath.Join(cfg.DataDir, "objects")
		}
		if !filepath.IsAbs(cfg.Storage.Root) {
			if absRoot, err := filepath.Abs(cfg.Storage.Root); err == nil {
				cfg.Storage.Root = absRoot
			}
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}

	if cfg.EnableTLS && (cfg.CertFile == "" || cfg.KeyFile == "") {
		return fmt.Errorf("TLS enabled but cert-file or key-file not specified")
	}

	if len(cfg.Presets) == 0 {
		cfg.Presets = DefaultPresets()
	}
	seen := make(map[string]bool)
	for _, p := range cfg.Presets {
		if p.ID == "" || p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("preset %q must have a non-empty id and positive dimensions", p.ID)
		}
		if p.Fit != "cover" && p.Fit != "contain" {
			return fmt.Errorf("preset %q has unknown fit mode %q", p.ID, p.Fit)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate preset id %q", p.ID)
		}
		seen[p.ID] = true
	}

	return nil
}
