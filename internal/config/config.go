// Package config loads replay settings from a YAML file and SANDREPLAY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "SANDREPLAY"

const (
	BackendAuto       = "auto"
	BackendPersistent = "persistent"
	BackendVolatile   = "volatile"

	IndexSQLite = "sqlite"
	IndexPebble = "pebble"
	IndexMemory = "memory"
)

type Config struct {
	NodeID   string         `mapstructure:"node_id" yaml:"node_id"`
	DataDir  string         `mapstructure:"data_dir" yaml:"data_dir"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Ingest   IngestConfig   `mapstructure:"ingest" yaml:"ingest"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

type StorageConfig struct {
	Backend                    string        `mapstructure:"backend" yaml:"backend"`
	Index                      string        `mapstructure:"index" yaml:"index"`
	ChunkSeconds               float64       `mapstructure:"chunk_seconds" yaml:"chunk_seconds"`
	VolatileRetentionSeconds   float64       `mapstructure:"volatile_retention_seconds" yaml:"volatile_retention_seconds"`
	PersistentRetentionSeconds float64       `mapstructure:"persistent_retention_seconds" yaml:"persistent_retention_seconds"`
	IOTimeout                  time.Duration `mapstructure:"io_timeout" yaml:"io_timeout"`
}

type IngestConfig struct {
	Dir            string `mapstructure:"dir" yaml:"dir"`
	RemoveConsumed bool   `mapstructure:"remove_consumed" yaml:"remove_consumed"`
}

type PlaybackConfig struct {
	DelaySeconds    float64       `mapstructure:"delay_seconds" yaml:"delay_seconds"`
	MinDelaySeconds float64       `mapstructure:"min_delay_seconds" yaml:"min_delay_seconds"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	OutputPath      string        `mapstructure:"output_path" yaml:"output_path"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Default returns the built-in configuration: 2s chunks, 90s in memory, 10 minutes on disk.
func Default() Config {
	return Config{
		NodeID:  "replay",
		DataDir: "./data",
		Log: LogConfig{
			Level:      "INFO",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Storage: StorageConfig{
			Backend:                    BackendAuto,
			Index:                      IndexSQLite,
			ChunkSeconds:               2,
			VolatileRetentionSeconds:   90,
			PersistentRetentionSeconds: 600,
			IOTimeout:                  5 * time.Second,
		},
		Ingest: IngestConfig{
			RemoveConsumed: true,
		},
		Playback: PlaybackConfig{
			DelaySeconds:    10,
			MinDelaySeconds: 1,
			PollInterval:    100 * time.Millisecond,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("node_id", d.NodeID)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.index", d.Storage.Index)
	v.SetDefault("storage.chunk_seconds", d.Storage.ChunkSeconds)
	v.SetDefault("storage.volatile_retention_seconds", d.Storage.VolatileRetentionSeconds)
	v.SetDefault("storage.persistent_retention_seconds", d.Storage.PersistentRetentionSeconds)
	v.SetDefault("storage.io_timeout", d.Storage.IOTimeout)
	v.SetDefault("ingest.dir", "")
	v.SetDefault("ingest.remove_consumed", d.Ingest.RemoveConsumed)
	v.SetDefault("playback.delay_seconds", d.Playback.DelaySeconds)
	v.SetDefault("playback.min_delay_seconds", d.Playback.MinDelaySeconds)
	v.SetDefault("playback.poll_interval", d.Playback.PollInterval)
	v.SetDefault("playback.output_path", "")
	v.SetDefault("metrics.listen", "")
}

// Load reads path (optional; an empty path or a missing file means defaults
// plus environment) and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDerived() {
	if c.Ingest.Dir == "" {
		c.Ingest.Dir = filepath.Join(c.DataDir, "incoming")
	}
	if c.Playback.OutputPath == "" {
		c.Playback.OutputPath = filepath.Join(c.DataDir, "playback", "current.chunk")
	}
}

func (c *Config) LogDir() string { return filepath.Join(c.DataDir, "logs") }
func (c *Config) BlobDir() string { return filepath.Join(c.DataDir, "chunks", c.NodeID) }
func (c *Config) IndexPath() string { return filepath.Join(c.DataDir, "meta", c.NodeID+".db") }
func (c *Config) PebbleDir() string { return filepath.Join(c.DataDir, "meta", c.NodeID+".pebble") }

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	switch c.Storage.Backend {
	case BackendAuto, BackendPersistent, BackendVolatile:
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not one of auto, persistent, volatile", c.Storage.Backend))
	}
	switch c.Storage.Index {
	case IndexSQLite, IndexPebble, IndexMemory:
	default:
		errs = append(errs, fmt.Sprintf("storage.index %q is not one of sqlite, pebble, memory", c.Storage.Index))
	}
	if c.Storage.ChunkSeconds <= 0 {
		errs = append(errs, "storage.chunk_seconds must be positive")
	}
	if c.Storage.VolatileRetentionSeconds < c.Storage.ChunkSeconds {
		errs = append(errs, "storage.volatile_retention_seconds must hold at least one chunk")
	}
	if c.Storage.PersistentRetentionSeconds <= 0 {
		errs = append(errs, "storage.persistent_retention_seconds must be positive")
	}
	if c.Storage.IOTimeout <= 0 {
		errs = append(errs, "storage.io_timeout must be positive")
	}
	if c.Playback.MinDelaySeconds < 0 {
		errs = append(errs, "playback.min_delay_seconds must not be negative")
	}
	if c.Playback.PollInterval <= 0 {
		errs = append(errs, "playback.poll_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// WriteDefault writes the default configuration to path unless a file already exists there.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return false, fmt.Errorf("failed to marshal default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, fmt.Errorf("failed to write default config: %w", err)
	}
	return true, nil
}
