// Package config loads and validates the hitrate configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/hitrate/internal/history"
)

// Config represents the complete application configuration.
type Config struct {
	// DataDir is the root directory for snapshots and exports.
	DataDir string `yaml:"data_dir"`

	// Pool defines the shared buffer pool.
	Pool PoolConfig `yaml:"pool"`

	// Snapshot configures periodic state persistence.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Export configures Parquet export.
	Export ExportConfig `yaml:"export"`

	// Report configures the analytical query service.
	Report ReportConfig `yaml:"report"`

	// Sim configures accuracy simulation runs.
	Sim SimConfig `yaml:"sim"`

	// Log configures logging output.
	Log LogConfig `yaml:"log"`
}

// PoolConfig defines the shared buffer pool.
type PoolConfig struct {
	// StoreCount is the number of history levels per buffer.
	StoreCount int `yaml:"store_count"`

	// BufferCount is the number of buffers in the pool.
	BufferCount int `yaml:"buffer_count"`

	// Policy is the boundary transfer policy name.
	Policy string `yaml:"policy"`
}

// SnapshotConfig configures periodic state persistence.
type SnapshotConfig struct {
	// Enabled enables periodic snapshots.
	Enabled bool `yaml:"enabled"`

	// Path is the snapshot file. Defaults to {DataDir}/pool.snap.
	Path string `yaml:"path"`

	// Interval is the time between snapshots.
	Interval time.Duration `yaml:"interval"`
}

// ExportConfig configures Parquet export.
type ExportConfig struct {
	// Dir is the export directory. Defaults to {DataDir}/export.
	Dir string `yaml:"dir"`

	// Compression configures the Parquet compression codec.
	Compression CompressionConfig `yaml:"compression"`

	// Windows lists the trailing window lengths, in observations, that
	// each exported row carries ratio columns for.
	Windows []int `yaml:"windows"`
}

// CompressionConfig configures Parquet compression.
type CompressionConfig struct {
	// Algorithm is the compression algorithm: snappy, zstd, lz4, none.
	Algorithm string `yaml:"algorithm"`

	// Level is the compression level (for zstd: 1-22).
	Level int `yaml:"level"`
}

// ReportConfig configures the analytical query service.
type ReportConfig struct {
	// MemoryLimit is the DuckDB memory limit.
	MemoryLimit string `yaml:"memory_limit"`

	// Timeout is the query timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows is the maximum number of rows returned.
	MaxRows int `yaml:"max_rows"`
}

// SimConfig configures accuracy simulation runs.
type SimConfig struct {
	// Updates is the stream length per run.
	Updates int `yaml:"updates"`

	// Runs is the number of independent runs.
	Runs int `yaml:"runs"`

	// HitProbability is the base chance of a hit per observation.
	HitProbability float64 `yaml:"hit_probability"`

	// MeanBurst is the mean run length of the bursty bit source.
	MeanBurst float64 `yaml:"mean_burst"`

	// Accuracy is the DDSketch relative accuracy for error quantiles.
	Accuracy float64 `yaml:"accuracy"`

	// Workers caps concurrent runs. Zero means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// Seed fixes the random source. Zero draws a fresh seed.
	Seed int64 `yaml:"seed"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches output from text to JSON.
	JSON bool `yaml:"json"`
}

// Load loads configuration from a YAML file, applying defaults for
// absent keys.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/hitrate",
		Pool: PoolConfig{
			StoreCount:  8,
			BufferCount: 1024,
			Policy:      history.PolicyFullAdder,
		},
		Snapshot: SnapshotConfig{
			Enabled:  true,
			Interval: time.Minute,
		},
		Export: ExportConfig{
			Compression: CompressionConfig{
				Algorithm: "zstd",
				Level:     3,
			},
			Windows: []int{64, 1024, 16320},
		},
		Report: ReportConfig{
			MemoryLimit: "2GB",
			Timeout:     30 * time.Second,
			MaxRows:     1000000,
		},
		Sim: SimConfig{
			Updates:        100000,
			Runs:           16,
			HitProbability: 0.5,
			MeanBurst:      8,
			Accuracy:       0.01,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
