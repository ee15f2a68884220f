// Package config loads and validates the YAML configuration shared by the
// daemon, server, and CLI binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for a Caesium deployment.
type Config struct {
	// DataDir is the root directory for the window log and manifest files.
	DataDir string `yaml:"data_dir"`

	// Scale describes the expected load, used only to size buffers and
	// report resource requirements; it does not change behavior.
	Scale ScaleConfig `yaml:"scale"`

	// Server configures the query/insert-serving process.
	Server ServerConfig `yaml:"server"`

	// Daemon configures the statsd-ingesting process.
	Daemon DaemonConfig `yaml:"daemon"`

	// Tiers defines the downsample retention policy.
	Tiers []TierConfig `yaml:"tiers"`

	// WAL configures the per-metric window log.
	WAL WALConfig `yaml:"wal"`

	// Backpressure configures load shedding on the write path.
	Backpressure BackpressureConfig `yaml:"backpressure"`

	// Query configures the query executor and its result limits.
	Query QueryConfig `yaml:"query"`

	// Export configures the optional Parquet analytics sidecar.
	Export ExportConfig `yaml:"export"`
}

// ScaleConfig describes the expected load.
type ScaleConfig struct {
	// MetricCount is the expected number of distinct metric names.
	MetricCount int `yaml:"metric_count"`

	// FlushIntervalSec is the daemon's aggregation window, in seconds.
	FlushIntervalSec int `yaml:"flush_interval_sec"`
}

// ServerConfig configures the server's listeners and worker pools.
type ServerConfig struct {
	// QueryAddr is the TCP address the query socket listens on.
	QueryAddr string `yaml:"query_addr"`

	// InsertAddr is the TCP address the insert socket listens on.
	InsertAddr string `yaml:"insert_addr"`

	// NumReadWorkers bounds concurrent query execution.
	NumReadWorkers int `yaml:"num_read_workers"`

	// NumWriteWorkers bounds concurrent window-store writers.
	NumWriteWorkers int `yaml:"num_write_workers"`

	// DownsampleIntervalSec is how often the downsampler sweeps all metrics.
	DownsampleIntervalSec int `yaml:"downsample_interval_sec"`

	// QueryDeadline bounds how long a single query may run.
	QueryDeadline time.Duration `yaml:"query_deadline"`
}

// DaemonConfig configures the statsd daemon.
type DaemonConfig struct {
	// ListenAddr is the UDP address the statsd listener binds to.
	ListenAddr string `yaml:"listen_addr"`

	// ServerAddr is the server's insert socket the publisher connects to.
	ServerAddr string `yaml:"server_addr"`

	// PublishQueueSize bounds the number of sealed sketches awaiting
	// publish before the oldest are dropped.
	PublishQueueSize int `yaml:"publish_queue_size"`

	// PublishRetryBackoff is the initial backoff after a failed publish.
	PublishRetryBackoff time.Duration `yaml:"publish_retry_backoff"`

	// PublishMaxBackoff caps the exponential backoff between retries.
	PublishMaxBackoff time.Duration `yaml:"publish_max_backoff"`
}

// TierConfig is one (age, target-span) bracket of the downsample policy:
// windows older than AgeThreshold are merged until each spans TargetSpan.
type TierConfig struct {
	AgeThreshold time.Duration `yaml:"age_threshold"`
	TargetSpan   time.Duration `yaml:"target_span"`
	GapTolerance time.Duration `yaml:"gap_tolerance"`
}

// WALConfig configures the per-metric window log.
type WALConfig struct {
	// Dir is the window log directory. Defaults to {DataDir}/windows.
	Dir string `yaml:"dir"`

	// SyncMode is the durability mode: async, sync, fsync.
	SyncMode string `yaml:"sync_mode"`

	// SyncInterval is the sync interval for async mode.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// MaxSegmentSize is validated but not read by the window log, which
	// keeps each metric in a single file with no segment rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// BackpressureConfig configures load shedding on write worker queues.
type BackpressureConfig struct {
	Enabled    bool                   `yaml:"enabled"`
	Thresholds BackpressureThresholds `yaml:"thresholds"`
	Recovery   BackpressureRecovery   `yaml:"recovery"`
}

// BackpressureThresholds defines queue-depth fractions (0.0-1.0) at which
// the write pool's gate enters the warning, critical and emergency
// levels; new inserts are rejected at critical and above.
type BackpressureThresholds struct {
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
	Emergency float64 `yaml:"emergency"`
}

// BackpressureRecovery configures hysteresis when leaving a shed state.
type BackpressureRecovery struct {
	Hysteresis float64       `yaml:"hysteresis"`
	Cooldown   time.Duration `yaml:"cooldown"`
}

// QueryConfig configures the query executor.
type QueryConfig struct {
	// Timeout bounds a single query's execution.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRows caps rows returned by a quantile table.
	MaxRows int `yaml:"max_rows"`

	// CoalesceIdentical enables singleflight coalescing of concurrent,
	// textually identical queries.
	CoalesceIdentical bool `yaml:"coalesce_identical"`
}

// ExportConfig configures the optional Parquet analytics sidecar (C11).
type ExportConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Dir         string `yaml:"dir"`
	Compression string `yaml:"compression"` // snappy, zstd, none
}

// Load reads and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults, matching
// the flush window and downsample tiers described for a typical deployment.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "/var/lib/caesium",
		Scale: ScaleConfig{
			MetricCount:      100000,
			FlushIntervalSec: 30,
		},
		Server: ServerConfig{
			QueryAddr:             "127.0.0.1:7879",
			InsertAddr:            "127.0.0.1:7878",
			NumReadWorkers:        8,
			NumWriteWorkers:       4,
			DownsampleIntervalSec: 600,
			QueryDeadline:         30 * time.Second,
		},
		Daemon: DaemonConfig{
			ListenAddr:          "127.0.0.1:8125",
			ServerAddr:          "127.0.0.1:7878",
			PublishQueueSize:    1000,
			PublishRetryBackoff: 500 * time.Millisecond,
			PublishMaxBackoff:   30 * time.Second,
		},
		Tiers: []TierConfig{
			{AgeThreshold: time.Hour, TargetSpan: 5 * time.Minute, GapTolerance: 30 * time.Second},
			{AgeThreshold: 24 * time.Hour, TargetSpan: time.Hour, GapTolerance: 5 * time.Minute},
			{AgeThreshold: 30 * 24 * time.Hour, TargetSpan: 24 * time.Hour, GapTolerance: time.Hour},
		},
		WAL: WALConfig{
			SyncMode:       "async",
			SyncInterval:   time.Second,
			MaxSegmentSize: 100 * 1024 * 1024,
		},
		Backpressure: BackpressureConfig{
			Enabled: true,
			Thresholds: BackpressureThresholds{
				Warning:   0.50,
				Critical:  0.80,
				Emergency: 0.95,
			},
			Recovery: BackpressureRecovery{
				Hysteresis: 0.10,
				Cooldown:   30 * time.Second,
			},
		},
		Query: QueryConfig{
			Timeout:           30 * time.Second,
			MaxRows:           1000000,
			CoalesceIdentical: true,
		},
		Export: ExportConfig{
			Enabled:     false,
			Compression: "zstd",
		},
	}
}
