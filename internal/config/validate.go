package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if err := c.Scale.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scale: %w", err))
	}
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server: %w", err))
	}
	if err := c.Daemon.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("daemon: %w", err))
	}
	if err := validateTiers(c.Tiers); err != nil {
		errs = append(errs, fmt.Errorf("tiers: %w", err))
	}
	if err := c.WAL.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("wal: %w", err))
	}
	if err := c.Backpressure.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("backpressure: %w", err))
	}
	if err := c.Query.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("query: %w", err))
	}
	if err := c.Export.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("export: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the scale configuration.
func (c *ScaleConfig) Validate() error {
	var errs []error
	if c.MetricCount <= 0 {
		errs = append(errs, errors.New("metric_count must be positive"))
	}
	if c.FlushIntervalSec <= 0 {
		errs = append(errs, errors.New("flush_interval_sec must be positive"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the server configuration.
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.QueryAddr == "" {
		errs = append(errs, errors.New("query_addr is required"))
	}
	if c.InsertAddr == "" {
		errs = append(errs, errors.New("insert_addr is required"))
	}
	if c.NumReadWorkers <= 0 {
		errs = append(errs, errors.New("num_read_workers must be positive"))
	}
	if c.NumWriteWorkers <= 0 {
		errs = append(errs, errors.New("num_write_workers must be positive"))
	}
	if c.DownsampleIntervalSec <= 0 {
		errs = append(errs, errors.New("downsample_interval_sec must be positive"))
	}
	if c.QueryDeadline <= 0 {
		errs = append(errs, errors.New("query_deadline must be positive"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the daemon configuration.
func (c *DaemonConfig) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.ServerAddr == "" {
		errs = append(errs, errors.New("server_addr is required"))
	}
	if c.PublishQueueSize <= 0 {
		errs = append(errs, errors.New("publish_queue_size must be positive"))
	}
	if c.PublishRetryBackoff <= 0 {
		errs = append(errs, errors.New("publish_retry_backoff must be positive"))
	}
	if c.PublishMaxBackoff < c.PublishRetryBackoff {
		errs = append(errs, errors.New("publish_max_backoff must be >= publish_retry_backoff"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateTiers checks that the downsample tiers have strictly increasing
// age thresholds and target spans, matching the policy's escalating-coarseness
// contract.
func validateTiers(tiers []TierConfig) error {
	var errs []error
	var prevAge, prevSpan = -1, -1
	for i, t := range tiers {
		if t.AgeThreshold <= 0 {
			errs = append(errs, fmt.Errorf("tier %d: age_threshold must be positive", i))
		}
		if t.TargetSpan <= 0 {
			errs = append(errs, fmt.Errorf("tier %d: target_span must be positive", i))
		}
		if t.GapTolerance < 0 {
			errs = append(errs, fmt.Errorf("tier %d: gap_tolerance must be non-negative", i))
		}
		if prevAge >= 0 && int64(t.AgeThreshold) <= int64(prevAge) {
			errs = append(errs, fmt.Errorf("tier %d: age_threshold must increase across tiers", i))
		}
		if prevSpan >= 0 && int64(t.TargetSpan) <= int64(prevSpan) {
			errs = append(errs, fmt.Errorf("tier %d: target_span must increase across tiers", i))
		}
		prevAge, prevSpan = int(t.AgeThreshold), int(t.TargetSpan)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the window log configuration.
func (c *WALConfig) Validate() error {
	var errs []error
	validSyncModes := map[string]bool{"async": true, "sync": true, "fsync": true, "": true}
	if !validSyncModes[c.SyncMode] {
		errs = append(errs, errors.New("sync_mode must be one of: async, sync, fsync"))
	}
	if c.SyncMode == "async" && c.SyncInterval <= 0 {
		errs = append(errs, errors.New("sync_interval must be positive for async mode"))
	}
	if c.MaxSegmentSize < 0 {
		errs = append(errs, errors.New("max_segment_size must be non-negative"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the backpressure configuration.
func (c *BackpressureConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error
	if c.Thresholds.Warning <= 0 || c.Thresholds.Warning >= 1 {
		errs = append(errs, errors.New("thresholds.warning must be between 0 and 1"))
	}
	if c.Thresholds.Critical <= 0 || c.Thresholds.Critical >= 1 {
		errs = append(errs, errors.New("thresholds.critical must be between 0 and 1"))
	}
	if c.Thresholds.Emergency <= 0 || c.Thresholds.Emergency >= 1 {
		errs = append(errs, errors.New("thresholds.emergency must be between 0 and 1"))
	}
	if c.Thresholds.Warning >= c.Thresholds.Critical {
		errs = append(errs, errors.New("thresholds.warning must be < thresholds.critical"))
	}
	if c.Thresholds.Critical >= c.Thresholds.Emergency {
		errs = append(errs, errors.New("thresholds.critical must be < thresholds.emergency"))
	}
	if c.Recovery.Hysteresis < 0 || c.Recovery.Hysteresis >= 0.5 {
		errs = append(errs, errors.New("recovery.hysteresis must be between 0 and 0.5"))
	}
	if c.Recovery.Cooldown <= 0 {
		errs = append(errs, errors.New("recovery.cooldown must be positive"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the query configuration.
func (c *QueryConfig) Validate() error {
	var errs []error
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.MaxRows <= 0 {
		errs = append(errs, errors.New("max_rows must be positive"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the export configuration.
func (c *ExportConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	validAlgorithms := map[string]bool{"snappy": true, "zstd": true, "none": true, "": true}
	if !validAlgorithms[c.Compression] {
		return errors.New("compression must be one of: snappy, zstd, none")
	}
	return nil
}

// EnsureDirectories creates all directories the configuration references.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.WALDir()}
	if c.Export.Enabled {
		dirs = append(dirs, c.ExportDir())
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WALDir returns the window log directory path.
func (c *Config) WALDir() string {
	if c.WAL.Dir != "" {
		return c.WAL.Dir
	}
	return filepath.Join(c.DataDir, "windows")
}

// ExportDir returns the Parquet export directory path.
func (c *Config) ExportDir() string {
	if c.Export.Dir != "" {
		return c.Export.Dir
	}
	return filepath.Join(c.DataDir, "export")
}
