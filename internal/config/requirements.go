package config

import (
	"fmt"
	"time"
)

// Requirements represents estimated resource requirements for a given
// Config, as computed by CalculateRequirements.
type Requirements struct {
	// Memory
	DaemonSketchBytes int64
	WriteBufferBytes  int64
	TotalRAMBytes     int64

	// Storage, summed across all configured tiers.
	TotalStorageBytes int64

	// Throughput
	FlushesPerSecond int64
	BytesPerSecond   int64

	RecommendedCPUCores int
}

const (
	// bytesPerActiveSketch estimates a daemon-resident sketch's footprint
	// before flush: a handful of compactor levels near capacity.
	bytesPerActiveSketch = 4 * 1024

	// bytesPerPersistedWindow estimates a compacted, on-disk sketch record.
	bytesPerPersistedWindow = 1536
)

// CalculateRequirements estimates resource usage from the configuration.
func (c *Config) CalculateRequirements() Requirements {
	var r Requirements

	r.FlushesPerSecond = int64(c.Scale.MetricCount) / int64(maxInt(c.Scale.FlushIntervalSec, 1))
	r.BytesPerSecond = r.FlushesPerSecond * bytesPerPersistedWindow

	r.DaemonSketchBytes = int64(c.Scale.MetricCount) * bytesPerActiveSketch
	r.WriteBufferBytes = int64(c.Server.NumWriteWorkers) * bytesPerActiveSketch * 16
	r.TotalRAMBytes = r.DaemonSketchBytes + r.WriteBufferBytes + 2*1024*1024*1024

	windowsPerDayPerMetric := int64(86400) / int64(maxInt(c.Scale.FlushIntervalSec, 1))
	metricCount := int64(c.Scale.MetricCount)

	var storage int64
	prevAge := time.Duration(0)
	for _, tier := range c.Tiers {
		tierDuration := tier.AgeThreshold - prevAge
		windowsPerMetricInTier := int64(tierDuration/tier.TargetSpan) + 1
		storage += windowsPerMetricInTier * metricCount * bytesPerPersistedWindow
		prevAge = tier.AgeThreshold
	}
	// Windows newer than the first (youngest) tier's age threshold are untouched,
	// still at full flush-interval resolution.
	if len(c.Tiers) > 0 {
		storage += c.Tiers[0].AgeThreshold.Nanoseconds() / int64(time.Second) * windowsPerDayPerMetric / 86400 * metricCount * bytesPerPersistedWindow
	}
	r.TotalStorageBytes = storage

	ingestCores := int(r.FlushesPerSecond/50000) + 1
	r.RecommendedCPUCores = ingestCores + c.Server.NumReadWorkers/4 + c.Server.NumWriteWorkers/4

	return r
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// FormatRequirements returns a human-readable summary of requirements.
func (r *Requirements) FormatRequirements() string {
	return fmt.Sprintf(`Resource Requirements
=====================

Throughput:
  Flushes/sec:       %s
  Bytes/sec:         %s

Memory:
  Daemon Sketches:   %s
  Write Buffers:     %s
  Total RAM:         %s (recommended)

Storage:
  Total Storage:     %s (recommended)

CPU:
  Recommended Cores: %d
`,
		formatNumber(r.FlushesPerSecond),
		formatBytes(r.BytesPerSecond),
		formatBytes(r.DaemonSketchBytes),
		formatBytes(r.WriteBufferBytes),
		formatBytes(r.TotalRAMBytes),
		formatBytes(r.TotalStorageBytes),
		r.RecommendedCPUCores,
	)
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatNumber formats a number with a magnitude suffix.
func formatNumber(n int64) string {
	switch {
	case n < 1000:
		return fmt.Sprintf("%d", n)
	case n < 1000000:
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	case n < 1000000000:
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	default:
		return fmt.Sprintf("%.1fB", float64(n)/1000000000)
	}
}
