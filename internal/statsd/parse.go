// Package statsd parses StatsD-style UDP packets into metric samples.
//
// Each datagram may carry multiple newline-separated samples of the form
// "metric:value|ms". Unknown types are ignored, as is anything that fails
// to parse: StatsD ingestion is best-effort and fire-and-forget, so one
// malformed line must never stop the rest of a packet from being read.
package statsd

import (
	"strconv"
	"strings"

	"github.com/wedaly/caesium/internal/validation"
)

// MaxDatagramSize is the largest UDP datagram the daemon's listener reads.
const MaxDatagramSize = 1472

// Sample is one parsed StatsD observation.
type Sample struct {
	Metric string
	Value  uint64
}

// ParsePacket splits buf on newlines and parses each line as a sample. It
// returns the parsed samples and a count of lines that did not parse, so
// callers can track drops without re-deriving the count themselves.
func ParsePacket(buf []byte) (samples []Sample, dropped int) {
	text := string(buf)
	for len(text) > 0 {
		line, rest, found := strings.Cut(text, "\n")
		if found {
			text = rest
		} else {
			text = ""
		}

		if s, ok := ParseLine(line); ok {
			samples = append(samples, s)
		} else if strings.TrimSpace(line) != "" {
			dropped++
		}
	}
	return samples, dropped
}

// ParseLine parses a single "metric:value|ms" sample, ignoring an optional
// trailing sample-rate suffix ("|@0.1") and any type other than "ms".
func ParseLine(line string) (Sample, bool) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return Sample{}, false
	}

	metric, rest, ok := strings.Cut(line, ":")
	if !ok || metric == "" {
		return Sample{}, false
	}
	if err := validation.ValidateMetricName(metric); err != nil {
		return Sample{}, false
	}

	valueStr, rest, ok := strings.Cut(rest, "|")
	if !ok {
		return Sample{}, false
	}
	typeStr, _, _ := strings.Cut(rest, "|")
	if typeStr != "ms" {
		return Sample{}, false
	}

	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return Sample{}, false
	}

	return Sample{Metric: metric, Value: value}, true
}
