package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/wedaly/caesium/internal/quantile"
)

// runSketchError inserts the same stream of values into both a Caesium
// sketch and a DDSketch configured with a known relative accuracy, and
// reports each quantile's actual error against the exact value computed
// from the sorted input. This is the accuracy oracle: it never talks to
// a running server.
func runSketchError(args []string) error {
	fs := flag.NewFlagSet("sketch-error", flag.ExitOnError)
	n := fs.Int("n", 100000, "number of observations to insert")
	maxValue := fs.Int("max-value", 1_000_000, "maximum observation value")
	accuracy := fs.Float64("ddsketch-accuracy", 0.01, "DDSketch relative accuracy for comparison")
	fs.Parse(args)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	values := make([]uint64, *n)
	for i := range values {
		values[i] = uint64(rng.Intn(*maxValue))
	}

	sk := quantile.New()
	dd, err := ddsketch.NewDefaultDDSketch(*accuracy)
	if err != nil {
		return fmt.Errorf("create reference sketch: %w", err)
	}
	for _, v := range values {
		if err := sk.Insert(v); err != nil {
			return fmt.Errorf("insert into caesium sketch: %w", err)
		}
		if err := dd.Add(float64(v)); err != nil {
			return fmt.Errorf("insert into ddsketch: %w", err)
		}
	}

	sorted := append([]uint64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	phis := []float64{0.5, 0.9, 0.95, 0.99, 0.999}
	fmt.Printf("%-8s %12s %12s %12s %10s %10s\n", "phi", "exact", "caesium", "ddsketch", "cs_err", "dd_err")
	for _, phi := range phis {
		exact := exactQuantile(sorted, phi)

		csVal, err := sk.Quantile(phi)
		if err != nil {
			return fmt.Errorf("caesium quantile(%v): %w", phi, err)
		}
		ddVal, err := dd.GetValueAtQuantile(phi)
		if err != nil {
			return fmt.Errorf("ddsketch quantile(%v): %w", phi, err)
		}

		csErr := relError(float64(csVal), exact)
		ddErr := relError(ddVal, exact)
		fmt.Printf("%-8.3f %12.1f %12d %12.1f %9.4f%% %9.4f%%\n",
			phi, exact, csVal, ddVal, csErr*100, ddErr*100)
	}
	return nil
}

func exactQuantile(sorted []uint64, phi float64) float64 {
	idx := int(phi * float64(len(sorted)-1))
	return float64(sorted[idx])
}

func relError(got, want float64) float64 {
	if want == 0 {
		return 0
	}
	return math.Abs(got-want) / want
}
