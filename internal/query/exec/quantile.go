package exec

import (
	"github.com/wedaly/caesium/internal/storage/store"
)

// QuantileRow is one row of a quantile table: the requested phis
// evaluated against a single window's sketch.
type QuantileRow struct {
	Start, End uint64
	Phis       []float64
	Values     []uint64
}

// EvalQuantile drains stream and evaluates phis against every window,
// in start order.
func EvalQuantile(stream Stream, phis []float64) ([]QuantileRow, error) {
	var rows []QuantileRow
	for {
		w, ok, err := stream.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return rows, nil
		}
		values, err := quantileValues(w, phis)
		if err != nil {
			return nil, err
		}
		rows = append(rows, QuantileRow{Start: w.Start, End: w.End, Phis: phis, Values: values})
	}
}

func quantileValues(w store.Window, phis []float64) ([]uint64, error) {
	return w.Sketch.MultiQuantile(phis...)
}
