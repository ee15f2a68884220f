package exec

import (
	"fmt"

	cserrors "github.com/wedaly/caesium/internal/errors"
	"github.com/wedaly/caesium/internal/query/lang"
	"github.com/wedaly/caesium/internal/storage/store"
)

// Source is the window store surface the executor needs. store.Store
// satisfies it directly.
type Source interface {
	Fetch(metric string, lo, hi *uint64) ([]store.Window, error)
	Search(pattern string) ([]string, error)
}

// Build compiles a window-stream-producing AST node into a Stream.
// The parser's static type check guarantees expr.Kind() is
// lang.KindWindowStream for every node reachable from here; Quantile
// and Search are handled one level up, by the query Service.
func Build(expr lang.Expr, src Source) (Stream, error) {
	switch e := expr.(type) {
	case *lang.Fetch:
		return buildFetch(e, src)
	case *lang.Coalesce:
		input, err := Build(e.Input, src)
		if err != nil {
			return nil, err
		}
		return &coalesceStream{input: input}, nil
	case *lang.Combine:
		inputs := make([]Stream, len(e.Inputs))
		for i, in := range e.Inputs {
			s, err := Build(in, src)
			if err != nil {
				return nil, err
			}
			inputs[i] = s
		}
		return newCombineStream(inputs), nil
	case *lang.Group:
		input, err := Build(e.Input, src)
		if err != nil {
			return nil, err
		}
		return newGroupStream(toExecBucket(e.Bucket), input), nil
	default:
		return nil, fmt.Errorf("exec: %T is not a window-stream expression", expr)
	}
}

func buildFetch(e *lang.Fetch, src Source) (Stream, error) {
	var lo, hi *uint64
	if e.Bounded {
		lo, hi = &e.Lo, &e.Hi
	}
	windows, err := src.Fetch(e.Metric, lo, hi)
	if err != nil {
		if cserrors.IsNotFound(err) {
			return newSliceStream(nil), nil
		}
		return nil, err
	}
	return newSliceStream(windows), nil
}

func toExecBucket(b lang.GroupBucket) GroupBucket {
	switch b {
	case lang.GroupMinutes:
		return GroupMinutes
	case lang.GroupHours:
		return GroupHours
	case lang.GroupDays:
		return GroupDays
	default:
		return GroupMinutes
	}
}
