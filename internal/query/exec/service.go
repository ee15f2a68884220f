package exec

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	cserrors "github.com/wedaly/caesium/internal/errors"
	"github.com/wedaly/caesium/internal/query/lang"
	"github.com/wedaly/caesium/internal/storage/store"
	"golang.org/x/sync/singleflight"
)

// DefaultDeadline is the query time budget used when the caller's
// context carries no deadline of its own.
const DefaultDeadline = 30 * time.Second

// ResultKind identifies which of Result's fields is populated.
type ResultKind int

const (
	ResultQuantileTable ResultKind = iota
	ResultMetricList
)

// Result is the outcome of evaluating a top-level query expression.
// A query must evaluate to either a quantile table or a metric list;
// the wire protocol defines a payload for each but none for a bare
// window stream, so a top-level fetch/coalesce/combine/group is a
// usage error caught here, not at parse time.
type Result struct {
	Kind    ResultKind
	Rows    []QuantileRow
	Metrics []string
}

// Stats holds query service statistics.
type Stats struct {
	QueriesExecuted atomic.Int64
	QueriesFailed   atomic.Int64
	QueriesDeduped  atomic.Int64
	DeadlineExpired atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats, safe to pass by value.
type StatsSnapshot struct {
	QueriesExecuted int64
	QueriesFailed   int64
	QueriesDeduped  int64
	DeadlineExpired int64
}

// Service parses and evaluates query text against a Source, merging
// identical concurrent queries with singleflight the way the teacher
// merges identical concurrent config lookups.
type Service struct {
	src      Source
	group    singleflight.Group
	deadline time.Duration
	stats    Stats
}

// New returns a Service evaluating queries against src.
func New(src Source) *Service {
	return &Service{src: src, deadline: DefaultDeadline}
}

// Query parses and evaluates a single query string.
func (s *Service) Query(ctx context.Context, queryText string) (*Result, error) {
	v, err, shared := s.group.Do(queryText, func() (interface{}, error) {
		return s.execute(ctx, queryText)
	})
	if shared {
		s.stats.QueriesDeduped.Add(1)
	}
	if err != nil {
		s.stats.QueriesFailed.Add(1)
		return nil, err
	}
	s.stats.QueriesExecuted.Add(1)
	return v.(*Result), nil
}

func (s *Service) execute(ctx context.Context, queryText string) (*Result, error) {
	expr, err := lang.Parse(queryText)
	if err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deadline)
		defer cancel()
	}

	switch e := expr.(type) {
	case *lang.Search:
		names, err := s.src.Search(e.Pattern)
		if err != nil {
			return nil, err
		}
		return &Result{Kind: ResultMetricList, Metrics: names}, nil
	case *lang.Quantile:
		stream, err := Build(e.Input, s.src)
		if err != nil {
			return nil, err
		}
		rows, err := EvalQuantile(&ctxStream{ctx: ctx, inner: stream}, e.Phis)
		if err != nil {
			if ctx.Err() != nil {
				s.stats.DeadlineExpired.Add(1)
			}
			return nil, err
		}
		return &Result{Kind: ResultQuantileTable, Rows: rows}, nil
	default:
		return nil, fmt.Errorf("query must produce a quantile table or a metric list, wrap it in quantile(...): %w", cserrors.ErrQueryType)
	}
}

// Stats returns a snapshot of the service's running counters.
func (s *Service) Stats() StatsSnapshot {
	return StatsSnapshot{
		QueriesExecuted: s.stats.QueriesExecuted.Load(),
		QueriesFailed:   s.stats.QueriesFailed.Load(),
		QueriesDeduped:  s.stats.QueriesDeduped.Load(),
		DeadlineExpired: s.stats.DeadlineExpired.Load(),
	}
}

// ctxStream aborts a Stream at the next window boundary once ctx's
// deadline has passed, per the executor's cancellation contract: the
// abort is checked between windows, never mid-computation.
type ctxStream struct {
	ctx   context.Context
	inner Stream
}

func (c *ctxStream) Next() (store.Window, bool, error) {
	if err := c.ctx.Err(); err != nil {
		return store.Window{}, false, err
	}
	return c.inner.Next()
}
