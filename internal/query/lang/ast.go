package lang

// ValueKind classifies what an expression node produces, so the parser
// can reject nonsensical nesting (a quantile table where a window
// stream is required, a metric-name list used as a combine operand).
type ValueKind int

const (
	// KindWindowStream is a lazily-ordered sequence of (start, end, sketch) windows.
	KindWindowStream ValueKind = iota
	// KindQuantileTable is a sequence of (start, end, []value) rows, one value per requested phi.
	KindQuantileTable
	// KindMetricList is a flat list of metric names, produced only by search().
	KindMetricList
)

func (k ValueKind) String() string {
	switch k {
	case KindWindowStream:
		return "window stream"
	case KindQuantileTable:
		return "quantile table"
	case KindMetricList:
		return "metric list"
	default:
		return "unknown"
	}
}

// Expr is a node in the parsed query AST.
type Expr interface {
	Kind() ValueKind
	Pos() int
}

// Fetch loads a metric's stored windows, optionally bounded to [Lo, Hi).
type Fetch struct {
	Metric   string
	Bounded  bool
	Lo, Hi   uint64
	position int
}

func (e *Fetch) Kind() ValueKind { return KindWindowStream }
func (e *Fetch) Pos() int        { return e.position }

// Coalesce merges every window of Input's stream into one window
// covering the whole stream.
type Coalesce struct {
	Input    Expr
	position int
}

func (e *Coalesce) Kind() ValueKind { return KindWindowStream }
func (e *Coalesce) Pos() int        { return e.position }

// Combine merges two or more window streams into one: windows with
// identical boundaries are merged sketch by sketch, disjoint windows
// pass through, and a partial overlap is an error.
type Combine struct {
	Inputs   []Expr
	position int
}

func (e *Combine) Kind() ValueKind { return KindWindowStream }
func (e *Combine) Pos() int        { return e.position }

// GroupBucket names the coarsening granularity for a group() call.
type GroupBucket int

const (
	GroupMinutes GroupBucket = iota
	GroupHours
	GroupDays
)

func (b GroupBucket) String() string {
	switch b {
	case GroupMinutes:
		return "minutes"
	case GroupHours:
		return "hours"
	case GroupDays:
		return "days"
	default:
		return "unknown"
	}
}

// Group re-buckets Input's windows onto the given time granularity,
// merging every window that falls into the same bucket.
type Group struct {
	Bucket   GroupBucket
	Input    Expr
	position int
}

func (e *Group) Kind() ValueKind { return KindWindowStream }
func (e *Group) Pos() int        { return e.position }

// Search returns the metric names matching Pattern, a glob pattern
// matched against the metric namespace.
type Search struct {
	Pattern  string
	position int
}

func (e *Search) Kind() ValueKind { return KindMetricList }
func (e *Search) Pos() int        { return e.position }

// Quantile evaluates Input at each of Phis, producing one quantile
// table column per requested phi.
type Quantile struct {
	Input    Expr
	Phis     []float64
	position int
}

func (e *Quantile) Kind() ValueKind { return KindQuantileTable }
func (e *Quantile) Pos() int        { return e.position }
