package lang

import (
	"errors"
	"testing"

	cserrors "github.com/wedaly/caesium/internal/errors"
)

func TestParseFetchUnbounded(t *testing.T) {
	e, err := Parse(`fetch(app.web.latency_ms)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f, ok := e.(*Fetch)
	if !ok {
		t.Fatalf("expected *Fetch, got %T", e)
	}
	if f.Metric != "app.web.latency_ms" || f.Bounded {
		t.Errorf("unexpected fetch: %+v", f)
	}
}

func TestParseFetchBounded(t *testing.T) {
	e, err := Parse(`fetch("app.web.latency_ms", 1000, 2000)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := e.(*Fetch)
	if !f.Bounded || f.Lo != 1000 || f.Hi != 2000 {
		t.Errorf("unexpected fetch: %+v", f)
	}
}

func TestParseCoalesceWrapsFetch(t *testing.T) {
	e, err := Parse(`coalesce(fetch(x))`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, ok := e.(*Coalesce)
	if !ok {
		t.Fatalf("expected *Coalesce, got %T", e)
	}
	if _, ok := c.Input.(*Fetch); !ok {
		t.Errorf("expected Coalesce.Input to be *Fetch, got %T", c.Input)
	}
}

func TestParseCombineRequiresTwoInputs(t *testing.T) {
	_, err := Parse(`combine(fetch(x))`)
	if err == nil {
		t.Fatal("expected an error for combine with a single input")
	}
	if !errors.Is(err, cserrors.ErrQuerySyntax) {
		t.Errorf("expected a syntax error, got %v", err)
	}
}

func TestParseCombineTwoInputs(t *testing.T) {
	e, err := Parse(`combine(fetch(x), fetch(y))`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c := e.(*Combine)
	if len(c.Inputs) != 2 {
		t.Fatalf("expected 2 inputs, got %d", len(c.Inputs))
	}
}

func TestParseGroupBuckets(t *testing.T) {
	for _, tc := range []struct {
		src    string
		bucket GroupBucket
	}{
		{`group(minutes, fetch(x))`, GroupMinutes},
		{`group(hours, fetch(x))`, GroupHours},
		{`group(days, fetch(x))`, GroupDays},
	} {
		e, err := Parse(tc.src)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.src, err)
		}
		g := e.(*Group)
		if g.Bucket != tc.bucket {
			t.Errorf("Parse(%q): expected bucket %v, got %v", tc.src, tc.bucket, g.Bucket)
		}
	}
}

func TestParseGroupRejectsUnknownBucket(t *testing.T) {
	_, err := Parse(`group(weeks, fetch(x))`)
	if err == nil || !errors.Is(err, cserrors.ErrQuerySyntax) {
		t.Fatalf("expected a syntax error for unknown bucket, got %v", err)
	}
}

func TestParseSearchReturnsMetricList(t *testing.T) {
	e, err := Parse(`search("app.*.latency_ms")`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s := e.(*Search)
	if s.Pattern != "app.*.latency_ms" || s.Kind() != KindMetricList {
		t.Errorf("unexpected search: %+v", s)
	}
}

func TestParseQuantileSingle(t *testing.T) {
	e, err := Parse(`quantile(fetch(x), 0.99)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	q := e.(*Quantile)
	if len(q.Phis) != 1 || q.Phis[0] != 0.99 {
		t.Errorf("unexpected phis: %+v", q.Phis)
	}
}

func TestParseQuantileMultiplePhis(t *testing.T) {
	e, err := Parse(`quantile(fetch(x), 0.5, 0.9, 0.99)`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	q := e.(*Quantile)
	if len(q.Phis) != 3 {
		t.Fatalf("expected 3 phis, got %d", len(q.Phis))
	}
}

func TestParseQuantileRejectsOutOfRangePhi(t *testing.T) {
	for _, src := range []string{
		`quantile(fetch(x), 0)`,
		`quantile(fetch(x), 1)`,
		`quantile(fetch(x), 1.5)`,
	} {
		_, err := Parse(src)
		if err == nil || !errors.Is(err, cserrors.ErrBadQuantile) {
			t.Errorf("Parse(%q): expected ErrBadQuantile, got %v", src, err)
		}
	}
}

func TestParseQuantileRequiresAtLeastOnePhi(t *testing.T) {
	_, err := Parse(`quantile(fetch(x))`)
	if err == nil || !errors.Is(err, cserrors.ErrQuerySyntax) {
		t.Fatalf("expected a syntax error, got %v", err)
	}
}

func TestParseQuantileInsideFetchIsTypeError(t *testing.T) {
	// quantile() is not a valid set_expr operand anywhere a window
	// stream is required: combine, coalesce, and group all reject it
	// the same way fetch would if it accepted expression arguments.
	_, err := Parse(`coalesce(quantile(fetch(x), 0.5))`)
	if err == nil || !errors.Is(err, cserrors.ErrQueryType) {
		t.Fatalf("expected a type error, got %v", err)
	}
}

func TestParseSearchInsideCombineIsTypeError(t *testing.T) {
	_, err := Parse(`combine(fetch(x), search("app.*"))`)
	if err == nil || !errors.Is(err, cserrors.ErrQueryType) {
		t.Fatalf("expected a type error since search produces a metric list, got %v", err)
	}
}

func TestParseUnknownFunctionIsSyntaxError(t *testing.T) {
	_, err := Parse(`frobnicate(x)`)
	if err == nil || !errors.Is(err, cserrors.ErrQuerySyntax) {
		t.Fatalf("expected a syntax error, got %v", err)
	}
}

func TestParseTrailingGarbageIsSyntaxError(t *testing.T) {
	_, err := Parse(`fetch(x) extra`)
	if err == nil || !errors.Is(err, cserrors.ErrQuerySyntax) {
		t.Fatalf("expected a syntax error for trailing input, got %v", err)
	}
}

func TestParseMissingCommaIsSyntaxError(t *testing.T) {
	for _, src := range []string{
		`fetch(x,)`,
		`fetch(,x)`,
		`combine(fetch(x) fetch(y))`,
	} {
		_, err := Parse(src)
		if err == nil {
			t.Errorf("Parse(%q): expected an error", src)
		}
	}
}

func TestParseEmptyInputIsSyntaxError(t *testing.T) {
	_, err := Parse(``)
	if err == nil || !errors.Is(err, cserrors.ErrQuerySyntax) {
		t.Fatalf("expected a syntax error for empty input, got %v", err)
	}
}

func TestParseSearchTopLevelIsAllowed(t *testing.T) {
	// search() is a valid top-level query even though it cannot be
	// nested where a window stream is expected.
	e, err := Parse(`search("app.*")`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if e.Kind() != KindMetricList {
		t.Errorf("expected KindMetricList, got %v", e.Kind())
	}
}
