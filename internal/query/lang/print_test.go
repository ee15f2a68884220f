package lang

import "testing"

func TestPrintParseRoundTrip(t *testing.T) {
	cases := []string{
		`fetch("app.web.latency_ms")`,
		`fetch("app.web.latency_ms", 100, 200)`,
		`coalesce(fetch("a.b"))`,
		`combine(fetch("a.b"), fetch("c.d"))`,
		`combine(fetch("a.b"), fetch("c.d"), fetch("e.f"))`,
		`group(hours, fetch("a.b"))`,
		`group(days, coalesce(fetch("a.b", 0, 10)))`,
		`search("app.*")`,
		`quantile(fetch("a.b"), 0.5)`,
		`quantile(combine(fetch("a.b"), fetch("c.d")), 0.5, 0.95, 0.99)`,
	}

	for _, src := range cases {
		expr, err := Parse(src)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", src, err)
		}

		printed := Print(expr)
		reparsed, err := Parse(printed)
		if err != nil {
			t.Fatalf("Parse(Print(%q)) = Parse(%q) failed: %v", src, printed, err)
		}

		if Print(reparsed) != printed {
			t.Fatalf("round trip not stable: %q -> %q -> %q", src, printed, Print(reparsed))
		}
	}
}

func TestPrintEscapesMetricNames(t *testing.T) {
	expr, err := Parse(`fetch("weird\"name")`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	printed := Print(expr)
	reparsed, err := Parse(printed)
	if err != nil {
		t.Fatalf("Parse(Print(...)) failed on %q: %v", printed, err)
	}

	f, ok := reparsed.(*Fetch)
	if !ok {
		t.Fatalf("expected *Fetch, got %T", reparsed)
	}
	if f.Metric != `weird"name` {
		t.Fatalf("metric name corrupted by round trip: %q", f.Metric)
	}
}
