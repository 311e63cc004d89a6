package metrics

import (
	"strings"
	"testing"
)

func TestCounter_ReturnsSameInstance(t *testing.T) {
	c := NewRegistry()
	a := c.Counter("test_total", "help", "")
	b := c.Counter("test_total", "help", "")
	a.Inc()
	b.Add(2)
	if a != b {
		t.Fatal("expected the same counter instance for the same key")
	}
	if a.Value() != 3 {
		t.Fatalf("expected 3, got %d", a.Value())
	}
}

func TestGauge_IncDecSet(t *testing.T) {
	c := NewRegistry()
	g := c.Gauge("test_gauge", "help", "")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Fatalf("expected 1, got %d", g.Value())
	}
	g.Set(42)
	if g.Value() != 42 {
		t.Fatalf("expected 42, got %d", g.Value())
	}
}

func TestHistogram_Buckets(t *testing.T) {
	c := NewRegistry()
	h := c.Histogram("test_latency_seconds", "help", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(5)

	if h.Count() != 3 {
		t.Fatalf("expected 3 observations, got %d", h.Count())
	}
	var sb strings.Builder
	if _, err := c.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	for _, want := range []string{
		`test_latency_seconds_bucket{le="0.1"} 1`,
		`test_latency_seconds_bucket{le="1"} 2`,
		`test_latency_seconds_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteTo_ExpositionFormat(t *testing.T) {
	r := NewRegistry()
	r.Counter("docs_total", "Documents", "").Inc()
	r.Counter("chunks_total", "Chunks", `doc="1"`).Add(4)
	r.Counter("chunks_total", "Chunks", `doc="2"`).Add(1)

	var sb strings.Builder
	if _, err := r.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	body := sb.String()
	for _, want := range []string{
		"# TYPE docs_total counter",
		"docs_total 1",
		`chunks_total{doc="1"} 4`,
		`chunks_total{doc="2"} 1`,
		"egocoach_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
	if n := strings.Count(body, "# TYPE chunks_total"); n != 1 {
		t.Fatalf("expected one TYPE line per metric name, got %d", n)
	}
	if strings.Index(body, "chunks_total") > strings.Index(body, "docs_total") {
		t.Fatal("expected series sorted by name")
	}
}
