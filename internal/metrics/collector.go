// Package metrics keeps in-process counters, gauges and latency histograms
// for the knowledge store and renders them in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewRegistry()

type metric interface {
	meta() (name, help, kind string)
	render(sb *strings.Builder)
}

// Registry owns a set of named metrics. Lookups by the same name and
// labels return the same instance.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]metric
	started time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]metric), started: time.Now()}
}

func (r *Registry) getOrAdd(name, labels string, create func() metric) metric {
	key := series(name, labels)
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[key]; ok {
		return m
	}
	m := create()
	r.metrics[key] = m
	return m
}

// Counter returns the counter registered under name and labels, creating it.
func (r *Registry) Counter(name, help, labels string) *Counter {
	return r.getOrAdd(name, labels, func() metric {
		return &Counter{name: name, help: help, labels: labels}
	}).(*Counter)
}

// Gauge returns the gauge registered under name and labels, creating it.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	return r.getOrAdd(name, labels, func() metric {
		return &Gauge{name: name, help: help, labels: labels}
	}).(*Gauge)
}

// Histogram returns the histogram registered under name and labels. Bucket
// bounds only apply when the histogram is first created.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	return r.getOrAdd(name, labels, func() metric {
		sorted := append([]float64(nil), bounds...)
		sort.Float64s(sorted)
		return &Histogram{name: name, help: help, labels: labels, bounds: sorted, counts: make([]int64, len(sorted))}
	}).(*Histogram)
}

// WriteTo renders every metric, ordered by series key.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.Lock()
	keys := make([]string, 0, len(r.metrics))
	for k := range r.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]metric, len(keys))
	for i, k := range keys {
		ordered[i] = r.metrics[k]
	}
	r.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP egocoach_uptime_seconds Seconds since the process started\n")
	fmt.Fprintf(&sb, "# TYPE egocoach_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "egocoach_uptime_seconds %d\n", int64(time.Since(r.started).Seconds()))

	described := make(map[string]bool)
	for _, m := range ordered {
		name, help, kind := m.meta()
		if !described[name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
			described[name] = true
		}
		m.render(&sb)
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Counter only goes up.
type Counter struct {
	name, help, labels string
	value              atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

func (c *Counter) meta() (string, string, string) { return c.name, c.help, "counter" }
func (c *Counter) render(sb *strings.Builder) {
	fmt.Fprintf(sb, "%s %d\n", series(c.name, c.labels), c.Value())
}

// Gauge holds a value that moves both ways, e.g. work in flight.
type Gauge struct {
	name, help, labels string
	value              atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

func (g *Gauge) meta() (string, string, string) { return g.name, g.help, "gauge" }
func (g *Gauge) render(sb *strings.Builder) {
	fmt.Fprintf(sb, "%s %d\n", series(g.name, g.labels), g.Value())
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	name, help, labels string

	mu     sync.Mutex
	bounds []float64
	counts []int64
	total  int64
	sum    float64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

func (h *Histogram) meta() (string, string, string) { return h.name, h.help, "histogram" }

func (h *Histogram) render(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, le := range h.bounds {
		bound := fmt.Sprintf("%g", le)
		if math.IsInf(le, 1) {
			bound = "+Inf"
		}
		labels := `le="` + bound + `"`
		if h.labels != "" {
			labels = h.labels + "," + labels
		}
		fmt.Fprintf(sb, "%s %d\n", series(h.name+"_bucket", labels), h.counts[i])
	}
	fmt.Fprintf(sb, "%s %d\n", series(h.name+"_count", h.labels), h.total)
	fmt.Fprintf(sb, "%s %g\n", series(h.name+"_sum", h.labels), h.sum)
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// Knowledge store metrics.
var (
	DocumentsIngested = Collector.Counter("egocoach_documents_ingested_total", "Documents written to the knowledge store", "")
	ChunksStored      = Collector.Counter("egocoach_chunks_stored_total", "Chunks embedded and stored", "")
	EmbeddingFailures = Collector.Counter("egocoach_embedding_failures_total", "Chunk embeddings that failed and were skipped", "")
	SearchesTotal     = Collector.Counter("egocoach_searches_total", "Similarity searches served", "")
	SearchFailures    = Collector.Counter("egocoach_search_failures_total", "Similarity searches that failed", "")
	IngestionsActive  = Collector.Gauge("egocoach_ingestions_active", "Ingestions currently in progress", "")

	EmbeddingLatency = Collector.Histogram("egocoach_embedding_latency_seconds", "Embedding request latency in seconds", "",
		[]float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10})
	SearchLatency = Collector.Histogram("egocoach_search_latency_seconds", "End-to-end search latency in seconds", "",
		[]float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5})
)
