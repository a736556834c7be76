package observability

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type metricKind string

const (
	kindCounter   metricKind = "counter"
	kindGauge     metricKind = "gauge"
	kindHistogram metricKind = "histogram"
)

// DefaultBuckets are latency buckets in seconds, from 1ms to 10s.
var DefaultBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Registry holds metric families and renders them in the Prometheus text
// exposition format.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// family is one metric name with its label names and every label
// combination seen so far.
type family struct {
	name    string
	help    string
	kind    metricKind
	labels  []string
	buckets []float64

	mu     sync.Mutex
	series map[string]*series
}

type series struct {
	labels string // rendered {k="v",...}

	bits atomic.Uint64 // counter and gauge value as float64 bits

	mu     sync.Mutex
	counts []uint64 // cumulative per bucket
	sum    float64
	count  uint64
}

func (r *Registry) register(name, help string, kind metricKind, buckets []float64, labels []string) *family {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.families[name]; ok {
		if f.kind != kind {
			panic(fmt.Sprintf("metric %s registered as %s and %s", name, f.kind, kind))
		}
		return f
	}
	f := &family{
		name:    name,
		help:    help,
		kind:    kind,
		labels:  labels,
		buckets: buckets,
		series:  make(map[string]*series),
	}
	r.families[name] = f
	return f
}

func (f *family) with(values []string) *series {
	if len(values) != len(f.labels) {
		panic(fmt.Sprintf("metric %s: want %d label values, got %d", f.name, len(f.labels), len(values)))
	}
	key := renderLabels(f.labels, values)

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[key]
	if !ok {
		s = &series{labels: key}
		if f.kind == kindHistogram {
			s.counts = make([]uint64, len(f.buckets))
		}
		f.series[key] = s
	}
	return s
}

func (s *series) add(v float64) {
	for {
		old := s.bits.Load()
		if s.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+v)) {
			return
		}
	}
}

func (s *series) value() float64 {
	return math.Float64frombits(s.bits.Load())
}

// CounterVec is a counter family partitioned by labels.
type CounterVec struct{ f *family }

// Counter only goes up.
type Counter struct{ s *series }

// Counter registers a counter family. Registering the same name twice
// returns the existing family.
func (r *Registry) Counter(name, help string, labels ...string) *CounterVec {
	return &CounterVec{r.register(name, help, kindCounter, nil, labels)}
}

// With returns the counter for the given label values, in label order.
func (v *CounterVec) With(values ...string) Counter {
	return Counter{v.f.with(values)}
}

func (c Counter) Inc() { c.s.add(1) }

// Add panics on a negative delta.
func (c Counter) Add(delta float64) {
	if delta < 0 {
		panic("counter cannot decrease")
	}
	c.s.add(delta)
}

func (c Counter) Value() float64 { return c.s.value() }

// GaugeVec is a gauge family partitioned by labels.
type GaugeVec struct{ f *family }

// Gauge can go up and down.
type Gauge struct{ s *series }

func (r *Registry) Gauge(name, help string, labels ...string) *GaugeVec {
	return &GaugeVec{r.register(name, help, kindGauge, nil, labels)}
}

func (v *GaugeVec) With(values ...string) Gauge {
	return Gauge{v.f.with(values)}
}

func (g Gauge) Set(v float64)     { g.s.bits.Store(math.Float64bits(v)) }
func (g Gauge) Add(delta float64) { g.s.add(delta) }
func (g Gauge) Value() float64    { return g.s.value() }

// HistogramVec is a histogram family partitioned by labels.
type HistogramVec struct{ f *family }

// Histogram counts observations into fixed buckets.
type Histogram struct {
	s       *series
	buckets []float64
}

// Histogram registers a histogram family. Nil buckets use DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64, labels ...string) *HistogramVec {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return &HistogramVec{r.register(name, help, kindHistogram, buckets, labels)}
}

func (v *HistogramVec) With(values ...string) Histogram {
	return Histogram{s: v.f.with(values), buckets: v.f.buckets}
}

func (h Histogram) Observe(v float64) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.sum += v
	h.s.count++
	for i, bound := range h.buckets {
		if v <= bound {
			h.s.counts[i]++
		}
	}
}

func (h Histogram) ObserveDuration(d time.Duration) { h.Observe(d.Seconds()) }

func (h Histogram) Count() uint64 {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.count
}

func (h Histogram) Sum() float64 {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.sum
}

// Handler serves the registry as text/plain for Prometheus scrapers.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	})
}

// WriteTo renders every family sorted by name, and each family's series
// sorted by labels. Families without series are still described.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	r.mu.RLock()
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	fams := make([]*family, 0, len(names))
	sort.Strings(names)
	for _, name := range names {
		fams = append(fams, r.families[name])
	}
	r.mu.RUnlock()

	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)
	for _, f := range fams {
		f.write(bw)
	}
	err := bw.Flush()
	return cw.n, err
}

func (f *family) write(w *bufio.Writer) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)

	f.mu.Lock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	all := make([]*series, len(keys))
	for i, k := range keys {
		all[i] = f.series[k]
	}
	f.mu.Unlock()

	for _, s := range all {
		if f.kind != kindHistogram {
			fmt.Fprintf(w, "%s%s %s\n", f.name, s.labels, formatFloat(s.value()))
			continue
		}
		s.mu.Lock()
		for i, bound := range f.buckets {
			fmt.Fprintf(w, "%s_bucket%s %d\n", f.name, withLe(s.labels, formatFloat(bound)), s.counts[i])
		}
		fmt.Fprintf(w, "%s_bucket%s %d\n", f.name, withLe(s.labels, "+Inf"), s.count)
		fmt.Fprintf(w, "%s_sum%s %s\n", f.name, s.labels, formatFloat(s.sum))
		fmt.Fprintf(w, "%s_count%s %d\n", f.name, s.labels, s.count)
		s.mu.Unlock()
	}
}

func renderLabels(names, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(values[i]))
	}
	b.WriteByte('}')
	return b.String()
}

// withLe appends the bucket bound to an already rendered label set.
func withLe(labels, le string) string {
	pair := `le="` + le + `"`
	if labels == "" {
		return "{" + pair + "}"
	}
	return labels[:len(labels)-1] + "," + pair + "}"
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ViewerMetrics are the gopkgview metric families.
type ViewerMetrics struct {
	Registry *Registry

	GraphNodes    Gauge
	GraphEdges    Gauge
	Builds        *CounterVec   // result
	BuildDuration Histogram
	Actions       *CounterVec   // action, result
	Derives       *CounterVec   // result
	Layouts       *CounterVec   // engine, result (ok, error, stale)
	LayoutSeconds *HistogramVec // engine
	EventClients  Gauge
}

// NewViewerMetrics creates the gopkgview metrics on a fresh registry.
func NewViewerMetrics() *ViewerMetrics {
	r := NewRegistry()
	return &ViewerMetrics{
		Registry:      r,
		GraphNodes:    r.Gauge("gopkgview_graph_nodes", "Packages in the current graph").With(),
		GraphEdges:    r.Gauge("gopkgview_graph_edges", "Imports in the current graph").With(),
		Builds:        r.Counter("gopkgview_graph_builds_total", "Import graph builds", "result"),
		BuildDuration: r.Histogram("gopkgview_graph_build_duration_seconds", "Import graph build duration", nil).With(),
		Actions:       r.Counter("gopkgview_actions_total", "UI actions reduced", "action", "result"),
		Derives:       r.Counter("gopkgview_derives_total", "View derivations", "result"),
		Layouts:       r.Counter("gopkgview_layouts_total", "Layout calls completed", "engine", "result"),
		LayoutSeconds: r.Histogram("gopkgview_layout_duration_seconds", "Layout call duration", nil, "engine"),
		EventClients:  r.Gauge("gopkgview_event_clients", "Connected event stream clients").With(),
	}
}

func (m *ViewerMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordBuild records an import graph build. Node and edge gauges keep
// the last successful build.
func (m *ViewerMetrics) RecordBuild(duration time.Duration, nodes, edges int, err error) {
	m.Builds.With(result(err)).Inc()
	m.BuildDuration.ObserveDuration(duration)
	if err != nil {
		return
	}
	m.GraphNodes.Set(float64(nodes))
	m.GraphEdges.Set(float64(edges))
}

// RecordAction records a reduced UI action. Rejected actions are counted
// under result="error".
func (m *ViewerMetrics) RecordAction(action string, err error) {
	m.Actions.With(action, result(err)).Inc()
}

func (m *ViewerMetrics) RecordDerive(err error) {
	m.Derives.With(result(err)).Inc()
}

// RecordLayout records a finished layout call. A superseded result counts
// as stale whether or not it failed.
func (m *ViewerMetrics) RecordLayout(engine string, duration time.Duration, stale bool, err error) {
	res := result(err)
	if stale {
		res = "stale"
	}
	m.Layouts.With(engine, res).Inc()
	m.LayoutSeconds.With(engine).ObserveDuration(duration)
}

var (
	globalMetrics *ViewerMetrics
	metricsOnce   sync.Once
)

// Metrics returns the process-wide metrics.
func Metrics() *ViewerMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewViewerMetrics()
	})
	return globalMetrics
}
