// Package metrics provides a lightweight, Prometheus-compatible metrics
// collector for the sync engine. It renders text/plain in Prometheus
// exposition format without pulling in prometheus/client_golang.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide metrics collector.
var Collector = NewCollector()

// Sync engine metric set.
var (
	SyncCycles       = Collector.Counter("tglite_sync_cycles_total", "Completed poll/merge/persist cycles")
	SyncFailures     = Collector.Counter("tglite_sync_failures_total", "Poll cycles that ended in an error")
	EventsPolled     = Collector.Counter("tglite_events_polled_total", "Raw events received from the upstream source")
	RecordsAppended  = Collector.Counter("tglite_records_appended_total", "New records appended to the message log")
	DedupHits        = Collector.Counter("tglite_dedup_hits_total", "Events dropped as already-ingested duplicates")
	WriteConflicts   = Collector.Counter("tglite_write_conflicts_total", "Conditional writes rejected with a stale revision tag")
	PersistFailures  = Collector.Counter("tglite_persist_failures_total", "Documents whose persist exhausted the retry bound")
	LogRecords       = Collector.Gauge("tglite_log_records", "Records in the last observed message log")
	RosterEntries    = Collector.Gauge("tglite_roster_entries", "Entries in the last observed roster")
	SyncDuration     = Collector.Histogram("tglite_sync_duration_seconds", "Duration of one sync cycle", []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	DispatchFailures = Collector.Counter("tglite_dispatch_failures_total", "Outbound dispatches rejected or failed")
)

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Hist
	startTime  time.Time
}

func NewCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Hist),
		startTime:  time.Now(),
	}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Hist tracks the distribution of observed values.
type Hist struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

func (h *Hist) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

func (c *MetricsCollector) Counter(name, help string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[name]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help}
	c.counters[name] = ctr
	return ctr
}

func (c *MetricsCollector) Gauge(name, help string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	c.gauges[name] = g
	return g
}

func (c *MetricsCollector) Histogram(name, help string, buckets []float64) *Hist {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[name]; ok {
		return h
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Hist{name: name, help: help, buckets: hb}
	c.histograms[name] = h
	return h
}

// Handler renders all registered metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP tglite_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE tglite_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "tglite_uptime_seconds %d\n", int64(time.Since(c.startTime).Seconds()))

		c.mu.Lock()
		counters := sortedKeys(c.counters)
		gauges := sortedKeys(c.gauges)
		hists := sortedKeys(c.histograms)
		c.mu.Unlock()

		for _, name := range counters {
			ctr := c.counters[name]
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, ctr.help, name, name, ctr.Value())
		}
		for _, name := range gauges {
			g := c.gauges[name]
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, g.help, name, name, g.Value())
		}
		for _, name := range hists {
			h := c.histograms[name]
			h.mu.Lock()
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", name, h.help, name)
			for _, b := range h.buckets {
				fmt.Fprintf(&sb, "%s_bucket{le=%q} %d\n", name, fmt.Sprintf("%g", b.le), b.count)
			}
			fmt.Fprintf(&sb, "%s_bucket{le=\"+Inf\"} %d\n", name, h.count)
			fmt.Fprintf(&sb, "%s_sum %g\n", name, h.sum)
			fmt.Fprintf(&sb, "%s_count %d\n", name, h.count)
			h.mu.Unlock()
		}

		_, _ = w.Write([]byte(sb.String()))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
