// Package telemetry keeps in-process metrics and serves them in the
// Prometheus text exposition format.
package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/erqueue/erqueue/internal/platform/notify"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export.
type histogram struct {
	boundaries   []float64
	mu           sync.Mutex
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{boundaries: boundaries, bucketCounts: make([]int64, len(boundaries))}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		if atomic.CompareAndSwapUint64(&h.sum, old, math.Float64bits(math.Float64frombits(old)+v)) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

type requestKey struct {
	method, route, status string
}

// GaugeFunc is evaluated on every scrape.
type GaugeFunc func(ctx context.Context) (float64, error)

type gauge struct {
	name, help string
	fn         GaugeFunc
}

// Metrics records HTTP request durations, change events by kind, and
// scrape-time gauges. It implements notify.Sink.
type Metrics struct {
	logger zerolog.Logger
	active int64

	mu       sync.RWMutex
	requests map[requestKey]*histogram
	events   map[notify.Kind]*int64
	gauges   []gauge
}

func New(logger zerolog.Logger) *Metrics {
	return &Metrics{
		logger:   logger.With().Str("component", "telemetry").Logger(),
		requests: make(map[requestKey]*histogram),
		events:   make(map[notify.Kind]*int64),
	}
}

// RegisterGauge adds a gauge computed by fn at scrape time. name should
// follow Prometheus conventions.
func (m *Metrics) RegisterGauge(name, help string, fn GaugeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges = append(m.gauges, gauge{name: name, help: help, fn: fn})
}

func (m *Metrics) Name() string { return "telemetry" }

func (m *Metrics) Deliver(_ context.Context, ev notify.Event) error {
	m.mu.RLock()
	c, ok := m.events[ev.Kind]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if c, ok = m.events[ev.Kind]; !ok {
			c = new(int64)
			m.events[ev.Kind] = c
		}
		m.mu.Unlock()
	}
	atomic.AddInt64(c, 1)
	return nil
}

// EventCount returns how many events of kind have been delivered.
func (m *Metrics) EventCount(kind notify.Kind) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.events[kind]; ok {
		return atomic.LoadInt64(c)
	}
	return 0
}

func (m *Metrics) requestHistogram(k requestKey) *histogram {
	m.mu.RLock()
	h, ok := m.requests[k]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok = m.requests[k]; !ok {
		h = newHistogram(defaultDurationBuckets)
		m.requests[k] = h
	}
	return h
}

// Middleware times each request by method, route pattern and status. It must
// run outside the middleware that resolves handler errors into responses.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			defer atomic.AddInt64(&m.active, -1)

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			k := requestKey{method: c.Request().Method, route: route, status: strconv.Itoa(c.Response().Status)}
			m.requestHistogram(k).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.write(c.Request().Context(), &b)
		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func (m *Metrics) write(ctx context.Context, b *strings.Builder) {
	m.mu.RLock()
	keys := make([]requestKey, 0, len(m.requests))
	for k := range m.requests {
		keys = append(keys, k)
	}
	kinds := make([]string, 0, len(m.events))
	for k := range m.events {
		kinds = append(kinds, string(k))
	}
	gauges := append([]gauge(nil), m.gauges...)
	m.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		if keys[i].method != keys[j].method {
			return keys[i].method < keys[j].method
		}
		return keys[i].status < keys[j].status
	})
	sort.Strings(kinds)

	const reqName = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", reqName)
	fmt.Fprintf(b, "# TYPE %s histogram\n", reqName)
	for _, k := range keys {
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", k.method, k.route, k.status)
		writeHistogram(b, reqName, labels, m.requestHistogram(k))
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

	b.WriteString("# HELP erqueue_events_total Queue change events by kind.\n")
	b.WriteString("# TYPE erqueue_events_total counter\n")
	for _, k := range kinds {
		fmt.Fprintf(b, "erqueue_events_total{kind=%q} %d\n", k, m.EventCount(notify.Kind(k)))
	}
	b.WriteByte('\n')

	for _, g := range gauges {
		v, err := g.fn(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Str("gauge", g.name).Msg("gauge unavailable")
			continue
		}
		fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n\n", g.name, g.help, g.name, g.name, v)
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
