// Package metrics constructs the metrics the application will track.
package metrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// This holds the single instance of the metrics value needed for
// collecting metrics. The prometheus registry is never shared with the
// default one so a dependency can't publish into it.
var m *metrics

// =============================================================================

// metrics represents the set of metrics we gather. These fields are
// safe to be accessed concurrently thanks to prometheus.
type metrics struct {
	registry   *prometheus.Registry
	goroutines prometheus.GaugeFunc
	requests   prometheus.Counter
	errors     prometheus.Counter
	panics     prometheus.Counter
	blocks     *prometheus.CounterVec
	height     prometheus.Gauge
}

// init constructs the metrics value that will be used to capture metrics.
// The metrics value is stored in a package level variable since everything
// is accessed through the same registry.
func init() {
	m = newMetrics()
}

func newMetrics() *metrics {
	m := metrics{
		registry: prometheus.NewRegistry(),
		goroutines: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "btcnode_goroutines",
			Help: "Number of goroutines currently running.",
		}, func() float64 { return float64(runtime.NumGoroutine()) }),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcnode_requests_total",
			Help: "Number of web requests handled.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcnode_errors_total",
			Help: "Number of web requests that ended in an error.",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "btcnode_panics_total",
			Help: "Number of web requests that panicked.",
		}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "btcnode_blocks_total",
			Help: "Number of blocks handed to the node by outcome.",
		}, []string{"status"}),
		height: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "btcnode_head_height",
			Help: "Height of the head of the chain with the most work.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.goroutines,
		m.requests,
		m.errors,
		m.panics,
		m.blocks,
		m.height,
	)

	return &m
}

// =============================================================================

// AddRequests increments the request count by 1.
func AddRequests() {
	m.requests.Inc()
}

// AddErrors increments the errors count by 1.
func AddErrors() {
	m.errors.Inc()
}

// AddPanics increments the panics count by 1.
func AddPanics() {
	m.panics.Inc()
}

// AddBlock counts a block handed to the node under its outcome, for
// example accepted, orphaned, duplicate or rejected.
func AddBlock(status string) {
	m.blocks.WithLabelValues(status).Inc()
}

// SetHeadHeight records the height of the current head.
func SetHeadHeight(height uint64) {
	m.height.Set(float64(height))
}

// Handler returns the http handler that exposes the metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
