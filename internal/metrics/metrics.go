// Package metrics holds the Prometheus collectors for feeds and order
// submission.
//
// Exposed series:
//   - orderdesk_feed_fetch_total{feed,result}      fetches by outcome (ok|error)
//   - orderdesk_feed_fetch_duration_seconds{feed}  fetch latency
//   - orderdesk_feed_stale_responses_total{feed}   responses discarded as out of order
//   - orderdesk_feed_state{feed,state}             1 for the feed's current state
//   - orderdesk_orders_submitted_total{side,result} submissions by outcome
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FeedStates lists every value of the state label. Exactly one of them is 1
// for a given feed.
var FeedStates = []string{"idle", "loading", "ready", "failed"}

// Metrics owns a private registry so several instances (one per test) never
// collide.
type Metrics struct {
	registry *prometheus.Registry

	FeedFetches       *prometheus.CounterVec
	FeedFetchDuration *prometheus.HistogramVec
	FeedStale         *prometheus.CounterVec
	FeedState         *prometheus.GaugeVec
	OrdersSubmitted   *prometheus.CounterVec
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FeedFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderdesk_feed_fetch_total",
				Help: "Feed fetches by outcome.",
			},
			[]string{"feed", "result"},
		),
		FeedFetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orderdesk_feed_fetch_duration_seconds",
				Help:    "Feed fetch latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"feed"},
		),
		FeedStale: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderdesk_feed_stale_responses_total",
				Help: "Responses discarded because a newer one was already applied.",
			},
			[]string{"feed"},
		),
		FeedState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orderdesk_feed_state",
				Help: "Current feed state as labeled series (1 for the active state).",
			},
			[]string{"feed", "state"},
		),
		OrdersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orderdesk_orders_submitted_total",
				Help: "Order submissions by side and outcome.",
			},
			[]string{"side", "result"},
		),
	}

	m.registry.MustRegister(
		m.FeedFetches,
		m.FeedFetchDuration,
		m.FeedStale,
		m.FeedState,
		m.OrdersSubmitted,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SetFeedState flips the state series for feed so only state is 1.
func (m *Metrics) SetFeedState(feed, state string) {
	for _, s := range FeedStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.FeedState.WithLabelValues(feed, s).Set(v)
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
