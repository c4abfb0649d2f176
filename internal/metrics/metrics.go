package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// publishTotal counts Game Record writes by result (ok, failed, unauthenticated)
	publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cheese_sync_publish_total",
		Help: "Game record publishes by result",
	}, []string{"result"})

	// publishDuration tracks store write latency
	publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cheese_sync_publish_duration_seconds",
		Help:    "Game record write latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	// snapshotTotal counts delivered snapshots by classification
	snapshotTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cheese_sync_snapshot_total",
		Help: "Delivered game record snapshots by decision",
	}, []string{"decision"})

	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cheese_sync_active_subscriptions",
		Help: "Live game record subscriptions",
	})

	subscriptionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cheese_sync_subscription_errors_total",
		Help: "Game record subscriptions that failed",
	})

	movesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cheese_session_moves_total",
		Help: "Move attempts by outcome",
	}, []string{"outcome"})

	connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cheese_play_connections",
		Help: "Open play websocket connections",
	})
)

// Recorder receives sync and session events. The zero value of Prometheus is the default.
type Recorder interface {
	Publish(result string, seconds float64)
	Snapshot(decision string)
	SubscriptionOpened()
	SubscriptionClosed()
	SubscriptionFailed()
	Move(outcome string)
}

type Prometheus struct{}

func (Prometheus) Publish(result string, seconds float64) {
	publishTotal.WithLabelValues(result).Inc()
	if seconds > 0 {
		publishDuration.Observe(seconds)
	}
}

func (Prometheus) Snapshot(decision string) { snapshotTotal.WithLabelValues(decision).Inc() }
func (Prometheus) SubscriptionOpened()      { activeSubscriptions.Inc() }
func (Prometheus) SubscriptionClosed()      { activeSubscriptions.Dec() }
func (Prometheus) SubscriptionFailed()      { subscriptionErrors.Inc() }
func (Prometheus) Move(outcome string)      { movesTotal.WithLabelValues(outcome).Inc() }

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(string, float64) {}
func (Nop) Snapshot(string)         {}
func (Nop) SubscriptionOpened()     {}
func (Nop) SubscriptionClosed()     {}
func (Nop) SubscriptionFailed()     {}
func (Nop) Move(string)             {}

func ConnectionOpened() { connections.Inc() }
func ConnectionClosed() { connections.Dec() }

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }
