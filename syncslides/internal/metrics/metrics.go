package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	promNamespace = "syncslides"
)

var (
	durationBuckets = []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10, 20, 60} // 15 items

	operationDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: promNamespace,
		Name:      "operation_duration_seconds",
		Buckets:   durationBuckets,
	}, []string{"op", "name"})

	operationStatusCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "operation_status",
	}, []string{"op", "status"})

	activeWatchesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "active_watches",
	}, []string{"name"})

	feedEventsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "feed_events_total",
	}, []string{"name", "kind"})

	listenersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "listeners",
	}, []string{"name"})
)

func TrackDuration(operation string) func() {
	return TrackNamedDuration(operation, "")
}

func TrackNamedDuration(operation, name string) func() {
	start := time.Now()
	return func() {
		operationDurationHistogram.WithLabelValues(operation, name).Observe(time.Since(start).Seconds())
	}
}

func TrackStatus(operation, status string) {
	operationStatusCounter.WithLabelValues(operation, status).Inc()
}

// TrackWatch marks a background watch as running until the returned func is called.
func TrackWatch(name string) (stop func()) {
	g := activeWatchesGauge.WithLabelValues(name)
	g.Inc()
	return g.Dec
}

func TrackFeedEvent(name, kind string) {
	feedEventsCounter.WithLabelValues(name, kind).Inc()
}

func SetListeners(name string, count int) {
	listenersGauge.WithLabelValues(name).Set(float64(count))
}
