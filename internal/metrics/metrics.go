// Package metrics provides Prometheus instrumentation for the sync daemon.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestDuration tracks backend REST call duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_backend_request_duration_seconds",
			Help:    "Backend REST request duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestsTotal tracks total backend REST calls.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_backend_requests_total",
			Help: "Total backend REST requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RefreshesTotal counts cache refreshes per resource and outcome.
	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_refreshes_total",
			Help: "Cache refreshes by resource and result",
		},
		[]string{"resource", "result"},
	)

	// ImplicitDeletions counts conversations dropped because they vanished from a snapshot.
	ImplicitDeletions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_implicit_deletions_total",
			Help: "Conversations removed because the server stopped returning them",
		},
	)

	// SendsTotal counts composer sends by outcome.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Messages sent through the composer",
		},
		[]string{"result"},
	)

	// CachedConversations is the size of the conversation store.
	CachedConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_cached_conversations",
			Help: "Conversations held in the local cache",
		},
	)

	// PushEventsTotal counts messages received over the push channel.
	PushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_push_events_total",
			Help: "Push channel events by type",
		},
		[]string{"type"},
	)
)

// RecordRequest records metrics for a backend REST call. status is 0 when
// no response was received.
func RecordRequest(method, endpoint string, status int, duration float64) {
	s := strconv.Itoa(status)
	if status == 0 {
		s = "error"
	}
	RequestDuration.WithLabelValues(method, endpoint, s).Observe(duration)
	RequestsTotal.WithLabelValues(method, endpoint, s).Inc()
}

// RecordRefresh records a refresh outcome for a resource.
func RecordRefresh(resource string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RefreshesTotal.WithLabelValues(resource, result).Inc()
}

// RecordSend records a composer send outcome.
func RecordSend(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	SendsTotal.WithLabelValues(result).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
