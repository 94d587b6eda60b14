// Package metrics exposes Prometheus instrumentation for ingestion, clash
// detection and calendar sync.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mailclash"

// Sync result labels.
const (
	SyncInserted = "inserted"
	SyncSkipped  = "skipped"
	SyncLinked   = "linked"
	SyncFailed   = "failed"
)

var (
	IngestRuns = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "runs_total",
		Help:      "Completed ingestion runs.",
	})

	AccountFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "account_failures_total",
			Help:      "Accounts skipped during an ingestion run, by cause.",
		},
		[]string{"reason"},
	)

	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refreshes_total",
			Help:      "Access token refresh attempts, by outcome.",
		},
		[]string{"result"},
	)

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingest",
		Name:      "messages_dropped_total",
		Help:      "Candidate messages that yielded no event.",
	})

	Events = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "events",
		Help:      "Events in the unified event set.",
	})

	Clashes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "clashes",
		Help:      "Active clashes awaiting resolution.",
	})

	SyncResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_total",
			Help:      "Calendar sync outcomes per event.",
		},
		[]string{"result"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
