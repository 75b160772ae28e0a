package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gigledger",
		Subsystem: "dispatch",
		Name:      "items_ingested_total",
		Help:      "Total work item snapshots ingested, labelled by platform and outcome.",
	}, []string{"platform", "outcome"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gigledger",
		Subsystem: "engine",
		Name:      "transitions_total",
		Help:      "Total status transitions applied, labelled by entity and target status.",
	}, []string{"entity", "to"})

	TransitionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gigledger",
		Subsystem: "engine",
		Name:      "transition_rejections_total",
		Help:      "Total transitions rejected by the legality tables.",
	}, []string{"entity"})

	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gigledger",
		Subsystem: "ratelimit",
		Name:      "denials_total",
		Help:      "Total actions denied by a full fixed window.",
	}, []string{"limit_type"})

	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gigledger",
		Subsystem: "ledger",
		Name:      "entries_total",
		Help:      "Total ledger entries appended, labelled by kind.",
	}, []string{"kind"})

	LedgerNetCents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gigledger",
		Subsystem: "ledger",
		Name:      "net_cents_total",
		Help:      "Cumulative net cents recorded, labelled by kind.",
	}, []string{"kind"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gigledger",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "API request latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "path", "status"})
)
