package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ResponsesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_responses_recorded_total",
		Help: "Response batches handed to storage, by outcome.",
	}, []string{"outcome"})

	AttemptsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_attempts_completed_total",
		Help: "Attempts that left the in-progress state, by trigger.",
	}, []string{"reason"})

	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiz_live_sessions",
		Help: "Delivery sessions currently held in memory.",
	})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_events_dropped_total",
		Help: "Bus events no handler received, by event name.",
	}, []string{"event"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiz_catalog_cache_lookups_total",
		Help: "Catalog cache lookups, by cache and result.",
	}, []string{"cache", "result"})
)
