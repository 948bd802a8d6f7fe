package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicketsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketero_tickets_created_total",
			Help: "Tickets created, by queue type",
		},
		[]string{"queue"},
	)

	TicketsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketero_tickets_completed_total",
			Help: "Tickets completed, by queue type",
		},
		[]string{"queue"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketero_processing_duration_seconds",
			Help:    "Full ticket processing time, by queue type",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"queue"},
	)

	ProcessingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketero_processing_errors_total",
			Help: "Processing failures, by queue type and kind",
		},
		[]string{"queue", "kind"}, // no_advisor | fatal
	)

	OutboxPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketero_outbox_published_total",
			Help: "Outbox delivery outcomes",
		},
		[]string{"outcome"}, // sent | retry | failed
	)

	RecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketero_recoveries_total",
			Help: "Advisor recoveries, by recovery type",
		},
		[]string{"type"},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		TicketsCreated,
		TicketsCompleted,
		ProcessingDuration,
		ProcessingErrors,
		OutboxPublished,
		RecoveriesTotal,
	)
}
