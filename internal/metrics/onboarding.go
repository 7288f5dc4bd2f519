package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTotal counts instance requests by outcome:
	// launched, requeued, exhausted, failed.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_dispatch_total",
			Help: "Instance requests handled by the dispatcher, by outcome",
		},
		[]string{"outcome"},
	)

	// PollTotal counts poll deliveries by observed operation status.
	PollTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_poll_total",
			Help: "Operation polls, by observed operation status",
		},
		[]string{"status"},
	)

	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_dead_letters_total",
			Help: "Dead-letter records written, by reason",
		},
		[]string{"reason"},
	)

	// RegistrationsTotal counts registration attempts by outcome:
	// linked, already_linked, failed.
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_registrations_total",
			Help: "Account registrations, by outcome",
		},
		[]string{"outcome"},
	)

	DecommissionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_decommission_total",
			Help: "Decommission runs, by outcome",
		},
		[]string{"outcome"},
	)

	// CustomResourceTotal counts custom resource events by request type and
	// the status reported back to CloudFormation.
	CustomResourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_custom_resource_events_total",
			Help: "CloudFormation custom resource events, by request type and reported status",
		},
		[]string{"request_type", "status"},
	)

	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboarding_batch_duration_seconds",
			Help:    "Time spent handling one queue batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)
)
