package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set carries the orchestration counters. Components receive it at
// construction; nothing registers against the global default registry.
type Set struct {
	SubmissionsTotal   *prometheus.CounterVec
	FinalizationsTotal *prometheus.CounterVec
	ProviderErrors     *prometheus.CounterVec
	PollsTotal         prometheus.Counter
	RefundsTotal       prometheus.Counter
	DuplicateFinalizes prometheus.Counter
}

// New registers the metric set with the given registerer.
func New(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_jobs_submitted_total",
				Help: "Jobs submitted, partitioned by completion path.",
			},
			[]string{"path"},
		),
		FinalizationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_jobs_finalized_total",
				Help: "Jobs finalized, partitioned by terminal status and finalizer source.",
			},
			[]string{"status", "source"},
		),
		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "generation_provider_errors_total",
				Help: "Provider call failures, partitioned by taxonomy code.",
			},
			[]string{"code"},
		),
		PollsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "generation_polls_total",
				Help: "Status polls issued against the provider.",
			},
		),
		RefundsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "generation_refunds_total",
				Help: "Refunds issued for failed charged jobs.",
			},
		),
		DuplicateFinalizes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "generation_duplicate_finalizes_total",
				Help: "Finalize attempts that lost the terminal compare-and-set.",
			},
		),
	}
}
