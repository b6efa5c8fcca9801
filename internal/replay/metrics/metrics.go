package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for snapshot reconstruction.
type Metrics struct {
	Reconstructions        prometheus.Counter
	ReconstructionFailures prometheus.Counter
	TransactionsFolded     prometheus.Counter
	UntrackedMutations     prometheus.Counter
	ReconstructionDuration prometheus.Histogram
}

// New creates a new Metrics instance with all replay metrics registered.
func New() *Metrics {
	return &Metrics{
		Reconstructions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_reconstructions_total",
			Help: "Total number of completed snapshot reconstructions",
		}),
		ReconstructionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_reconstruction_failures_total",
			Help: "Total number of reconstructions aborted by a fatal error",
		}),
		TransactionsFolded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_reconstruction_transactions_folded_total",
			Help: "Total number of commit log transactions folded into snapshots",
		}),
		UntrackedMutations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_reconstruction_untracked_mutations_total",
			Help: "Total number of log mutations skipped because their kind was not tracked",
		}),
		ReconstructionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "zonecore_reconstruction_duration_seconds",
			Help:    "Duration of snapshot reconstructions",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// ObserveReconstruction records one successful reconstruction.
// Call with time.Now() captured at the start of the operation.
func (m *Metrics) ObserveReconstruction(start time.Time, transactions int) {
	m.Reconstructions.Inc()
	m.TransactionsFolded.Add(float64(transactions))
	m.ReconstructionDuration.Observe(time.Since(start).Seconds())
}

// IncrementFailures records an aborted reconstruction.
func (m *Metrics) IncrementFailures() {
	m.ReconstructionFailures.Inc()
}

// AddUntracked records skipped mutations of untracked kinds.
func (m *Metrics) AddUntracked(n int) {
	if n > 0 {
		m.UntrackedMutations.Add(float64(n))
	}
}
