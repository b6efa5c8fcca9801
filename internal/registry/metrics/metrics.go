package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registry write path.
type Metrics struct {
	Commits             prometheus.Counter
	CommitFailures      prometheus.Counter
	MutationsCommitted  prometheus.Counter
	FeedPublishFailures prometheus.Counter
	BucketsSealed       prometheus.Counter
	CheckpointAdvances  prometheus.Counter
	PurgeRuns           prometheus.Counter
	CommitDuration      prometheus.Histogram
}

// New creates a new Metrics instance with all registry metrics registered.
func New() *Metrics {
	return &Metrics{
		Commits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_commits_total",
			Help: "Total number of transactions committed to the log",
		}),
		CommitFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_commit_failures_total",
			Help: "Total number of rejected or failed commit attempts",
		}),
		MutationsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_mutations_committed_total",
			Help: "Total number of entity mutations committed",
		}),
		FeedPublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_feed_publish_failures_total",
			Help: "Total number of commit feed publishes that failed after the commit was durable",
		}),
		BucketsSealed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_buckets_sealed_total",
			Help: "Total number of seal passes over the commit log",
		}),
		CheckpointAdvances: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_checkpoint_advances_total",
			Help: "Total number of successful checkpoint advances",
		}),
		PurgeRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_purge_runs_total",
			Help: "Total number of retention purge runs",
		}),
		CommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "zonecore_commit_duration_seconds",
			Help:    "Duration of commit operations",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
