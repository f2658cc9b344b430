// Package metrics exposes Prometheus instrumentation for compaction,
// recovery, checkpointing, and maintenance activity.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jayusctrojan/ctxpg/hooks"
	"github.com/jayusctrojan/ctxpg/recovery"
	"github.com/jayusctrojan/ctxpg/types"
)

const namespace = "ctxpg"

// Metrics holds every collector the library records into. Collectors are
// registered on the given registerer at construction time.
type Metrics struct {
	CompactionsTotal  *prometheus.CounterVec
	CompactionTokens  *prometheus.HistogramVec
	ReductionPercent  prometheus.Histogram
	CompactionCostUSD prometheus.Counter

	RecoveriesTotal  *prometheus.CounterVec
	RecoveryAttempts prometheus.Histogram

	CheckpointsTotal *prometheus.CounterVec
	RestoresTotal    prometheus.Counter

	ArchivesTotal prometheus.Counter

	SweepDeletionsTotal *prometheus.CounterVec
}

// New registers all collectors on reg and returns the set. Pass
// prometheus.DefaultRegisterer for the process-global registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CompactionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compaction",
			Name:      "total",
			Help:      "Compaction attempts by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		CompactionTokens: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compaction",
			Name:      "tokens",
			Help:      "Context token counts observed around compaction.",
			Buckets:   prometheus.ExponentialBuckets(1000, 2, 10),
		}, []string{"stage"}),
		ReductionPercent: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "compaction",
			Name:      "reduction_percent",
			Help:      "Token reduction achieved per compaction.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		CompactionCostUSD: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compaction",
			Name:      "estimated_cost_usd_total",
			Help:      "Cumulative estimated summarization spend in USD.",
		}),
		RecoveriesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "total",
			Help:      "Overflow recovery runs by outcome.",
		}, []string{"outcome"}),
		RecoveryAttempts: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "attempts",
			Help:      "Compaction attempts consumed per recovery run.",
			Buckets:   []float64{1, 2, 3},
		}),
		CheckpointsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "created_total",
			Help:      "Checkpoints created by trigger.",
		}, []string{"trigger"}),
		RestoresTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "restored_total",
			Help:      "Checkpoint restores performed.",
		}),
		ArchivesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "archived_total",
			Help:      "Sessions archived into long-term memory.",
		}),
		SweepDeletionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "sweep_deletions_total",
			Help:      "Rows removed by the maintenance sweeper, by table.",
		}, []string{"kind"}),
	}
}

// Register wires the collectors into a hook registry so every compaction,
// recovery, checkpoint, restore, and archive is observed automatically.
func (m *Metrics) Register(r *hooks.Registry) {
	r.OnAfterCompaction(m.afterCompaction)
	r.OnAfterCheckpoint(m.afterCheckpoint)
	r.OnAfterRestore(m.afterRestore)
	r.OnAfterRecovery(m.afterRecovery)
	r.OnAfterArchive(m.afterArchive)
}

func (m *Metrics) afterCompaction(_ context.Context, result *types.CompactionResult) error {
	outcome := "condensed"
	if result.MessagesCondensed == 0 {
		outcome = "noop"
	}
	m.CompactionsTotal.WithLabelValues(string(result.Trigger), outcome).Inc()
	m.CompactionTokens.WithLabelValues("pre").Observe(float64(result.PreTokens))
	m.CompactionTokens.WithLabelValues("post").Observe(float64(result.PostTokens))
	m.ReductionPercent.Observe(result.ReductionPercent)
	if result.EstimatedCost > 0 {
		m.CompactionCostUSD.Add(result.EstimatedCost)
	}
	return nil
}

func (m *Metrics) afterCheckpoint(_ context.Context, checkpoint *types.Checkpoint) error {
	m.CheckpointsTotal.WithLabelValues(string(checkpoint.Trigger)).Inc()
	return nil
}

func (m *Metrics) afterRestore(_ context.Context, _, _ string) error {
	m.RestoresTotal.Inc()
	return nil
}

func (m *Metrics) afterRecovery(_ context.Context, _ string, result *recovery.Result) error {
	outcome := "failed"
	if result.Recovered {
		outcome = "recovered"
	}
	m.RecoveriesTotal.WithLabelValues(outcome).Inc()
	m.RecoveryAttempts.Observe(float64(result.Attempts))
	return nil
}

func (m *Metrics) afterArchive(_ context.Context, _, _ string) error {
	m.ArchivesTotal.Inc()
	return nil
}

// ObserveSweep records the row counts removed by one maintenance sweep.
func (m *Metrics) ObserveSweep(checkpoints, memories, leaders int) {
	m.SweepDeletionsTotal.WithLabelValues("checkpoints").Add(float64(checkpoints))
	m.SweepDeletionsTotal.WithLabelValues("memories").Add(float64(memories))
	m.SweepDeletionsTotal.WithLabelValues("leaders").Add(float64(leaders))
}
