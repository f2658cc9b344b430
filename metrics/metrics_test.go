package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jayusctrojan/ctxpg/hooks"
	"github.com/jayusctrojan/ctxpg/recovery"
	"github.com/jayusctrojan/ctxpg/types"
)

func TestCompactionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	r := hooks.NewRegistry()
	m.Register(r)

	ctx := context.Background()
	if err := r.TriggerAfterCompaction(ctx, &types.CompactionResult{
		Trigger:           types.TriggerAuto,
		PreTokens:         1000,
		PostTokens:        400,
		ReductionPercent:  60,
		MessagesCondensed: 12,
		EstimatedCost:     0.002,
	}); err != nil {
		t.Fatalf("TriggerAfterCompaction: %v", err)
	}
	if err := r.TriggerAfterCompaction(ctx, &types.CompactionResult{
		Trigger:   types.TriggerManual,
		PreTokens: 100,
	}); err != nil {
		t.Fatalf("TriggerAfterCompaction: %v", err)
	}

	if got := testutil.ToFloat64(m.CompactionsTotal.WithLabelValues("auto", "condensed")); got != 1 {
		t.Errorf("auto/condensed count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CompactionsTotal.WithLabelValues("manual", "noop")); got != 1 {
		t.Errorf("manual/noop count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CompactionCostUSD); got != 0.002 {
		t.Errorf("cost counter = %v, want 0.002", got)
	}
}

func TestRecoveryAndCheckpointMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	r := hooks.NewRegistry()
	m.Register(r)

	ctx := context.Background()
	if err := r.TriggerAfterCheckpoint(ctx, &types.Checkpoint{Trigger: types.TriggerManual}); err != nil {
		t.Fatalf("TriggerAfterCheckpoint: %v", err)
	}
	if err := r.TriggerAfterRestore(ctx, "sess-1", "cp-1"); err != nil {
		t.Fatalf("TriggerAfterRestore: %v", err)
	}
	if err := r.TriggerAfterRecovery(ctx, "sess-1", &recovery.Result{Recovered: true, Attempts: 2}); err != nil {
		t.Fatalf("TriggerAfterRecovery: %v", err)
	}
	if err := r.TriggerAfterArchive(ctx, "sess-1", "mem-1"); err != nil {
		t.Fatalf("TriggerAfterArchive: %v", err)
	}

	if got := testutil.ToFloat64(m.CheckpointsTotal.WithLabelValues("manual")); got != 1 {
		t.Errorf("checkpoint count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RestoresTotal); got != 1 {
		t.Errorf("restore count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RecoveriesTotal.WithLabelValues("recovered")); got != 1 {
		t.Errorf("recovered count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ArchivesTotal); got != 1 {
		t.Errorf("archive count = %v, want 1", got)
	}
}

func TestObserveSweep(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSweep(3, 1, 0)
	m.ObserveSweep(2, 0, 1)

	if got := testutil.ToFloat64(m.SweepDeletionsTotal.WithLabelValues("checkpoints")); got != 5 {
		t.Errorf("checkpoint deletions = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.SweepDeletionsTotal.WithLabelValues("memories")); got != 1 {
		t.Errorf("memory deletions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SweepDeletionsTotal.WithLabelValues("leaders")); got != 1 {
		t.Errorf("leader deletions = %v, want 1", got)
	}
}
