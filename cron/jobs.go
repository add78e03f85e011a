package cron

import (
	"context"
	"fmt"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

// DailySummaryJob finalizes yesterday's snapshots and refreshes today's.
// Re-running it is harmless because snapshots are upserted.
type DailySummaryJob struct {
	agg *ledger.Aggregator
}

func NewDailySummaryJob(agg *ledger.Aggregator) *DailySummaryJob {
	return &DailySummaryJob{agg: agg}
}

func (j *DailySummaryJob) Name() string { return "daily_summary" }

func (j *DailySummaryJob) Run(ctx context.Context) error {
	today := j.agg.Today()
	_, err := j.agg.Backfill(ctx, today.Prev(), today)
	return err
}

// ReconcileJob fails when any balance has drifted from its audit trail.
type ReconcileJob struct {
	rec *ledger.Reconciler
}

func NewReconcileJob(rec *ledger.Reconciler) *ReconcileJob {
	return &ReconcileJob{rec: rec}
}

func (j *ReconcileJob) Name() string { return "reconcile_balances" }

func (j *ReconcileJob) Run(ctx context.Context) error {
	report, err := j.rec.Check(ctx)
	if err != nil {
		return err
	}
	if !report.Clean() {
		return fmt.Errorf("%d counter drifts across %d balances", len(report.Drifts), report.Checked)
	}
	return nil
}
