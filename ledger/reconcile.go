package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/viratpk18/Military-Base-Management-System-Backend/logger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/metrics"
)

// =============================================================================
// RECONCILIATION - Balance store vs audit trail
// =============================================================================

// ReconcileStore is what the reconciler reads.
type ReconcileStore interface {
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	AuditActivity(ctx context.Context, key Key, from, to time.Time) ([]AuditEntry, error)
}

// Drift is one counter that disagrees with the audit trail.
type Drift struct {
	Key      Key    `json:"key"`
	Field    string `json:"field"`
	Recorded int64  `json:"recorded"`
	Derived  int64  `json:"derived"`
}

type Report struct {
	Checked   int       `json:"checked"`
	Drifts    []Drift   `json:"drifts"`
	CheckedAt time.Time `json:"checked_at"`
}

func (r Report) Clean() bool { return len(r.Drifts) == 0 }

type Reconciler struct {
	store   ReconcileStore
	logg    *logger.Logger
	metrics *metrics.LedgerMetrics
	clock   func() time.Time
}

func NewReconciler(store ReconcileStore, logg *logger.Logger, m *metrics.LedgerMetrics) *Reconciler {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Reconciler{
		store:   store,
		logg:    logg,
		metrics: m,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// DeriveBalance replays audit entries into counters for key.
func DeriveBalance(key Key, entries []AuditEntry) Balance {
	act := SummarizeActivity(key, entries)
	b := Balance{
		Site:           key.Site,
		Asset:          key.Asset,
		Purchased:      act.Purchases,
		Expended:       act.Expended,
		Assigned:       act.Assigned,
		TransferredOut: act.TransfersOut,
		TransferredIn:  act.TransfersIn,
	}
	b.OnHand = b.Derived()
	return b
}

// Check compares every balance with the replayed audit trail.
func (r *Reconciler) Check(ctx context.Context) (Report, error) {
	balances, err := r.store.ListBalances(ctx, BalanceFilter{})
	if err != nil {
		return Report{}, fmt.Errorf("list balances: %w", err)
	}
	report := Report{CheckedAt: r.clock()}
	driftPairs := 0
	for _, recorded := range balances {
		entries, err := r.store.AuditActivity(ctx, recorded.Key(), time.Time{}, time.Time{})
		if err != nil {
			return Report{}, fmt.Errorf("load activity for %s: %w", recorded.Key(), err)
		}
		derived := DeriveBalance(recorded.Key(), entries)
		drifts := compareCounters(recorded, derived)
		if len(drifts) > 0 {
			driftPairs++
			report.Drifts = append(report.Drifts, drifts...)
		}
		report.Checked++
	}
	r.metrics.SetDriftPairs(driftPairs)

	logCtx := r.logg.WithFields(ctx, map[string]any{
		"event":       "ledger.reconcile",
		"checked":     report.Checked,
		"drift_pairs": driftPairs,
	})
	if driftPairs > 0 {
		r.logg.Warn(logCtx, "balance store drifted from audit trail")
	} else {
		r.logg.Info(logCtx, "reconciliation clean")
	}
	return report, nil
}

func compareCounters(recorded, derived Balance) []Drift {
	pairs := []struct {
		field      string
		rec, deriv int64
	}{
		{"on_hand", recorded.OnHand, derived.OnHand},
		{"purchased", recorded.Purchased, derived.Purchased},
		{"expended", recorded.Expended, derived.Expended},
		{"assigned", recorded.Assigned, derived.Assigned},
		{"transferred_out", recorded.TransferredOut, derived.TransferredOut},
		{"transferred_in", recorded.TransferredIn, derived.TransferredIn},
	}
	var out []Drift
	for _, p := range pairs {
		if p.rec != p.deriv {
			out = append(out, Drift{Key: recorded.Key(), Field: p.field, Recorded: p.rec, Derived: p.deriv})
		}
	}
	return out
}
