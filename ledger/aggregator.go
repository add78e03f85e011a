/*
aggregator.go - Daily snapshot rollup

PURPOSE:
  For every (site, asset) pair known to the balance store, compute the day's
  opening balance, the day's activity from the audit trail, and the closing
  balance, then upsert one snapshot per (day, site, asset).

  closing = opening + purchases + transfersIn - transfersOut - assigned - expended

OPENING POLICIES:
  latest_prior (default)
    Newest snapshot strictly before the day, plus any audit activity between
    that snapshot's day and this one. A skipped day therefore still chains
    correctly. With no snapshot at all the base is 0 plus whatever history
    precedes the day.
  strict_yesterday
    Yesterday's snapshot or 0.

IDEMPOTENCE:
  Writes are upserts keyed on (day, site, asset) and the opening never reads
  the day's own snapshot, so re-running a day recomputes identical values.

CONCURRENCY:
  Runs are serialized by a mutex. Within a run pairs are processed in
  parallel (bounded), each pair exactly once.
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/viratpk18/Military-Base-Management-System-Backend/logger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/metrics"
)

type OpeningPolicy string

const (
	OpeningLatestPrior     OpeningPolicy = "latest_prior"
	OpeningStrictYesterday OpeningPolicy = "strict_yesterday"
)

func (p OpeningPolicy) Valid() bool {
	return p == OpeningLatestPrior || p == OpeningStrictYesterday
}

const defaultAggregatorConcurrency = 4

// AggregatorStore is what the aggregator reads and writes.
type AggregatorStore interface {
	SnapshotStore
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	AuditActivity(ctx context.Context, key Key, from, to time.Time) ([]AuditEntry, error)
}

// SnapshotSink receives a day's snapshots after they are stored.
type SnapshotSink interface {
	Export(ctx context.Context, day Day, snapshots []DailySnapshot) error
}

type AggregatorParams struct {
	Store       AggregatorStore
	Policy      OpeningPolicy
	Concurrency int
	Sink        SnapshotSink
	Logger      *logger.Logger
	Metrics     *metrics.LedgerMetrics
	Clock       func() time.Time
}

type Aggregator struct {
	mu          sync.Mutex
	store       AggregatorStore
	policy      OpeningPolicy
	concurrency int
	sink        SnapshotSink
	logg        *logger.Logger
	metrics     *metrics.LedgerMetrics
	clock       func() time.Time
}

func NewAggregator(params AggregatorParams) (*Aggregator, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	policy := params.Policy
	if policy == "" {
		policy = OpeningLatestPrior
	}
	if !policy.Valid() {
		return nil, fmt.Errorf("unknown opening policy %q", policy)
	}
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = defaultAggregatorConcurrency
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Aggregator{
		store:       params.Store,
		policy:      policy,
		concurrency: concurrency,
		sink:        params.Sink,
		logg:        logg,
		metrics:     params.Metrics,
		clock:       clock,
	}, nil
}

// Today returns the aggregator's current day.
func (a *Aggregator) Today() Day { return DayOf(a.clock()) }

// Run computes and upserts the snapshots for day and returns how many were
// written. Failures on individual pairs do not stop the others; they are
// combined into the returned error.
func (a *Aggregator) Run(ctx context.Context, day Day) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run(ctx, day)
}

// Backfill runs every day in [from, to] in order.
func (a *Aggregator) Backfill(ctx context.Context, from, to Day) (int, error) {
	if to.Before(from) {
		return 0, fmt.Errorf("backfill: %s is before %s", to, from)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for d := from; !d.After(to); d = d.Next() {
		n, err := a.run(ctx, d)
		total += n
		if err != nil {
			return total, fmt.Errorf("backfill %s: %w", d, err)
		}
	}
	return total, nil
}

func (a *Aggregator) run(ctx context.Context, day Day) (int, error) {
	start := a.clock()
	ctx = a.logg.WithFields(ctx, map[string]any{
		"event":  "ledger.aggregate",
		"day":    day.String(),
		"policy": string(a.policy),
	})

	balances, err := a.store.ListBalances(ctx, BalanceFilter{})
	if err != nil {
		return 0, fmt.Errorf("list balances: %w", err)
	}

	snapshots := make([]DailySnapshot, len(balances))
	written := make([]bool, len(balances))
	var (
		errMu   sync.Mutex
		pairErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, b := range balances {
		i, key := i, b.Key()
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			snap, err := a.compute(gctx, key, day)
			if err == nil {
				err = a.store.UpsertSnapshot(gctx, snap)
			}
			if err != nil {
				errMu.Lock()
				pairErr = multierr.Append(pairErr, fmt.Errorf("snapshot %s %s: %w", day, key, err))
				errMu.Unlock()
				return nil
			}
			snapshots[i] = snap
			written[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	out := make([]DailySnapshot, 0, len(snapshots))
	for i, ok := range written {
		if ok {
			out = append(out, snapshots[i])
		}
	}
	a.metrics.AddSnapshots(len(out))

	if a.sink != nil && len(out) > 0 {
		if err := a.sink.Export(ctx, day, out); err != nil {
			pairErr = multierr.Append(pairErr, fmt.Errorf("export snapshots for %s: %w", day, err))
		}
	}

	ctx = a.logg.WithFields(ctx, map[string]any{
		"pairs":       len(balances),
		"written":     len(out),
		"duration_ms": a.clock().Sub(start).Milliseconds(),
	})
	if pairErr != nil {
		a.logg.Error(ctx, "daily aggregation finished with errors", pairErr)
		return len(out), pairErr
	}
	a.logg.Info(ctx, "daily aggregation complete")
	return len(out), nil
}

// compute builds the snapshot for one pair without writing it.
func (a *Aggregator) compute(ctx context.Context, key Key, day Day) (DailySnapshot, error) {
	opening, err := a.opening(ctx, key, day)
	if err != nil {
		return DailySnapshot{}, err
	}
	entries, err := a.store.AuditActivity(ctx, key, day.Start(), day.End())
	if err != nil {
		return DailySnapshot{}, fmt.Errorf("load activity: %w", err)
	}
	act := SummarizeActivity(key, entries)
	return DailySnapshot{
		Day:          day,
		Site:         key.Site,
		Asset:        key.Asset,
		Opening:      opening,
		Purchases:    act.Purchases,
		TransfersIn:  act.TransfersIn,
		TransfersOut: act.TransfersOut,
		Assigned:     act.Assigned,
		Expended:     act.Expended,
		Closing:      opening + act.Net(),
		ComputedAt:   a.clock(),
	}, nil
}

func (a *Aggregator) opening(ctx context.Context, key Key, day Day) (int64, error) {
	if a.policy == OpeningStrictYesterday {
		prev, err := a.store.GetSnapshot(ctx, day.Prev(), key)
		if err != nil {
			return 0, fmt.Errorf("load previous snapshot: %w", err)
		}
		if prev == nil {
			return 0, nil
		}
		return prev.Closing, nil
	}

	prev, err := a.store.LatestSnapshotBefore(ctx, key, day)
	if err != nil {
		return 0, fmt.Errorf("load latest snapshot: %w", err)
	}
	var (
		base int64
		from time.Time
	)
	if prev != nil {
		base = prev.Closing
		from = prev.Day.End()
	}
	if prev != nil && !from.Before(day.Start()) {
		return base, nil
	}
	gap, err := a.store.AuditActivity(ctx, key, from, day.Start())
	if err != nil {
		return 0, fmt.Errorf("load gap activity: %w", err)
	}
	return base + SummarizeActivity(key, gap).Net(), nil
}
