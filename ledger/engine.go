/*
engine.go - The typed ledger operations

PURPOSE:
  Engine is the only code path that changes balance counters. It exposes
  one operation per movement kind; each is a per-key read-modify-write
  against a BalanceStore, guarded by the store's compare-and-swap commit.

OPERATIONS (signed quantity, negative = inverse):
  Purchase                   purchased, onHand
  Expend                     expended, onHand
  Assign                     assigned, onHand
  ConvertAssignedToExpended  assigned -> expended (onHand untouched)
  Transfer                   source out/onHand, destination in/onHand
  ReverseTransfer            Transfer with the quantity negated

RETRIES:
  A commit that loses the race returns ErrConcurrentModification; the
  operation re-reads and re-applies up to MaxRetries times before the error
  surfaces. Business-rule failures are never retried.

TRANSFERS:
  Inside a UnitOfWork both legs commit or roll back together. Used directly
  against a BalanceStore, a transfer is a two-step saga: debit, credit, and
  on credit failure a compensating re-credit of the source that is itself
  retried.

The Engine writes no audit entries. Service pairs every successful call
with exactly one entry.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	DefaultMaxRetries = 8
	defaultRetryDelay = 2 * time.Millisecond
)

// Engine applies typed ledger operations to a BalanceStore.
type Engine struct {
	balances   BalanceStore
	maxRetries uint64
	delay      time.Duration
	now        func() time.Time
}

type EngineOption func(*Engine)

// WithMaxRetries bounds the number of CAS retries per operation.
func WithMaxRetries(n int) EngineOption {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = uint64(n)
		}
	}
}

func WithRetryDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.delay = d
		}
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(balances BalanceStore, opts ...EngineOption) *Engine {
	e := &Engine{
		balances:   balances,
		maxRetries: DefaultMaxRetries,
		delay:      defaultRetryDelay,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	From Balance
	To   Balance
}

// =============================================================================
// OPERATIONS
// =============================================================================

func (e *Engine) Purchase(ctx context.Context, site SiteID, asset AssetID, qty int64) (Balance, error) {
	return e.mutate(ctx, site, asset, qty, (*Balance).applyPurchase)
}

func (e *Engine) Expend(ctx context.Context, site SiteID, asset AssetID, qty int64) (Balance, error) {
	return e.mutate(ctx, site, asset, qty, (*Balance).applyExpend)
}

func (e *Engine) Assign(ctx context.Context, site SiteID, asset AssetID, qty int64) (Balance, error) {
	return e.mutate(ctx, site, asset, qty, (*Balance).applyAssign)
}

func (e *Engine) ConvertAssignedToExpended(ctx context.Context, site SiteID, asset AssetID, qty int64) (Balance, error) {
	return e.mutate(ctx, site, asset, qty, (*Balance).applyConvert)
}

// Transfer moves qty from one site to another. A negative qty reverses a
// prior transfer: the source is credited back and the destination debited,
// failing with ErrDestinationAlreadyConsumed if the destination no longer
// holds the stock.
func (e *Engine) Transfer(ctx context.Context, from, to SiteID, asset AssetID, qty int64) (TransferResult, error) {
	if from == to {
		return TransferResult{}, fmt.Errorf("%w: %s", ErrSameSiteTransfer, from)
	}
	if qty == 0 {
		return TransferResult{}, fmt.Errorf("%w: transfer of zero", ErrInvalidQuantity)
	}

	// The leg that can fail on quantity grounds goes first.
	first, second := e.transferLegs(from, to, asset, qty)

	firstBal, err := first.apply(ctx)
	if err != nil {
		return TransferResult{}, err
	}
	secondBal, err := second.apply(ctx)
	if err != nil {
		if cerr := e.compensate(ctx, first); cerr != nil {
			return TransferResult{}, fmt.Errorf("transfer %s -> %s: %w (compensation failed: %v)", from, to, err, cerr)
		}
		return TransferResult{}, err
	}

	if qty > 0 {
		return TransferResult{From: firstBal, To: secondBal}, nil
	}
	return TransferResult{From: secondBal, To: firstBal}, nil
}

// ReverseTransfer undoes a transfer of qty (> 0) from one site to another.
func (e *Engine) ReverseTransfer(ctx context.Context, from, to SiteID, asset AssetID, qty int64) (TransferResult, error) {
	if qty <= 0 {
		return TransferResult{}, fmt.Errorf("%w: reverse transfer requires a positive quantity", ErrInvalidQuantity)
	}
	return e.Transfer(ctx, from, to, asset, -qty)
}

type transferLeg struct {
	engine *Engine
	site   SiteID
	asset  AssetID
	qty    int64
	fn     func(*Balance, int64) error
}

func (l transferLeg) apply(ctx context.Context) (Balance, error) {
	return l.engine.mutate(ctx, l.site, l.asset, l.qty, l.fn)
}

func (e *Engine) transferLegs(from, to SiteID, asset AssetID, qty int64) (transferLeg, transferLeg) {
	out := transferLeg{engine: e, site: from, asset: asset, qty: qty, fn: (*Balance).applyTransferOut}
	in := transferLeg{engine: e, site: to, asset: asset, qty: qty, fn: (*Balance).applyTransferIn}
	if qty > 0 {
		return out, in
	}
	return in, out
}

// compensate undoes an applied leg. Transient failures are retried by mutate.
func (e *Engine) compensate(ctx context.Context, leg transferLeg) error {
	leg.qty = -leg.qty
	_, err := leg.apply(ctx)
	return err
}

// =============================================================================
// READ-MODIFY-WRITE
// =============================================================================

func (e *Engine) mutate(ctx context.Context, site SiteID, asset AssetID, qty int64, fn func(*Balance, int64) error) (Balance, error) {
	if site == "" || asset == "" {
		return Balance{}, &ValidationError{Field: "key", Reason: "site and asset are required"}
	}
	if qty == 0 {
		return Balance{}, fmt.Errorf("%w: quantity must be non-zero", ErrInvalidQuantity)
	}

	var result Balance
	backoff := retry.WithMaxRetries(e.maxRetries, retry.NewConstant(e.delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := e.balances.GetOrCreate(ctx, site, asset)
		if err != nil {
			return err
		}
		next := current
		if err := fn(&next, qty); err != nil {
			return err
		}
		if err := next.Check(); err != nil {
			return err
		}
		next.UpdatedAt = e.now()
		if err := e.balances.Commit(ctx, next); err != nil {
			if errors.Is(err, ErrConcurrentModification) {
				return retry.RetryableError(err)
			}
			return err
		}
		next.Version++
		result = next
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return result, nil
}
