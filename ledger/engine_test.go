package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger/store"
)

func newTestEngine(t *testing.T, opts ...ledger.EngineOption) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.NewEngine(mem, opts...), mem
}

// =============================================================================
// SINGLE-KEY OPERATIONS
// =============================================================================

func TestEngine_PurchaseThenTransfer(t *testing.T) {
	// GIVEN: Zero balance at A for X
	// WHEN: purchase(A, X, 100) then transfer(A, B, X, 30)
	// THEN: A holds 70 with 30 out, B holds 30 with 30 in

	ctx := context.Background()
	eng, _ := newTestEngine(t)

	b, err := eng.Purchase(ctx, siteA, rifle, 100)
	require.NoError(t, err)
	assert.Equal(t, counters{OnHand: 100, Purchased: 100}, countersOf(b))

	res, err := eng.Transfer(ctx, siteA, siteB, rifle, 30)
	require.NoError(t, err)
	assert.Equal(t, counters{OnHand: 70, Purchased: 100, TransferredOut: 30}, countersOf(res.From))
	assert.Equal(t, counters{OnHand: 30, TransferredIn: 30}, countersOf(res.To))
	assert.NoError(t, res.From.Check())
	assert.NoError(t, res.To.Check())
}

func TestEngine_AssignThenConvert(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	_, err := eng.Purchase(ctx, siteA, rifle, 70)
	require.NoError(t, err)

	b, err := eng.Assign(ctx, siteA, rifle, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(50), b.OnHand)
	assert.Equal(t, int64(20), b.Assigned)

	b, err = eng.ConvertAssignedToExpended(ctx, siteA, rifle, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(50), b.OnHand, "conversion leaves onHand untouched")
	assert.Equal(t, int64(0), b.Assigned)
	assert.Equal(t, int64(20), b.Expended)

	// Assigned is now 0, so undoing the assignment must fail.
	_, err = eng.Assign(ctx, siteA, rifle, -20)
	assert.ErrorIs(t, err, ledger.ErrInsufficientAssigned)
}

func TestEngine_OverdrawLeavesBalanceUnchanged(t *testing.T) {
	ctx := context.Background()
	eng, mem := newTestEngine(t)

	_, err := eng.Purchase(ctx, siteA, rifle, 10)
	require.NoError(t, err)
	before, err := mem.GetOrCreate(ctx, siteA, rifle)
	require.NoError(t, err)

	_, err = eng.Expend(ctx, siteA, rifle, 11)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)
	var sf *ledger.ShortfallError
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, int64(10), sf.Available)
	assert.Equal(t, int64(11), sf.Requested)

	_, err = eng.Assign(ctx, siteA, rifle, 11)
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	after, err := mem.GetOrCreate(ctx, siteA, rifle)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEngine_NegativeQuantitiesInvert(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	_, err := eng.Purchase(ctx, siteA, rifle, 10)
	require.NoError(t, err)
	_, err = eng.Expend(ctx, siteA, rifle, 4)
	require.NoError(t, err)

	b, err := eng.Expend(ctx, siteA, rifle, -4)
	require.NoError(t, err)
	assert.Equal(t, counters{OnHand: 10, Purchased: 10}, countersOf(b))

	_, err = eng.Expend(ctx, siteA, rifle, -1)
	assert.ErrorIs(t, err, ledger.ErrInsufficientExpended)

	_, err = eng.Purchase(ctx, siteA, rifle, -11)
	assert.ErrorIs(t, err, ledger.ErrInvariantViolation)
}

func TestEngine_RejectsZeroAndSameSite(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	_, err := eng.Purchase(ctx, siteA, rifle, 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidQuantity)

	_, err = eng.Transfer(ctx, siteA, siteA, rifle, 1)
	assert.ErrorIs(t, err, ledger.ErrSameSiteTransfer)
	assert.True(t, ledger.IsClientError(err))
}

// =============================================================================
// TRANSFER REVERSAL
// =============================================================================

func TestEngine_ReverseTransfer(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	_, err := eng.Purchase(ctx, siteA, rifle, 100)
	require.NoError(t, err)
	_, err = eng.Transfer(ctx, siteA, siteB, rifle, 30)
	require.NoError(t, err)

	res, err := eng.ReverseTransfer(ctx, siteA, siteB, rifle, 30)
	require.NoError(t, err)
	assert.Equal(t, counters{OnHand: 100, Purchased: 100}, countersOf(res.From))
	assert.Equal(t, counters{}, countersOf(res.To))
}

func TestEngine_ReverseTransfer_DestinationConsumed(t *testing.T) {
	// GIVEN: B expended part of what it received
	// WHEN: Reversing the full transfer
	// THEN: DestinationAlreadyConsumed and the source is not credited

	ctx := context.Background()
	eng, mem := newTestEngine(t)

	_, err := eng.Purchase(ctx, siteA, rifle, 100)
	require.NoError(t, err)
	_, err = eng.Transfer(ctx, siteA, siteB, rifle, 30)
	require.NoError(t, err)
	_, err = eng.Expend(ctx, siteB, rifle, 10)
	require.NoError(t, err)

	_, err = eng.ReverseTransfer(ctx, siteA, siteB, rifle, 30)
	assert.ErrorIs(t, err, ledger.ErrDestinationAlreadyConsumed)

	a, err := mem.GetOrCreate(ctx, siteA, rifle)
	require.NoError(t, err)
	assert.Equal(t, int64(70), a.OnHand)
	assert.Equal(t, int64(30), a.TransferredOut)
}

// =============================================================================
// OPTIMISTIC CONCURRENCY
// =============================================================================

// racingStore lets another writer win the first commit.
type racingStore struct {
	*store.Memory
	raced atomic.Bool
}

func (r *racingStore) Commit(ctx context.Context, b ledger.Balance) error {
	if r.raced.CompareAndSwap(false, true) {
		other, err := r.Memory.GetOrCreate(ctx, b.Site, b.Asset)
		if err != nil {
			return err
		}
		other.Purchased += 5
		other.OnHand += 5
		if err := r.Memory.Commit(ctx, other); err != nil {
			return err
		}
	}
	return r.Memory.Commit(ctx, b)
}

func TestEngine_RetriesLostCommit(t *testing.T) {
	ctx := context.Background()
	rs := &racingStore{Memory: store.NewMemory()}
	eng := ledger.NewEngine(rs, ledger.WithRetryDelay(time.Microsecond))

	b, err := eng.Purchase(ctx, siteA, rifle, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(15), b.OnHand, "retry re-reads the concurrent write")
	assert.Equal(t, int64(15), b.Purchased)
	assert.Equal(t, int64(2), b.Version)
}

type alwaysConflict struct{ *store.Memory }

func (alwaysConflict) Commit(context.Context, ledger.Balance) error {
	return ledger.ErrConcurrentModification
}

func TestEngine_RetryBudgetExhausted(t *testing.T) {
	ctx := context.Background()
	eng := ledger.NewEngine(alwaysConflict{store.NewMemory()},
		ledger.WithMaxRetries(3), ledger.WithRetryDelay(time.Microsecond))

	_, err := eng.Purchase(ctx, siteA, rifle, 1)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.True(t, ledger.IsRetryable(err))
}

// failingSite refuses every commit for one site once armed.
type failingSite struct {
	*store.Memory
	site  ledger.SiteID
	armed atomic.Bool
}

var errDiskGone = errors.New("disk gone")

func (f *failingSite) Commit(ctx context.Context, b ledger.Balance) error {
	if f.armed.Load() && b.Site == f.site {
		return errDiskGone
	}
	return f.Memory.Commit(ctx, b)
}

func TestEngine_TransferCompensatesFailedDestination(t *testing.T) {
	// GIVEN: 100 rifles at A and a store that cannot write B
	// WHEN: transfer(A, B, X, 30)
	// THEN: the error surfaces and A is back to onHand=100, transferredOut=0

	ctx := context.Background()
	fs := &failingSite{Memory: store.NewMemory(), site: siteB}
	eng := ledger.NewEngine(fs, ledger.WithRetryDelay(time.Microsecond))

	_, err := eng.Purchase(ctx, siteA, rifle, 100)
	require.NoError(t, err)
	fs.armed.Store(true)

	_, err = eng.Transfer(ctx, siteA, siteB, rifle, 30)
	require.ErrorIs(t, err, errDiskGone)

	a, err := fs.GetOrCreate(ctx, siteA, rifle)
	require.NoError(t, err)
	assert.Equal(t, counters{OnHand: 100, Purchased: 100}, countersOf(a))
	assert.NoError(t, a.Check())
	b, err := fs.GetOrCreate(ctx, siteB, rifle)
	require.NoError(t, err)
	assert.Equal(t, counters{}, countersOf(b))
}

func TestEngine_ReverseTransferCompensatesFailedSource(t *testing.T) {
	ctx := context.Background()
	fs := &failingSite{Memory: store.NewMemory(), site: siteA}
	eng := ledger.NewEngine(fs, ledger.WithRetryDelay(time.Microsecond))

	_, err := eng.Purchase(ctx, siteA, rifle, 100)
	require.NoError(t, err)
	_, err = eng.Transfer(ctx, siteA, siteB, rifle, 30)
	require.NoError(t, err)
	fs.armed.Store(true)

	_, err = eng.ReverseTransfer(ctx, siteA, siteB, rifle, 30)
	require.ErrorIs(t, err, errDiskGone)

	b, err := fs.GetOrCreate(ctx, siteB, rifle)
	require.NoError(t, err)
	assert.Equal(t, counters{OnHand: 30, TransferredIn: 30}, countersOf(b))
	a, err := fs.GetOrCreate(ctx, siteA, rifle)
	require.NoError(t, err)
	assert.Equal(t, counters{OnHand: 70, Purchased: 100, TransferredOut: 30}, countersOf(a))
}

func TestEngine_ConcurrentExpend_NoLostUpdates(t *testing.T) {
	// GIVEN: onHand = 50
	// WHEN: 80 goroutines each expend 1 directly against the store
	// THEN: exactly 50 succeed, the rest fail with InsufficientStock

	ctx := context.Background()
	eng, mem := newTestEngine(t, ledger.WithMaxRetries(100000), ledger.WithRetryDelay(time.Microsecond))

	_, err := eng.Purchase(ctx, siteA, rifle, 50)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		short     atomic.Int64
		other     atomic.Int64
	)
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Expend(ctx, siteA, rifle, 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ledger.ErrInsufficientStock):
				short.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), succeeded.Load())
	assert.Equal(t, int64(30), short.Load())
	assert.Equal(t, int64(0), other.Load())

	b, err := mem.GetOrCreate(ctx, siteA, rifle)
	require.NoError(t, err)
	assert.Equal(t, counters{OnHand: 0, Purchased: 50, Expended: 50}, countersOf(b))
}
