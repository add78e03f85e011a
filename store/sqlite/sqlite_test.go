package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	siteA ledger.SiteID  = "site-a"
	siteB ledger.SiteID  = "site-b"
	rifle ledger.AssetID = "rifle"
)

var officer = ledger.Actor{ID: "officer-1", Role: "logistics_officer"}

func at(day, hour int) time.Time {
	return time.Date(2025, time.March, day, hour, 0, 0, 0, time.UTC)
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newService(t *testing.T, store *sqlite.Store) *ledger.Service {
	t.Helper()
	ctx := context.Background()
	svc, err := ledger.NewService(ledger.ServiceParams{
		Store: store,
		Clock: func() time.Time { return at(5, 8) },
	})
	require.NoError(t, err)

	for _, id := range []ledger.SiteID{siteA, siteB} {
		_, err := svc.RegisterSite(ctx, ledger.Site{ID: id, Name: string(id)})
		require.NoError(t, err)
	}
	_, err = svc.RegisterAsset(ctx, ledger.Asset{ID: rifle, Name: "Rifle", Category: ledger.CategoryWeapon})
	require.NoError(t, err)
	return svc
}

func items(qty int64) []ledger.LineItem {
	return []ledger.LineItem{{Asset: rifle, Quantity: qty, UnitPrice: decimal.RequireFromString("99.95")}}
}

// =============================================================================
// BALANCES
// =============================================================================

func TestStore_GetOrCreateAndCommit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	b, err := store.GetOrCreate(ctx, siteA, rifle)
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Version)
	assert.Equal(t, int64(0), b.OnHand)

	b.Purchased, b.OnHand = 7, 7
	b.UpdatedAt = at(1, 9)
	require.NoError(t, store.Commit(ctx, b))

	// Same version again is stale.
	err = store.Commit(ctx, b)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	stored, err := store.GetOrCreate(ctx, siteA, rifle)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, int64(7), stored.Purchased)
	assert.True(t, stored.UpdatedAt.Equal(at(1, 9)))
}

func TestStore_ListBalancesFilters(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for i, site := range []ledger.SiteID{siteB, siteA} {
		b, err := store.GetOrCreate(ctx, site, rifle)
		require.NoError(t, err)
		b.Purchased, b.OnHand = int64(10*(i+1)), int64(10*(i+1))
		require.NoError(t, store.Commit(ctx, b))
	}

	all, err := store.ListBalances(ctx, ledger.BalanceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, siteA, all[0].Site, "ordered by site")

	floor := int64(15)
	rich, err := store.ListBalances(ctx, ledger.BalanceFilter{MinOnHand: &floor})
	require.NoError(t, err)
	require.Len(t, rich, 1)
	assert.Equal(t, siteA, rich[0].Site)
}

// =============================================================================
// ATOMIC UNITS
// =============================================================================

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	boom := errors.New("boom")

	p := &ledger.Purchase{Record: ledger.Record{ID: "tx-1", Actor: officer}, Site: siteA, Items: items(3)}
	err := store.WithTx(ctx, func(uow ledger.UnitOfWork) error {
		b, err := uow.GetOrCreate(ctx, siteA, rifle)
		require.NoError(t, err)
		b.Purchased, b.OnHand = 3, 3
		require.NoError(t, uow.Commit(ctx, b))
		require.NoError(t, uow.SaveTransaction(ctx, p))
		require.NoError(t, uow.AppendAudit(ctx, ledger.AuditEntry{
			ID: "a-1", Action: ledger.KindPurchase, Site: siteA, Items: p.Items,
			Actor: officer, TransactionID: p.ID, Timestamp: at(1, 9),
		}))

		// Reads inside the unit see its own writes.
		got, err := uow.GetTransaction(ctx, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, ledger.KindPurchase, got.Kind())
		return boom
	})
	assert.ErrorIs(t, err, boom)

	balances, err := store.ListBalances(ctx, ledger.BalanceFilter{})
	require.NoError(t, err)
	assert.Empty(t, balances)
	_, err = store.GetTransaction(ctx, "tx-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	page, err := store.QueryAudit(ctx, ledger.AuditFilter{}, ledger.Page{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)
}

func TestStore_TransactionDocuments(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	a := &ledger.Assignment{
		Record:     ledger.Record{ID: "asg-1", Actor: officer, OccurredAt: at(1, 9)},
		Site:       siteA,
		AssignedTo: "Sgt. Rao",
		Items:      []ledger.AssignedItem{{Asset: rifle, Quantity: 4, ExpendedQuantity: 1}},
	}
	require.NoError(t, store.SaveTransaction(ctx, a))

	a.Items[0].ExpendedQuantity = 2
	require.NoError(t, store.SaveTransaction(ctx, a), "saving again replaces the document")

	got, err := store.GetTransaction(ctx, "asg-1")
	require.NoError(t, err)
	asg, ok := got.(*ledger.Assignment)
	require.True(t, ok)
	assert.Equal(t, int64(2), asg.Items[0].ExpendedQuantity)
	assert.Equal(t, "Sgt. Rao", asg.AssignedTo)

	require.NoError(t, store.DeleteTransaction(ctx, "asg-1"))
	assert.ErrorIs(t, store.DeleteTransaction(ctx, "asg-1"), ledger.ErrNotFound)
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

func TestStore_AuditQueryAndActivity(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	entries := []ledger.AuditEntry{
		{ID: "1", Action: ledger.KindPurchase, Site: siteA, Items: items(10), Actor: officer, TransactionID: "p-1", Timestamp: at(1, 9)},
		{ID: "2", Action: ledger.KindTransfer, Site: siteA, CounterpartSite: siteB, Items: items(4), Actor: officer, TransactionID: "t-1", Timestamp: at(2, 9)},
		{ID: "3", Action: ledger.KindExpenditure, Site: siteB, Items: items(1), Actor: officer, TransactionID: "e-1", AssignmentID: "asg-1", Remarks: "range day", Timestamp: at(3, 9)},
		{ID: "4", Action: ledger.KindPurchase, Site: siteB, Items: []ledger.LineItem{{Asset: "jeep", Quantity: 1}}, Actor: officer, TransactionID: "p-2", Timestamp: at(3, 10)},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendAudit(ctx, e))
	}

	// Duplicate IDs are rejected, the log is append-only.
	assert.Error(t, store.AppendAudit(ctx, entries[0]))

	site := siteB
	page, err := store.QueryAudit(ctx, ledger.AuditFilter{Site: &site}, ledger.Page{Number: 1, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "4", page.Entries[0].ID, "newest first")
	assert.Equal(t, "3", page.Entries[1].ID)
	assert.Equal(t, ledger.TransactionID("asg-1"), page.Entries[1].AssignmentID)
	assert.Equal(t, "range day", page.Entries[1].Remarks)
	assert.True(t, page.Entries[1].Items[0].UnitPrice.Equal(decimal.RequireFromString("99.95")))

	page, err = store.QueryAudit(ctx, ledger.AuditFilter{Site: &site}, ledger.Page{Number: 2, Size: 2})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "2", page.Entries[0].ID, "transfer counterpart matches")

	page, err = store.QueryAudit(ctx, ledger.AuditFilter{}, ledger.Page{Number: 5, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)

	activity, err := store.AuditActivity(ctx, ledger.Key{Site: siteB, Asset: rifle}, at(2, 0), at(3, 0))
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, "2", activity[0].ID)
	assert.Equal(t, siteB, activity[0].CounterpartSite)

	activity, err = store.AuditActivity(ctx, ledger.Key{Site: siteB, Asset: rifle}, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, activity, 2)
	assert.Equal(t, "2", activity[0].ID, "oldest first")
}

// =============================================================================
// SNAPSHOTS AND CATALOG
// =============================================================================

func TestStore_Snapshots(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	key := ledger.Key{Site: siteA, Asset: rifle}

	for i, closing := range []int64{10, 20, 30} {
		d := ledger.NewDay(2025, time.March, 1+2*i)
		require.NoError(t, store.UpsertSnapshot(ctx, ledger.DailySnapshot{Day: d, Site: key.Site, Asset: key.Asset, Closing: closing, ComputedAt: at(9, 0)}))
	}
	require.NoError(t, store.UpsertSnapshot(ctx, ledger.DailySnapshot{Day: ledger.NewDay(2025, time.March, 3), Site: key.Site, Asset: key.Asset, Closing: 21}))

	all, err := store.ListSnapshots(ctx, ledger.SnapshotFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(21), all[1].Closing)

	latest, err := store.LatestSnapshotBefore(ctx, key, ledger.NewDay(2025, time.March, 5))
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "2025-03-03", latest.Day.String())

	none, err := store.GetSnapshot(ctx, ledger.NewDay(2025, time.March, 2), key)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_Catalog(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.SaveSite(ctx, ledger.Site{ID: siteB, Name: "Bravo", State: "Punjab"}))
	require.NoError(t, store.SaveSite(ctx, ledger.Site{ID: siteA, Name: "Alpha"}))
	sites, err := store.ListSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, siteA, sites[0].ID)
	assert.Equal(t, "Punjab", sites[1].State)

	_, err = store.GetAsset(ctx, rifle)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// SERVICE ON SQLITE
// =============================================================================

func TestStore_CorruptTimestampIsReported(t *testing.T) {
	// GIVEN: A balance whose updated_at was overwritten by hand
	// WHEN: It is read back
	// THEN: The read fails with ErrCorruptRow instead of a zero time

	ctx := context.Background()
	store := newStore(t)
	_, err := store.GetOrCreate(ctx, siteA, rifle)
	require.NoError(t, err)

	_, err = store.DB().ExecContext(ctx, `UPDATE balances SET updated_at = 'yesterday' WHERE site = ?`, string(siteA))
	require.NoError(t, err)

	_, err = store.GetOrCreate(ctx, siteA, rifle)
	assert.ErrorIs(t, err, sqlite.ErrCorruptRow)
	assert.ErrorContains(t, err, "balances.updated_at")

	_, err = store.ListBalances(ctx, ledger.BalanceFilter{})
	assert.ErrorIs(t, err, sqlite.ErrCorruptRow)
}

func TestService_OnSQLite(t *testing.T) {
	// GIVEN: A service persisting to SQLite
	// WHEN: Purchasing, transferring, assigning, converting and reversing
	// THEN: Balances hold the invariant and the audit trail replays to them

	ctx := context.Background()
	store := newStore(t)
	svc := newService(t, store)

	_, err := svc.ApplyTransaction(ctx, &ledger.Purchase{Record: ledger.Record{Actor: officer, OccurredAt: at(1, 9)}, Site: siteA, Items: items(100)})
	require.NoError(t, err)
	_, err = svc.ApplyTransaction(ctx, &ledger.Transfer{Record: ledger.Record{Actor: officer, OccurredAt: at(1, 10)}, FromSite: siteA, ToSite: siteB, Items: items(30)})
	require.NoError(t, err)
	asgID, err := svc.ApplyTransaction(ctx, &ledger.Assignment{
		Record:     ledger.Record{Actor: officer, OccurredAt: at(1, 11)},
		Site:       siteA,
		AssignedTo: "Sgt. Rao",
		Items:      []ledger.AssignedItem{{Asset: rifle, Quantity: 20}},
	})
	require.NoError(t, err)
	_, err = svc.ConvertAssignmentLineToExpenditure(ctx, ledger.ConvertRequest{AssignmentID: asgID, Asset: rifle, Quantity: 5})
	require.NoError(t, err)

	_, err = svc.ApplyTransaction(ctx, &ledger.Expenditure{Record: ledger.Record{Actor: officer, OccurredAt: at(1, 12)}, Site: siteB, Items: items(31)})
	assert.ErrorIs(t, err, ledger.ErrInsufficientStock)

	a, err := store.GetOrCreate(ctx, siteA, rifle)
	require.NoError(t, err)
	assert.Equal(t, int64(50), a.OnHand)
	assert.Equal(t, int64(15), a.Assigned)
	assert.Equal(t, int64(5), a.Expended)
	require.NoError(t, a.Check())

	report, err := ledger.NewReconciler(store, nil, nil).Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "drifts: %+v", report.Drifts)
}
