package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	siteA ledger.SiteID  = "site-a"
	siteB ledger.SiteID  = "site-b"
	rifle ledger.AssetID = "rifle"
	jeep  ledger.AssetID = "jeep"
)

var officer = ledger.Actor{ID: "officer-1", Role: "logistics_officer"}

// testClock is a settable clock shared by the service and aggregator.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{now: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func day(n int) ledger.Day { return ledger.NewDay(2025, time.March, n) }

// at returns a time on the given March 2025 day.
func at(n, hour int) time.Time {
	return time.Date(2025, time.March, n, hour, 0, 0, 0, time.UTC)
}

type fixture struct {
	svc   *ledger.Service
	store *store.Memory
	clock *testClock
}

func newFixture(t *testing.T, mutate ...func(*ledger.ServiceParams)) fixture {
	t.Helper()
	mem := store.NewMemory()
	clock := newTestClock(at(1, 8))
	params := ledger.ServiceParams{Store: mem, Clock: clock.Now}
	for _, fn := range mutate {
		fn(&params)
	}
	svc, err := ledger.NewService(params)
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []ledger.SiteID{siteA, siteB} {
		_, err := svc.RegisterSite(ctx, ledger.Site{ID: id, Name: string(id)})
		require.NoError(t, err)
	}
	_, err = svc.RegisterAsset(ctx, ledger.Asset{ID: rifle, Name: "Rifle", Category: ledger.CategoryWeapon})
	require.NoError(t, err)
	_, err = svc.RegisterAsset(ctx, ledger.Asset{ID: jeep, Name: "Jeep", Category: ledger.CategoryVehicle})
	require.NoError(t, err)

	return fixture{svc: svc, store: mem, clock: clock}
}

func (f fixture) balance(t *testing.T, site ledger.SiteID, asset ledger.AssetID) ledger.Balance {
	t.Helper()
	b, err := f.store.GetOrCreate(context.Background(), site, asset)
	require.NoError(t, err)
	return b
}

func lines(asset ledger.AssetID, qty int64) []ledger.LineItem {
	return []ledger.LineItem{{Asset: asset, Quantity: qty}}
}

func purchase(site ledger.SiteID, asset ledger.AssetID, qty int64, occurred time.Time) *ledger.Purchase {
	return &ledger.Purchase{
		Record: ledger.Record{Actor: officer, OccurredAt: occurred},
		Site:   site,
		Items:  lines(asset, qty),
	}
}

func transfer(from, to ledger.SiteID, asset ledger.AssetID, qty int64, occurred time.Time) *ledger.Transfer {
	return &ledger.Transfer{
		Record:   ledger.Record{Actor: officer, OccurredAt: occurred},
		FromSite: from,
		ToSite:   to,
		Items:    lines(asset, qty),
	}
}

func assignment(site ledger.SiteID, asset ledger.AssetID, qty int64, occurred time.Time) *ledger.Assignment {
	return &ledger.Assignment{
		Record:     ledger.Record{Actor: officer, OccurredAt: occurred},
		Site:       site,
		AssignedTo: "sgt-rao",
		Items:      []ledger.AssignedItem{{Asset: asset, Quantity: qty}},
	}
}

func expenditure(site ledger.SiteID, asset ledger.AssetID, qty int64, occurred time.Time) *ledger.Expenditure {
	return &ledger.Expenditure{
		Record: ledger.Record{Actor: officer, OccurredAt: occurred},
		Site:   site,
		Items:  lines(asset, qty),
	}
}

// counters is the comparable part of a balance.
type counters struct {
	OnHand, Purchased, Expended, Assigned, TransferredOut, TransferredIn int64
}

func countersOf(b ledger.Balance) counters {
	return counters{b.OnHand, b.Purchased, b.Expended, b.Assigned, b.TransferredOut, b.TransferredIn}
}
