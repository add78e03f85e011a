package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

// =============================================================================
// DOCUMENT CODEC
// =============================================================================

func TestTransactionCodec_KeepsVariantFields(t *testing.T) {
	tr := transfer(siteA, siteB, rifle, 3, at(2, 9))
	tr.ID = "tx-1"
	tr.InvoiceNumber = "INV-9"
	tr.Items[0].UnitPrice = decimal.RequireFromString("1250.50")

	kind, data, err := ledger.EncodeTransaction(tr)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindTransfer, kind)

	decoded, err := ledger.DecodeTransaction(kind, data)
	require.NoError(t, err)
	got, ok := decoded.(*ledger.Transfer)
	require.True(t, ok)
	assert.Equal(t, ledger.TransactionID("tx-1"), got.ID)
	assert.Equal(t, siteA, got.FromSite)
	assert.Equal(t, siteB, got.ToSite)
	assert.Equal(t, "INV-9", got.InvoiceNumber)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("1250.50")))
	assert.True(t, got.OccurredAt.Equal(at(2, 9)))

	_, err = ledger.DecodeTransaction("loan", data)
	assert.Error(t, err)
}

func TestLineItem_Total(t *testing.T) {
	li := ledger.LineItem{Asset: rifle, Quantity: 4, UnitPrice: decimal.RequireFromString("12.25")}
	assert.True(t, li.Total().Equal(decimal.RequireFromString("49")))
}

func TestSites(t *testing.T) {
	assert.Equal(t, []ledger.SiteID{siteA, siteB}, ledger.Sites(transfer(siteA, siteB, rifle, 1, at(1, 1))))
	assert.Equal(t, []ledger.SiteID{siteA}, ledger.Sites(assignment(siteA, rifle, 1, at(1, 1))))
}

// =============================================================================
// ACTIVITY
// =============================================================================

func TestSummarizeActivity(t *testing.T) {
	key := ledger.Key{Site: siteA, Asset: rifle}
	entries := []ledger.AuditEntry{
		{Action: ledger.KindPurchase, Site: siteA, Items: lines(rifle, 100)},
		{Action: ledger.KindPurchase, Site: siteA, Items: lines(jeep, 7)},
		{Action: ledger.KindTransfer, Site: siteA, CounterpartSite: siteB, Items: lines(rifle, 30)},
		{Action: ledger.KindTransfer, Site: siteB, CounterpartSite: siteA, Items: lines(rifle, 5)},
		{Action: ledger.KindAssignment, Site: siteA, Items: lines(rifle, 20)},
		{Action: ledger.KindExpenditure, Site: siteA, Items: lines(rifle, 8), AssignmentID: "asg-1"},
		{Action: ledger.KindExpenditure, Site: siteA, Items: lines(rifle, 2)},
		{Action: ledger.KindExpenditure, Site: siteA, Items: lines(rifle, -2), Reversal: true},
	}

	act := ledger.SummarizeActivity(key, entries)
	assert.Equal(t, ledger.Activity{
		Purchases:    100,
		TransfersIn:  5,
		TransfersOut: 30,
		Assigned:     12,
		Expended:     8,
	}, act)
	assert.Equal(t, int64(55), act.Net())
}

func TestAuditFilter_SiteMatchesEitherSide(t *testing.T) {
	e := ledger.AuditEntry{Action: ledger.KindTransfer, Site: siteA, CounterpartSite: siteB, Items: lines(rifle, 1), Timestamp: at(2, 0)}
	assert.True(t, ledger.AuditFilter{Site: ptr(siteB)}.Matches(e))
	assert.False(t, ledger.AuditFilter{Asset: ptr(jeep)}.Matches(e))

	from, to := at(2, 0), at(3, 0)
	assert.True(t, ledger.AuditFilter{From: &from, To: &to}.Matches(e))
	assert.False(t, ledger.AuditFilter{To: &from}.Matches(e), "upper bound is exclusive")
}

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, ledger.Page{Number: 1, Size: ledger.DefaultPageSize}, ledger.Page{}.Normalize())
	assert.Equal(t, ledger.Page{Number: 3, Size: ledger.MaxPageSize}, ledger.Page{Number: 3, Size: 1000}.Normalize())
	assert.Equal(t, 4, ledger.AuditPage{Total: 76, Size: 25}.TotalPages())
}

func TestAuditTrail_Paging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 7; i++ {
		_, err := f.svc.ApplyTransaction(ctx, purchase(siteA, rifle, int64(i+1), at(1, 9).Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	page, err := f.svc.QueryAuditTrail(ctx, ledger.AuditFilter{Site: ptr(siteA)}, ledger.Page{Number: 2, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 3, page.TotalPages())
	require.Len(t, page.Entries, 3)
	assert.Equal(t, int64(4), page.Entries[0].Items[0].Quantity)

	page, err = f.svc.QueryAuditTrail(ctx, ledger.AuditFilter{}, ledger.Page{Number: 9, Size: 3})
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}

// =============================================================================
// DAYS
// =============================================================================

func TestDay(t *testing.T) {
	d, err := ledger.ParseDay("2025-03-01")
	require.NoError(t, err)
	assert.True(t, d.Equal(day(1)))
	assert.Equal(t, "2025-02-28", d.Prev().String())
	assert.True(t, d.End().Equal(at(2, 0)))

	assert.True(t, ledger.DayOf(time.Date(2025, 3, 1, 23, 59, 0, 0, time.UTC)).Equal(d))

	_, err = ledger.ParseDay("03/01/2025")
	assert.Error(t, err)

	text, err := d.MarshalText()
	require.NoError(t, err)
	var back ledger.Day
	require.NoError(t, back.UnmarshalText(text))
	assert.True(t, back.Equal(d))
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconciler_CleanAfterMixedActivity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.ApplyTransaction(ctx, purchase(siteA, rifle, 100, at(1, 9)))
	require.NoError(t, err)
	_, err = f.svc.ApplyTransaction(ctx, transfer(siteA, siteB, rifle, 30, at(1, 10)))
	require.NoError(t, err)
	assignID, err := f.svc.ApplyTransaction(ctx, assignment(siteA, rifle, 20, at(1, 11)))
	require.NoError(t, err)
	_, err = f.svc.ConvertAssignmentLineToExpenditure(ctx, ledger.ConvertRequest{AssignmentID: assignID, Asset: rifle, Quantity: 5})
	require.NoError(t, err)
	id, err := f.svc.ApplyTransaction(ctx, expenditure(siteB, rifle, 3, at(1, 12)))
	require.NoError(t, err)
	require.NoError(t, f.svc.ReverseTransaction(ctx, id, officer))

	report, err := ledger.NewReconciler(f.store, nil, nil).Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean(), "drifts: %+v", report.Drifts)
	assert.Equal(t, 2, report.Checked)

	derived := ledger.DeriveBalance(ledger.Key{Site: siteA, Asset: rifle}, mustActivity(t, f, siteA, rifle))
	assert.True(t, derived.SameCounters(f.balance(t, siteA, rifle)))
}

func mustActivity(t *testing.T, f fixture, site ledger.SiteID, asset ledger.AssetID) []ledger.AuditEntry {
	t.Helper()
	entries, err := f.store.AuditActivity(context.Background(), ledger.Key{Site: site, Asset: asset}, time.Time{}, time.Time{})
	require.NoError(t, err)
	return entries
}
