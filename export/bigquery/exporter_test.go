package bigquery

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

type fakeInserter struct {
	batches [][]*SnapshotRow
	errs    []error // returned in order, then nil
}

func (f *fakeInserter) Put(_ context.Context, src any) error {
	rows, ok := src.([]*SnapshotRow)
	if !ok {
		return errors.New("unexpected row type")
	}
	f.batches = append(f.batches, rows)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func snapshots(n int) []ledger.DailySnapshot {
	out := make([]ledger.DailySnapshot, n)
	for i := range out {
		out[i] = ledger.DailySnapshot{
			Day:          ledger.NewDay(2025, time.March, 4),
			Site:         ledger.SiteID("site-" + string(rune('a'+i))),
			Asset:        "rifle",
			Opening:      10,
			Purchases:    5,
			TransfersIn:  2,
			TransfersOut: 3,
			Assigned:     1,
			Expended:     1,
			Closing:      12,
		}
	}
	return out
}

func fastConfig(batch int) Config {
	return Config{BatchSize: batch, MaxAttempts: 3, InitialBackoff: time.Millisecond, MaximumBackoff: time.Millisecond}
}

func TestExport_Batches(t *testing.T) {
	ins := &fakeInserter{}
	e := newExporter(ins, fastConfig(2), nil)

	require.NoError(t, e.Export(context.Background(), ledger.NewDay(2025, time.March, 4), snapshots(5)))
	require.Len(t, ins.batches, 3)
	assert.Len(t, ins.batches[0], 2)
	assert.Len(t, ins.batches[2], 1)

	row := ins.batches[0][0]
	assert.Equal(t, "2025-03-04", row.Day)
	assert.Equal(t, int64(4), row.NetMovement)
	assert.Equal(t, "2025-03-04/site-a/rifle", row.InsertID())
}

func TestExport_EmptyIsNoop(t *testing.T) {
	ins := &fakeInserter{}
	e := newExporter(ins, fastConfig(2), nil)
	require.NoError(t, e.Export(context.Background(), ledger.NewDay(2025, time.March, 4), nil))
	assert.Empty(t, ins.batches)
}

func TestExport_RetriesTransientErrors(t *testing.T) {
	ins := &fakeInserter{errs: []error{
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		&googleapi.Error{Code: http.StatusTooManyRequests},
	}}
	e := newExporter(ins, fastConfig(10), nil)

	require.NoError(t, e.Export(context.Background(), ledger.NewDay(2025, time.March, 4), snapshots(1)))
	assert.Len(t, ins.batches, 3)
}

func TestExport_GivesUpAfterMaxAttempts(t *testing.T) {
	unavailable := &googleapi.Error{Code: http.StatusServiceUnavailable}
	ins := &fakeInserter{errs: []error{unavailable, unavailable, unavailable, unavailable}}
	e := newExporter(ins, fastConfig(10), nil)

	err := e.Export(context.Background(), ledger.NewDay(2025, time.March, 4), snapshots(1))
	require.Error(t, err)
	assert.Len(t, ins.batches, 3)
}

func TestExport_RowErrorsAreNotRetried(t *testing.T) {
	rowErr := bigquery.PutMultiError{{InsertID: "x", RowIndex: 0}}
	ins := &fakeInserter{errs: []error{rowErr}}
	e := newExporter(ins, fastConfig(1), nil)

	err := e.Export(context.Background(), ledger.NewDay(2025, time.March, 4), snapshots(2))
	require.Error(t, err)
	assert.Len(t, ins.batches, 2, "second batch still attempted")
}

func TestSaveMatchesSchema(t *testing.T) {
	row := newSnapshotRow(snapshots(1)[0])
	values, insertID, err := row.Save()
	require.NoError(t, err)
	assert.Equal(t, row.InsertID(), insertID)

	schema := Schema()
	assert.Len(t, values, len(schema))
	for _, field := range schema {
		assert.Contains(t, values, field.Name)
	}
}

func TestNew_RequiresDestination(t *testing.T) {
	_, err := New(context.Background(), Config{Dataset: "d", Table: "t"}, nil)
	assert.Error(t, err)
	_, err = New(context.Background(), Config{ProjectID: "p", Table: "t"}, nil)
	assert.Error(t, err)
	_, err = New(context.Background(), Config{ProjectID: "p", Dataset: "d"}, nil)
	assert.Error(t, err)
}
