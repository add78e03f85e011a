package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

// SnapshotRow mirrors the daily_snapshots BigQuery schema.
type SnapshotRow struct {
	Day          string    `bigquery:"day"`
	Site         string    `bigquery:"site"`
	Asset        string    `bigquery:"asset"`
	Opening      int64     `bigquery:"opening_balance"`
	Purchases    int64     `bigquery:"purchases"`
	TransfersIn  int64     `bigquery:"transfers_in"`
	TransfersOut int64     `bigquery:"transfers_out"`
	NetMovement  int64     `bigquery:"net_movement"`
	Assigned     int64     `bigquery:"assigned"`
	Expended     int64     `bigquery:"expended"`
	Closing      int64     `bigquery:"closing_balance"`
	ComputedAt   time.Time `bigquery:"computed_at"`
}

var _ bigquery.ValueSaver = (*SnapshotRow)(nil)

func newSnapshotRow(s ledger.DailySnapshot) *SnapshotRow {
	return &SnapshotRow{
		Day:          s.Day.String(),
		Site:         string(s.Site),
		Asset:        string(s.Asset),
		Opening:      s.Opening,
		Purchases:    s.Purchases,
		TransfersIn:  s.TransfersIn,
		TransfersOut: s.TransfersOut,
		NetMovement:  s.NetMovement(),
		Assigned:     s.Assigned,
		Expended:     s.Expended,
		Closing:      s.Closing,
		ComputedAt:   s.ComputedAt.UTC(),
	}
}

// InsertID identifies the row for streaming dedup.
func (r *SnapshotRow) InsertID() string {
	return r.Day + "/" + r.Site + "/" + r.Asset
}

// Save implements bigquery.ValueSaver.
func (r *SnapshotRow) Save() (map[string]bigquery.Value, string, error) {
	return map[string]bigquery.Value{
		"day":             r.Day,
		"site":            r.Site,
		"asset":           r.Asset,
		"opening_balance": r.Opening,
		"purchases":       r.Purchases,
		"transfers_in":    r.TransfersIn,
		"transfers_out":   r.TransfersOut,
		"net_movement":    r.NetMovement,
		"assigned":        r.Assigned,
		"expended":        r.Expended,
		"closing_balance": r.Closing,
		"computed_at":     r.ComputedAt,
	}, r.InsertID(), nil
}

// Schema returns the table schema the rows expect.
func Schema() bigquery.Schema {
	return bigquery.Schema{
		{Name: "day", Type: bigquery.DateFieldType, Required: true},
		{Name: "site", Type: bigquery.StringFieldType, Required: true},
		{Name: "asset", Type: bigquery.StringFieldType, Required: true},
		{Name: "opening_balance", Type: bigquery.IntegerFieldType},
		{Name: "purchases", Type: bigquery.IntegerFieldType},
		{Name: "transfers_in", Type: bigquery.IntegerFieldType},
		{Name: "transfers_out", Type: bigquery.IntegerFieldType},
		{Name: "net_movement", Type: bigquery.IntegerFieldType},
		{Name: "assigned", Type: bigquery.IntegerFieldType},
		{Name: "expended", Type: bigquery.IntegerFieldType},
		{Name: "closing_balance", Type: bigquery.IntegerFieldType},
		{Name: "computed_at", Type: bigquery.TimestampFieldType},
	}
}
