package postgres

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

type balanceRow struct {
	Site           string `gorm:"primaryKey;size:64"`
	Asset          string `gorm:"primaryKey;size:64"`
	OnHand         int64  `gorm:"not null;default:0"`
	Purchased      int64  `gorm:"not null;default:0"`
	Expended       int64  `gorm:"not null;default:0"`
	Assigned       int64  `gorm:"not null;default:0"`
	TransferredOut int64  `gorm:"not null;default:0"`
	TransferredIn  int64  `gorm:"not null;default:0"`
	Version        int64  `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (balanceRow) TableName() string { return "balances" }

func (r balanceRow) toDomain() ledger.Balance {
	return ledger.Balance{
		Site:           ledger.SiteID(r.Site),
		Asset:          ledger.AssetID(r.Asset),
		OnHand:         r.OnHand,
		Purchased:      r.Purchased,
		Expended:       r.Expended,
		Assigned:       r.Assigned,
		TransferredOut: r.TransferredOut,
		TransferredIn:  r.TransferredIn,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

type transactionRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Kind      string `gorm:"size:32;not null;index"`
	Document  string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (transactionRow) TableName() string { return "transactions" }

// auditEntryRow is never updated or deleted.
type auditEntryRow struct {
	Seq             int64          `gorm:"primaryKey;autoIncrement"`
	ID              string         `gorm:"size:64;not null;uniqueIndex"`
	Action          string         `gorm:"size:32;not null"`
	Site            string         `gorm:"size:64;not null;index:idx_audit_site_time"`
	CounterpartSite string         `gorm:"size:64;index"`
	ActorID         string         `gorm:"size:64;not null"`
	ActorRole       string         `gorm:"size:64"`
	TransactionID   string         `gorm:"size:64;not null;index"`
	AssignmentID    string         `gorm:"size:64"`
	Reversal        bool           `gorm:"not null;default:false"`
	Remarks         string         `gorm:"type:text"`
	RecordedAt      time.Time      `gorm:"not null;index:idx_audit_site_time"`
	Items           []auditItemRow `gorm:"foreignKey:EntryID;references:ID"`
}

func (auditEntryRow) TableName() string { return "audit_entries" }

type auditItemRow struct {
	EntryID   string          `gorm:"primaryKey;size:64"`
	Position  int             `gorm:"primaryKey"`
	Asset     string          `gorm:"size:64;not null;index"`
	Quantity  int64           `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
}

func (auditItemRow) TableName() string { return "audit_items" }

func newAuditRows(e ledger.AuditEntry) (auditEntryRow, []auditItemRow) {
	row := auditEntryRow{
		ID:              e.ID,
		Action:          string(e.Action),
		Site:            string(e.Site),
		CounterpartSite: string(e.CounterpartSite),
		ActorID:         string(e.Actor.ID),
		ActorRole:       e.Actor.Role,
		TransactionID:   string(e.TransactionID),
		AssignmentID:    string(e.AssignmentID),
		Reversal:        e.Reversal,
		Remarks:         e.Remarks,
		RecordedAt:      e.Timestamp.UTC(),
	}
	items := make([]auditItemRow, len(e.Items))
	for i, item := range e.Items {
		items[i] = auditItemRow{
			EntryID:   e.ID,
			Position:  i,
			Asset:     string(item.Asset),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	return row, items
}

func (r auditEntryRow) toDomain() ledger.AuditEntry {
	items := make([]ledger.LineItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = ledger.LineItem{
			Asset:     ledger.AssetID(item.Asset),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}
	return ledger.AuditEntry{
		ID:              r.ID,
		Action:          ledger.Kind(r.Action),
		Site:            ledger.SiteID(r.Site),
		CounterpartSite: ledger.SiteID(r.CounterpartSite),
		Items:           items,
		Actor:           ledger.Actor{ID: ledger.ActorID(r.ActorID), Role: r.ActorRole},
		TransactionID:   ledger.TransactionID(r.TransactionID),
		AssignmentID:    ledger.TransactionID(r.AssignmentID),
		Reversal:        r.Reversal,
		Remarks:         r.Remarks,
		Timestamp:       r.RecordedAt.UTC(),
	}
}

type snapshotRow struct {
	Day            string `gorm:"primaryKey;size:10"`
	Site           string `gorm:"primaryKey;size:64"`
	Asset          string `gorm:"primaryKey;size:64"`
	OpeningBalance int64  `gorm:"not null"`
	Purchases      int64  `gorm:"not null"`
	TransfersIn    int64  `gorm:"not null"`
	TransfersOut   int64  `gorm:"not null"`
	Assigned       int64  `gorm:"not null"`
	Expended       int64  `gorm:"not null"`
	ClosingBalance int64  `gorm:"not null"`
	ComputedAt     time.Time
}

func (snapshotRow) TableName() string { return "daily_snapshots" }

func newSnapshotRow(s ledger.DailySnapshot) snapshotRow {
	return snapshotRow{
		Day:            s.Day.String(),
		Site:           string(s.Site),
		Asset:          string(s.Asset),
		OpeningBalance: s.Opening,
		Purchases:      s.Purchases,
		TransfersIn:    s.TransfersIn,
		TransfersOut:   s.TransfersOut,
		Assigned:       s.Assigned,
		Expended:       s.Expended,
		ClosingBalance: s.Closing,
		ComputedAt:     s.ComputedAt.UTC(),
	}
}

func (r snapshotRow) toDomain() (ledger.DailySnapshot, error) {
	day, err := ledger.ParseDay(r.Day)
	if err != nil {
		return ledger.DailySnapshot{}, err
	}
	return ledger.DailySnapshot{
		Day:          day,
		Site:         ledger.SiteID(r.Site),
		Asset:        ledger.AssetID(r.Asset),
		Opening:      r.OpeningBalance,
		Purchases:    r.Purchases,
		TransfersIn:  r.TransfersIn,
		TransfersOut: r.TransfersOut,
		Assigned:     r.Assigned,
		Expended:     r.Expended,
		Closing:      r.ClosingBalance,
		ComputedAt:   r.ComputedAt.UTC(),
	}, nil
}

type siteRow struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255;not null"`
	State     string `gorm:"size:128"`
	District  string `gorm:"size:128"`
	CreatedAt time.Time
}

func (siteRow) TableName() string { return "sites" }

func (r siteRow) toDomain() ledger.Site {
	return ledger.Site{
		ID:        ledger.SiteID(r.ID),
		Name:      r.Name,
		State:     r.State,
		District:  r.District,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type assetRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:255;not null"`
	Category    string `gorm:"size:32;not null"`
	Unit        string `gorm:"size:16;not null"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
}

func (assetRow) TableName() string { return "assets" }

func (r assetRow) toDomain() ledger.Asset {
	return ledger.Asset{
		ID:          ledger.AssetID(r.ID),
		Name:        r.Name,
		Category:    ledger.AssetCategory(r.Category),
		Unit:        r.Unit,
		Description: r.Description,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}
