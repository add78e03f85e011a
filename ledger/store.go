/*
store.go - Persistence interfaces for balances, transactions and the audit trail

PURPOSE:
  Defines the boundary between ledger logic and the database. Balances are
  the only mutable state; the audit trail is append-only; transaction
  documents are written, replaced (purchase edits) and deleted (reversal).

KEY INTERFACES:
  BalanceStore:  get_or_create + compare-and-swap commit
  UnitOfWork:    Everything a single ledger transaction touches
  Store:         UnitOfWork + WithTx + read models
  SnapshotStore: Daily snapshot upsert and lookup
  Catalog:       Sites and assets (reference data)

ATOMIC UNITS:
  WithTx runs fn against a UnitOfWork. If fn returns an error nothing fn
  wrote is visible; otherwise everything is committed together. This is how
  multi-line transactions stay all-or-nothing and how a transfer's two legs
  commit as one.

OPTIMISTIC LOCKING:
  Commit succeeds only if the stored Version still equals the record's
  Version, and persists Version+1. A mismatch is ErrConcurrentModification,
  which the Engine retries with bounded backoff.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and local runs
  - store/sqlite/sqlite.go: database/sql + go-sqlite3
  - store/postgres/postgres.go: gorm (postgres, sqlite dialector in tests)
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// BALANCE STORE
// =============================================================================

// BalanceStore is the leaf persistence contract for balance records.
type BalanceStore interface {
	// GetOrCreate returns the record, creating a zeroed one exactly once.
	GetOrCreate(ctx context.Context, site SiteID, asset AssetID) (Balance, error)

	// Commit persists b if the stored version still equals b.Version.
	Commit(ctx context.Context, b Balance) error
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// UnitOfWork is the view of the store inside one atomic unit.
type UnitOfWork interface {
	BalanceStore

	SaveTransaction(ctx context.Context, t Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (Transaction, error) // ErrNotFound
	DeleteTransaction(ctx context.Context, id TransactionID) error             // ErrNotFound

	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// Store is the full persistence surface used by Service.
type Store interface {
	UnitOfWork
	SnapshotStore
	Catalog

	// WithTx executes fn within an atomic unit.
	// If fn returns error, everything is rolled back.
	WithTx(ctx context.Context, fn func(UnitOfWork) error) error

	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	QueryAudit(ctx context.Context, filter AuditFilter, page Page) (AuditPage, error)

	// AuditActivity returns entries touching key with from <= ts < to,
	// oldest first. A zero bound is open.
	AuditActivity(ctx context.Context, key Key, from, to time.Time) ([]AuditEntry, error)
}

// DefaultLowStockThreshold is the on-hand ceiling used by low-stock listings.
const DefaultLowStockThreshold int64 = 10

// BalanceFilter narrows QueryBalances. Nil fields match everything.
type BalanceFilter struct {
	Site        *SiteID
	Asset       *AssetID
	MinOnHand   *int64
	MaxOnHand   *int64
	UpdatedFrom *time.Time
	UpdatedTo   *time.Time
}

// Matches applies the filter in memory.
func (f BalanceFilter) Matches(b Balance) bool {
	if f.Site != nil && b.Site != *f.Site {
		return false
	}
	if f.Asset != nil && b.Asset != *f.Asset {
		return false
	}
	if f.MinOnHand != nil && b.OnHand < *f.MinOnHand {
		return false
	}
	if f.MaxOnHand != nil && b.OnHand > *f.MaxOnHand {
		return false
	}
	if f.UpdatedFrom != nil && b.UpdatedAt.Before(*f.UpdatedFrom) {
		return false
	}
	if f.UpdatedTo != nil && b.UpdatedAt.After(*f.UpdatedTo) {
		return false
	}
	return true
}

// =============================================================================
// SNAPSHOT STORE
// =============================================================================

// DailySnapshot is the closing position of one (site, asset) pair for a day.
type DailySnapshot struct {
	Day          Day       `json:"date"`
	Site         SiteID    `json:"site"`
	Asset        AssetID   `json:"asset"`
	Opening      int64     `json:"opening_balance"`
	Purchases    int64     `json:"purchases"`
	TransfersIn  int64     `json:"transfers_in"`
	TransfersOut int64     `json:"transfers_out"`
	Assigned     int64     `json:"assigned"`
	Expended     int64     `json:"expended"`
	Closing      int64     `json:"closing_balance"`
	ComputedAt   time.Time `json:"computed_at"`
}

func (s DailySnapshot) Key() Key { return Key{Site: s.Site, Asset: s.Asset} }

// NetMovement is purchases plus transfers in minus transfers out.
func (s DailySnapshot) NetMovement() int64 {
	return s.Purchases + s.TransfersIn - s.TransfersOut
}

// SnapshotFilter narrows snapshot listings. From/To are inclusive days.
type SnapshotFilter struct {
	Site  *SiteID
	Asset *AssetID
	From  *Day
	To    *Day
}

func (f SnapshotFilter) Matches(s DailySnapshot) bool {
	if f.Site != nil && s.Site != *f.Site {
		return false
	}
	if f.Asset != nil && s.Asset != *f.Asset {
		return false
	}
	if f.From != nil && s.Day.Before(*f.From) {
		return false
	}
	if f.To != nil && s.Day.After(*f.To) {
		return false
	}
	return true
}

// SnapshotStore persists daily snapshots. One row per (day, site, asset).
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, s DailySnapshot) error

	// GetSnapshot returns nil, nil when absent.
	GetSnapshot(ctx context.Context, day Day, key Key) (*DailySnapshot, error)

	// LatestSnapshotBefore returns the newest snapshot strictly before day,
	// or nil, nil when none exists.
	LatestSnapshotBefore(ctx context.Context, key Key, day Day) (*DailySnapshot, error)

	// ListSnapshots returns matches ordered by day, site, asset.
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]DailySnapshot, error)
}
