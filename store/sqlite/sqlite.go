/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists balances, transaction documents, the audit trail, daily
  snapshots and the site/asset catalog in one SQLite database. A
  ledger unit of work maps onto one SQL transaction, so balance
  mutations, the document write and the audit append commit together.

KEY TABLES:
  balances:        One row per (site, asset); version column for CAS
  transactions:    Transaction documents (kind + JSON body)
  audit_entries:   Append-only movement log
  audit_items:     Signed line items per audit entry
  daily_snapshots: One row per (day, site, asset), upserted
  sites / assets:  Reference data

APPEND-ONLY ENFORCEMENT:
  There are no UPDATE or DELETE statements against audit_entries or
  audit_items. Corrections are new entries with negated quantities.

OPTIMISTIC LOCKING:
  Commit runs UPDATE ... WHERE version = ?. Zero affected rows means
  another writer got there first: ErrConcurrentModification.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for
  the whole unit and only ever touches the *sql.Tx, never the pool, so a
  single-connection database cannot deadlock against itself.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc, err := ledger.NewService(ledger.ServiceParams{Store: store})

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres: gorm implementation for PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

var _ ledger.Store = (*Store)(nil)

// ErrCorruptRow is returned when a stored value cannot be read back.
var ErrCorruptRow = errors.New("corrupt row")

// timeLayout sorts lexically; every stored time is UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.Store using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	now func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sites (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		state TEXT,
		district TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS assets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		unit TEXT NOT NULL,
		description TEXT,
		created_at TEXT NOT NULL
	);

	-- Running counters, the only mutable ledger state
	CREATE TABLE IF NOT EXISTS balances (
		site TEXT NOT NULL,
		asset TEXT NOT NULL,
		on_hand INTEGER NOT NULL DEFAULT 0 CHECK (on_hand >= 0),
		purchased INTEGER NOT NULL DEFAULT 0 CHECK (purchased >= 0),
		expended INTEGER NOT NULL DEFAULT 0 CHECK (expended >= 0),
		assigned INTEGER NOT NULL DEFAULT 0 CHECK (assigned >= 0),
		transferred_out INTEGER NOT NULL DEFAULT 0 CHECK (transferred_out >= 0),
		transferred_in INTEGER NOT NULL DEFAULT 0 CHECK (transferred_in >= 0),
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (site, asset)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		document TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_kind
		ON transactions(kind);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		action TEXT NOT NULL,
		site TEXT NOT NULL,
		counterpart_site TEXT,
		actor_id TEXT NOT NULL,
		actor_role TEXT,
		transaction_id TEXT NOT NULL,
		assignment_id TEXT,
		reversal INTEGER NOT NULL DEFAULT 0,
		remarks TEXT,
		ts TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_site_ts
		ON audit_entries(site, ts);
	CREATE INDEX IF NOT EXISTS idx_audit_counterpart_ts
		ON audit_entries(counterpart_site, ts) WHERE counterpart_site IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_audit_transaction
		ON audit_entries(transaction_id);

	CREATE TABLE IF NOT EXISTS audit_items (
		entry_id TEXT NOT NULL REFERENCES audit_entries(id),
		position INTEGER NOT NULL,
		asset TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (entry_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_items_asset
		ON audit_items(asset, entry_id);

	-- Daily rollup, upserted so re-runs overwrite
	CREATE TABLE IF NOT EXISTS daily_snapshots (
		day TEXT NOT NULL,
		site TEXT NOT NULL,
		asset TEXT NOT NULL,
		opening_balance INTEGER NOT NULL,
		purchases INTEGER NOT NULL,
		transfers_in INTEGER NOT NULL,
		transfers_out INTEGER NOT NULL,
		assigned INTEGER NOT NULL,
		expended INTEGER NOT NULL,
		closing_balance INTEGER NOT NULL,
		computed_at TEXT NOT NULL,
		PRIMARY KEY (day, site, asset)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_key_day
		ON daily_snapshots(site, asset, day);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BALANCES
// =============================================================================

func (s *Store) GetOrCreate(ctx context.Context, site ledger.SiteID, asset ledger.AssetID) (ledger.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreate(ctx, s.db, site, asset)
}

func (s *Store) getOrCreate(ctx context.Context, q querier, site ledger.SiteID, asset ledger.AssetID) (ledger.Balance, error) {
	now := formatTime(s.now())
	_, err := q.ExecContext(ctx, `
		INSERT INTO balances (site, asset, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(site, asset) DO NOTHING
	`, site, asset, now, now)
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("failed to create balance %s/%s: %w", site, asset, err)
	}

	row := q.QueryRowContext(ctx, `
		SELECT `+balanceColumns+`
		FROM balances WHERE site = ? AND asset = ?
	`, site, asset)
	return scanBalance(row)
}

func (s *Store) Commit(ctx context.Context, b ledger.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return commitBalance(ctx, s.db, b)
}

func commitBalance(ctx context.Context, q querier, b ledger.Balance) error {
	res, err := q.ExecContext(ctx, `
		UPDATE balances
		SET on_hand = ?, purchased = ?, expended = ?, assigned = ?,
		    transferred_out = ?, transferred_in = ?,
		    version = version + 1, updated_at = ?
		WHERE site = ? AND asset = ? AND version = ?
	`, b.OnHand, b.Purchased, b.Expended, b.Assigned, b.TransferredOut, b.TransferredIn,
		formatTime(b.UpdatedAt), b.Site, b.Asset, b.Version)
	if err != nil {
		return fmt.Errorf("failed to commit balance %s: %w", b.Key(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: balance %s", ledger.ErrConcurrentModification, b.Key())
	}
	return nil
}

// ListBalances returns matching balances ordered by site, asset.
func (s *Store) ListBalances(ctx context.Context, filter ledger.BalanceFilter) ([]ledger.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.Site != nil {
		where, args = append(where, "site = ?"), append(args, *filter.Site)
	}
	if filter.Asset != nil {
		where, args = append(where, "asset = ?"), append(args, *filter.Asset)
	}
	if filter.MinOnHand != nil {
		where, args = append(where, "on_hand >= ?"), append(args, *filter.MinOnHand)
	}
	if filter.MaxOnHand != nil {
		where, args = append(where, "on_hand <= ?"), append(args, *filter.MaxOnHand)
	}
	if filter.UpdatedFrom != nil {
		where, args = append(where, "updated_at >= ?"), append(args, formatTime(*filter.UpdatedFrom))
	}
	if filter.UpdatedTo != nil {
		where, args = append(where, "updated_at <= ?"), append(args, formatTime(*filter.UpdatedTo))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+balanceColumns+`
		FROM balances`+whereClause(where)+`
		ORDER BY site, asset
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []ledger.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

const balanceColumns = `site, asset, on_hand, purchased, expended, assigned,
	transferred_out, transferred_in, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(row scanner) (ledger.Balance, error) {
	var (
		b                    ledger.Balance
		createdAt, updatedAt string
	)
	err := row.Scan(&b.Site, &b.Asset, &b.OnHand, &b.Purchased, &b.Expended, &b.Assigned,
		&b.TransferredOut, &b.TransferredIn, &b.Version, &createdAt, &updatedAt)
	if err != nil {
		return b, fmt.Errorf("failed to scan balance: %w", err)
	}
	if b.CreatedAt, err = parseTime("balances.created_at", createdAt); err != nil {
		return b, err
	}
	if b.UpdatedAt, err = parseTime("balances.updated_at", updatedAt); err != nil {
		return b, err
	}
	return b, nil
}

// =============================================================================
// TRANSACTION DOCUMENTS
// =============================================================================

func (s *Store) SaveTransaction(ctx context.Context, t ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTransaction(ctx, s.db, t)
}

func saveTransaction(ctx context.Context, q querier, t ledger.Transaction) error {
	kind, doc, err := ledger.EncodeTransaction(t)
	if err != nil {
		return err
	}
	base := t.Base()
	_, err = q.ExecContext(ctx, `
		INSERT INTO transactions (id, kind, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			document = excluded.document,
			updated_at = excluded.updated_at
	`, base.ID, kind, string(doc), formatTime(base.CreatedAt), formatTime(base.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", base.ID, err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, q querier, id ledger.TransactionID) (ledger.Transaction, error) {
	var kind, doc string
	err := q.QueryRowContext(ctx, `SELECT kind, document FROM transactions WHERE id = ?`, id).Scan(&kind, &doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return ledger.DecodeTransaction(ledger.Kind(kind), []byte(doc))
}

func (s *Store) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteTransaction(ctx, s.db, id)
}

func deleteTransaction(ctx context.Context, q querier, id ledger.TransactionID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	return nil
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// AppendAudit adds an entry and its items. Append-only.
func (s *Store) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := appendAudit(ctx, sqlTx, entry); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func appendAudit(ctx context.Context, q querier, e ledger.AuditEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_entries
		(id, action, site, counterpart_site, actor_id, actor_role, transaction_id,
		 assignment_id, reversal, remarks, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Action, e.Site, nullString(string(e.CounterpartSite)), e.Actor.ID, nullString(e.Actor.Role),
		e.TransactionID, nullString(string(e.AssignmentID)), e.Reversal, nullString(e.Remarks), formatTime(e.Timestamp))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("audit entry %s already recorded: %w", e.ID, err)
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	for i, item := range e.Items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO audit_items (entry_id, position, asset, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)
		`, e.ID, i, item.Asset, item.Quantity, item.UnitPrice.String())
		if err != nil {
			return fmt.Errorf("failed to append audit item: %w", err)
		}
	}
	return nil
}

const auditColumns = `e.id, e.action, e.site, e.counterpart_site, e.actor_id, e.actor_role,
	e.transaction_id, e.assignment_id, e.reversal, e.remarks, e.ts,
	i.asset, i.quantity, i.unit_price`

// QueryAudit returns one page of matching entries, newest first.
func (s *Store) QueryAudit(ctx context.Context, filter ledger.AuditFilter, page ledger.Page) (ledger.AuditPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page = page.Normalize()
	where, args := auditWhere(filter)

	result := ledger.AuditPage{Page: page.Number, Size: page.Size, Entries: []ledger.AuditEntry{}}
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries e`+whereClause(where), args...).Scan(&result.Total)
	if err != nil {
		return result, fmt.Errorf("failed to count audit entries: %w", err)
	}
	if result.Total == 0 || page.Offset() >= result.Total {
		return result, nil
	}

	query := `
		SELECT ` + auditColumns + `
		FROM audit_entries e
		JOIN audit_items i ON i.entry_id = e.id
		WHERE e.seq IN (
			SELECT e.seq FROM audit_entries e` + whereClause(where) + `
			ORDER BY e.ts DESC, e.seq DESC
			LIMIT ? OFFSET ?
		)
		ORDER BY e.ts DESC, e.seq DESC, i.position ASC
	`
	args = append(args, page.Size, page.Offset())
	entries, err := queryAudit(ctx, s.db, query, args...)
	if err != nil {
		return result, err
	}
	result.Entries = entries
	return result, nil
}

// AuditActivity returns entries touching key in [from, to), oldest first.
func (s *Store) AuditActivity(ctx context.Context, key ledger.Key, from, to time.Time) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{
		"(e.site = ? OR e.counterpart_site = ?)",
		"e.id IN (SELECT entry_id FROM audit_items WHERE asset = ?)",
	}
	args := []any{key.Site, key.Site, key.Asset}
	if !from.IsZero() {
		where, args = append(where, "e.ts >= ?"), append(args, formatTime(from))
	}
	if !to.IsZero() {
		where, args = append(where, "e.ts < ?"), append(args, formatTime(to))
	}

	query := `
		SELECT ` + auditColumns + `
		FROM audit_entries e
		JOIN audit_items i ON i.entry_id = e.id` + whereClause(where) + `
		ORDER BY e.ts ASC, e.seq ASC, i.position ASC
	`
	return queryAudit(ctx, s.db, query, args...)
}

func auditWhere(f ledger.AuditFilter) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Site != nil {
		where, args = append(where, "(e.site = ? OR e.counterpart_site = ?)"), append(args, *f.Site, *f.Site)
	}
	if f.Asset != nil {
		where, args = append(where, "e.id IN (SELECT entry_id FROM audit_items WHERE asset = ?)"), append(args, *f.Asset)
	}
	if f.Kind != nil {
		where, args = append(where, "e.action = ?"), append(args, *f.Kind)
	}
	if f.TransactionID != nil {
		where, args = append(where, "e.transaction_id = ?"), append(args, *f.TransactionID)
	}
	if f.From != nil {
		where, args = append(where, "e.ts >= ?"), append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where, args = append(where, "e.ts < ?"), append(args, formatTime(*f.To))
	}
	return where, args
}

// queryAudit folds joined entry/item rows back into entries. Rows must be
// grouped by entry.
func queryAudit(ctx context.Context, q querier, query string, args ...any) ([]ledger.AuditEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			e                                        ledger.AuditEntry
			counterpart, role, assignmentID, remarks sql.NullString
			ts, unitPrice                            string
			item                                     ledger.LineItem
		)
		err := rows.Scan(&e.ID, &e.Action, &e.Site, &counterpart, &e.Actor.ID, &role,
			&e.TransactionID, &assignmentID, &e.Reversal, &remarks, &ts,
			&item.Asset, &item.Quantity, &unitPrice)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("failed to parse unit price %q: %w", unitPrice, err)
		}

		if n := len(entries); n > 0 && entries[n-1].ID == e.ID {
			entries[n-1].Items = append(entries[n-1].Items, item)
			continue
		}
		e.CounterpartSite = ledger.SiteID(counterpart.String)
		e.Actor.Role = role.String
		e.AssignmentID = ledger.TransactionID(assignmentID.String)
		e.Remarks = remarks.String
		if e.Timestamp, err = parseTime("audit_entries.ts", ts); err != nil {
			return nil, err
		}
		e.Items = []ledger.LineItem{item}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (s *Store) UpsertSnapshot(ctx context.Context, snap ledger.DailySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_snapshots
		(day, site, asset, opening_balance, purchases, transfers_in, transfers_out,
		 assigned, expended, closing_balance, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day, site, asset) DO UPDATE SET
			opening_balance = excluded.opening_balance,
			purchases = excluded.purchases,
			transfers_in = excluded.transfers_in,
			transfers_out = excluded.transfers_out,
			assigned = excluded.assigned,
			expended = excluded.expended,
			closing_balance = excluded.closing_balance,
			computed_at = excluded.computed_at
	`, snap.Day.String(), snap.Site, snap.Asset, snap.Opening, snap.Purchases, snap.TransfersIn,
		snap.TransfersOut, snap.Assigned, snap.Expended, snap.Closing, formatTime(snap.ComputedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot %s %s: %w", snap.Day, snap.Key(), err)
	}
	return nil
}

const snapshotColumns = `day, site, asset, opening_balance, purchases, transfers_in, transfers_out,
	assigned, expended, closing_balance, computed_at`

func (s *Store) GetSnapshot(ctx context.Context, day ledger.Day, key ledger.Key) (*ledger.DailySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM daily_snapshots WHERE day = ? AND site = ? AND asset = ?
	`, day.String(), key.Site, key.Asset)
	return scanOptionalSnapshot(row)
}

func (s *Store) LatestSnapshotBefore(ctx context.Context, key ledger.Key, day ledger.Day) (*ledger.DailySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM daily_snapshots
		WHERE site = ? AND asset = ? AND day < ?
		ORDER BY day DESC
		LIMIT 1
	`, key.Site, key.Asset, day.String())
	return scanOptionalSnapshot(row)
}

func (s *Store) ListSnapshots(ctx context.Context, filter ledger.SnapshotFilter) ([]ledger.DailySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.Site != nil {
		where, args = append(where, "site = ?"), append(args, *filter.Site)
	}
	if filter.Asset != nil {
		where, args = append(where, "asset = ?"), append(args, *filter.Asset)
	}
	if filter.From != nil {
		where, args = append(where, "day >= ?"), append(args, filter.From.String())
	}
	if filter.To != nil {
		where, args = append(where, "day <= ?"), append(args, filter.To.String())
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM daily_snapshots`+whereClause(where)+`
		ORDER BY day, site, asset
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []ledger.DailySnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func scanOptionalSnapshot(row *sql.Row) (*ledger.DailySnapshot, error) {
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func scanSnapshot(row scanner) (ledger.DailySnapshot, error) {
	var (
		snap            ledger.DailySnapshot
		day, computedAt string
	)
	err := row.Scan(&day, &snap.Site, &snap.Asset, &snap.Opening, &snap.Purchases, &snap.TransfersIn,
		&snap.TransfersOut, &snap.Assigned, &snap.Expended, &snap.Closing, &computedAt)
	if err == sql.ErrNoRows {
		return snap, err
	}
	if err != nil {
		return snap, fmt.Errorf("failed to scan snapshot: %w", err)
	}
	if snap.Day, err = ledger.ParseDay(day); err != nil {
		return snap, err
	}
	if snap.ComputedAt, err = parseTime("daily_snapshots.computed_at", computedAt); err != nil {
		return snap, err
	}
	return snap, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) SaveSite(ctx context.Context, site ledger.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, state, district, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			state = excluded.state,
			district = excluded.district
	`, site.ID, site.Name, nullString(site.State), nullString(site.District), formatTime(site.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save site: %w", err)
	}
	return nil
}

func (s *Store) GetSite(ctx context.Context, id ledger.SiteID) (ledger.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT id, name, state, district, created_at FROM sites WHERE id = ?`, id)
	site, err := scanSite(row)
	if err == sql.ErrNoRows {
		return ledger.Site{}, fmt.Errorf("%w: site %s", ledger.ErrNotFound, id)
	}
	return site, err
}

func (s *Store) ListSites(ctx context.Context) ([]ledger.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, state, district, created_at FROM sites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sites: %w", err)
	}
	defer rows.Close()

	sites := []ledger.Site{}
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

func scanSite(row scanner) (ledger.Site, error) {
	var (
		site            ledger.Site
		state, district sql.NullString
		createdAt       string
	)
	if err := row.Scan(&site.ID, &site.Name, &state, &district, &createdAt); err != nil {
		return site, err
	}
	site.State = state.String
	site.District = district.String
	var err error
	if site.CreatedAt, err = parseTime("sites.created_at", createdAt); err != nil {
		return site, err
	}
	return site, nil
}

func (s *Store) SaveAsset(ctx context.Context, a ledger.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (id, name, category, unit, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			unit = excluded.unit,
			description = excluded.description
	`, a.ID, a.Name, a.Category, a.Unit, nullString(a.Description), formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	return nil
}

func (s *Store) GetAsset(ctx context.Context, id ledger.AssetID) (ledger.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT id, name, category, unit, description, created_at FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return ledger.Asset{}, fmt.Errorf("%w: asset %s", ledger.ErrNotFound, id)
	}
	return a, err
}

func (s *Store) ListAssets(ctx context.Context) ([]ledger.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, category, unit, description, created_at FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	assets := []ledger.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func scanAsset(row scanner) (ledger.Asset, error) {
	var (
		a           ledger.Asset
		description sql.NullString
		createdAt   string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Category, &a.Unit, &description, &createdAt); err != nil {
		return a, err
	}
	a.Description = description.String
	var err error
	if a.CreatedAt, err = parseTime("assets.created_at", createdAt); err != nil {
		return a, err
	}
	return a, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore reads and writes through the open transaction only.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) GetOrCreate(ctx context.Context, site ledger.SiteID, asset ledger.AssetID) (ledger.Balance, error) {
	return ts.parent.getOrCreate(ctx, ts.tx, site, asset)
}

func (ts *txStore) Commit(ctx context.Context, b ledger.Balance) error {
	return commitBalance(ctx, ts.tx, b)
}

func (ts *txStore) SaveTransaction(ctx context.Context, t ledger.Transaction) error {
	return saveTransaction(ctx, ts.tx, t)
}

func (ts *txStore) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	return deleteTransaction(ctx, ts.tx, id)
}

func (ts *txStore) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	return appendAudit(ctx, ts.tx, entry)
}

// Helper functions

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime reads a stored timestamp. A value that does not parse means the
// row was written outside this store and is reported, not zeroed.
func parseTime(column, s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q: %v", ErrCorruptRow, column, s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
