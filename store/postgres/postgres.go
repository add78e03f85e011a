// Package postgres implements ledger.Store on gorm. PostgreSQL is the
// production target; the sqlite dialector is accepted for tests and
// single-node deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	pgdriver "gorm.io/driver/postgres"
	sqlitedriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
)

var _ ledger.Store = (*Store)(nil)

// Supported drivers for Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Options tunes the connection pool. Zero values keep driver defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store persists the ledger through gorm.
type Store struct {
	repo
	conn *gorm.DB
}

// Open connects, applies pool settings and migrates the schema.
func Open(driver, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = pgdriver.New(pgdriver.Config{
			DSN:                  dsn,
			PreferSimpleProtocol: true,
		})
	case DriverSQLite:
		dialector = sqlitedriver.Open(dsn)
		// One writer at a time; a unit of work holds the only connection.
		opts.MaxOpenConns = 1
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := Migrate(conn); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &Store{repo: repo{db: conn}, conn: conn}, nil
}

// Migrate creates or updates the ledger tables.
func Migrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&siteRow{},
		&assetRow{},
		&balanceRow{},
		&transactionRow{},
		&auditEntryRow{},
		&auditItemRow{},
		&snapshotRow{},
	)
	if err != nil {
		return fmt.Errorf("migrating ledger schema: %w", err)
	}
	return nil
}

// Ping verifies the datasource is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close shuts down the pooled connections.
func (s *Store) Close() error {
	sqlDB, err := s.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn inside a transaction, rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.UnitOfWork) error) error {
	return s.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(repo{db: tx})
	})
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

// repo runs against either the pool or an open transaction.
type repo struct {
	db *gorm.DB
}

func (r repo) GetOrCreate(ctx context.Context, site ledger.SiteID, asset ledger.AssetID) (ledger.Balance, error) {
	db := r.db.WithContext(ctx)
	seed := balanceRow{Site: string(site), Asset: string(asset)}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return ledger.Balance{}, fmt.Errorf("creating balance %s/%s: %w", site, asset, err)
	}

	var row balanceRow
	if err := db.Where("site = ? AND asset = ?", site, asset).Take(&row).Error; err != nil {
		return ledger.Balance{}, fmt.Errorf("loading balance %s/%s: %w", site, asset, err)
	}
	return row.toDomain(), nil
}

func (r repo) Commit(ctx context.Context, b ledger.Balance) error {
	res := r.db.WithContext(ctx).
		Model(&balanceRow{}).
		Where("site = ? AND asset = ? AND version = ?", b.Site, b.Asset, b.Version).
		Updates(map[string]any{
			"on_hand":         b.OnHand,
			"purchased":       b.Purchased,
			"expended":        b.Expended,
			"assigned":        b.Assigned,
			"transferred_out": b.TransferredOut,
			"transferred_in":  b.TransferredIn,
			"version":         gorm.Expr("version + 1"),
			"updated_at":      b.UpdatedAt.UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("committing balance %s: %w", b.Key(), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: balance %s", ledger.ErrConcurrentModification, b.Key())
	}
	return nil
}

func (r repo) SaveTransaction(ctx context.Context, t ledger.Transaction) error {
	kind, doc, err := ledger.EncodeTransaction(t)
	if err != nil {
		return err
	}
	base := t.Base()
	row := transactionRow{
		ID:        string(base.ID),
		Kind:      string(kind),
		Document:  string(doc),
		CreatedAt: base.CreatedAt.UTC(),
		UpdatedAt: base.UpdatedAt.UTC(),
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "document", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("saving transaction %s: %w", base.ID, err)
	}
	return nil
}

func (r repo) GetTransaction(ctx context.Context, id ledger.TransactionID) (ledger.Transaction, error) {
	var row transactionRow
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading transaction %s: %w", id, err)
	}
	return ledger.DecodeTransaction(ledger.Kind(row.Kind), []byte(row.Document))
}

func (r repo) DeleteTransaction(ctx context.Context, id ledger.TransactionID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&transactionRow{})
	if res.Error != nil {
		return fmt.Errorf("deleting transaction %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: transaction %s", ledger.ErrNotFound, id)
	}
	return nil
}

func (r repo) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	row, items := newAuditRows(entry)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return fmt.Errorf("appending audit entry %s: %w", entry.ID, err)
		}
		if len(items) == 0 {
			return nil
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("appending audit items for %s: %w", entry.ID, err)
		}
		return nil
	})
}

// =============================================================================
// READ MODELS
// =============================================================================

func (s *Store) ListBalances(ctx context.Context, filter ledger.BalanceFilter) ([]ledger.Balance, error) {
	q := s.conn.WithContext(ctx).Model(&balanceRow{})
	if filter.Site != nil {
		q = q.Where("site = ?", *filter.Site)
	}
	if filter.Asset != nil {
		q = q.Where("asset = ?", *filter.Asset)
	}
	if filter.MinOnHand != nil {
		q = q.Where("on_hand >= ?", *filter.MinOnHand)
	}
	if filter.MaxOnHand != nil {
		q = q.Where("on_hand <= ?", *filter.MaxOnHand)
	}
	if filter.UpdatedFrom != nil {
		q = q.Where("updated_at >= ?", filter.UpdatedFrom.UTC())
	}
	if filter.UpdatedTo != nil {
		q = q.Where("updated_at <= ?", filter.UpdatedTo.UTC())
	}

	var rows []balanceRow
	if err := q.Order("site, asset").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing balances: %w", err)
	}
	balances := make([]ledger.Balance, len(rows))
	for i, row := range rows {
		balances[i] = row.toDomain()
	}
	return balances, nil
}

func (s *Store) QueryAudit(ctx context.Context, filter ledger.AuditFilter, page ledger.Page) (ledger.AuditPage, error) {
	page = page.Normalize()
	result := ledger.AuditPage{Page: page.Number, Size: page.Size, Entries: []ledger.AuditEntry{}}

	db := s.conn.WithContext(ctx)
	var total int64
	if err := db.Model(&auditEntryRow{}).Scopes(s.auditScope(filter)).Count(&total).Error; err != nil {
		return result, fmt.Errorf("counting audit entries: %w", err)
	}
	result.Total = int(total)
	if result.Total == 0 || page.Offset() >= result.Total {
		return result, nil
	}

	var rows []auditEntryRow
	err := db.Scopes(s.auditScope(filter)).
		Preload("Items", orderItems).
		Order("recorded_at DESC, seq DESC").
		Limit(page.Size).
		Offset(page.Offset()).
		Find(&rows).Error
	if err != nil {
		return result, fmt.Errorf("querying audit entries: %w", err)
	}
	for _, row := range rows {
		result.Entries = append(result.Entries, row.toDomain())
	}
	return result, nil
}

func (s *Store) AuditActivity(ctx context.Context, key ledger.Key, from, to time.Time) ([]ledger.AuditEntry, error) {
	filter := ledger.AuditFilter{Site: &key.Site, Asset: &key.Asset}
	if !from.IsZero() {
		filter.From = &from
	}
	if !to.IsZero() {
		filter.To = &to
	}

	var rows []auditEntryRow
	err := s.conn.WithContext(ctx).
		Scopes(s.auditScope(filter)).
		Preload("Items", orderItems).
		Order("recorded_at ASC, seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading audit activity for %s: %w", key, err)
	}
	entries := make([]ledger.AuditEntry, len(rows))
	for i, row := range rows {
		entries[i] = row.toDomain()
	}
	return entries, nil
}

func (s *Store) auditScope(f ledger.AuditFilter) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if f.Site != nil {
			q = q.Where("(site = ? OR counterpart_site = ?)", *f.Site, *f.Site)
		}
		if f.Asset != nil {
			sub := s.conn.Model(&auditItemRow{}).Select("entry_id").Where("asset = ?", *f.Asset)
			q = q.Where("id IN (?)", sub)
		}
		if f.Kind != nil {
			q = q.Where("action = ?", *f.Kind)
		}
		if f.TransactionID != nil {
			q = q.Where("transaction_id = ?", *f.TransactionID)
		}
		if f.From != nil {
			q = q.Where("recorded_at >= ?", f.From.UTC())
		}
		if f.To != nil {
			q = q.Where("recorded_at < ?", f.To.UTC())
		}
		return q
	}
}

func orderItems(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func (s *Store) UpsertSnapshot(ctx context.Context, snap ledger.DailySnapshot) error {
	row := newSnapshotRow(snap)
	err := s.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "day"}, {Name: "site"}, {Name: "asset"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upserting snapshot %s %s: %w", snap.Day, snap.Key(), err)
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, day ledger.Day, key ledger.Key) (*ledger.DailySnapshot, error) {
	var rows []snapshotRow
	err := s.conn.WithContext(ctx).
		Where("day = ? AND site = ? AND asset = ?", day.String(), key.Site, key.Asset).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s %s: %w", day, key, err)
	}
	return firstSnapshot(rows)
}

func (s *Store) LatestSnapshotBefore(ctx context.Context, key ledger.Key, day ledger.Day) (*ledger.DailySnapshot, error) {
	var rows []snapshotRow
	err := s.conn.WithContext(ctx).
		Where("site = ? AND asset = ? AND day < ?", key.Site, key.Asset, day.String()).
		Order("day DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading snapshot before %s for %s: %w", day, key, err)
	}
	return firstSnapshot(rows)
}

func (s *Store) ListSnapshots(ctx context.Context, filter ledger.SnapshotFilter) ([]ledger.DailySnapshot, error) {
	q := s.conn.WithContext(ctx).Model(&snapshotRow{})
	if filter.Site != nil {
		q = q.Where("site = ?", *filter.Site)
	}
	if filter.Asset != nil {
		q = q.Where("asset = ?", *filter.Asset)
	}
	if filter.From != nil {
		q = q.Where("day >= ?", filter.From.String())
	}
	if filter.To != nil {
		q = q.Where("day <= ?", filter.To.String())
	}

	var rows []snapshotRow
	if err := q.Order("day, site, asset").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	snaps := make([]ledger.DailySnapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func firstSnapshot(rows []snapshotRow) (*ledger.DailySnapshot, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	snap, err := rows[0].toDomain()
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) SaveSite(ctx context.Context, site ledger.Site) error {
	row := siteRow{
		ID:        string(site.ID),
		Name:      site.Name,
		State:     site.State,
		District:  site.District,
		CreatedAt: site.CreatedAt.UTC(),
	}
	err := s.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "state", "district"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("saving site %s: %w", site.ID, err)
	}
	return nil
}

func (s *Store) GetSite(ctx context.Context, id ledger.SiteID) (ledger.Site, error) {
	var row siteRow
	err := s.conn.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Site{}, fmt.Errorf("%w: site %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return ledger.Site{}, fmt.Errorf("loading site %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListSites(ctx context.Context) ([]ledger.Site, error) {
	var rows []siteRow
	if err := s.conn.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing sites: %w", err)
	}
	sites := make([]ledger.Site, len(rows))
	for i, row := range rows {
		sites[i] = row.toDomain()
	}
	return sites, nil
}

func (s *Store) SaveAsset(ctx context.Context, a ledger.Asset) error {
	row := assetRow{
		ID:          string(a.ID),
		Name:        a.Name,
		Category:    string(a.Category),
		Unit:        a.Unit,
		Description: a.Description,
		CreatedAt:   a.CreatedAt.UTC(),
	}
	err := s.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category", "unit", "description"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("saving asset %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) GetAsset(ctx context.Context, id ledger.AssetID) (ledger.Asset, error) {
	var row assetRow
	err := s.conn.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Asset{}, fmt.Errorf("%w: asset %s", ledger.ErrNotFound, id)
	}
	if err != nil {
		return ledger.Asset{}, fmt.Errorf("loading asset %s: %w", id, err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListAssets(ctx context.Context) ([]ledger.Asset, error) {
	var rows []assetRow
	if err := s.conn.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	assets := make([]ledger.Asset, len(rows))
	for i, row := range rows {
		assets[i] = row.toDomain()
	}
	return assets, nil
}
