/*
Package bootstrap assembles the ledger's runtime dependencies from config.

PURPOSE:
  Both binaries (cmd/server, cmd/aggregate) need the same store, logger,
  service, aggregator and optional BigQuery sink. This package builds them
  once from a config.Config so the two mains stay thin.

STORE DRIVERS:
  memory       in-process maps, lost on exit
  sqlite       database/sql on go-sqlite3 (store/sqlite)
  gorm-sqlite  gorm on the sqlite driver (store/postgres)
  postgres     gorm on pgx (store/postgres)

SEE ALSO:
  - config/config.go: LEDGER_* settings
*/
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/viratpk18/Military-Base-Management-System-Backend/config"
	bqexport "github.com/viratpk18/Military-Base-Management-System-Backend/export/bigquery"
	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger/store"
	"github.com/viratpk18/Military-Base-Management-System-Backend/logger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/metrics"
	"github.com/viratpk18/Military-Base-Management-System-Backend/store/postgres"
	"github.com/viratpk18/Military-Base-Management-System-Backend/store/sqlite"
)

// NewLogger builds the service logger from app config.
func NewLogger(service string, app config.AppConfig) *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: service,
		Level:       logger.ParseLevel(app.LogLevel),
		WarnStack:   app.LogWarnStack,
		Format:      app.LogFormat,
	})
}

// Backend is an opened store plus its lifecycle hooks.
type Backend struct {
	Store  ledger.Store
	pinger interface{ Ping(context.Context) error }
	closer interface{ Close() error }
}

// Ping reports store reachability. In-memory stores are always reachable.
func (b *Backend) Ping(ctx context.Context) error {
	if b.pinger == nil {
		return nil
	}
	return b.pinger.Ping(ctx)
}

func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// OpenStore opens the configured store driver and runs its migrations.
func OpenStore(cfg config.DBConfig) (*Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return &Backend{Store: store.NewMemory()}, nil
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, pinger: s, closer: s}, nil
	case config.DriverGormSQLite, config.DriverPostgres:
		driver, dsn := postgres.DriverPostgres, cfg.DSN
		if cfg.Driver == config.DriverGormSQLite {
			driver, dsn = postgres.DriverSQLite, cfg.Path
		}
		s, err := postgres.Open(driver, dsn, postgres.Options{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return &Backend{Store: s, pinger: s, closer: s}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// Ledger bundles the domain components built on a Backend.
type Ledger struct {
	Backend    *Backend
	Service    *ledger.Service
	Aggregator *ledger.Aggregator
	Reconciler *ledger.Reconciler
	Metrics    *metrics.LedgerMetrics

	exporter *bqexport.Exporter
}

// Build wires the service, aggregator and reconciler. reg may be nil to
// skip metrics. The BigQuery sink is attached when configured.
func Build(ctx context.Context, cfg *config.Config, logg *logger.Logger, reg prometheus.Registerer) (*Ledger, error) {
	backend, err := OpenStore(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DB.Driver, err)
	}
	l := &Ledger{Backend: backend, Metrics: metrics.NewLedgerMetrics(reg)}

	l.Service, err = ledger.NewService(ledger.ServiceParams{
		Store:      backend.Store,
		Logger:     logg,
		Metrics:    l.Metrics,
		AuditMode:  ledger.AuditMode(cfg.Ledger.AuditMode),
		MaxRetries: cfg.Ledger.MaxRetries,
	})
	if err != nil {
		return nil, multierr.Append(err, backend.Close())
	}

	var sink ledger.SnapshotSink
	if cfg.BigQuery.Enabled() {
		l.exporter, err = bqexport.New(ctx, bqexport.Config{
			ProjectID:       cfg.BigQuery.ProjectID,
			Dataset:         cfg.BigQuery.Dataset,
			Table:           cfg.BigQuery.Table,
			CredentialsFile: cfg.BigQuery.CredentialsFile,
			CreateIfMissing: cfg.BigQuery.CreateTable,
			BatchSize:       cfg.BigQuery.BatchSize,
		}, logg)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("bigquery exporter: %w", err), backend.Close())
		}
		sink = l.exporter
	}

	l.Aggregator, err = ledger.NewAggregator(ledger.AggregatorParams{
		Store:       backend.Store,
		Policy:      ledger.OpeningPolicy(cfg.Ledger.OpeningPolicy),
		Concurrency: cfg.Ledger.AggregationConcurrency,
		Sink:        sink,
		Logger:      logg,
		Metrics:     l.Metrics,
	})
	if err != nil {
		return nil, multierr.Append(err, l.Close())
	}
	l.Reconciler = ledger.NewReconciler(backend.Store, logg, l.Metrics)
	return l, nil
}

// Close releases the exporter and the store.
func (l *Ledger) Close() error {
	var err error
	if l.exporter != nil {
		err = multierr.Append(err, l.exporter.Close())
	}
	return multierr.Append(err, l.Backend.Close())
}
