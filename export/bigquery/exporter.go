/*
Package bigquery streams daily snapshots into a BigQuery table.

PURPOSE:
  Implements ledger.SnapshotSink so every aggregation run also lands in the
  analytics warehouse. The ledger store stays the source of truth; the
  table is a reporting copy.

DESIGN:
  - One row per (day, site, asset); the insert ID is derived from that key,
    so BigQuery's best-effort dedup absorbs re-runs of the same day
  - Rows are sent in batches of BatchSize
  - Transient API errors (429, 5xx) are retried with capped exponential
    backoff; row-level errors are returned immediately

SEE ALSO:
  - ledger/aggregator.go: calls Export after snapshots are stored
*/
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/logger"
)

const (
	defaultBatchSize      = 500
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
	metadataCheckTimeout  = 10 * time.Second
)

var _ ledger.SnapshotSink = (*Exporter)(nil)

var errTableNotFound = errors.New("bigquery table does not exist")

// Config selects the destination table and batching behavior.
type Config struct {
	ProjectID       string
	Dataset         string
	Table           string
	CredentialsFile string
	CreateIfMissing bool
	BatchSize       int
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaximumBackoff  time.Duration
}

type rowInserter interface {
	Put(ctx context.Context, src any) error
}

// Exporter writes snapshots to BigQuery.
type Exporter struct {
	client   *bigquery.Client
	table    *bigquery.Table
	inserter rowInserter
	cfg      Config
	logg     *logger.Logger
}

// New creates a BigQuery client and checks that the table exists.
func New(ctx context.Context, cfg Config, logg *logger.Logger, opts ...option.ClientOption) (*Exporter, error) {
	cfg.ProjectID = strings.TrimSpace(cfg.ProjectID)
	cfg.Dataset = strings.TrimSpace(cfg.Dataset)
	cfg.Table = strings.TrimSpace(cfg.Table)
	switch {
	case cfg.ProjectID == "":
		return nil, errors.New("gcp project id is required")
	case cfg.Dataset == "":
		return nil, errors.New("bigquery dataset is required")
	case cfg.Table == "":
		return nil, errors.New("bigquery table name is required")
	}
	if f := strings.TrimSpace(cfg.CredentialsFile); f != "" {
		opts = append(opts, option.WithCredentialsFile(f))
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	table := client.Dataset(cfg.Dataset).Table(cfg.Table)

	e := newExporter(table.Inserter(), cfg, logg)
	e.client = client
	e.table = table
	err = e.Ping(ctx)
	if errors.Is(err, errTableNotFound) && cfg.CreateIfMissing {
		err = table.Create(ctx, &bigquery.TableMetadata{
			Schema:           Schema(),
			TimePartitioning: &bigquery.TimePartitioning{Field: "day"},
		})
	}
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	e.logg.Info(ctx, "bigquery snapshot exporter initialized")
	return e, nil
}

func newExporter(ins rowInserter, cfg Config, logg *logger.Logger) *Exporter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaximumBackoff < cfg.InitialBackoff {
		cfg.MaximumBackoff = max(defaultMaximumBackoff, cfg.InitialBackoff)
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Exporter{inserter: ins, cfg: cfg, logg: logg}
}

// Export implements ledger.SnapshotSink. Every batch is attempted; the
// errors of failed batches are combined.
func (e *Exporter) Export(ctx context.Context, day ledger.Day, snapshots []ledger.DailySnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	rows := make([]*SnapshotRow, len(snapshots))
	for i, s := range snapshots {
		rows[i] = newSnapshotRow(s)
	}

	var errs error
	for start := 0; start < len(rows); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(rows))
		if err := e.put(ctx, rows[start:end]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("rows %d-%d: %w", start, end-1, err))
		}
	}

	ctx = e.logg.WithFields(ctx, map[string]any{
		"day":  day.String(),
		"rows": len(rows),
	})
	if errs != nil {
		e.logg.Error(ctx, "bigquery export failed", errs)
		return errs
	}
	e.logg.Debug(ctx, "bigquery export complete")
	return nil
}

func (e *Exporter) put(ctx context.Context, rows []*SnapshotRow) error {
	backoff := retry.NewExponential(e.cfg.InitialBackoff)
	backoff = retry.WithCappedDuration(e.cfg.MaximumBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(e.cfg.MaxAttempts-1), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := e.inserter.Put(ctx, rows)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// Ping verifies the destination table is reachable.
func (e *Exporter) Ping(ctx context.Context) error {
	if e.table == nil {
		return errors.New("bigquery client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := e.table.Metadata(ctx); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return fmt.Errorf("%w: %s.%s", errTableNotFound, e.cfg.Dataset, e.cfg.Table)
		}
		return fmt.Errorf("checking table %s.%s: %w", e.cfg.Dataset, e.cfg.Table, err)
	}
	return nil
}

// Close releases the BigQuery client.
func (e *Exporter) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
