// Command aggregate runs the daily snapshot aggregation once and exits.
//
//	aggregate                          # today (UTC)
//	aggregate -date=2025-03-01         # one day
//	aggregate -from=2025-03-01 -to=2025-03-07
//	aggregate -reconcile               # also replay the audit trail
//
// It reads the same LEDGER_* environment as the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/viratpk18/Military-Base-Management-System-Backend/bootstrap"
	"github.com/viratpk18/Military-Base-Management-System-Backend/config"
	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/logger"
)

const serviceName = "ledger-aggregate"

func main() {
	date := flag.String("date", "", "day to aggregate (YYYY-MM-DD)")
	from := flag.String("from", "", "first day of a range (YYYY-MM-DD)")
	to := flag.String("to", "", "last day of a range (YYYY-MM-DD)")
	dbPath := flag.String("db", "", "SQLite database path (overrides LEDGER_DB_PATH)")
	reconcile := flag.Bool("reconcile", false, "replay the audit trail against balances after aggregating")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: serviceName})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}
	logg = bootstrap.NewLogger(serviceName, cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg, *date, *from, *to, *reconcile); err != nil {
		logg.Error(ctx, "aggregation failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, date, from, to string, reconcile bool) error {
	l, err := bootstrap.Build(ctx, cfg, logg, nil)
	if err != nil {
		return err
	}
	defer l.Close()

	first, last, err := dayRange(l.Aggregator.Today(), date, from, to)
	if err != nil {
		return err
	}

	n, err := l.Aggregator.Backfill(ctx, first, last)
	if err != nil {
		return err
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"from":      first.String(),
		"to":        last.String(),
		"snapshots": n,
	}), "aggregation complete")

	if !reconcile {
		return nil
	}
	report, err := l.Reconciler.Check(ctx)
	if err != nil {
		return err
	}
	if !report.Clean() {
		return fmt.Errorf("%d counter drifts across %d balances", len(report.Drifts), report.Checked)
	}
	return nil
}

// dayRange resolves the flags into an inclusive range of days.
func dayRange(today ledger.Day, date, from, to string) (ledger.Day, ledger.Day, error) {
	switch {
	case date != "" && (from != "" || to != ""):
		return ledger.Day{}, ledger.Day{}, errors.New("-date cannot be combined with -from/-to")
	case (from == "") != (to == ""):
		return ledger.Day{}, ledger.Day{}, errors.New("-from and -to must be given together")
	case date != "":
		d, err := ledger.ParseDay(date)
		return d, d, err
	case from != "":
		first, err := ledger.ParseDay(from)
		if err != nil {
			return ledger.Day{}, ledger.Day{}, err
		}
		last, err := ledger.ParseDay(to)
		if err != nil {
			return ledger.Day{}, ledger.Day{}, err
		}
		if last.Before(first) {
			return ledger.Day{}, ledger.Day{}, errors.New("-to must not be before -from")
		}
		return first, last, nil
	}
	return today, today, nil
}
