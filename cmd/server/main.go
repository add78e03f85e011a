/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the asset ledger API server together with its
  scheduled jobs. Handles configuration, dependency injection, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and LEDGER_* config
  2. Parse command-line flags (override config)
  3. Open the configured store and build the ledger service
  4. Start the cron service (daily summary + reconcile)
  5. Configure HTTP router and start the server

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides LEDGER_APP_PORT)
  -db      SQLite database path (overrides LEDGER_DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections and stop the cron loop
  2. Wait for active requests to complete (30s timeout)
  3. Wait for the cron cycle in flight, then close store, exporter and
     Redis connections
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Run against Postgres with a shared cron lock
  LEDGER_DB_DRIVER=postgres LEDGER_DB_DSN=postgres://... \
  LEDGER_REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - bootstrap/bootstrap.go: Store and service wiring
  - api/server.go: Router configuration
  - cron/service.go: Scheduled jobs
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/viratpk18/Military-Base-Management-System-Backend/api"
	"github.com/viratpk18/Military-Base-Management-System-Backend/bootstrap"
	"github.com/viratpk18/Military-Base-Management-System-Backend/config"
	"github.com/viratpk18/Military-Base-Management-System-Backend/cron"
	"github.com/viratpk18/Military-Base-Management-System-Backend/logger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/metrics"
)

const serviceName = "ledger-api"

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides LEDGER_APP_PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides LEDGER_DB_PATH)")
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
	if *port != 0 {
		cfg.App.Port = strconv.Itoa(*port)
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}
	logg = bootstrap.NewLogger(serviceName, cfg.App)

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "server exited with error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	l, err := bootstrap.Build(ctx, cfg, logg, reg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, l.Close())
	}()

	// Cron
	if cfg.Cron.Enabled {
		var (
			lock      cron.Lock
			closeLock func() error
			cronSvc   *cron.Service
		)
		lock, closeLock, err = newCronLock(ctx, cfg, logg)
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Append(err, closeLock())
		}()

		cronSvc, err = cron.NewService(cron.ServiceParams{
			Logger:   logg,
			Registry: cron.NewRegistry(cron.NewDailySummaryJob(l.Aggregator), cron.NewReconcileJob(l.Reconciler)),
			Lock:     lock,
			Metrics:  metrics.NewCronJobMetrics(reg),
			Interval: cfg.Cron.Interval,
		})
		if err != nil {
			return err
		}
		stopCron := startCron(ctx, cronSvc, logg)
		defer func() {
			err = multierr.Append(err, stopCron())
		}()
	}

	// Router
	handler := api.NewHandler(api.HandlerParams{
		Service:    l.Service,
		Aggregator: l.Aggregator,
		Reconciler: l.Reconciler,
		Health:     l.Backend,
		Logger:     logg,
		LowStock:   cfg.Ledger.LowStockThreshold,
	})
	opts := api.RouterOptions{
		AllowedOrigins:  cfg.App.AllowedOrigins,
		Logger:          logg,
		EnableScenarios: cfg.App.EnableScenarios,
	}
	if cfg.App.MetricsEnabled {
		opts.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      api.NewRouter(handler, opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		startCtx := logg.WithFields(ctx, map[string]any{
			"addr":   server.Addr,
			"driver": cfg.DB.Driver,
			"env":    cfg.App.Env,
		})
		logg.Info(startCtx, "server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logg.Info(context.Background(), "shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logg.Info(context.Background(), "server stopped")
	return nil
}

// cronRunner is the part of cron.Service that startCron drives.
type cronRunner interface {
	Run(ctx context.Context) error
}

// startCron runs the cron loop in the background. The returned function
// cancels the loop and blocks until the cycle in flight has returned, so it
// must run before the store is closed.
func startCron(ctx context.Context, svc cronRunner, logg *logger.Logger) func() error {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := svc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(gctx, "cron service stopped", err)
			return err
		}
		return nil
	})
	return func() error {
		cancel()
		return g.Wait()
	}
}

// newCronLock returns a Redis lock when Redis is configured so only one
// replica runs each cycle, and an in-process lock otherwise.
func newCronLock(ctx context.Context, cfg *config.Config, logg *logger.Logger) (cron.Lock, func() error, error) {
	if !cfg.Redis.Enabled() {
		logg.Info(ctx, "redis not configured; cron uses a local lock")
		return &cron.LocalLock{}, func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	lock, err := cron.NewRedisLock(client, cfg.Cron.LockKey, cron.LockTTL(cfg.Cron.Interval, cfg.Cron.LockTTL))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return lock, client.Close, nil
}
