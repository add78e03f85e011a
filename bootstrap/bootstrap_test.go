package bootstrap

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viratpk18/Military-Base-Management-System-Backend/config"
	"github.com/viratpk18/Military-Base-Management-System-Backend/ledger"
	"github.com/viratpk18/Military-Base-Management-System-Backend/logger"
)

func testConfig(driver, path string) *config.Config {
	return &config.Config{
		DB:     config.DBConfig{Driver: driver, Path: path},
		Ledger: config.LedgerConfig{AuditMode: "coupled", OpeningPolicy: "latest_prior", MaxRetries: 3, AggregationConcurrency: 2},
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		driver string
		path   string
	}{
		{config.DriverMemory, ""},
		{config.DriverSQLite, ":memory:"},
		{config.DriverGormSQLite, "file:boot_" + uuid.NewString() + "?mode=memory&cache=shared"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			b, err := OpenStore(config.DBConfig{Driver: tt.driver, Path: tt.path})
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })

			require.NoError(t, b.Ping(ctx))
			bal, err := b.Store.GetOrCreate(ctx, "site-a", "rifle")
			require.NoError(t, err)
			assert.Equal(t, int64(0), bal.OnHand)
		})
	}

	_, err := OpenStore(config.DBConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "bootstrap-test", Output: io.Discard})

	l, err := Build(ctx, testConfig(config.DriverMemory, ""), logg, prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	_, err = l.Service.RegisterSite(ctx, ledger.Site{ID: "site-a", Name: "Alpha"})
	require.NoError(t, err)
	_, err = l.Service.RegisterAsset(ctx, ledger.Asset{ID: "rifle", Name: "Rifle", Category: ledger.CategoryWeapon})
	require.NoError(t, err)
	_, err = l.Service.ApplyTransaction(ctx, &ledger.Purchase{
		Record: ledger.Record{Actor: ledger.SystemActor, OccurredAt: time.Now().UTC()},
		Site:   "site-a",
		Items:  []ledger.LineItem{{Asset: "rifle", Quantity: 3}},
	})
	require.NoError(t, err)

	n, err := l.Aggregator.Run(ctx, l.Aggregator.Today())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	report, err := l.Reconciler.Check(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}
