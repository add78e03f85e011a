package main

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viratpk18/Military-Base-Management-System-Backend/logger"
)

// slowCycle blocks until canceled, then keeps working briefly as an
// aggregation finishing its last writes would.
type slowCycle struct {
	started  chan struct{}
	finished atomic.Bool
}

func (c *slowCycle) Run(ctx context.Context) error {
	close(c.started)
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	c.finished.Store(true)
	return ctx.Err()
}

type failingCycle struct{ err error }

func (c failingCycle) Run(context.Context) error { return c.err }

func TestStartCron_StopWaitsForCycleInFlight(t *testing.T) {
	// GIVEN: A cron loop mid-cycle
	// WHEN: The stop function returns
	// THEN: The cycle has already finished, so closing the store is safe

	logg := logger.New(logger.Options{ServiceName: "server-test", Output: io.Discard})
	cycle := &slowCycle{started: make(chan struct{})}

	stop := startCron(context.Background(), cycle, logg)
	<-cycle.started

	require.NoError(t, stop())
	assert.True(t, cycle.finished.Load())
}

func TestStartCron_ParentCancelAlsoStops(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "server-test", Output: io.Discard})
	cycle := &slowCycle{started: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	stop := startCron(ctx, cycle, logg)
	<-cycle.started
	cancel()

	require.NoError(t, stop())
	assert.True(t, cycle.finished.Load())
}

func TestStartCron_ReportsLoopFailure(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "server-test", Output: io.Discard})
	boom := errors.New("lock backend unreachable")

	stop := startCron(context.Background(), failingCycle{err: boom}, logg)
	assert.ErrorIs(t, stop(), boom)
}
