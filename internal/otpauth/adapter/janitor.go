package adapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aelexs/otp-auth/internal/domain"
)

// Sweeper is implemented by in-process backends that need periodic
// garbage collection.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Janitor runs Sweep on a set of in-process backends at a fixed interval.
// Its goroutine is owned by a WaitGroup and stopped by Stop.
type Janitor struct {
	sweepers []Sweeper
	interval time.Duration
	clock    domain.Clock
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a Janitor. It does nothing until Start.
func NewJanitor(interval time.Duration, clock domain.Clock, logger *slog.Logger, sweepers ...Sweeper) *Janitor {
	return &Janitor{
		sweepers: sweepers,
		interval: interval,
		clock:    clock,
		logger:   logger,
	}
}

// Start launches the sweep loop. It returns immediately.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.SweepOnce()
			}
		}
	}()
}

// SweepOnce runs every sweeper once and returns the total removed.
func (j *Janitor) SweepOnce() int {
	now := j.clock.Now()
	total := 0
	for _, s := range j.sweepers {
		total += s.Sweep(now)
	}
	if total > 0 {
		j.logger.Debug("janitor swept expired entries", "removed", total)
	}
	return total
}

// Stop ends the sweep loop and waits for it to exit. Safe to call
// without Start.
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
	j.wg.Wait()
}
