// Package scheduler runs the stale-reservation sweep on a fixed tick,
// standing in for an external periodic task runner.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/iProgrammerDmytro/credit-system/internal/metrics"
	"github.com/iProgrammerDmytro/credit-system/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const sweepSlotKey = "credit-system:sweep:slot"

// Sweeper is the single operation the runner drives.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Runner ticks the sweeper every Interval with at most one sweep in flight
// across replicas (Redis TTL slot, limit 1). The sweep itself is safe under
// concurrent invocation, so losing the slot to a crashed holder only costs a
// skipped tick, never correctness.
type Runner struct {
	sweeper Sweeper
	rdb     *redis.Client
	log     *slog.Logger

	interval    time.Duration
	tickTimeout time.Duration
	maxAttempts int
	baseBackoff time.Duration
}

type Config struct {
	// Interval between ticks. Default 60s.
	Interval time.Duration
	// TickTimeout caps one sweep's wall clock. Default 60s.
	TickTimeout time.Duration
}

// NewRunner builds a runner. rdb may be nil for single-replica deployments;
// the slot lock is then skipped.
func NewRunner(sweeper Sweeper, rdb *redis.Client, cfg Config, log *slog.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		sweeper:     sweeper,
		rdb:         rdb,
		log:         log,
		interval:    cfg.Interval,
		tickTimeout: cfg.TickTimeout,
		maxAttempts: 5,
		baseBackoff: time.Second,
	}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	if r.rdb != nil {
		// Slot TTL outlives the tick cap so a crashed holder frees itself.
		ok, err := utils.AcquireConcurrencyCap(ctx, r.rdb, sweepSlotKey, 1, r.tickTimeout+30*time.Second)
		if err != nil {
			r.log.Error("sweep slot acquire failed", "err", err)
			return
		}
		if !ok {
			r.log.Debug("sweep already in flight, skipping tick")
			return
		}
		defer func() {
			if err := utils.ReleaseConcurrencyCap(context.WithoutCancel(ctx), r.rdb, sweepSlotKey); err != nil {
				r.log.Error("sweep slot release failed", "err", err)
			}
		}()
	}

	tickCtx, cancel := context.WithTimeout(ctx, r.tickTimeout)
	defer cancel()

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		total, err := r.sweeper.Sweep(tickCtx, time.Now())
		if err == nil {
			metrics.RecordSwept(total)
			return
		}
		r.log.Error("sweep failed", "attempt", attempt, "err", err)

		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-tickCtx.Done():
			metrics.RecordSweepFailure()
			return
		case <-time.After(backoff(r.baseBackoff, attempt)):
		}
	}
	metrics.RecordSweepFailure()
}

// backoff returns base*2^(attempt-1) with full jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	return time.Duration(rand.Int63n(int64(d)) + int64(d)/2)
}
