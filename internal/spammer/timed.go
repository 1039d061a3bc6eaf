package spammer

import (
	"context"
	"log/slog"

	"github.com/gateway-fm/contender/internal/metrics"
	"github.com/gateway-fm/contender/internal/ratelimit"
)

// TimedSpammer implements the TPS discipline: a fixed period T_p
// ticks, each tick pulling and dispatching one rate-sized batch, per
// spec.md §4.3. Ticks are anchored to a strict next-permit schedule
// (internal/ratelimit.Limiter) rather than a naive time.Sleep loop, so
// a slow dispatch does not push every subsequent tick later — a late
// tick fires immediately and is marked lagged instead.
type TimedSpammer struct {
	Dispatcher *Dispatcher
	Metrics    *metrics.Collector
	Scenario   string
	Logger     *slog.Logger

	cancel *cancelToken
}

// NewTimedSpammer builds a TimedSpammer dispatching through d.
func NewTimedSpammer(d *Dispatcher, m *metrics.Collector, scenario string, logger *slog.Logger) *TimedSpammer {
	return &TimedSpammer{Dispatcher: d, Metrics: m, Scenario: scenario, Logger: logger, cancel: newCancelToken()}
}

// Run dispatches one batch of batchSize every period until the
// context is cancelled or Cancel is called, at a default rate of one
// tick per second. Most callers want RunAt, which also accepts an
// explicit tick rate and duration; Run exists to satisfy the Spammer
// interface.
func (t *TimedSpammer) Run(ctx context.Context, runID uint64, source Source, batchSize int, cb Callback) error {
	return t.RunAt(ctx, runID, source, batchSize, 1, 0, cb)
}

// RunAt is Run with explicit tick rate and duration; ticksPerSecond is
// 1/T_p and duration counts batches dispatched, not elapsed wall
// time — duration==0 means run until ctx is cancelled or Cancel is
// called. A batch only counts toward duration once it has actually
// been handed to the Dispatcher, so a tick that produces an empty
// batch (source exhausted) does not consume the budget.
func (t *TimedSpammer) RunAt(ctx context.Context, runID uint64, source Source, batchSize int, ticksPerSecond float64, duration int, cb Callback) error {
	limiter := ratelimit.New(ticksPerSecond)
	defer limiter.Stop()

	logger := t.logger()
	observed := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.cancel.Done():
			return nil
		default:
		}

		lagged, err := limiter.WaitTick(ctx)
		if err != nil {
			return nil // ctx cancelled mid-wait
		}
		if lagged && t.Metrics != nil {
			t.Metrics.RecordLaggedTick(t.Scenario)
		}

		batch, err := source.NextBatch(ctx, batchSize)
		if err != nil {
			logger.Warn("timed spammer: generator error, stopping", slog.String("error", err.Error()))
			return err
		}
		if len(batch) == 0 {
			continue
		}
		if err := t.Dispatcher.Dispatch(ctx, runID, batch, cb); err != nil {
			logger.Warn("timed spammer: dispatch error", slog.String("error", err.Error()))
		}

		observed++
		if duration > 0 && observed >= duration {
			return nil
		}
	}
}

// Cancel stops Run at the next opportunity without waiting for
// in-flight sends to resolve.
func (t *TimedSpammer) Cancel() { t.cancel.Cancel() }

func (t *TimedSpammer) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.Default()
	}
	return t.Logger
}

var _ Spammer = (*TimedSpammer)(nil)
