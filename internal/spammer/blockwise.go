package spammer

import (
	"context"
	"log/slog"
	"time"

	"github.com/gateway-fm/contender/internal/metrics"
	"github.com/gateway-fm/contender/internal/rpcclient"
)

// BlockwiseSpammer implements the TPB discipline: one batch of
// batchSize txs is dispatched per observed new head, per spec.md
// §4.3. Heads observed faster than MinInterval apart are collapsed —
// only the latest in a burst triggers a dispatch — so a node emitting
// duplicate or near-simultaneous newHeads notifications (common
// around a reorg) does not trigger a double-send.
type BlockwiseSpammer struct {
	Client      rpcclient.Client
	Dispatcher  *Dispatcher
	Metrics     *metrics.Collector
	Scenario    string
	MinInterval time.Duration // default 200ms if zero
	Logger      *slog.Logger

	cancel *cancelToken
}

// NewBlockwiseSpammer builds a BlockwiseSpammer subscribing through client.
func NewBlockwiseSpammer(client rpcclient.Client, d *Dispatcher, m *metrics.Collector, scenario string, logger *slog.Logger) *BlockwiseSpammer {
	return &BlockwiseSpammer{Client: client, Dispatcher: d, Metrics: m, Scenario: scenario, cancel: newCancelToken(), Logger: logger}
}

// Run subscribes to newHeads and dispatches one batch of batchSize per
// collapsed head until ctx is cancelled or Cancel is called.
func (b *BlockwiseSpammer) Run(ctx context.Context, runID uint64, source Source, batchSize int, cb Callback) error {
	return b.RunForBlocks(ctx, runID, source, batchSize, 0, cb)
}

// RunForBlocks is Run with an explicit block count and Callback.
func (b *BlockwiseSpammer) RunForBlocks(ctx context.Context, runID uint64, source Source, batchSize int, blocks int, cb Callback) error {
	logger := b.logger()
	minInterval := b.MinInterval
	if minInterval <= 0 {
		minInterval = 200 * time.Millisecond
	}

	heads, unsubscribe, err := b.Client.SubscribeNewHeads(ctx)
	if err != nil {
		return err
	}
	defer unsubscribe()

	var lastDispatch time.Time
	var lastSeen uint64
	observed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.cancel.Done():
			return nil
		case head, ok := <-heads:
			if !ok {
				return nil
			}
			if head.Num <= lastSeen {
				continue // stale/duplicate notification
			}
			lastSeen = head.Num

			if since := time.Since(lastDispatch); since < minInterval {
				continue // collapse a fast burst into the next head
			}
			lastDispatch = time.Now()

			batch, err := source.NextBatch(ctx, batchSize)
			if err != nil {
				logger.Warn("blockwise spammer: generator error, stopping", slog.String("error", err.Error()))
				return err
			}
			if len(batch) > 0 {
				if err := b.Dispatcher.Dispatch(ctx, runID, batch, cb); err != nil {
					logger.Warn("blockwise spammer: dispatch error", slog.String("error", err.Error()))
				}
			}

			observed++
			if blocks > 0 && observed >= blocks {
				return nil
			}
		}
	}
}

// Cancel stops Run at the next opportunity without waiting for
// in-flight sends to resolve.
func (b *BlockwiseSpammer) Cancel() { b.cancel.Cancel() }

func (b *BlockwiseSpammer) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

var _ Spammer = (*BlockwiseSpammer)(nil)
