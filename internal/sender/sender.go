// Package sender provides async transaction sending with backpressure
// for the spam pipeline's dispatch hot path — the Dispatcher calls
// SendAsync once per built transaction and never blocks on the
// result.
package sender

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gateway-fm/contender/internal/metrics"
	"github.com/gateway-fm/contender/internal/rpc"
)

// ErrAtCapacity is returned when the sender cannot accept more transactions.
var ErrAtCapacity = errors.New("sender at capacity")

// Sender handles async transaction sending with semaphore-based backpressure.
type Sender struct {
	client    rpc.Client
	semaphore chan struct{}
	logger    *slog.Logger
	metrics   *metrics.Collector
	scenario  string
}

// Config for creating a Sender.
type Config struct {
	Client      rpc.Client
	Concurrency int // Max concurrent sends (default: 500)
	Logger      *slog.Logger
	Metrics     *metrics.Collector // optional; rejected sends are counted if set
	Scenario    string
}

// New creates a new Sender.
func New(cfg Config) *Sender {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 500
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		client:    cfg.Client,
		semaphore: make(chan struct{}, concurrency),
		logger:    logger,
		metrics:   cfg.Metrics,
		scenario:  cfg.Scenario,
	}
}

// SendAsync sends a transaction asynchronously.
// Returns true if the send was queued, false if at capacity.
// The callback is called with the error result (on a goroutine).
func (s *Sender) SendAsync(ctx context.Context, txData []byte, callback func(error)) bool {
	select {
	case s.semaphore <- struct{}{}: // Acquired semaphore
		go func() {
			defer func() { <-s.semaphore }() // Release semaphore

			err := s.client.SendRawTransaction(ctx, txData)
			if callback != nil {
				callback(err)
			}
		}()
		return true

	default:
		// At capacity: the batch was generated faster than the sender
		// can drain it. Counted so RPCBatchSize/Concurrency tuning has
		// a signal to react to, rather than failing silently.
		if s.metrics != nil {
			s.metrics.RecordSendRejected(s.scenario)
		}
		return false
	}
}

// TrySend attempts to send a transaction.
// Returns ErrAtCapacity if the sender cannot accept more transactions.
// Otherwise returns nil immediately (actual send result comes via callback).
func (s *Sender) TrySend(ctx context.Context, txData []byte, callback func(error)) error {
	if s.SendAsync(ctx, txData, callback) {
		return nil
	}
	return ErrAtCapacity
}

// Available returns the number of available send slots.
func (s *Sender) Available() int {
	return cap(s.semaphore) - len(s.semaphore)
}

// Capacity returns the total send capacity.
func (s *Sender) Capacity() int {
	return cap(s.semaphore)
}

// InFlight returns the number of transactions currently being sent.
func (s *Sender) InFlight() int {
	return len(s.semaphore)
}
