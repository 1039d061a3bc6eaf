package spammer

import (
	"context"
	"sync"

	"github.com/gateway-fm/contender/pkg/txtypes"
)

// Spammer is the common contract shared by the TPS and TPB scheduling
// disciplines (spec.md §9: "model as a sum type Spammer in
// {Timed(T_p), Blockwise} with a common spam(rate, duration, ...)
// contract"). Run blocks until the duration elapses, the context is
// cancelled, or Cancel is called; it always returns promptly once
// in-flight batches have been dispatched (not necessarily confirmed).
type Spammer interface {
	Run(ctx context.Context, runID uint64, source Source, batchSize int, cb Callback) error
	Cancel()
}

// Source is what a Spammer pulls batches from. generator.Generator and
// generator.Multi both satisfy this signature structurally.
type Source interface {
	NextBatch(ctx context.Context, n int) ([]*txtypes.PlannedTx, error)
}

// cancelToken is a one-shot cooperative cancellation signal, per
// spec.md §5: "cancellation is a one-shot token; once fired it stays
// fired, and in-flight sends are allowed to drain rather than
// interrupted mid-flight."
type cancelToken struct {
	once sync.Once
	ch   chan struct{}
}

func newCancelToken() *cancelToken {
	return &cancelToken{ch: make(chan struct{})}
}

func (c *cancelToken) Cancel() {
	c.once.Do(func() { close(c.ch) })
}

func (c *cancelToken) Done() <-chan struct{} { return c.ch }
