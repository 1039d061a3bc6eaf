package runner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gateway-fm/contender/internal/rpcclient"
	"github.com/gateway-fm/contender/internal/txactor"
)

// fakeHeadClient embeds a nil rpcclient.Client and overrides only the
// two calls trackBlocks and the actor's receipt matching need, so it
// satisfies the (wide) interface without a full implementation.
type fakeHeadClient struct {
	rpcclient.Client

	mu   sync.Mutex
	head uint64

	receiptCalls atomic.Int64
}

func (f *fakeHeadClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head++
	return f.head, nil
}

func (f *fakeHeadClient) GetBlockReceiptsWithHash(ctx context.Context, blockNum uint64) ([]rpcclient.ReceiptWithHash, error) {
	f.receiptCalls.Add(1)
	return nil, nil
}

func TestTrackBlocksFeedsActorEveryPoll(t *testing.T) {
	fc := &fakeHeadClient{}
	actor := txactor.New(txactor.Config{Client: fc, RunID: 1})
	go actor.Run(context.Background())
	defer actor.Shutdown(context.Background())

	r := &Runner{cfg: Config{Client: fc, Logger: slog.Default(), BlockPollInterval: 10 * time.Millisecond}}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	r.trackBlocks(ctx, actor)

	// Every poll advances the fake head by one block, and trackBlocks
	// must forward each new head to the actor, which calls
	// GetBlockReceiptsWithHash once per block it's told about.
	if got := fc.receiptCalls.Load(); got < 3 {
		t.Errorf("GetBlockReceiptsWithHash called %d times, want at least 3", got)
	}
}

func TestTrackBlocksStopsOnCancel(t *testing.T) {
	fc := &fakeHeadClient{}
	actor := txactor.New(txactor.Config{Client: fc, RunID: 1})
	go actor.Run(context.Background())
	defer actor.Shutdown(context.Background())

	r := &Runner{cfg: Config{Client: fc, Logger: slog.Default(), BlockPollInterval: 5 * time.Millisecond}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.trackBlocks(ctx, actor)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("trackBlocks did not return after its context was cancelled")
	}
}

func TestSenderConcurrencyDefaultsToTwiceRate(t *testing.T) {
	r := &Runner{cfg: Config{}}
	if got := r.senderConcurrency(5); got != 10 {
		t.Errorf("senderConcurrency(5) = %d, want 10", got)
	}
}

func TestSenderConcurrencyRespectsConfigOverride(t *testing.T) {
	r := &Runner{cfg: Config{SenderConcurrency: 42}}
	if got := r.senderConcurrency(5); got != 42 {
		t.Errorf("senderConcurrency(5) = %d, want 42 (explicit config wins)", got)
	}
}

func TestSenderConcurrencyFloorsAtOneForZeroRate(t *testing.T) {
	r := &Runner{cfg: Config{}}
	if got := r.senderConcurrency(0); got != 1 {
		t.Errorf("senderConcurrency(0) = %d, want 1", got)
	}
}
