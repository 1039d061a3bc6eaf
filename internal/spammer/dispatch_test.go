package spammer

import (
	"testing"

	"github.com/gateway-fm/contender/pkg/txtypes"
)

func txs(n int) []*txtypes.PlannedTx {
	out := make([]*txtypes.PlannedTx, n)
	for i := range out {
		out[i] = &txtypes.PlannedTx{}
	}
	return out
}

func TestChunkIndividualZeroValueIsOneBatch(t *testing.T) {
	d := &Dispatcher{} // RPCBatchSize zero value
	chunks := d.chunkIndividual(txs(5))
	if len(chunks) != 1 || len(chunks[0]) != 5 {
		t.Fatalf("chunkIndividual() = %v, want a single chunk of 5 (RPCBatchSize=0 is one HTTP batch for the whole slice)", chunks)
	}
}

func TestChunkIndividualOneMeansIndividualCalls(t *testing.T) {
	d := &Dispatcher{RPCBatchSize: 1}
	chunks := d.chunkIndividual(txs(3))
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) != 1 {
			t.Errorf("chunk %d has %d txs, want 1", i, len(c))
		}
	}
}

func TestChunkIndividualGroupsBySize(t *testing.T) {
	d := &Dispatcher{RPCBatchSize: 2}
	chunks := d.chunkIndividual(txs(5))
	wantLens := []int{2, 2, 1}
	if len(chunks) != len(wantLens) {
		t.Fatalf("len(chunks) = %d, want %d (2,2,1)", len(chunks), len(wantLens))
	}
	for i, c := range chunks {
		if len(c) != wantLens[i] {
			t.Errorf("chunk %d has %d txs, want %d", i, len(c), wantLens[i])
		}
	}
}

func TestChunkIndividualEmptyInput(t *testing.T) {
	d := &Dispatcher{RPCBatchSize: 4}
	if got := d.chunkIndividual(nil); got != nil {
		t.Errorf("chunkIndividual(nil) = %v, want nil", got)
	}
}
