package signer

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gateway-fm/contender/internal/seed"
)

// AgentPool is a named set of signers, sized at runtime so that
// signers_per_pool = ceil(tx_rate / num_pools), per spec.md §3.
type AgentPool struct {
	Name    string
	Signers []*Signer

	next atomic.Uint64 // shared counter for round-robin assignment, see Next
}

// NewPool derives a pool of `size` signers from seed s, keyed by name.
func NewPool(s seed.RandSeed, name string, size int) (*AgentPool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("signer: pool %q: size must be positive, got %d", name, size)
	}
	signers := make([]*Signer, size)
	for i := 0; i < size; i++ {
		sg, err := Derive(s, name, i)
		if err != nil {
			return nil, fmt.Errorf("signer: pool %q index %d: %w", name, i, err)
		}
		signers[i] = sg
	}
	return &AgentPool{Name: name, Signers: signers}, nil
}

// PoolSize computes signers_per_pool = ceil(tx_rate / num_pools).
func PoolSize(txRate, numPools int) int {
	if numPools <= 0 {
		numPools = 1
	}
	size := (txRate + numPools - 1) / numPools
	if size < 1 {
		size = 1
	}
	return size
}

// At returns signer p[k mod N] — the round-robin assignment rule from
// spec.md §4.2: "for step s with pool p of size N, the k-th emitted tx
// uses signer p[k mod N]."
func (p *AgentPool) At(k uint64) *Signer {
	n := uint64(len(p.Signers))
	return p.Signers[k%n]
}

// Next atomically advances and returns the pool's shared round-robin
// counter. Concurrent steps sharing a pool call this through the same
// AgentPool instance so the counter — and therefore nonce contention
// avoidance — is shared, per spec.md §4.2.
func (p *AgentPool) Next() uint64 {
	return p.next.Add(1) - 1
}

// ResyncAll re-fetches on-chain nonces for every signer in the pool.
func (p *AgentPool) ResyncAll(ctx context.Context, src NonceSource) error {
	for _, s := range p.Signers {
		if err := s.Resync(ctx, src); err != nil {
			return err
		}
	}
	return nil
}
