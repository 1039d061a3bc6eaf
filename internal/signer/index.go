package signer

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Index is a flat address-to-Signer lookup spanning every AgentPool a
// run uses. The generator assigns a signer per tx by address only
// (txtypes.PlannedTx.Signer); the spammer needs the *Signer back to
// reserve a nonce and sign, so the Scenario Runner builds one Index
// from all of a scenario's pools and hands it to the dispatcher.
type Index struct {
	mu     sync.RWMutex
	byAddr map[common.Address]*Signer
}

// NewIndex builds an Index from zero or more pools.
func NewIndex(pools ...*AgentPool) *Index {
	idx := &Index{byAddr: make(map[common.Address]*Signer)}
	for _, p := range pools {
		idx.Add(p)
	}
	return idx
}

// Add indexes every signer in pool by address.
func (idx *Index) Add(pool *AgentPool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, s := range pool.Signers {
		idx.byAddr[s.Address] = s
	}
}

// AddSigner indexes a single signer directly (funder, fixed `from`).
func (idx *Index) AddSigner(s *Signer) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byAddr[s.Address] = s
}

// Signers returns a snapshot of every indexed Signer, in no particular
// order — used by the funding step to walk every agent signer once.
func (idx *Index) Signers() []*Signer {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*Signer, 0, len(idx.byAddr))
	for _, s := range idx.byAddr {
		out = append(out, s)
	}
	return out
}

// BySigner returns the Signer registered for addr, if any.
func (idx *Index) BySigner(addr common.Address) (*Signer, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s, ok := idx.byAddr[addr]
	return s, ok
}

// ResyncAll re-fetches on-chain nonces for every indexed signer, per
// the Scenario Runner's step-boundary "Nonce reset" (spec.md §4.5).
func (idx *Index) ResyncAll(ctx context.Context, src NonceSource) []error {
	idx.mu.RLock()
	signers := make([]*Signer, 0, len(idx.byAddr))
	for _, s := range idx.byAddr {
		signers = append(signers, s)
	}
	idx.mu.RUnlock()

	var errs []error
	for _, s := range signers {
		if err := s.Resync(ctx, src); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
