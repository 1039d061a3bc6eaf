// Package signer implements the Signer and AgentPool data model, built
// on the nonce-reservation discipline of the teacher's internal/account
// package: one atomic fetch-and-add counter per signer, reserved and
// committed/rolled-back around each dispatch attempt.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/contender/internal/seed"
)

// NonceSource is the subset of the RPC client a Signer needs to
// resync its internal counter from chain state.
type NonceSource interface {
	GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error)
}

// Signer is a private key plus its derived address. Immutable after
// creation; the only mutable state is the internal nonce counter,
// which spec.md §3 requires be tracked internally rather than fetched
// per transaction.
type Signer struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address

	nonce atomic.Uint64
}

// FromPrivateKey wraps an existing key (user-supplied or funder).
func FromPrivateKey(key *ecdsa.PrivateKey) *Signer {
	return &Signer{PrivateKey: key, Address: crypto.PubkeyToAddress(key.PublicKey)}
}

// FromHex parses a hex-encoded private key.
func FromHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("signer: parse key: %w", err)
	}
	return FromPrivateKey(key), nil
}

// Derive produces signer `index` of pool `pool` deterministically from
// seed s, per spec.md §3: "signer i for pool p is derived from
// (seed, p, i) so the same seed yields the same pool."
func Derive(s seed.RandSeed, pool string, index int) (*Signer, error) {
	raw := s.DeriveKey(pool, index)
	// Keccak256 output is uniform over 32 bytes but may exceed the
	// secp256k1 curve order; ToECDSA rejects those, so retry with a
	// Keccak256 re-hash of the rejected bytes, up to 8 attempts. This happens with
	// vanishingly small probability.
	for attempt := 0; attempt < 8; attempt++ {
		key, err := crypto.ToECDSA(raw)
		if err == nil {
			return FromPrivateKey(key), nil
		}
		raw = crypto.Keccak256(raw)
	}
	return nil, fmt.Errorf("signer: derive(%s,%d): exhausted retries for a valid scalar", pool, index)
}

// Nonce represents a reserved nonce that must be Committed or Rolled
// back, matching internal/account.Nonce's idempotent commit/rollback
// contract.
type Nonce struct {
	value     uint64
	signer    *Signer
	committed atomic.Bool
}

func (n *Nonce) Value() uint64 { return n.value }

func (n *Nonce) Commit() { n.committed.Store(true) }

func (n *Nonce) Rollback() {
	if n.committed.Swap(true) {
		return
	}
	n.signer.rollback(n.value)
}

// ReserveNonce reserves the next nonce via an atomic fetch-and-add. The
// caller must Commit on successful dispatch or Rollback on failure
// (typically via defer); no lock is held across the dispatch.
func (s *Signer) ReserveNonce() *Nonce {
	v := s.nonce.Add(1) - 1
	return &Nonce{value: v, signer: s}
}

// rollback gives nonce back only if it is still the frontier (no other
// ReserveNonce has run since): a CAS from nonce+1 to nonce. If it
// fails, a later reservation has already moved past it and the gap is
// left for Resync rather than rewound out from under a concurrent
// reserver.
func (s *Signer) rollback(nonce uint64) {
	s.nonce.CompareAndSwap(nonce+1, nonce)
}

// PeekNonce returns the current nonce without reserving it.
func (s *Signer) PeekNonce() uint64 {
	return s.nonce.Load()
}

// SetNonce sets the nonce directly — used to seed the counter from
// on-chain getTransactionCount at Signer construction time.
func (s *Signer) SetNonce(n uint64) {
	s.nonce.Store(n)
}

// Resync re-fetches the on-chain nonce and raises the local counter to
// match if it is ahead, per the scenario runner's "Nonce reset" step
// (spec.md §4.5) — set-if-higher avoids clobbering nonces reserved
// concurrently between the RPC call and the CAS.
func (s *Signer) Resync(ctx context.Context, src NonceSource) error {
	onChain, err := src.GetTransactionCount(ctx, s.Address)
	if err != nil {
		return fmt.Errorf("signer: resync %s: %w", s.Address, err)
	}
	for {
		cur := s.nonce.Load()
		if onChain <= cur {
			// The chain is behind (or even with) what we've already
			// assigned. This is not reported: Resync returns nil and
			// the counter does not move backwards, so a regression of
			// the on-chain nonce is never surfaced as a NonceError.
			return nil
		}
		if s.nonce.CompareAndSwap(cur, onChain) {
			return nil
		}
	}
}
