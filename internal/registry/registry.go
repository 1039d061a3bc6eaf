// Package registry implements the ContractRegistry data model: a
// mapping from a user-assigned contract name to {address,
// deploy_tx_hash, rpc_url, scenario_label}, populated during
// deployment and consulted during placeholder substitution.
//
// Grounded on the original implementation's db/trait.rs get_named_tx
// fallback (SPEC_FULL §4 supplement): a name not yet in memory is
// looked up in the DB before the Planner gives up with
// UnknownPlaceholder, so setup performed by a prior process invocation
// still resolves.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/contender/internal/cerrors"
	"github.com/gateway-fm/contender/pkg/txtypes"
)

// NamedTxStore is the subset of DbOps the registry falls back to.
type NamedTxStore interface {
	GetNamedTx(ctx context.Context, name, rpcURL string) (*txtypes.NamedTx, error)
}

type entry struct {
	addr          common.Address
	deployTxHash  common.Hash
	rpcURL        string
	scenarioLabel string
}

// Registry is the in-memory ContractRegistry, optionally backed by a
// DB for cross-process lookups.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	db      NamedTxStore
}

// New creates a Registry. db may be nil, in which case Resolve only
// consults memory.
func New(db NamedTxStore) *Registry {
	return &Registry{entries: make(map[string]entry), db: db}
}

// Assign records a deployed contract's address. ContractRegistry[name]
// is assigned at most once per scenario_label; a second assignment for
// the same (name, scenarioLabel) pair is a hard error.
func (r *Registry) Assign(name string, addr common.Address, deployTxHash common.Hash, rpcURL, scenarioLabel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := registryKey(name, scenarioLabel)
	if _, exists := r.entries[key]; exists {
		return cerrors.ConfigError("registry", fmt.Errorf("contract %q already assigned for scenario label %q", name, scenarioLabel))
	}
	r.entries[key] = entry{addr: addr, deployTxHash: deployTxHash, rpcURL: rpcURL, scenarioLabel: scenarioLabel}
	return nil
}

// Resolve returns the address registered for name under scenarioLabel.
// Reading before assignment is a hard error per spec.md §3's invariant
// list, except that a DB-backed registry first checks for a record
// left by a prior run before failing.
func (r *Registry) Resolve(ctx context.Context, name, scenarioLabel, rpcURL string) (common.Address, error) {
	r.mu.RLock()
	e, ok := r.entries[registryKey(name, scenarioLabel)]
	r.mu.RUnlock()
	if ok {
		return e.addr, nil
	}

	if r.db == nil {
		return common.Address{}, cerrors.UnknownPlaceholder(name)
	}

	named, err := r.db.GetNamedTx(ctx, name, rpcURL)
	if err != nil {
		return common.Address{}, cerrors.ConfigError("registry: db lookup for "+name, err)
	}
	if named == nil || named.Address == nil {
		return common.Address{}, cerrors.UnknownPlaceholder(name)
	}

	r.mu.Lock()
	r.entries[registryKey(name, scenarioLabel)] = entry{addr: *named.Address, rpcURL: rpcURL, scenarioLabel: scenarioLabel}
	r.mu.Unlock()
	return *named.Address, nil
}

func registryKey(name, scenarioLabel string) string {
	return scenarioLabel + "\x00" + name
}
