// Package registry maintains the validator set derived from committed
// blocks: current stake per public key, and a per-height history used to
// validate proposals against the registry that existed at their
// predecessor height.
package registry

import (
	"fmt"
	"sync"

	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/crypto"
)

// Entry is one validator's registered network location and stake.
type Entry struct {
	Host  string
	Port  uint16
	Stake int64
}

// Snapshot is a read-only, concurrency-safe view of the registry at a fixed
// height. HTTP handlers and verification code that must not race the core
// executor's live registry read through a Snapshot instead.
type Snapshot struct {
	height  uint64
	entries map[string]Entry // keyed by crypto.PublicKey.String()
}

// Height returns the height this snapshot was taken at. A live view from
// Registry.Snapshot is not tied to a height and reports ^uint64(0).
func (s *Snapshot) Height() uint64 { return s.height }

// Contains reports whether pub is a registered validator.
func (s *Snapshot) Contains(pub crypto.PublicKey) bool {
	_, ok := s.entries[pub.String()]
	return ok
}

// StakeOf returns pub's stake and whether it is registered.
func (s *Snapshot) StakeOf(pub crypto.PublicKey) (int64, bool) {
	e, ok := s.entries[pub.String()]
	return e.Stake, ok
}

// EntryOf returns pub's full entry and whether it is registered.
func (s *Snapshot) EntryOf(pub crypto.PublicKey) (Entry, bool) {
	e, ok := s.entries[pub.String()]
	return e, ok
}

// Total returns the sum of all registered stake.
func (s *Snapshot) Total() int64 {
	var total int64
	for _, e := range s.entries {
		total += e.Stake
	}
	return total
}

// Quorum returns ⌈2/3 · total()⌉, the stake-weighted vote threshold.
func (s *Snapshot) Quorum() int64 {
	total := s.Total()
	return (2*total + 2) / 3
}

// Len returns the number of registered validators.
func (s *Snapshot) Len() int { return len(s.entries) }

// Each calls fn for every registered validator. Iteration order is
// unspecified; callers that need determinism should sort pub.String().
func (s *Snapshot) Each(fn func(pub string, e Entry)) {
	for k, e := range s.entries {
		fn(k, e)
	}
}

// Registry is the mutable, height-indexed validator set. All mutation
// happens through Apply, called exclusively by the core executor in
// commit order; reads are safe from any goroutine via Snapshot.
type Registry struct {
	mu      sync.RWMutex
	current map[string]Entry
	history map[uint64]map[string]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		current: make(map[string]Entry),
		history: make(map[uint64]map[string]Entry),
	}
}

// Apply folds block's commands into the registry in transaction-sort order
// and intra-transaction seq order (both already guaranteed by
// core.Block.VerifyStructure before Apply is ever called), then snapshots
// the resulting state at block.Height.
func (r *Registry) Apply(block *core.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tx := range block.Tx {
		for _, cmd := range tx.Commands {
			switch c := cmd.(type) {
			case core.AddPeerCommand:
				r.current[c.PublicKey.String()] = Entry{Host: c.Host, Port: c.Port, Stake: 0}
			case core.RemovePeerCommand:
				delete(r.current, c.PublicKey.String())
			case core.ModifyStakeCommand:
				key := c.PublicKey.String()
				e, ok := r.current[key]
				if !ok {
					return fmt.Errorf("modifyStake: %s not a registered validator", key)
				}
				stake := c.Stake
				if stake < 0 {
					stake = 0
				}
				e.Stake = stake
				r.current[key] = e
			case core.DataCommand, core.TestLoadCommand:
				// no registry effect
			default:
				return fmt.Errorf("apply: unhandled command type %T", cmd)
			}
		}
	}

	snap := make(map[string]Entry, len(r.current))
	for k, v := range r.current {
		snap[k] = v
	}
	r.history[block.Height] = snap
	return nil
}

// Contains reports whether pub is a validator in the live registry.
func (r *Registry) Contains(pub crypto.PublicKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.current[pub.String()]
	return ok
}

// StakeOf returns pub's live stake and whether it is registered.
func (r *Registry) StakeOf(pub crypto.PublicKey) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.current[pub.String()]
	return e.Stake, ok
}

// Total returns the live total stake.
func (r *Registry) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, e := range r.current {
		total += e.Stake
	}
	return total
}

// Quorum returns the live ⌈2/3 · total⌉ threshold.
func (r *Registry) Quorum() int64 {
	total := r.Total()
	return (2*total + 2) / 3
}

// Snapshot returns a read-only copy of the live registry state.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(^uint64(0), r.current)
}

// SnapshotAt returns the registry state as it existed right after applying
// block height h, i.e. the state a proposal whose previousHash points at
// block h must be validated against. Returns an error if h was never
// applied (e.g. h is above the known tip, or pruned).
func (r *Registry) SnapshotAt(h uint64) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries, ok := r.history[h]
	if !ok {
		return nil, fmt.Errorf("registry: no snapshot recorded at height %d", h)
	}
	return r.snapshotLocked(h, entries), nil
}

func (r *Registry) snapshotLocked(height uint64, entries map[string]Entry) *Snapshot {
	cp := make(map[string]Entry, len(entries))
	for k, v := range entries {
		cp[k] = v
	}
	return &Snapshot{height: height, entries: cp}
}

// SeedGenesis installs a snapshot at height 0 directly, for the genesis
// block's synthetic AddPeer/ModifyStake transaction, without going through
// Apply's no-registered-validator guard on ModifyStake (genesis may set
// stake in the same transaction that adds the peer).
func (r *Registry) SeedGenesis(block *core.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tx := range block.Tx {
		for _, cmd := range tx.Commands {
			switch c := cmd.(type) {
			case core.AddPeerCommand:
				r.current[c.PublicKey.String()] = Entry{Host: c.Host, Port: c.Port, Stake: 0}
			case core.ModifyStakeCommand:
				key := c.PublicKey.String()
				e := r.current[key]
				stake := c.Stake
				if stake < 0 {
					stake = 0
				}
				e.Stake = stake
				r.current[key] = e
			case core.RemovePeerCommand:
				delete(r.current, c.PublicKey.String())
			case core.DataCommand, core.TestLoadCommand:
				// no registry effect
			default:
				return fmt.Errorf("seedGenesis: unhandled command type %T", cmd)
			}
		}
	}

	snap := make(map[string]Entry, len(r.current))
	for k, v := range r.current {
		snap[k] = v
	}
	r.history[block.Height] = snap
	return nil
}
