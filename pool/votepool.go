package pool

import (
	"sync"

	"github.com/diva-network/divachain/crypto"
)

// VotePool collects Sign-message signatures per candidate block hash,
// keyed by the distinct signer's public key. Entries are purged on commit
// of that hash or whenever the core executor's height advances past the
// candidate, so the pool never outlives the round it was collected for.
type VotePool struct {
	mu    sync.Mutex
	votes map[crypto.Hash]map[string]crypto.Signature
}

// NewVotePool returns an empty vote pool.
func NewVotePool() *VotePool {
	return &VotePool{votes: make(map[crypto.Hash]map[string]crypto.Signature)}
}

// Add records a vote for hash by origin. Returns false if that origin
// already has a recorded vote for this hash (a duplicate Sign message is
// not counted twice).
func (v *VotePool) Add(hash crypto.Hash, origin crypto.PublicKey, sig crypto.Signature) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	votes, ok := v.votes[hash]
	if !ok {
		votes = make(map[string]crypto.Signature)
		v.votes[hash] = votes
	}
	key := origin.String()
	if _, exists := votes[key]; exists {
		return false
	}
	votes[key] = sig
	return true
}

// Votes returns the distinct (origin, signature) pairs collected so far
// for hash.
func (v *VotePool) Votes(hash crypto.Hash) map[string]crypto.Signature {
	v.mu.Lock()
	defer v.mu.Unlock()
	votes, ok := v.votes[hash]
	if !ok {
		return nil
	}
	out := make(map[string]crypto.Signature, len(votes))
	for k, sig := range votes {
		out[k] = sig
	}
	return out
}

// Count returns the number of distinct signers recorded for hash.
func (v *VotePool) Count(hash crypto.Hash) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.votes[hash])
}

// Purge discards the vote set for hash, called once that candidate commits
// or is abandoned.
func (v *VotePool) Purge(hash crypto.Hash) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.votes, hash)
}

// PurgeAll discards every pending vote set, called when the executor's
// height advances past all outstanding candidates.
func (v *VotePool) PurgeAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.votes = make(map[crypto.Hash]map[string]crypto.Signature)
}

// All returns a copy of every candidate hash currently collecting votes,
// mapped to its distinct (origin, signature) set. Used by read-only
// diagnostics that must not race the core executor's live pool.
func (v *VotePool) All() map[crypto.Hash]map[string]crypto.Signature {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[crypto.Hash]map[string]crypto.Signature, len(v.votes))
	for hash, votes := range v.votes {
		cp := make(map[string]crypto.Signature, len(votes))
		for k, sig := range votes {
			cp[k] = sig
		}
		out[hash] = cp
	}
	return out
}
