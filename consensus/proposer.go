// Package consensus implements the block factory state machine: proposer
// selection by hash distance, the propose/sign/confirm voting protocol, and
// phase timeouts scaled by network size.
package consensus

import (
	"fmt"
	"math/big"

	"github.com/diva-network/divachain/canon"
	"github.com/diva-network/divachain/crypto"
	"github.com/diva-network/divachain/registry"
)

// proposerTarget computes H(previousHash ∥ height), the point every
// validator's public key is measured against for proposer selection.
func proposerTarget(previousHash crypto.Hash, height uint64) crypto.Hash {
	var w canon.Writer
	w.Str(previousHash.String())
	w.Uint(height)
	return crypto.HashBytes(w.Bytes())
}

// SelectProposer returns the base64url public key of the validator in snap
// nearest (by absolute distance, interpreting both as big-endian unsigned
// integers) to H(previousHash ∥ height), ties broken by the lexicographically
// smaller encoded public key. Returns an error if snap has no validators.
func SelectProposer(previousHash crypto.Hash, height uint64, snap *registry.Snapshot) (string, error) {
	if snap.Len() == 0 {
		return "", fmt.Errorf("consensus: no validators in registry snapshot at height %d", snap.Height())
	}
	target := proposerTarget(previousHash, height)
	targetInt := new(big.Int).SetBytes(target[:])

	var best string
	var bestDist *big.Int
	snap.Each(func(pub string, _ registry.Entry) {
		pubKey, err := crypto.ParsePublicKey(pub)
		if err != nil {
			return // unreachable for well-formed registry keys
		}
		pubInt := new(big.Int).SetBytes(pubKey)
		dist := new(big.Int).Sub(pubInt, targetInt)
		dist.Abs(dist)

		switch {
		case bestDist == nil:
			best, bestDist = pub, dist
		case dist.Cmp(bestDist) < 0:
			best, bestDist = pub, dist
		case dist.Cmp(bestDist) == 0 && pub < best:
			best = pub
		}
	})
	return best, nil
}

// SelectProposerRanked returns every registered validator ordered by
// increasing distance from H(previousHash ∥ height) (ties broken
// lexicographically), used by the timeout path to find the next-eligible
// proposer when the current one misses its window.
func SelectProposerRanked(previousHash crypto.Hash, height uint64, snap *registry.Snapshot) []string {
	target := proposerTarget(previousHash, height)
	targetInt := new(big.Int).SetBytes(target[:])

	type ranked struct {
		pub  string
		dist *big.Int
	}
	var all []ranked
	snap.Each(func(pub string, _ registry.Entry) {
		pubKey, err := crypto.ParsePublicKey(pub)
		if err != nil {
			return
		}
		pubInt := new(big.Int).SetBytes(pubKey)
		dist := new(big.Int).Sub(pubInt, targetInt)
		dist.Abs(dist)
		all = append(all, ranked{pub: pub, dist: dist})
	})

	for i := 1; i < len(all); i++ {
		for j := i; j > 0; j-- {
			a, b := all[j-1], all[j]
			if a.dist.Cmp(b.dist) < 0 || (a.dist.Cmp(b.dist) == 0 && a.pub <= b.pub) {
				break
			}
			all[j-1], all[j] = all[j], all[j-1]
		}
	}

	out := make([]string, len(all))
	for i, r := range all {
		out[i] = r.pub
	}
	return out
}
