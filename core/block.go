package core

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/diva-network/divachain/canon"
	"github.com/diva-network/divachain/crypto"
)

// Vote is one validator's detached signature over a candidate block's hash.
type Vote struct {
	Origin crypto.PublicKey
	Sig    crypto.Signature
}

// Block is the unit of chain state transition: a signed, proposer-ordered
// batch of transactions linked to its predecessor by hash.
type Block struct {
	Version      uint32
	Height       uint64
	Timestamp    int64
	PreviousHash crypto.Hash
	Hash         crypto.Hash
	Tx           []*Transaction
	Origin       crypto.PublicKey
	Sig          crypto.Signature
	Votes        []Vote
}

// SortTransactions sorts tx ascending by origin's base64url form (stable,
// lexicographic), the canonical transaction order every block enforces.
func SortTransactions(tx []*Transaction) {
	sort.SliceStable(tx, func(i, j int) bool {
		return tx[i].Origin.String() < tx[j].Origin.String()
	})
}

// canonHeaderWrite appends previousHash ∥ version ∥ timestamp ∥ height ∥
// canonical(tx) — the exact bytes hashed for block.Hash.
func (b *Block) canonHeaderWrite(w *canon.Writer) {
	w.Str(b.PreviousHash.String())
	w.Uint(uint64(b.Version))
	w.Int(b.Timestamp)
	w.Uint(b.Height)
	w.Array(len(b.Tx), func(i int) {
		b.Tx[i].canonWrite(w)
	})
}

// ComputeHash returns the block's hash over its canonical header fields.
func (b *Block) ComputeHash() crypto.Hash {
	var w canon.Writer
	b.canonHeaderWrite(&w)
	return crypto.HashBytes(w.Bytes())
}

// Sign sets b.Hash and b.Sig: the proposer's detached signature over hash.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Origin = priv.Public()
	b.Hash = b.ComputeHash()
	b.Sig = crypto.Sign(priv, b.Hash[:])
}

// IsGenesisCandidate reports whether b looks like the trust-anchor genesis
// block: height 0 with no previousHash and no proposer signature. The
// genesis file carries origin and sig zero-filled — there is no validator
// yet to sign it.
func (b *Block) IsGenesisCandidate() bool {
	return b.Height == 0 && b.PreviousHash.IsZero() && len(b.Origin) == 0 && len(b.Sig) == 0
}

// VerifyStructure checks everything about a block that does not depend on
// the validator registry: chain linkage (against prev), hash consistency,
// transaction sort/uniqueness order, every transaction's own signature, and
// the proposer's signature over the hash. Registry-dependent checks
// (proposer eligibility, vote quorum) are performed separately by callers
// that have a registry snapshot at b.Height-1. The genesis block (see
// IsGenesisCandidate) is exempted from transaction-origin and
// proposer-signature checks, since it predates any registered validator.
func (b *Block) VerifyStructure(prev *Block) error {
	if prev != nil {
		if b.Height != prev.Height+1 {
			return fmt.Errorf("block %d: height must be %d, got %d", b.Height, prev.Height+1, b.Height)
		}
		if !b.PreviousHash.Equal(prev.Hash) {
			return fmt.Errorf("block %d: previousHash mismatch", b.Height)
		}
	}

	if computed := b.ComputeHash(); !computed.Equal(b.Hash) {
		return fmt.Errorf("block %d: hash mismatch: stored %s computed %s", b.Height, b.Hash, computed)
	}

	if err := verifyTxOrder(b.Tx); err != nil {
		return fmt.Errorf("block %d: %w", b.Height, err)
	}

	genesis := prev == nil && b.IsGenesisCandidate()

	for i, tx := range b.Tx {
		if genesis {
			if err := ValidateSeqs(tx.Commands); err != nil {
				return fmt.Errorf("block %d: tx %d: %w", b.Height, i, err)
			}
			continue
		}
		if err := tx.Verify(); err != nil {
			return fmt.Errorf("block %d: tx %d: %w", b.Height, i, err)
		}
	}

	if genesis {
		return nil
	}

	if err := crypto.Verify(b.Origin, b.Hash[:], b.Sig); err != nil {
		return fmt.Errorf("block %d: proposer signature: %w", b.Height, err)
	}

	return nil
}

// verifyTxOrder checks the ascending-by-origin sort and the at-most-one-
// transaction-per-origin invariant, enforced unconditionally.
func verifyTxOrder(tx []*Transaction) error {
	seen := make(map[string]bool, len(tx))
	prevOrigin := ""
	for i, t := range tx {
		origin := t.Origin.String()
		if seen[origin] {
			return fmt.Errorf("duplicate transaction origin %s", origin)
		}
		seen[origin] = true
		if i > 0 && origin < prevOrigin {
			return fmt.Errorf("transactions not sorted ascending by origin at index %d", i)
		}
		prevOrigin = origin
	}
	return nil
}

// DistinctVoteStake sums stakeOf(v.Origin) for every vote in b.Votes whose
// signature verifies over b.Hash and whose origin is distinct, using the
// supplied lookup (typically a registry.Registry snapshot at Height-1).
// Returns an error if any vote's signature fails to verify.
func (b *Block) DistinctVoteStake(stakeOf func(crypto.PublicKey) (int64, bool)) (int64, error) {
	seen := make(map[string]bool, len(b.Votes))
	var total int64
	for _, v := range b.Votes {
		origin := v.Origin.String()
		if seen[origin] {
			continue // a duplicate signer never increases quorum weight
		}
		if err := crypto.Verify(v.Origin, b.Hash[:], v.Sig); err != nil {
			return 0, fmt.Errorf("vote by %s: %w", origin, err)
		}
		stake, ok := stakeOf(v.Origin)
		if !ok {
			continue // not a registry member at Height-1: contributes no stake
		}
		seen[origin] = true
		total += stake
	}
	return total, nil
}

// VotesHash returns a deterministic hash over the block's vote set, sorted
// by origin, for use as compact content commitment (e.g. in a router
// Confirm payload) without re-verifying every signature.
func (b *Block) VotesHash() crypto.Hash {
	votes := make([]Vote, len(b.Votes))
	copy(votes, b.Votes)
	sort.Slice(votes, func(i, j int) bool {
		return votes[i].Origin.String() < votes[j].Origin.String()
	})
	var w canon.Writer
	w.Array(len(votes), func(i int) {
		w.Object([]string{"origin", "sig"}, func(f int) {
			if f == 0 {
				w.Str(votes[i].Origin.String())
			} else {
				w.Str(votes[i].Sig.String())
			}
		})
	})
	return crypto.HashBytes(w.Bytes())
}

// ---- wire (JSON) encoding ----

type voteWire struct {
	Origin string `json:"origin"`
	Sig    string `json:"sig"`
}

type blockWire struct {
	Version      uint32            `json:"version"`
	Height       uint64            `json:"height"`
	Timestamp    int64             `json:"timestamp"`
	PreviousHash string            `json:"previousHash"`
	Hash         string            `json:"hash"`
	Tx           []json.RawMessage `json:"tx"`
	Origin       string            `json:"origin"`
	Sig          string            `json:"sig"`
	Votes        []voteWire        `json:"votes"`
}

// MarshalBlock encodes b into its wire JSON form, used for storage and the
// block-feed push.
func MarshalBlock(b *Block) ([]byte, error) {
	txJSON := make([]json.RawMessage, len(b.Tx))
	for i, t := range b.Tx {
		raw, err := MarshalTransaction(t)
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		txJSON[i] = raw
	}
	votes := make([]voteWire, len(b.Votes))
	for i, v := range b.Votes {
		votes[i] = voteWire{Origin: v.Origin.String(), Sig: v.Sig.String()}
	}
	var originStr, sigStr, prevHashStr string
	if len(b.Origin) > 0 {
		originStr = b.Origin.String()
	}
	if len(b.Sig) > 0 {
		sigStr = b.Sig.String()
	}
	prevHashStr = b.PreviousHash.String()
	return json.Marshal(blockWire{
		Version:      b.Version,
		Height:       b.Height,
		Timestamp:    b.Timestamp,
		PreviousHash: prevHashStr,
		Hash:         b.Hash.String(),
		Tx:           txJSON,
		Origin:       originStr,
		Sig:          sigStr,
		Votes:        votes,
	})
}

// UnmarshalBlock decodes b from its wire JSON form.
func UnmarshalBlock(data []byte) (*Block, error) {
	var w blockWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("block envelope: %w", err)
	}

	b := &Block{Version: w.Version, Height: w.Height, Timestamp: w.Timestamp}

	if w.PreviousHash != "" {
		prevHash, err := crypto.ParseHash(w.PreviousHash)
		if err != nil {
			return nil, fmt.Errorf("block previousHash: %w", err)
		}
		b.PreviousHash = prevHash
	}
	hash, err := crypto.ParseHash(w.Hash)
	if err != nil {
		return nil, fmt.Errorf("block hash: %w", err)
	}
	b.Hash = hash

	if w.Origin != "" {
		origin, err := crypto.ParsePublicKey(w.Origin)
		if err != nil {
			return nil, fmt.Errorf("block origin: %w", err)
		}
		b.Origin = origin
	}
	if w.Sig != "" {
		sig, err := crypto.ParseSignature(w.Sig)
		if err != nil {
			return nil, fmt.Errorf("block sig: %w", err)
		}
		b.Sig = sig
	}

	b.Tx = make([]*Transaction, len(w.Tx))
	for i, raw := range w.Tx {
		tx, err := UnmarshalTransaction(raw)
		if err != nil {
			return nil, fmt.Errorf("block tx %d: %w", i, err)
		}
		b.Tx[i] = tx
	}

	b.Votes = make([]Vote, len(w.Votes))
	for i, v := range w.Votes {
		origin, err := crypto.ParsePublicKey(v.Origin)
		if err != nil {
			return nil, fmt.Errorf("block vote %d origin: %w", i, err)
		}
		sig, err := crypto.ParseSignature(v.Sig)
		if err != nil {
			return nil, fmt.Errorf("block vote %d sig: %w", i, err)
		}
		b.Votes[i] = Vote{Origin: origin, Sig: sig}
	}

	return b, nil
}
