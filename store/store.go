// Package store implements the append-only, height-indexed blockchain
// store: persisted blocks plus the registry mutation that follows each
// commit, and genesis bootstrapping from a configured file.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/diverr"
	"github.com/diva-network/divachain/registry"
)

const (
	prefixHeight = "height:"
	keyTip       = "chain:tip"
)

func heightKey(h uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], h)
	return key
}

// Store is the append-only blockchain store. Every Append call validates
// the candidate against the previous block and the registry snapshot at
// height-1 before persisting, then applies the block to the registry.
type Store struct {
	mu       sync.RWMutex
	db       DB
	registry *registry.Registry
	tip      *core.Block
}

// Open wraps db as a Store backed by reg. Call LoadOrInitGenesis before
// first use.
func Open(db DB, reg *registry.Registry) *Store {
	return &Store{db: db, registry: reg}
}

// LoadOrInitGenesis loads the persisted tip, or — for a fresh store —
// reads the genesis block from genesisPath, verifies and seeds the
// registry from it, and persists it as height 0.
func (s *Store) LoadOrInitGenesis(genesisPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.db.Get([]byte(keyTip))
	if err != nil && err != diverr.ErrNotFound {
		return fmt.Errorf("load tip: %w", err)
	}
	if err == nil {
		var h uint64
		if len(raw) != 8 {
			return fmt.Errorf("corrupt tip record: want 8 bytes, got %d", len(raw))
		}
		h = binary.BigEndian.Uint64(raw)
		block, loadErr := s.getByHeightLocked(h)
		if loadErr != nil {
			return fmt.Errorf("load tip block at height %d: %w", h, loadErr)
		}
		s.tip = block
		return s.replayRegistryLocked()
	}

	genesisData, err := os.ReadFile(genesisPath)
	if err != nil {
		return fmt.Errorf("read genesis file %q: %w", genesisPath, err)
	}
	genesis, err := core.UnmarshalBlock(genesisData)
	if err != nil {
		return fmt.Errorf("parse genesis file %q: %w", genesisPath, err)
	}
	if genesis.Height != 0 {
		return fmt.Errorf("genesis block must be height 0, got %d", genesis.Height)
	}
	if err := genesis.VerifyStructure(nil); err != nil {
		return fmt.Errorf("genesis block: %w", err)
	}
	if err := s.registry.SeedGenesis(genesis); err != nil {
		return fmt.Errorf("seed registry from genesis: %w", err)
	}
	if err := s.persistLocked(genesis); err != nil {
		return fmt.Errorf("persist genesis: %w", err)
	}
	s.tip = genesis
	return nil
}

// replayRegistryLocked rebuilds the registry's full height history by
// replaying every persisted block in order. Used on restart, since the
// registry itself holds no persistent state of its own.
func (s *Store) replayRegistryLocked() error {
	for h := uint64(0); h <= s.tip.Height; h++ {
		block, err := s.getByHeightLocked(h)
		if err != nil {
			return fmt.Errorf("replay height %d: %w", h, err)
		}
		if h == 0 {
			if err := s.registry.SeedGenesis(block); err != nil {
				return fmt.Errorf("replay genesis: %w", err)
			}
			continue
		}
		if err := s.registry.Apply(block); err != nil {
			return fmt.Errorf("replay height %d: %w", h, err)
		}
	}
	return nil
}

// Append validates candidate against the current tip and the registry
// snapshot at tip's height, then persists it and applies it to the
// registry. Returns diverr.ErrChainGap if height/previousHash do not
// extend the tip, diverr.ErrValidation for any other structural failure,
// and diverr.ErrQuorum if the vote set is under-quorum.
func (s *Store) Append(block *core.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.tip
	if prev != nil && (block.Height != prev.Height+1 || !block.PreviousHash.Equal(prev.Hash)) {
		return fmt.Errorf("%w: block height %d previousHash %s does not extend tip height %d hash %s",
			diverr.ErrChainGap, block.Height, block.PreviousHash, prev.Height, prev.Hash)
	}

	if err := block.VerifyStructure(prev); err != nil {
		return fmt.Errorf("%w: %v", diverr.ErrValidation, err)
	}

	snapHeight := uint64(0)
	if prev != nil {
		snapHeight = prev.Height
	}
	snap, err := s.registry.SnapshotAt(snapHeight)
	if err != nil {
		return fmt.Errorf("%w: %v", diverr.ErrValidation, err)
	}
	if !snap.Contains(block.Origin) {
		return fmt.Errorf("%w: proposer %s not a registry member at height %d", diverr.ErrValidation, block.Origin, snapHeight)
	}

	voteStake, err := block.DistinctVoteStake(snap.StakeOf)
	if err != nil {
		return fmt.Errorf("%w: %v", diverr.ErrValidation, err)
	}
	if voteStake < snap.Quorum() {
		return fmt.Errorf("%w: votes carry stake %d, need %d", diverr.ErrQuorum, voteStake, snap.Quorum())
	}

	if err := s.persistLocked(block); err != nil {
		return fmt.Errorf("%w: %v", diverr.ErrIO, err)
	}
	if err := s.registry.Apply(block); err != nil {
		return fmt.Errorf("%w: registry divergence applying height %d: %v", diverr.ErrUnrecoverable, block.Height, err)
	}
	s.tip = block
	return nil
}

func (s *Store) persistLocked(block *core.Block) error {
	data, err := core.MarshalBlock(block)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	batch.Set(heightKey(block.Height), data)
	tipVal := make([]byte, 8)
	binary.BigEndian.PutUint64(tipVal, block.Height)
	batch.Set([]byte(keyTip), tipVal)
	return batch.Write()
}

func (s *Store) getByHeightLocked(h uint64) (*core.Block, error) {
	data, err := s.db.Get(heightKey(h))
	if err != nil {
		return nil, err
	}
	return core.UnmarshalBlock(data)
}

// Tip returns the current chain head, or nil for an uninitialized store.
func (s *Store) Tip() *core.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip
}

// GetByHeight returns the block at height h.
func (s *Store) GetByHeight(h uint64) (*core.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getByHeightLocked(h)
}

// Range returns blocks with gte <= height <= lte, in ascending height
// order, capped at limit entries (0 means unlimited).
func (s *Store) Range(gte, lte uint64, limit int) ([]*core.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tip != nil && lte > s.tip.Height {
		lte = s.tip.Height
	}
	var out []*core.Block
	for h := gte; h <= lte; h++ {
		block, err := s.getByHeightLocked(h)
		if err != nil {
			return nil, fmt.Errorf("range height %d: %w", h, err)
		}
		out = append(out, block)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// HasNetwork reports whether a peer at host:port is present in the
// registry snapshot at the current tip.
func (s *Store) HasNetwork(host string, port uint16) bool {
	s.mu.RLock()
	tip := s.tip
	s.mu.RUnlock()
	if tip == nil {
		return false
	}
	snap, err := s.registry.SnapshotAt(tip.Height)
	if err != nil {
		return false
	}
	found := false
	snap.Each(func(_ string, e registry.Entry) {
		if e.Host == host && e.Port == port {
			found = true
		}
	})
	return found
}

// MarshalGenesisFile renders block as an indented genesis JSON document.
func MarshalGenesisFile(block *core.Block) ([]byte, error) {
	raw, err := core.MarshalBlock(block)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
