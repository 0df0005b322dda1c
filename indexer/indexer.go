// Package indexer maintains secondary lookup tables over committed chain
// activity so callers can query by namespace or proposer without scanning
// the full data store.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/diva-network/divachain/diverr"
	"github.com/diva-network/divachain/events"
	"github.com/diva-network/divachain/store"
)

const (
	prefixNamespaceEntries = "idx:ns:entries:"  // idx:ns:entries:<namespace> -> []string of tx idents
	prefixProposerBlocks   = "idx:proposer:blk:" // idx:proposer:blk:<pubkey> -> count, JSON-encoded
)

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db      store.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db store.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventDataApplied, idx.onDataApplied)
	emitter.Subscribe(events.EventBlockCommit, idx.onBlockCommit)
	return idx
}

// EntriesByNamespace returns the tx idents that wrote to namespace, in
// commit order.
func (idx *Indexer) EntriesByNamespace(namespace string) ([]string, error) {
	return idx.getList(prefixNamespaceEntries + namespace)
}

// BlocksByProposer returns how many blocks a given proposer public key has
// committed, used to check stake-weighted proposer fairness over time.
func (idx *Indexer) BlocksByProposer(publicKey string) (int64, error) {
	data, err := idx.db.Get([]byte(prefixProposerBlocks + publicKey))
	if err != nil {
		if errors.Is(err, diverr.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var count int64
	if err := json.Unmarshal(data, &count); err != nil {
		return 0, fmt.Errorf("indexer unmarshal proposer count: %w", err)
	}
	return count, nil
}

// ---- event handlers ----

func (idx *Indexer) onDataApplied(ev events.Event) {
	namespace, _ := ev.Data["namespace"].(string)
	if namespace == "" || ev.Ident == "" {
		return
	}
	if err := idx.addToList(prefixNamespaceEntries+namespace, ev.Ident); err != nil {
		log.Printf("[indexer] namespace index write failed (ns=%s ident=%s): %v", namespace, ev.Ident, err)
	}
}

func (idx *Indexer) onBlockCommit(ev events.Event) {
	proposer, _ := ev.Data["proposer"].(string)
	if proposer == "" {
		return
	}
	if err := idx.incrProposerCount(proposer); err != nil {
		log.Printf("[indexer] proposer index write failed (proposer=%s): %v", proposer, err)
	}
}

// ---- storage helpers ----

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, diverr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return fmt.Errorf("read list: %w", err)
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) incrProposerCount(publicKey string) error {
	count, err := idx.BlocksByProposer(publicKey)
	if err != nil {
		return fmt.Errorf("read proposer count: %w", err)
	}
	count++
	data, err := json.Marshal(count)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(prefixProposerBlocks+publicKey), data)
}
