// Package pool holds the two in-memory, non-persistent collections the core
// executor drains from and writes to every consensus round: the local
// transaction pool awaiting inclusion in a candidate block, and the vote
// pool collecting signatures for the block currently being confirmed.
package pool

import (
	"fmt"
	"sync"

	"github.com/diva-network/divachain/core"
)

// maxTxPoolSize bounds the transaction pool so a flood of local stacks
// cannot grow it without limit; the oldest entry is dropped to make room.
const maxTxPoolSize = 10_000

type txKey struct {
	origin string
	ident  string
}

// TxPool is the insertion-ordered set of pending local transactions keyed
// by (origin, ident), drained wholesale into each candidate block.
type TxPool struct {
	mu  sync.Mutex
	txs map[txKey]*core.Transaction
	ord []txKey
}

// NewTxPool returns an empty transaction pool.
func NewTxPool() *TxPool {
	return &TxPool{txs: make(map[txKey]*core.Transaction)}
}

func keyOf(tx *core.Transaction) txKey {
	return txKey{origin: tx.Origin.String(), ident: tx.Ident}
}

// Add inserts tx, rejecting a duplicate (origin, ident) pair. When the pool
// is at capacity the oldest entry is evicted first.
func (p *TxPool) Add(tx *core.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := keyOf(tx)
	if _, exists := p.txs[k]; exists {
		return fmt.Errorf("transaction pool: (%s, %s) already pending", k.origin, k.ident)
	}
	if len(p.txs) >= maxTxPoolSize {
		oldest := p.ord[0]
		p.ord = p.ord[1:]
		delete(p.txs, oldest)
	}
	p.txs[k] = tx
	p.ord = append(p.ord, k)
	return nil
}

// Size returns the number of pending transactions.
func (p *TxPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// Pending returns up to n pending transactions in insertion order, without
// removing them.
func (p *TxPool) Pending(n int) []*core.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 || n > len(p.ord) {
		n = len(p.ord)
	}
	out := make([]*core.Transaction, 0, n)
	for _, k := range p.ord[:n] {
		out = append(out, p.txs[k])
	}
	return out
}

// DrainAll removes and returns every pending transaction, in insertion
// order, for inclusion in a candidate block.
func (p *TxPool) DrainAll() []*core.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*core.Transaction, 0, len(p.ord))
	for _, k := range p.ord {
		out = append(out, p.txs[k])
	}
	p.txs = make(map[txKey]*core.Transaction)
	p.ord = nil
	return out
}

// Return re-inserts previously drained transactions after a failed
// candidate (timeout or rejected proposal), skipping any whose (origin,
// ident) was already superseded by a higher-height commit (settled).
func (p *TxPool) Return(txs []*core.Transaction, settled func(origin, ident string) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tx := range txs {
		k := keyOf(tx)
		if settled != nil && settled(k.origin, k.ident) {
			continue
		}
		if _, exists := p.txs[k]; exists {
			continue
		}
		p.txs[k] = tx
		p.ord = append(p.ord, k)
	}
}

// RemoveCommitted drops entries matching transactions that were just
// committed in a block proposed by another node, so a stale local copy is
// not re-stacked.
func (p *TxPool) RemoveCommitted(txs []*core.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tx := range txs {
		k := keyOf(tx)
		if _, exists := p.txs[k]; !exists {
			continue
		}
		delete(p.txs, k)
		for i, o := range p.ord {
			if o == k {
				p.ord = append(p.ord[:i], p.ord[i+1:]...)
				break
			}
		}
	}
}
