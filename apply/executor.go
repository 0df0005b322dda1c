package apply

import (
	"fmt"

	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/events"
)

// Context is passed to every Handler and provides access to the namespaced
// data store, the committing block, the triggering transaction, and the
// event emitter.
type Context struct {
	Data    *DataStore
	Block   *core.Block
	Tx      *core.Transaction
	Emitter *events.Emitter
}

// Executor applies a committed block's non-registry command effects using
// the global Handler registry. Called after store.Append has already
// persisted the block and folded AddPeer/RemovePeer/ModifyStake into the
// registry; Executor never touches registry membership itself.
type Executor struct {
	data    *DataStore
	emitter *events.Emitter
}

// NewExecutor creates an Executor writing through data and emitting on
// emitter (which may be nil).
func NewExecutor(data *DataStore, emitter *events.Emitter) *Executor {
	return &Executor{data: data, emitter: emitter}
}

// ApplyBlock dispatches every command in block to its registered handler, in
// the same transaction/seq order the block was verified under. A failing
// handler aborts the remaining commands in the block and returns an error;
// the block itself is already durably committed by this point, so a handler
// failure here is a bug in a module, not a reason to roll back consensus.
func (e *Executor) ApplyBlock(block *core.Block) error {
	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			Type:        events.EventBlockCommit,
			BlockHeight: block.Height,
			Data:        map[string]any{"hash": block.Hash.String(), "proposer": block.Origin.String(), "txs": len(block.Tx)},
		})
	}
	for _, tx := range block.Tx {
		for _, cmd := range tx.Commands {
			ctx := &Context{Data: e.data, Block: block, Tx: tx, Emitter: e.emitter}
			if err := globalRegistry.Execute(ctx, cmd); err != nil {
				return fmt.Errorf("apply: command %s in tx %s: %w", cmd.Kind(), tx.Ident, err)
			}
		}
	}
	return nil
}
