// Package testload registers the handler for committed TestLoadCommands, a
// no-op marker used to generate synthetic chain activity for benchmarking.
// It only counts commits and emits an event; it has no state to persist.
package testload

import (
	"fmt"
	"sync/atomic"

	"github.com/diva-network/divachain/apply"
	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/events"
)

var committed uint64

func init() {
	apply.Register(core.KindTestLoad, handleTestLoad)
}

func handleTestLoad(ctx *apply.Context, cmd core.Command) error {
	c, ok := cmd.(core.TestLoadCommand)
	if !ok {
		return fmt.Errorf("testload: unexpected command type %T", cmd)
	}
	n := atomic.AddUint64(&committed, 1)
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventTestLoad,
			Ident:       ctx.Tx.Ident,
			BlockHeight: ctx.Block.Height,
			Data:        map[string]any{"timestamp": c.Timestamp, "total": n},
		})
	}
	return nil
}

// Committed reports how many TestLoadCommands this process has applied.
func Committed() uint64 { return atomic.LoadUint64(&committed) }
