// Package peers registers handlers for committed AddPeer/RemovePeer
// commands. The registry itself already applied the membership change by
// the time these run; this module only emits events for observability.
package peers

import (
	"fmt"

	"github.com/diva-network/divachain/apply"
	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/events"
)

func init() {
	apply.Register(core.KindAddPeer, handleAddPeer)
	apply.Register(core.KindRemovePeer, handleRemovePeer)
}

func handleAddPeer(ctx *apply.Context, cmd core.Command) error {
	c, ok := cmd.(core.AddPeerCommand)
	if !ok {
		return fmt.Errorf("peers: unexpected command type %T", cmd)
	}
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventPeerAdded,
			Ident:       ctx.Tx.Ident,
			BlockHeight: ctx.Block.Height,
			Data:        map[string]any{"publicKey": c.PublicKey.String(), "host": c.Host, "port": c.Port},
		})
	}
	return nil
}

func handleRemovePeer(ctx *apply.Context, cmd core.Command) error {
	c, ok := cmd.(core.RemovePeerCommand)
	if !ok {
		return fmt.Errorf("peers: unexpected command type %T", cmd)
	}
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventPeerRemoved,
			Ident:       ctx.Tx.Ident,
			BlockHeight: ctx.Block.Height,
			Data:        map[string]any{"publicKey": c.PublicKey.String()},
		})
	}
	return nil
}
