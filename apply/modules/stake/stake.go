// Package stake registers the handler for committed ModifyStake commands.
// The registry itself already applied the stake change by the time this
// runs; this module only emits events for observability.
package stake

import (
	"fmt"

	"github.com/diva-network/divachain/apply"
	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/events"
)

func init() {
	apply.Register(core.KindModifyStake, handleModifyStake)
}

func handleModifyStake(ctx *apply.Context, cmd core.Command) error {
	c, ok := cmd.(core.ModifyStakeCommand)
	if !ok {
		return fmt.Errorf("stake: unexpected command type %T", cmd)
	}
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventStakeModified,
			Ident:       ctx.Tx.Ident,
			BlockHeight: ctx.Block.Height,
			Data:        map[string]any{"publicKey": c.PublicKey.String(), "stake": c.Stake},
		})
	}
	return nil
}
