// Package data registers the handler for committed DataCommands: each
// command's opaque blob is decoded and persisted under its namespace.
package data

import (
	"encoding/base64"
	"fmt"

	"github.com/diva-network/divachain/apply"
	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/events"
)

func init() {
	apply.Register(core.KindData, handleData)
}

func handleData(ctx *apply.Context, cmd core.Command) error {
	c, ok := cmd.(core.DataCommand)
	if !ok {
		return fmt.Errorf("data: unexpected command type %T", cmd)
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Base64url)
	if err != nil {
		return fmt.Errorf("data: decode namespace %q: %w", c.Namespace, err)
	}
	if err := ctx.Data.Put(c.Namespace, ctx.Block.Height, c.SeqNum, raw); err != nil {
		return err
	}
	if ctx.Emitter != nil {
		ctx.Emitter.Emit(events.Event{
			Type:        events.EventDataApplied,
			Ident:       ctx.Tx.Ident,
			BlockHeight: ctx.Block.Height,
			Data:        map[string]any{"namespace": c.Namespace, "bytes": len(raw)},
		})
	}
	return nil
}
