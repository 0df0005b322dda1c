package consensus

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/crypto"
	"github.com/diva-network/divachain/registry"
	"github.com/diva-network/divachain/router"
	"github.com/diva-network/divachain/store"
)

// BootstrapConfig tunes how a joining node catches up and registers itself.
type BootstrapConfig struct {
	Host string
	Port uint16

	// RetryInterval is how often Bootstrap re-emits its sync request and
	// re-checks registration while waiting.
	RetryInterval time.Duration

	// SelfRegisterTimeout is not read by Run: the self AddPeer command is
	// stacked once (again only if Stack returned an error), and Run keeps
	// re-sending its sync request every RetryInterval until the registry
	// contains this node or ctx is canceled.
	SelfRegisterTimeout time.Duration
}

// Bootstrap drives a joining node's catch-up sync and self-registration: it
// asks configured peers for every block it is missing, then stacks a local
// AddPeer command naming itself and waits for the registry to absorb it
// before lifting the factory's proposing gate.
type Bootstrap struct {
	cfg      BootstrapConfig
	store    *store.Store
	registry *registry.Registry
	factory  *Factory
	keyring  *crypto.SecretKeyring
	out      Broadcaster
	log      zerolog.Logger

	seedPeers []crypto.PublicKey
}

// NewBootstrap builds a Bootstrap that will sync against seedPeers (by
// public key, already known to out's underlying network.Node) and
// self-register via factory.
func NewBootstrap(cfg BootstrapConfig, reg *registry.Registry, st *store.Store, f *Factory, kr *crypto.SecretKeyring, out Broadcaster, seedPeers []crypto.PublicKey, log zerolog.Logger) *Bootstrap {
	return &Bootstrap{
		cfg:       cfg,
		store:     st,
		registry:  reg,
		factory:   f,
		keyring:   kr,
		out:       out,
		seedPeers: seedPeers,
		log:       log.With().Str("component", "bootstrap").Logger(),
	}
}

// Run drives the join sequence to completion or until ctx is canceled. A
// single-validator genesis node (no seed peers configured) is already its
// own registry member and registers immediately without syncing.
func (b *Bootstrap) Run(ctx context.Context) error {
	self := b.keyring.PublicKey()

	if len(b.seedPeers) == 0 {
		if b.registry.Contains(self) {
			b.factory.MarkRegistered()
		}
		return nil
	}

	ticker := time.NewTicker(b.cfg.RetryInterval)
	defer ticker.Stop()

	stacked := false
	for {
		if b.registry.Contains(self) {
			b.factory.MarkRegistered()
			return nil
		}

		b.requestSync()

		if !stacked {
			if err := b.stackSelfAddPeer(); err != nil {
				b.log.Warn().Err(err).Msg("stacking self AddPeer command failed, will retry")
			} else {
				stacked = true
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// requestSync asks every seed peer for its whole chain from height 0; the
// peer caps the range at its own tip, and the factory's commit path drops
// the heights this node already holds, so only missing blocks are appended.
func (b *Bootstrap) requestSync() {
	env := b.newSyncEnvelope(0, ^uint64(0))
	for _, peer := range b.seedPeers {
		if err := b.out.SendTo(peer, env); err != nil {
			b.log.Debug().Err(err).Str("peer", peer.String()).Msg("sync request failed")
		}
	}
}

// stackSelfAddPeer builds, signs, and submits the single-command
// transaction that registers this node as a validator. Once it commits
// (observed via b.registry.Contains on a later tick), Bootstrap lifts the
// factory's gate.
func (b *Bootstrap) stackSelfAddPeer() error {
	ident, err := core.NewIdent()
	if err != nil {
		return fmt.Errorf("generate bootstrap ident: %w", err)
	}
	tx := &core.Transaction{
		Ident:     ident,
		Timestamp: time.Now().UnixMilli(),
		Commands: []core.Command{
			core.AddPeerCommand{SeqNum: 1, Host: b.cfg.Host, Port: b.cfg.Port, PublicKey: b.keyring.PublicKey()},
		},
	}
	tx.Origin = b.keyring.PublicKey()
	tx.Sig = b.keyring.Sign(tx.SigningBytes())
	return b.factory.Stack(tx)
}

func (b *Bootstrap) newSyncEnvelope(from, to uint64) *router.Envelope {
	return b.factory.newEnvelope(router.SyncPayload{FromHeight: from, ToHeight: to})
}
