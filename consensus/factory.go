package consensus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/diva-network/divachain/apply"
	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/crypto"
	"github.com/diva-network/divachain/diverr"
	"github.com/diva-network/divachain/pool"
	"github.com/diva-network/divachain/registry"
	"github.com/diva-network/divachain/router"
	"github.com/diva-network/divachain/stakecredit"
	"github.com/diva-network/divachain/store"
)

// Phase is the factory's single consensus state variable.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseProposing  Phase = "proposing"
	PhaseSigning    Phase = "signing"
	PhaseConfirming Phase = "confirming"
)

// Broadcaster sends a signed envelope to every known peer, or to one
// specific destination.
type Broadcaster interface {
	Broadcast(e *router.Envelope) error
	SendTo(dest crypto.PublicKey, e *router.Envelope) error
}

// BlockFeed is notified of every block appended to the local chain.
type BlockFeed interface {
	Publish(block *core.Block)
}

// Config tunes the factory's pacing. PhaseTimeout is the base unit; the
// effective deadline for a phase is PhaseTimeout * |validators|, so the
// timeout scales with network size.
type Config struct {
	Version       uint32
	PhaseTimeout  time.Duration
	DrainInterval time.Duration
	PoolWatermark int
	MaxBlockTx    int
}

// inbound message variants pushed onto the factory's single inbox channel.
// Exactly one goroutine — Run's loop — ever reads this channel, which is
// what makes registry application, pool mutation, and phase transitions
// race-free without their own locking.
type (
	inboundPropose struct {
		block *core.Block
	}
	inboundSign struct {
		blockHash crypto.Hash
		origin    crypto.PublicKey
		sig       crypto.Signature
	}
	inboundConfirm struct {
		block *core.Block
	}
	inboundStack struct {
		tx     *core.Transaction
		result chan error
	}
	inboundAddTx struct {
		tx *core.Transaction
	}
	inboundTimeout struct {
		phase  Phase
		height uint64
	}
	inboundSyncRequest struct {
		requester crypto.PublicKey
		from      uint64
		to        uint64
	}
	inboundMarkRegistered struct{}
)

// Factory runs the propose/sign/confirm state machine: one candidate in
// flight at a time, advanced exclusively by verified inbound messages and
// phase timeouts.
type Factory struct {
	cfg      Config
	registry *registry.Registry
	store    *store.Store
	txPool   *pool.TxPool
	votePool *pool.VotePool
	keyring  *crypto.SecretKeyring
	out      Broadcaster
	feed     BlockFeed
	applier  *apply.Executor
	log      zerolog.Logger

	inbox  chan any
	outSeq uint64

	phase            Phase
	currentCandidate *core.Block
	currentHeight    uint64

	// idleSince marks when this node last returned to PhaseIdle. tryPropose
	// uses the elapsed time since idleSince to determine whether a
	// lower-ranked validator may step in for an unresponsive proposer: rank
	// N may propose only once N*PhaseTimeout has elapsed with no candidate
	// received, escalating one rank per timeout window.
	idleSince time.Time

	// credit and creditWindow implement the advisory liveness aid: a
	// stalled higher-ranked proposer accrues a decrement (subject to
	// AdmitDecrement's floors), a proposer that commits accrues an
	// increment, and whichever node next proposes folds the accumulated
	// window into ordinary ModifyStake commands on its own candidate.
	credit       *stakecredit.Scheduler
	creditWindow *stakecredit.Window

	// registered gates proposing (not signing) until Bootstrap confirms
	// this node's own AddPeer command has committed.
	registered bool
}

// NewFactory builds a Factory sitting at the tip currently loaded in st.
// applier may be nil, in which case committed blocks update only the chain
// and registry, with no namespaced-data or synthetic-load side effects.
func NewFactory(cfg Config, reg *registry.Registry, st *store.Store, txPool *pool.TxPool, votePool *pool.VotePool, kr *crypto.SecretKeyring, out Broadcaster, feed BlockFeed, applier *apply.Executor, log zerolog.Logger) *Factory {
	height := uint64(0)
	if tip := st.Tip(); tip != nil {
		height = tip.Height
	}
	return &Factory{
		cfg:           cfg,
		registry:      reg,
		store:         st,
		txPool:        txPool,
		votePool:      votePool,
		keyring:       kr,
		out:           out,
		feed:          feed,
		applier:       applier,
		log:           log.With().Str("component", "consensus").Logger(),
		inbox:         make(chan any, 256),
		phase:         PhaseIdle,
		currentHeight: height,
		idleSince:     time.Now(),
		credit:        stakecredit.New(),
		creditWindow:  stakecredit.NewWindow(),
	}
}

// SetBroadcaster wires the network broadcaster after construction, for
// callers where the broadcaster itself needs a reference to this Factory
// (e.g. an in-process network.Node dispatching inbound envelopes to it).
// Must be called before Run starts; not safe to call concurrently with it.
func (f *Factory) SetBroadcaster(out Broadcaster) { f.out = out }

// MarkRegistered lifts the bootstrap gate, allowing this node to propose
// once its own AddPeer command has committed. Safe to call from any
// goroutine: it only ever enqueues onto the executor's inbox.
func (f *Factory) MarkRegistered() { f.inbox <- inboundMarkRegistered{} }

// HandlePropose queues a verified-envelope Propose for processing by the
// executor loop. Network-layer signature/replay checks must already have
// passed; this only performs consensus-semantic verification.
func (f *Factory) HandlePropose(block *core.Block) {
	f.inbox <- inboundPropose{block: block}
}

// HandleSign queues a verified Sign message.
func (f *Factory) HandleSign(blockHash crypto.Hash, origin crypto.PublicKey, sig crypto.Signature) {
	f.inbox <- inboundSign{blockHash: blockHash, origin: origin, sig: sig}
}

// HandleConfirm queues a verified Confirm message.
func (f *Factory) HandleConfirm(block *core.Block) {
	f.inbox <- inboundConfirm{block: block}
}

// HandleSyncRequest queues a Sync request from requester for blocks in
// [from, to]. The executor replies by streaming each matching stored block
// back as a Confirm envelope, which requester validates and appends through
// its normal commit path.
func (f *Factory) HandleSyncRequest(requester crypto.PublicKey, from, to uint64) {
	f.inbox <- inboundSyncRequest{requester: requester, from: from, to: to}
}

// Stack submits a locally-originated transaction for inclusion in the next
// candidate this node proposes, blocking until the executor has admitted or
// rejected it into the pool. The transaction is also broadcast as an AddTx
// envelope so a remote proposer can pick it up, since only the computed
// proposer for the next height ever drains its own pool.
func (f *Factory) Stack(tx *core.Transaction) error {
	result := make(chan error, 1)
	f.inbox <- inboundStack{tx: tx, result: result}
	return <-result
}

// HandleAddTx queues a verified-envelope AddTx relayed from a peer.
func (f *Factory) HandleAddTx(tx *core.Transaction) {
	f.inbox <- inboundAddTx{tx: tx}
}

// onStack admits tx into the local pool and, on success, gossips it to
// peers as an AddTx envelope so whichever validator becomes proposer for
// the next height has it available too.
func (f *Factory) onStack(tx *core.Transaction, result chan error) {
	err := f.txPool.Add(tx)
	result <- err
	if err != nil || f.out == nil {
		return
	}
	if berr := f.out.Broadcast(f.newEnvelope(router.AddTxPayload{Transaction: tx})); berr != nil {
		f.log.Warn().Err(berr).Str("ident", tx.Ident).Msg("addTx broadcast failed")
	}
}

// Run drives the executor loop until ctx is canceled. It is the sole
// goroutine that ever reads or writes f.phase, f.currentCandidate,
// f.currentHeight, or mutates the registry/store/pools.
func (f *Factory) Run(ctx context.Context) error {
	drain := time.NewTicker(f.cfg.DrainInterval)
	defer drain.Stop()

	var phaseTimer *time.Timer
	armPhaseTimeout := func(phase Phase, height uint64) {
		if phaseTimer != nil {
			phaseTimer.Stop()
		}
		n := int64(f.registry.Snapshot().Len())
		if n < 1 {
			n = 1
		}
		deadline := time.Duration(n) * f.cfg.PhaseTimeout
		phaseTimer = time.AfterFunc(deadline, func() {
			f.inbox <- inboundTimeout{phase: phase, height: height}
		})
	}

	for {
		select {
		case <-ctx.Done():
			if phaseTimer != nil {
				phaseTimer.Stop()
			}
			return ctx.Err()

		case <-drain.C:
			f.tryPropose(armPhaseTimeout)

		case msg := <-f.inbox:
			switch m := msg.(type) {
			case inboundStack:
				f.onStack(m.tx, m.result)
				if f.cfg.PoolWatermark > 0 && f.txPool.Size() >= f.cfg.PoolWatermark {
					f.tryPropose(armPhaseTimeout)
				}
			case inboundPropose:
				f.onPropose(m.block, armPhaseTimeout)
			case inboundSign:
				f.onSign(m.blockHash, m.origin, m.sig, armPhaseTimeout)
			case inboundConfirm:
				f.onConfirm(m.block)
			case inboundAddTx:
				_ = f.txPool.Add(m.tx) // relayed tx, already signature-verified upstream
				if f.cfg.PoolWatermark > 0 && f.txPool.Size() >= f.cfg.PoolWatermark {
					f.tryPropose(armPhaseTimeout)
				}
			case inboundTimeout:
				f.onTimeout(m.phase, m.height)
			case inboundSyncRequest:
				f.onSyncRequest(m.requester, m.from, m.to)
			case inboundMarkRegistered:
				f.registered = true
			}
		}
	}
}

// tryPropose implements Idle → Proposing: only the computed proposer for
// the next height, and only once the drain timer fires or the pool has
// crossed its watermark, builds and broadcasts a candidate.
func (f *Factory) tryPropose(arm func(Phase, uint64)) {
	if f.phase != PhaseIdle || !f.registered {
		return
	}
	if f.txPool.Size() == 0 {
		return
	}

	tip := f.store.Tip()
	nextHeight := tip.Height + 1
	snap, err := f.registry.SnapshotAt(tip.Height)
	if err != nil {
		f.log.Error().Err(err).Msg("snapshot tip height")
		return
	}
	ranked := SelectProposerRanked(tip.Hash, nextHeight, snap)
	if len(ranked) == 0 {
		return
	}
	self := f.keyring.PublicKey().String()
	rank := -1
	for i, pub := range ranked {
		if pub == self {
			rank = i
			break
		}
	}
	if rank < 0 {
		return // not a registered validator at this snapshot
	}
	// rank 0 may propose immediately; rank N steps in once N full
	// PhaseTimeout windows have elapsed with no candidate received,
	// covering an unresponsive higher-ranked proposer.
	if elapsed := time.Since(f.idleSince); elapsed < time.Duration(rank)*f.cfg.PhaseTimeout {
		return
	}
	for _, skipped := range ranked[:rank] {
		if f.credit.AdmitDecrement(skipped, snap.Quorum()) {
			f.creditWindow.Record(skipped, -1)
		}
	}

	txs := f.txPool.Pending(f.cfg.MaxBlockTx)
	if creditTx := f.buildCreditTransaction(snap); creditTx != nil {
		txs = append(txs, creditTx)
	}
	if len(txs) == 0 {
		return
	}
	core.SortTransactions(txs)

	candidate := &core.Block{
		Version:      f.cfg.Version,
		Height:       nextHeight,
		Timestamp:    time.Now().UnixMilli(),
		PreviousHash: tip.Hash,
		Tx:           txs,
	}
	f.signCandidate(candidate)

	f.currentCandidate = candidate
	f.currentHeight = nextHeight
	f.phase = PhaseProposing

	env := f.newEnvelope(router.ProposePayload{Block: candidate})
	if err := f.out.Broadcast(env); err != nil {
		f.log.Error().Err(err).Msg("broadcast propose")
	}
	f.log.Info().Uint64("height", candidate.Height).Str("hash", candidate.Hash.String()).Msg("proposed candidate")

	// the proposer also signs its own candidate, contributing its own stake.
	f.castVoteForOwnCandidate(candidate)
	arm(PhaseProposing, nextHeight)
}

// signCandidate mirrors core.Block.Sign's effect without needing the raw
// private key, which the guarded SecretKeyring deliberately never exposes.
func (f *Factory) signCandidate(b *core.Block) {
	b.Origin = f.keyring.PublicKey()
	b.Hash = b.ComputeHash()
	b.Sig = f.keyring.Sign(b.Hash[:])
}

// buildCreditTransaction flushes the pending stake-credit window into a
// single self-signed transaction of ModifyStake commands, or nil if there
// is nothing pending. Called once per candidate build, by whichever node
// ends up proposing that round.
func (f *Factory) buildCreditTransaction(snap *registry.Snapshot) *core.Transaction {
	pending := f.creditWindow.Flush()
	if len(pending) == 0 {
		return nil
	}
	cmds, err := stakecredit.BuildModifyStakeCommands(pending, snap.StakeOf, 1)
	if err != nil || len(cmds) == 0 {
		return nil
	}
	ident, err := core.NewIdent()
	if err != nil {
		f.log.Warn().Err(err).Msg("generate credit transaction ident")
		return nil
	}
	tx := &core.Transaction{Ident: ident, Timestamp: time.Now().UnixMilli(), Commands: cmds}
	tx.Origin = f.keyring.PublicKey()
	tx.Sig = f.keyring.Sign(tx.SigningBytes())
	return tx
}

// onPropose implements Any → Signing: a non-proposer receiving a Propose
// verifies it fully before caching it and returning a Sign message.
func (f *Factory) onPropose(block *core.Block, arm func(Phase, uint64)) {
	tip := f.store.Tip()
	if block.Height != tip.Height+1 {
		return // not our next height; drop silently
	}
	if f.phase != PhaseIdle {
		return // already have a candidate or are past this round
	}
	if err := block.VerifyStructure(tip); err != nil {
		f.log.Debug().Err(err).Msg("propose failed structural verification")
		return
	}
	snap, err := f.registry.SnapshotAt(tip.Height)
	if err != nil {
		return
	}
	ranked := SelectProposerRanked(tip.Hash, block.Height, snap)
	rank := -1
	for i, pub := range ranked {
		if pub == block.Origin.String() {
			rank = i
			break
		}
	}
	if rank < 0 {
		f.log.Debug().Msg("propose from non-validator, dropping")
		return
	}
	if elapsed := time.Since(f.idleSince); elapsed < time.Duration(rank)*f.cfg.PhaseTimeout {
		f.log.Debug().Int("rank", rank).Msg("propose from not-yet-eligible fallback proposer, dropping")
		return
	}

	f.currentCandidate = block
	f.currentHeight = block.Height
	f.phase = PhaseSigning

	sig := f.keyring.Sign(block.Hash[:])
	env := f.newEnvelope(router.SignPayload{BlockHash: block.Hash, Signature: sig})
	if err := f.out.SendTo(block.Origin, env); err != nil {
		f.log.Error().Err(err).Msg("send sign to proposer")
	}
	arm(PhaseSigning, block.Height)
}

// castVoteForOwnCandidate lets the proposer's own signature count toward
// its candidate's quorum without a network round trip.
func (f *Factory) castVoteForOwnCandidate(block *core.Block) {
	sig := f.keyring.Sign(block.Hash[:])
	f.votePool.Add(block.Hash, f.keyring.PublicKey(), sig)
	f.maybeConfirm(block)
}

// onSign implements the proposer's half of Signing → Confirming: collect
// distinct-signer votes until their stake reaches quorum.
func (f *Factory) onSign(blockHash crypto.Hash, origin crypto.PublicKey, sig crypto.Signature, arm func(Phase, uint64)) {
	if f.currentCandidate == nil || !f.currentCandidate.Hash.Equal(blockHash) {
		return // not signing for this candidate (anymore)
	}
	if f.phase != PhaseProposing && f.phase != PhaseSigning {
		return
	}
	if err := crypto.Verify(origin, blockHash[:], sig); err != nil {
		f.log.Debug().Err(err).Msg("sign message failed signature check")
		return
	}
	f.votePool.Add(blockHash, origin, sig)
	f.maybeConfirm(f.currentCandidate)
}

// maybeConfirm checks whether the proposer's collected votes for candidate
// now meet quorum, and if so assembles and broadcasts Confirm.
func (f *Factory) maybeConfirm(candidate *core.Block) {
	snapHeight := candidate.Height - 1
	snap, err := f.registry.SnapshotAt(snapHeight)
	if err != nil {
		return
	}
	votes := f.votePool.Votes(candidate.Hash)
	var stake int64
	voteList := make([]core.Vote, 0, len(votes))
	for originStr, sig := range votes {
		origin, perr := crypto.ParsePublicKey(originStr)
		if perr != nil {
			continue
		}
		s, ok := snap.StakeOf(origin)
		if !ok {
			continue // Scenario C: signer outside the registry contributes nothing
		}
		stake += s
		voteList = append(voteList, core.Vote{Origin: origin, Sig: sig})
	}
	if stake < snap.Quorum() {
		return
	}

	candidate.Votes = voteList
	f.phase = PhaseConfirming

	env := f.newEnvelope(router.ConfirmPayload{Block: candidate})
	if err := f.out.Broadcast(env); err != nil {
		f.log.Error().Err(err).Msg("broadcast confirm")
	}
	f.commit(candidate)
}

// onConfirm implements Any → Idle: every node, including the proposer,
// re-verifies and appends the confirmed block.
func (f *Factory) onConfirm(block *core.Block) {
	tip := f.store.Tip()
	if tip != nil && block.Height != tip.Height+1 {
		return // only the first valid Confirm for a height is accepted
	}
	f.commit(block)
}

// commit appends block to the store (which itself re-verifies structure,
// proposer membership, and vote quorum), updates the registry, publishes on
// the feed, and resets to Idle for the next height.
func (f *Factory) commit(block *core.Block) {
	if err := f.store.Append(block); err != nil {
		if !errors.Is(err, diverr.ErrChainGap) {
			f.log.Error().Err(err).Uint64("height", block.Height).Msg("append confirmed block")
		}
		return
	}
	f.txPool.RemoveCommitted(block.Tx)
	f.votePool.PurgeAll()
	if f.applier != nil {
		if err := f.applier.ApplyBlock(block); err != nil {
			f.log.Error().Err(err).Uint64("height", block.Height).Msg("apply block commands")
		}
	}
	if f.feed != nil {
		f.feed.Publish(block)
	}
	if block.Height > 0 {
		proposer := block.Origin.String()
		f.credit.IncCredit(proposer)
		f.creditWindow.Record(proposer, 1)
	}
	f.currentCandidate = nil
	f.currentHeight = block.Height
	f.phase = PhaseIdle
	f.idleSince = time.Now()
	f.log.Info().Uint64("height", block.Height).Str("hash", block.Hash.String()).Msg("committed block")
}

// onTimeout implements the phase-timeout path: abandon the in-flight
// candidate and return to Idle. A timeout never commits a block; the
// next-eligible proposer becomes responsible for this height on the
// following drain cycle.
func (f *Factory) onTimeout(phase Phase, height uint64) {
	if f.phase != phase || f.currentHeight != height || f.currentCandidate == nil {
		return // stale timer for a round already resolved
	}
	f.log.Warn().Uint64("height", height).Str("phase", string(phase)).Msg("phase timed out, reverting to idle")
	f.txPool.Return(f.currentCandidate.Tx, nil)
	f.votePool.Purge(f.currentCandidate.Hash)
	f.currentCandidate = nil
	f.phase = PhaseIdle
	f.idleSince = time.Now()
}

// onSyncRequest replies to a join/catch-up Sync request by streaming every
// stored block in [from, to] back to requester as an ordinary Confirm
// envelope. requester re-verifies structure, proposer membership, and vote
// quorum on each one through its normal commit path, so a synced block gets
// no less scrutiny than a freshly-confirmed one.
func (f *Factory) onSyncRequest(requester crypto.PublicKey, from, to uint64) {
	blocks, err := f.store.Range(from, to, 0)
	if err != nil {
		f.log.Warn().Err(err).Uint64("from", from).Uint64("to", to).Msg("sync range lookup failed")
		return
	}
	for _, b := range blocks {
		env := f.newEnvelope(router.ConfirmPayload{Block: b})
		if err := f.out.SendTo(requester, env); err != nil {
			f.log.Warn().Err(err).Str("requester", requester.String()).Uint64("height", b.Height).Msg("sync reply send failed")
			return
		}
	}
}

// newEnvelope wraps payload in a freshly-sequenced, self-signed envelope.
func (f *Factory) newEnvelope(payload router.Payload) *router.Envelope {
	f.outSeq++
	ident := fmt.Sprintf("%s-%d", payload.Kind(), f.outSeq)
	env := &router.Envelope{Ident: ident, Seq: f.outSeq, Data: payload}
	env.Origin = f.keyring.PublicKey()
	env.Sig = f.keyring.Sign(env.SigningBytes())
	return env
}
