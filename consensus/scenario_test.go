package consensus

import (
	"context"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/crypto"
	"github.com/diva-network/divachain/pool"
	"github.com/diva-network/divachain/registry"
	"github.com/diva-network/divachain/router"
	"github.com/diva-network/divachain/store"
)

// scenarioNode bundles one validator's full consensus stack for the
// in-process network below: no sockets, no wire encoding, envelopes are
// handed directly between factories the way network.Node.ingest would
// after unmarshaling and verifying a real frame.
type scenarioNode struct {
	pub        crypto.PublicKey
	kr         *crypto.SecretKeyring
	factory    *Factory
	store      *store.Store
	registry   *registry.Registry
	seqTracker *router.SeqTracker
	feed       *fakeFeed
	stop       context.CancelFunc

	mu    sync.Mutex
	alive bool
}

// kill stops this node's executor loop entirely (as a crashed process
// would) and marks it dead so the bus stops routing to or from it.
func (n *scenarioNode) kill() {
	n.mu.Lock()
	n.alive = false
	n.mu.Unlock()
	n.stop()
}

// scenarioBus fans out envelopes among scenarioNodes exactly as
// network.Node.ingest would: self-loopback is dropped, replay is rejected
// per-origin, and a node marked dead neither sends nor receives.
type scenarioBus struct {
	mu    sync.Mutex
	nodes map[string]*scenarioNode
}

func newScenarioBus() *scenarioBus { return &scenarioBus{nodes: make(map[string]*scenarioNode)} }

func (b *scenarioBus) register(n *scenarioNode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[n.pub.String()] = n
}

func (b *scenarioBus) deliver(n *scenarioNode, env *router.Envelope) {
	n.mu.Lock()
	dead := !n.alive
	n.mu.Unlock()
	if dead {
		return
	}
	if env.Origin.String() == n.pub.String() {
		return
	}
	if err := env.Verify(); err != nil {
		return
	}
	if !n.seqTracker.Admit(env.Origin.String(), env.Seq) {
		return
	}
	switch p := env.Data.(type) {
	case router.AddTxPayload:
		n.factory.HandleAddTx(p.Transaction)
	case router.ProposePayload:
		n.factory.HandlePropose(p.Block)
	case router.SignPayload:
		n.factory.HandleSign(p.BlockHash, env.Origin, p.Signature)
	case router.ConfirmPayload:
		n.factory.HandleConfirm(p.Block)
	case router.SyncPayload:
		n.factory.HandleSyncRequest(env.Origin, p.FromHeight, p.ToHeight)
	}
}

type scenarioBroadcaster struct {
	bus  *scenarioBus
	self *scenarioNode
}

func (c *scenarioBroadcaster) Broadcast(e *router.Envelope) error {
	c.self.mu.Lock()
	dead := !c.self.alive
	c.self.mu.Unlock()
	if dead {
		return nil
	}
	c.bus.mu.Lock()
	targets := make([]*scenarioNode, 0, len(c.bus.nodes))
	for _, n := range c.bus.nodes {
		targets = append(targets, n)
	}
	c.bus.mu.Unlock()
	for _, n := range targets {
		c.bus.deliver(n, e)
	}
	return nil
}

func (c *scenarioBroadcaster) SendTo(dest crypto.PublicKey, e *router.Envelope) error {
	c.self.mu.Lock()
	dead := !c.self.alive
	c.self.mu.Unlock()
	if dead {
		return nil
	}
	c.bus.mu.Lock()
	n, ok := c.bus.nodes[dest.String()]
	c.bus.mu.Unlock()
	if !ok {
		return nil
	}
	c.bus.deliver(n, e)
	return nil
}

// buildScenarioNetwork wires n equal-stake validators into a genesis block
// and returns their running factories plus the bus connecting them.
func buildScenarioNetwork(t *testing.T, n int) ([]*scenarioNode, *scenarioBus, context.CancelFunc) {
	t.Helper()

	type keyed struct {
		priv crypto.PrivateKey
		pub  crypto.PublicKey
	}
	keys := make([]keyed, n)
	for i := range keys {
		priv, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		keys[i] = keyed{priv: priv, pub: pub}
	}

	var cmds []core.Command
	for i, k := range keys {
		cmds = append(cmds, core.AddPeerCommand{SeqNum: uint32(2*i + 1), Host: "127.0.0.1", Port: uint16(17468 + i), PublicKey: k.pub})
		cmds = append(cmds, core.ModifyStakeCommand{SeqNum: uint32(2*i + 2), PublicKey: k.pub, Stake: 10})
	}
	genesisTx := &core.Transaction{Ident: "genesis", Timestamp: 0, Commands: cmds}
	genesis := &core.Block{Version: 1, Height: 0, Tx: []*core.Transaction{genesisTx}}
	genesis.Hash = genesis.ComputeHash()

	bus := newScenarioBus()
	nodes := make([]*scenarioNode, n)
	ctx, cancel := context.WithCancel(context.Background())

	for i, k := range keys {
		kr, err := crypto.NewSecretKeyring(k.priv)
		if err != nil {
			t.Fatal(err)
		}
		reg := registry.New()
		if err := reg.SeedGenesis(genesis); err != nil {
			t.Fatal(err)
		}
		db := newMemDB()
		st := store.Open(db, reg)
		data, err := core.MarshalBlock(genesis)
		if err != nil {
			t.Fatal(err)
		}
		genesisPath := t.TempDir() + "/genesis.json"
		if err := os.WriteFile(genesisPath, data, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := st.LoadOrInitGenesis(genesisPath); err != nil {
			t.Fatal(err)
		}

		feed := &fakeFeed{}
		cfg := Config{
			Version:       1,
			PhaseTimeout:  80 * time.Millisecond,
			DrainInterval: 10 * time.Millisecond,
			MaxBlockTx:    10,
		}
		f := NewFactory(cfg, reg, st, pool.NewTxPool(), pool.NewVotePool(), kr, nil, feed, nil, zerolog.Nop())
		nodeCtx, nodeStop := context.WithCancel(ctx)
		node := &scenarioNode{
			pub: k.pub, kr: kr, factory: f, store: st, registry: reg,
			seqTracker: router.NewSeqTracker(), feed: feed, alive: true, stop: nodeStop,
		}
		f.SetBroadcaster(&scenarioBroadcaster{bus: bus, self: node})
		f.MarkRegistered()
		nodes[i] = node
		bus.register(node)
		go node.factory.Run(nodeCtx)
	}

	return nodes, bus, cancel
}

func awaitTipHeight(t *testing.T, nodes []*scenarioNode, height uint64, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		allThere := true
		for _, n := range nodes {
			n.mu.Lock()
			alive := n.alive
			n.mu.Unlock()
			if !alive {
				continue
			}
			tip := n.store.Tip()
			if tip == nil || tip.Height < height {
				allThere = false
				break
			}
		}
		if allThere {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for height %d", height)
}

func submitTx(t *testing.T, node *scenarioNode, ident string, seq uint32) {
	t.Helper()
	signerPriv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx := &core.Transaction{
		Ident:     ident,
		Timestamp: time.Now().UnixMilli(),
		Commands:  []core.Command{core.DataCommand{SeqNum: seq, Namespace: "ns", Base64url: "YWJj"}},
	}
	tx.Sign(signerPriv)
	if err := node.factory.Stack(tx); err != nil {
		t.Fatalf("stack on %s: %v", ident, err)
	}
}

// Scenario A — a transaction submitted to any one of five equal-stake
// validators commits to an identical tip hash at every node (the test
// allows three seconds).
func TestScenarioASingleBlockCommit(t *testing.T) {
	nodes, _, cancel := buildScenarioNetwork(t, 5)
	defer cancel()

	submitTx(t, nodes[0], "scenario-a-tx", 1)
	awaitTipHeight(t, nodes, 1, 3*time.Second)

	var hashes []string
	for _, n := range nodes {
		hashes = append(hashes, n.store.Tip().Hash.String())
	}
	sort.Strings(hashes)
	for i := 1; i < len(hashes); i++ {
		if hashes[i] != hashes[0] {
			t.Fatalf("tip hash mismatch across nodes: %v", hashes)
		}
	}
}

// Scenario B — killing the computed proposer for height 1 still commits
// the block once the phase times out and the next-eligible validator
// proposes.
func TestScenarioBProposerFailureFallsBackToNextValidator(t *testing.T) {
	nodes, _, cancel := buildScenarioNetwork(t, 5)
	defer cancel()

	tip := nodes[0].store.Tip()
	snap := nodes[0].registry.Snapshot()
	proposer, err := SelectProposer(tip.Hash, 1, snap)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range nodes {
		if n.pub.String() == proposer {
			n.kill()
		}
	}

	var submitter *scenarioNode
	for _, n := range nodes {
		n.mu.Lock()
		alive := n.alive
		n.mu.Unlock()
		if alive {
			submitter = n
			break
		}
	}
	submitTx(t, submitter, "scenario-b-tx", 1)
	awaitTipHeight(t, nodes, 1, 5*time.Second)
}

// Scenario D — a replayed Propose envelope (same origin, same or lower
// seq as one already admitted) is dropped by the receiving SeqTracker.
func TestScenarioDReplayedProposeIsDropped(t *testing.T) {
	nodes, _, cancel := buildScenarioNetwork(t, 5)
	defer cancel()

	submitTx(t, nodes[0], "scenario-d-tx", 1)
	awaitTipHeight(t, nodes, 1, 3*time.Second)

	tip := nodes[0].store.Tip()
	snap := nodes[0].registry.Snapshot()
	proposer, err := SelectProposer(tip.PreviousHash, tip.Height, snap)
	if err != nil {
		t.Fatal(err)
	}

	var target *scenarioNode
	for _, n := range nodes {
		if n.pub.String() != proposer {
			target = n
			break
		}
	}
	if target == nil {
		t.Fatal("no non-proposer node found")
	}

	// seq 1 was the proposer's first-ever outbound envelope (its Propose,
	// or its AddTx gossip if it also submitted the transaction);
	// re-admitting that same seq now that the round has completed must be
	// rejected.
	if admitted := target.seqTracker.Admit(proposer, 1); admitted {
		t.Fatal("expected seq 1 from the proposer to already be consumed, replay must be rejected")
	}
}

// Scenario E — over many proposer-selection rounds, every one of five
// equal-stake validators is chosen often enough to satisfy the fairness
// lower bound (>=10 of 100).
func TestScenarioEProposerSelectionIsFair(t *testing.T) {
	reg := registry.New()
	var pubs []crypto.PublicKey
	var cmds []core.Command
	for i := 0; i < 5; i++ {
		_, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		pubs = append(pubs, pub)
		cmds = append(cmds, core.AddPeerCommand{SeqNum: uint32(2*i + 1), Host: "h", Port: uint16(i), PublicKey: pub})
		cmds = append(cmds, core.ModifyStakeCommand{SeqNum: uint32(2*i + 2), PublicKey: pub, Stake: 10})
	}
	genesisTx := &core.Transaction{Ident: "genesis", Timestamp: 0, Commands: cmds}
	genesis := &core.Block{Version: 1, Height: 0, Tx: []*core.Transaction{genesisTx}}
	genesis.Hash = genesis.ComputeHash()
	if err := reg.SeedGenesis(genesis); err != nil {
		t.Fatal(err)
	}
	snap := reg.Snapshot()

	counts := make(map[string]int, 5)
	walk := genesis.Hash
	for height := uint64(1); height <= 100; height++ {
		proposer, err := SelectProposer(walk, height, snap)
		if err != nil {
			t.Fatal(err)
		}
		counts[proposer]++
		walk = crypto.HashBytes(append(walk[:], byte(height)))
	}

	for _, pub := range pubs {
		if counts[pub.String()] < 10 {
			t.Fatalf("validator %s proposed only %d of 100 rounds, below fairness floor", pub.String(), counts[pub.String()])
		}
	}
}
