package registry

import (
	"testing"

	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/crypto"
)

func genKey(t *testing.T) crypto.PublicKey {
	t.Helper()
	_, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return pub
}

func blockWithCommands(height uint64, cmds ...core.Command) *core.Block {
	return &core.Block{
		Height: height,
		Tx: []*core.Transaction{
			{Ident: "seed", Commands: cmds},
		},
	}
}

func TestRegistryApplyAddAndModifyStake(t *testing.T) {
	r := New()
	pubA := genKey(t)
	pubB := genKey(t)

	genesis := blockWithCommands(0,
		core.AddPeerCommand{SeqNum: 1, Host: "a", Port: 1, PublicKey: pubA},
		core.AddPeerCommand{SeqNum: 2, Host: "b", Port: 2, PublicKey: pubB},
		core.ModifyStakeCommand{SeqNum: 3, PublicKey: pubA, Stake: 10},
		core.ModifyStakeCommand{SeqNum: 4, PublicKey: pubB, Stake: 10},
	)
	if err := r.SeedGenesis(genesis); err != nil {
		t.Fatalf("SeedGenesis: %v", err)
	}

	if !r.Contains(pubA) || !r.Contains(pubB) {
		t.Fatal("both peers should be registered")
	}
	if total := r.Total(); total != 20 {
		t.Fatalf("total: got %d want 20", total)
	}
	if q := r.Quorum(); q != 14 {
		t.Fatalf("quorum: got %d want 14", q)
	}
}

func TestRegistryQuorumFiveEqualValidators(t *testing.T) {
	r := New()
	var pubs []crypto.PublicKey
	var cmds []core.Command
	for i := 0; i < 5; i++ {
		p := genKey(t)
		pubs = append(pubs, p)
		cmds = append(cmds, core.AddPeerCommand{SeqNum: uint32(len(cmds) + 1), Host: "h", Port: 1, PublicKey: p})
	}
	for _, p := range pubs {
		cmds = append(cmds, core.ModifyStakeCommand{SeqNum: uint32(len(cmds) + 1), PublicKey: p, Stake: 10})
	}
	genesis := blockWithCommands(0, cmds...)
	if err := r.SeedGenesis(genesis); err != nil {
		t.Fatal(err)
	}
	if total := r.Total(); total != 50 {
		t.Fatalf("total: got %d want 50", total)
	}
	if q := r.Quorum(); q != 34 {
		t.Fatalf("quorum: got %d want 34 (ceil(2/3*50))", q)
	}
}

func TestRegistryModifyStakeClampsNonNegative(t *testing.T) {
	r := New()
	pub := genKey(t)
	genesis := blockWithCommands(0, core.AddPeerCommand{SeqNum: 1, PublicKey: pub})
	if err := r.SeedGenesis(genesis); err != nil {
		t.Fatal(err)
	}

	next := blockWithCommands(1, core.ModifyStakeCommand{SeqNum: 1, PublicKey: pub, Stake: -5})
	if err := r.Apply(next); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	stake, ok := r.StakeOf(pub)
	if !ok || stake != 0 {
		t.Fatalf("stake should clamp to 0, got %d", stake)
	}
}

func TestRegistryModifyStakeRejectsUnknownValidator(t *testing.T) {
	r := New()
	pub := genKey(t)
	genesis := blockWithCommands(0)
	if err := r.SeedGenesis(genesis); err != nil {
		t.Fatal(err)
	}
	next := blockWithCommands(1, core.ModifyStakeCommand{SeqNum: 1, PublicKey: pub, Stake: 5})
	if err := r.Apply(next); err == nil {
		t.Fatal("modifying stake of an unregistered validator should fail")
	}
}

func TestRegistryRemovePeer(t *testing.T) {
	r := New()
	pub := genKey(t)
	genesis := blockWithCommands(0, core.AddPeerCommand{SeqNum: 1, PublicKey: pub})
	if err := r.SeedGenesis(genesis); err != nil {
		t.Fatal(err)
	}
	next := blockWithCommands(1, core.RemovePeerCommand{SeqNum: 1, PublicKey: pub})
	if err := r.Apply(next); err != nil {
		t.Fatal(err)
	}
	if r.Contains(pub) {
		t.Fatal("peer should be removed")
	}
}

func TestRegistrySnapshotAtIsolatesHeights(t *testing.T) {
	r := New()
	pub := genKey(t)
	genesis := blockWithCommands(0, core.AddPeerCommand{SeqNum: 1, PublicKey: pub})
	if err := r.SeedGenesis(genesis); err != nil {
		t.Fatal(err)
	}
	next := blockWithCommands(1, core.ModifyStakeCommand{SeqNum: 1, PublicKey: pub, Stake: 7})
	if err := r.Apply(next); err != nil {
		t.Fatal(err)
	}

	snap0, err := r.SnapshotAt(0)
	if err != nil {
		t.Fatal(err)
	}
	if stake, _ := snap0.StakeOf(pub); stake != 0 {
		t.Fatalf("snapshot at height 0 should see stake 0, got %d", stake)
	}

	snap1, err := r.SnapshotAt(1)
	if err != nil {
		t.Fatal(err)
	}
	if stake, _ := snap1.StakeOf(pub); stake != 7 {
		t.Fatalf("snapshot at height 1 should see stake 7, got %d", stake)
	}

	if _, err := r.SnapshotAt(99); err == nil {
		t.Fatal("snapshot at an unreached height should error")
	}
}
