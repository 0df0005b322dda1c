package store

import (
	"os"
	"sort"
	"testing"

	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/crypto"
	"github.com/diva-network/divachain/diverr"
	"github.com/diva-network/divachain/registry"
)

// memDB is a minimal in-memory DB used only by tests, so store logic can be
// exercised without a real LevelDB file on disk.
type memDB struct {
	data map[string][]byte
}

func newMemDB() *memDB { return &memDB{data: make(map[string][]byte)} }

func (m *memDB) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, diverr.ErrNotFound
	}
	return v, nil
}
func (m *memDB) Set(key, value []byte) error { m.data[string(key)] = value; return nil }
func (m *memDB) Delete(key []byte) error     { delete(m.data, string(key)); return nil }
func (m *memDB) Close() error                { return nil }

func (m *memDB) NewIterator(prefix []byte) Iterator {
	var keys []string
	for k := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return &memIterator{db: m, keys: keys, idx: -1}
}

type memIterator struct {
	db   *memDB
	keys []string
	idx  int
}

func (it *memIterator) Next() bool   { it.idx++; return it.idx < len(it.keys) }
func (it *memIterator) Key() []byte  { return []byte(it.keys[it.idx]) }
func (it *memIterator) Value() []byte {
	return it.db.data[it.keys[it.idx]]
}
func (it *memIterator) Release()    {}
func (it *memIterator) Error() error { return nil }

func (m *memDB) NewBatch() Batch { return &memBatch{db: m} }

type memBatch struct {
	db      *memDB
	sets    map[string][]byte
	deletes map[string]bool
}

func (b *memBatch) Set(key, value []byte) {
	if b.sets == nil {
		b.sets = make(map[string][]byte)
	}
	b.sets[string(key)] = value
}
func (b *memBatch) Delete(key []byte) {
	if b.deletes == nil {
		b.deletes = make(map[string]bool)
	}
	b.deletes[string(key)] = true
}
func (b *memBatch) Write() error {
	for k, v := range b.sets {
		b.db.data[k] = v
	}
	for k := range b.deletes {
		delete(b.db.data, k)
	}
	return nil
}

func genKey(t *testing.T) (crypto.PrivateKey, crypto.PublicKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return priv, pub
}

func writeGenesisFile(t *testing.T, proposer crypto.PrivateKey, validators []crypto.PublicKey, stake int64) string {
	t.Helper()
	var cmds []core.Command
	seq := uint32(1)
	for _, v := range validators {
		cmds = append(cmds, core.AddPeerCommand{SeqNum: seq, Host: "127.0.0.1", Port: 17000, PublicKey: v})
		seq++
	}
	for _, v := range validators {
		cmds = append(cmds, core.ModifyStakeCommand{SeqNum: seq, PublicKey: v, Stake: stake})
		seq++
	}
	tx := &core.Transaction{Ident: "genesis", Timestamp: 0, Commands: cmds}

	genesis := &core.Block{Version: 1, Height: 0, Timestamp: 0, Tx: []*core.Transaction{tx}}
	genesis.Hash = genesis.ComputeHash()

	data, err := core.MarshalBlock(genesis)
	if err != nil {
		t.Fatal(err)
	}
	path := t.TempDir() + "/genesis.json"
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStoreLoadOrInitGenesis(t *testing.T) {
	proposer, proposerPub := genKey(t)
	path := writeGenesisFile(t, proposer, []crypto.PublicKey{proposerPub}, 10)

	reg := registry.New()
	s := Open(newMemDB(), reg)
	if err := s.LoadOrInitGenesis(path); err != nil {
		t.Fatalf("LoadOrInitGenesis: %v", err)
	}

	tip := s.Tip()
	if tip == nil || tip.Height != 0 {
		t.Fatalf("expected genesis tip at height 0, got %+v", tip)
	}
	if !reg.Contains(proposerPub) {
		t.Fatal("registry should contain the genesis validator")
	}
	if stake, _ := reg.StakeOf(proposerPub); stake != 10 {
		t.Fatalf("stake: got %d want 10", stake)
	}
}

func TestStoreAppendExtendsChain(t *testing.T) {
	proposer, proposerPub := genKey(t)
	path := writeGenesisFile(t, proposer, []crypto.PublicKey{proposerPub}, 10)

	reg := registry.New()
	s := Open(newMemDB(), reg)
	if err := s.LoadOrInitGenesis(path); err != nil {
		t.Fatal(err)
	}

	genesis := s.Tip()
	next := &core.Block{Version: 1, Height: 1, Timestamp: 1, PreviousHash: genesis.Hash}
	next.Sign(proposer)
	next.Votes = []core.Vote{{Origin: proposerPub, Sig: crypto.Sign(proposer, next.Hash[:])}}

	if err := s.Append(next); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if s.Tip().Height != 1 {
		t.Fatalf("tip height: got %d want 1", s.Tip().Height)
	}

	got, err := s.GetByHeight(1)
	if err != nil {
		t.Fatalf("GetByHeight: %v", err)
	}
	if !got.Hash.Equal(next.Hash) {
		t.Fatal("stored block hash mismatch")
	}
}

func TestStoreAppendRejectsChainGap(t *testing.T) {
	proposer, proposerPub := genKey(t)
	path := writeGenesisFile(t, proposer, []crypto.PublicKey{proposerPub}, 10)

	reg := registry.New()
	s := Open(newMemDB(), reg)
	if err := s.LoadOrInitGenesis(path); err != nil {
		t.Fatal(err)
	}

	skip := &core.Block{Version: 1, Height: 5, Timestamp: 1}
	skip.Sign(proposer)
	skip.Votes = []core.Vote{{Origin: proposerPub, Sig: crypto.Sign(proposer, skip.Hash[:])}}

	err := s.Append(skip)
	if err == nil {
		t.Fatal("expected chain-gap rejection")
	}
}

func TestStoreAppendRejectsUnderQuorum(t *testing.T) {
	proposer, proposerPub := genKey(t)
	other, otherPub := genKey(t)
	path := writeGenesisFile(t, proposer, []crypto.PublicKey{proposerPub, otherPub}, 10)

	reg := registry.New()
	s := Open(newMemDB(), reg)
	if err := s.LoadOrInitGenesis(path); err != nil {
		t.Fatal(err)
	}

	genesis := s.Tip()
	next := &core.Block{Version: 1, Height: 1, Timestamp: 1, PreviousHash: genesis.Hash}
	next.Sign(proposer)
	// Only one of two equal-stake validators signs: total stake 10 < quorum ceil(2/3*20)=14.
	next.Votes = []core.Vote{{Origin: proposerPub, Sig: crypto.Sign(proposer, next.Hash[:])}}

	if err := s.Append(next); err == nil {
		t.Fatal("expected quorum rejection")
	}
	_ = other
}

func TestStoreRange(t *testing.T) {
	proposer, proposerPub := genKey(t)
	path := writeGenesisFile(t, proposer, []crypto.PublicKey{proposerPub}, 10)

	reg := registry.New()
	s := Open(newMemDB(), reg)
	if err := s.LoadOrInitGenesis(path); err != nil {
		t.Fatal(err)
	}

	prevHash := s.Tip().Hash
	for h := uint64(1); h <= 3; h++ {
		b := &core.Block{Version: 1, Height: h, Timestamp: int64(h), PreviousHash: prevHash}
		b.Sign(proposer)
		b.Votes = []core.Vote{{Origin: proposerPub, Sig: crypto.Sign(proposer, b.Hash[:])}}
		if err := s.Append(b); err != nil {
			t.Fatalf("append height %d: %v", h, err)
		}
		prevHash = b.Hash
	}

	blocks, err := s.Range(0, 3, 0)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(blocks) != 4 {
		t.Fatalf("range length: got %d want 4", len(blocks))
	}
}

func TestStoreHasNetwork(t *testing.T) {
	proposer, proposerPub := genKey(t)
	path := writeGenesisFile(t, proposer, []crypto.PublicKey{proposerPub}, 10)

	reg := registry.New()
	s := Open(newMemDB(), reg)
	if err := s.LoadOrInitGenesis(path); err != nil {
		t.Fatal(err)
	}
	if !s.HasNetwork("127.0.0.1", 17000) {
		t.Fatal("expected genesis peer endpoint to be present")
	}
	if s.HasNetwork("10.0.0.9", 1) {
		t.Fatal("unexpected endpoint reported present")
	}
}
