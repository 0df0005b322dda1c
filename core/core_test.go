package core

import (
	"testing"

	"github.com/diva-network/divachain/crypto"
)

func testKeyPair(t *testing.T) (crypto.PrivateKey, crypto.PublicKey) {
	t.Helper()
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return priv, pub
}

func TestCommandMarshalRoundtrip(t *testing.T) {
	_, pub := testKeyPair(t)
	cmds := []Command{
		AddPeerCommand{SeqNum: 1, Host: "10.0.0.1", Port: 17468, PublicKey: pub},
		DataCommand{SeqNum: 2, Namespace: "t", Base64url: "YWJj"},
	}
	raw, err := MarshalCommands(cmds)
	if err != nil {
		t.Fatalf("MarshalCommands: %v", err)
	}
	got, err := UnmarshalCommands(raw)
	if err != nil {
		t.Fatalf("UnmarshalCommands: %v", err)
	}
	if len(got) != len(cmds) {
		t.Fatalf("roundtrip count: got %d want %d", len(got), len(cmds))
	}
	if got[0].Kind() != KindAddPeer || got[1].Kind() != KindData {
		t.Fatal("roundtrip kind mismatch")
	}
}

func TestValidateSeqs(t *testing.T) {
	_, pub := testKeyPair(t)
	ok := []Command{
		AddPeerCommand{SeqNum: 1, PublicKey: pub},
		DataCommand{SeqNum: 2, Namespace: "t"},
	}
	if err := ValidateSeqs(ok); err != nil {
		t.Fatalf("valid seqs rejected: %v", err)
	}

	gap := []Command{
		AddPeerCommand{SeqNum: 1, PublicKey: pub},
		DataCommand{SeqNum: 3, Namespace: "t"},
	}
	if err := ValidateSeqs(gap); err == nil {
		t.Fatal("gapped seqs should be rejected")
	}
}

func TestTransactionSignVerify(t *testing.T) {
	priv, _ := testKeyPair(t)
	ident, err := NewIdent()
	if err != nil {
		t.Fatal(err)
	}
	tx := &Transaction{
		Ident:     ident,
		Timestamp: 1000,
		Commands:  []Command{DataCommand{SeqNum: 1, Namespace: "t", Base64url: "YWJj"}},
	}
	tx.Sign(priv)
	if err := tx.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	tx.Timestamp = 2000
	if err := tx.Verify(); err == nil {
		t.Fatal("tampered transaction should fail verification")
	}
}

func TestTransactionMarshalRoundtrip(t *testing.T) {
	priv, _ := testKeyPair(t)
	ident, _ := NewIdent()
	tx := &Transaction{
		Ident:     ident,
		Timestamp: 42,
		Commands:  []Command{DataCommand{SeqNum: 1, Namespace: "t", Base64url: "YWJj"}},
	}
	tx.Sign(priv)

	raw, err := MarshalTransaction(tx)
	if err != nil {
		t.Fatalf("MarshalTransaction: %v", err)
	}
	got, err := UnmarshalTransaction(raw)
	if err != nil {
		t.Fatalf("UnmarshalTransaction: %v", err)
	}
	if err := got.Verify(); err != nil {
		t.Fatalf("roundtripped transaction failed verification: %v", err)
	}
	if got.Ident != tx.Ident {
		t.Fatalf("ident mismatch: got %s want %s", got.Ident, tx.Ident)
	}
}

func buildSignedBlock(t *testing.T, proposer crypto.PrivateKey, prev *Block, height uint64, tx []*Transaction) *Block {
	t.Helper()
	var prevHash crypto.Hash
	if prev != nil {
		prevHash = prev.Hash
	}
	b := &Block{
		Version:      1,
		Height:       height,
		Timestamp:    1000 + int64(height),
		PreviousHash: prevHash,
		Tx:           tx,
	}
	b.Sign(proposer)
	return b
}

func TestBlockHashDeterministic(t *testing.T) {
	priv, _ := testKeyPair(t)
	b := buildSignedBlock(t, priv, nil, 0, nil)
	if b.Hash.IsZero() {
		t.Fatal("hash should be set after Sign")
	}
	if !b.ComputeHash().Equal(b.Hash) {
		t.Fatal("ComputeHash does not match stored hash")
	}
}

func TestBlockVerifyStructureChain(t *testing.T) {
	priv, _ := testKeyPair(t)
	genesis := buildSignedBlock(t, priv, nil, 0, nil)
	if err := genesis.VerifyStructure(nil); err != nil {
		t.Fatalf("genesis VerifyStructure: %v", err)
	}

	next := buildSignedBlock(t, priv, genesis, 1, nil)
	if err := next.VerifyStructure(genesis); err != nil {
		t.Fatalf("child VerifyStructure: %v", err)
	}

	next.Height = 5
	if err := next.VerifyStructure(genesis); err == nil {
		t.Fatal("wrong height should fail verification")
	}
}

func TestBlockVerifyStructureRejectsDuplicateOrigin(t *testing.T) {
	priv, _ := testKeyPair(t)
	txPriv1, _ := testKeyPair(t)
	ident1, _ := NewIdent()
	ident2, _ := NewIdent()

	tx1 := &Transaction{Ident: ident1, Timestamp: 1, Commands: []Command{DataCommand{SeqNum: 1, Namespace: "a"}}}
	tx1.Sign(txPriv1)
	tx2 := &Transaction{Ident: ident2, Timestamp: 2, Commands: []Command{DataCommand{SeqNum: 1, Namespace: "b"}}}
	tx2.Sign(txPriv1) // same origin as tx1

	b := buildSignedBlock(t, priv, nil, 0, []*Transaction{tx1, tx2})
	if err := b.VerifyStructure(nil); err == nil {
		t.Fatal("duplicate-origin transactions should be rejected")
	}
}

func TestBlockMarshalRoundtrip(t *testing.T) {
	priv, _ := testKeyPair(t)
	txPriv, _ := testKeyPair(t)
	ident, _ := NewIdent()
	tx := &Transaction{Ident: ident, Timestamp: 1, Commands: []Command{DataCommand{SeqNum: 1, Namespace: "a"}}}
	tx.Sign(txPriv)

	b := buildSignedBlock(t, priv, nil, 0, []*Transaction{tx})
	b.Votes = []Vote{{Origin: priv.Public(), Sig: crypto.Sign(priv, b.Hash[:])}}

	raw, err := MarshalBlock(b)
	if err != nil {
		t.Fatalf("MarshalBlock: %v", err)
	}
	got, err := UnmarshalBlock(raw)
	if err != nil {
		t.Fatalf("UnmarshalBlock: %v", err)
	}
	if !got.Hash.Equal(b.Hash) {
		t.Fatal("hash mismatch after roundtrip")
	}
	if len(got.Tx) != 1 || len(got.Votes) != 1 {
		t.Fatalf("roundtrip shape mismatch: tx=%d votes=%d", len(got.Tx), len(got.Votes))
	}
	if err := got.VerifyStructure(nil); err != nil {
		t.Fatalf("roundtripped block failed VerifyStructure: %v", err)
	}
}

func TestGenesisBlockZeroFilledOriginAndSig(t *testing.T) {
	_, pub := testKeyPair(t)
	genesisTx := &Transaction{
		Ident:     "genesis",
		Timestamp: 0,
		Commands:  []Command{AddPeerCommand{SeqNum: 1, Host: "127.0.0.1", Port: 17468, PublicKey: pub}},
	}
	genesis := &Block{Version: 1, Height: 0, Tx: []*Transaction{genesisTx}}
	genesis.Hash = genesis.ComputeHash()

	if !genesis.IsGenesisCandidate() {
		t.Fatal("unsigned height-0 block should be recognized as a genesis candidate")
	}
	if err := genesis.VerifyStructure(nil); err != nil {
		t.Fatalf("genesis block with zero-filled origin/sig should verify: %v", err)
	}

	raw, err := MarshalBlock(genesis)
	if err != nil {
		t.Fatalf("MarshalBlock: %v", err)
	}
	got, err := UnmarshalBlock(raw)
	if err != nil {
		t.Fatalf("UnmarshalBlock: %v", err)
	}
	if err := got.VerifyStructure(nil); err != nil {
		t.Fatalf("roundtripped genesis block failed to verify: %v", err)
	}
	if len(got.Origin) != 0 || len(got.Sig) != 0 {
		t.Fatal("roundtripped genesis block should keep origin/sig empty")
	}
}
