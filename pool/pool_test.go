package pool

import (
	"testing"

	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/crypto"
)

func signedTx(t *testing.T, ns string) (*core.Transaction, crypto.PrivateKey) {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	ident, err := core.NewIdent()
	if err != nil {
		t.Fatal(err)
	}
	tx := &core.Transaction{
		Ident:     ident,
		Timestamp: 1,
		Commands:  []core.Command{core.DataCommand{SeqNum: 1, Namespace: ns}},
	}
	tx.Sign(priv)
	return tx, priv
}

func TestTxPoolAddAndDrain(t *testing.T) {
	p := NewTxPool()
	tx, _ := signedTx(t, "a")
	if err := p.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p.Size() != 1 {
		t.Fatalf("size: got %d want 1", p.Size())
	}
	if err := p.Add(tx); err == nil {
		t.Fatal("duplicate (origin, ident) should be rejected")
	}

	drained := p.DrainAll()
	if len(drained) != 1 {
		t.Fatalf("drain: got %d want 1", len(drained))
	}
	if p.Size() != 0 {
		t.Fatal("pool should be empty after drain")
	}
}

func TestTxPoolReturnSkipsSettled(t *testing.T) {
	p := NewTxPool()
	tx1, _ := signedTx(t, "a")
	tx2, _ := signedTx(t, "b")
	_ = p.Add(tx1)
	_ = p.Add(tx2)
	drained := p.DrainAll()

	settled := func(origin, ident string) bool {
		return origin == tx1.Origin.String() && ident == tx1.Ident
	}
	p.Return(drained, settled)

	if p.Size() != 1 {
		t.Fatalf("size after selective return: got %d want 1", p.Size())
	}
	pending := p.Pending(10)
	if pending[0].Ident != tx2.Ident {
		t.Fatalf("expected tx2 to be returned, got ident %s", pending[0].Ident)
	}
}

func TestTxPoolRemoveCommitted(t *testing.T) {
	p := NewTxPool()
	tx, _ := signedTx(t, "a")
	_ = p.Add(tx)
	p.RemoveCommitted([]*core.Transaction{tx})
	if p.Size() != 0 {
		t.Fatal("committed transaction should be removed from the pool")
	}
}

func TestVotePoolAddDistinctSigners(t *testing.T) {
	vp := NewVotePool()
	hash := crypto.HashBytes([]byte("candidate"))
	priv1, pub1, _ := crypto.GenerateKeyPair()
	priv2, pub2, _ := crypto.GenerateKeyPair()

	if !vp.Add(hash, pub1, crypto.Sign(priv1, hash[:])) {
		t.Fatal("first vote for an origin should be accepted")
	}
	if vp.Add(hash, pub1, crypto.Sign(priv1, hash[:])) {
		t.Fatal("duplicate vote from the same origin should be rejected")
	}
	if !vp.Add(hash, pub2, crypto.Sign(priv2, hash[:])) {
		t.Fatal("vote from a distinct origin should be accepted")
	}
	if got := vp.Count(hash); got != 2 {
		t.Fatalf("count: got %d want 2", got)
	}
}

func TestVotePoolPurge(t *testing.T) {
	vp := NewVotePool()
	hash := crypto.HashBytes([]byte("candidate"))
	priv, pub, _ := crypto.GenerateKeyPair()
	vp.Add(hash, pub, crypto.Sign(priv, hash[:]))
	vp.Purge(hash)
	if got := vp.Count(hash); got != 0 {
		t.Fatalf("count after purge: got %d want 0", got)
	}
}
