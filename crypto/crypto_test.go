package crypto

import "testing"

func TestGenerateKeyPairAndSign(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if len(priv) != 64 {
		t.Fatalf("priv length: got %d want 64", len(priv))
	}
	if len(pub) != 32 {
		t.Fatalf("pub length: got %d want 32", len(pub))
	}
	if priv.Public().String() != pub.String() {
		t.Fatal("priv.Public() does not match generated pub")
	}

	data := []byte("divachain")
	sig := Sign(priv, data)
	if err := Verify(pub, data, sig); err != nil {
		t.Fatalf("valid signature failed to verify: %v", err)
	}
	if err := Verify(pub, []byte("tampered"), sig); err == nil {
		t.Fatal("tampered data should fail verification")
	}
}

func TestParsePublicKeyRoundtrip(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParsePublicKey(pub.String())
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	if parsed.String() != pub.String() {
		t.Fatal("roundtrip mismatch")
	}
}

func TestParsePublicKeyRejectsBadLength(t *testing.T) {
	if _, err := ParsePublicKey("not-a-key"); err == nil {
		t.Fatal("expected error for malformed public key")
	}
}

func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("abc"))
	b := HashBytes([]byte("abc"))
	if !a.Equal(b) {
		t.Fatal("HashBytes is not deterministic")
	}
	c := HashBytes([]byte("abd"))
	if a.Equal(c) {
		t.Fatal("distinct inputs hashed to the same value")
	}
}

func TestParseHashRoundtrip(t *testing.T) {
	h := HashBytes([]byte("round trip me"))
	parsed, err := ParseHash(h.String())
	if err != nil {
		t.Fatalf("ParseHash: %v", err)
	}
	if !parsed.Equal(h) {
		t.Fatal("roundtrip mismatch")
	}
}

func TestSecretKeyring(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	kr, err := NewSecretKeyring(priv)
	if err != nil {
		t.Fatalf("NewSecretKeyring: %v", err)
	}
	if kr.PublicKey().String() != pub.String() {
		t.Fatal("keyring public key mismatch")
	}
	sig := kr.Sign([]byte("payload"))
	if err := Verify(pub, []byte("payload"), sig); err != nil {
		t.Fatalf("keyring signature failed to verify: %v", err)
	}
	if err := kr.Zero(); err != nil {
		t.Fatalf("Zero: %v", err)
	}
}
