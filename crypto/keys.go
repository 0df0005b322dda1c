// Package crypto provides the ed25519 signing primitives, canonical
// base64url wire encodings, and hashing used throughout divachain. All hash
// and signature inputs must go through the canon package first; crypto only
// ever signs, verifies, and hashes raw bytes.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// PublicKey wraps a 32-byte ed25519 public key.
type PublicKey []byte

// PrivateKey wraps a 64-byte ed25519 private key (seed || public key).
type PrivateKey []byte

// Signature wraps a 64-byte ed25519 detached signature.
type Signature []byte

// wire encodes b as unpadded URL-safe base64, the wire/JSON form for every
// key and signature in the protocol (43 chars for 32-byte values, 86 chars
// for 64-byte values).
func wire(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func unwire(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64url: %w", err)
	}
	return b, nil
}

// String returns the 43-char unpadded URL-safe base64 encoding.
func (pub PublicKey) String() string { return wire(pub) }

// String returns the 86-char unpadded URL-safe base64 encoding.
func (priv PrivateKey) String() string { return wire(priv) }

// String returns the 86-char unpadded URL-safe base64 encoding.
func (sig Signature) String() string { return wire(sig) }

// Public derives the ed25519 public key from the private key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// GenerateKeyPair generates a new ed25519 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key pair: %w", err)
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

// ParsePublicKey decodes a 43-char base64url public key, validating length.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := unwire(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return PublicKey(b), nil
}

// ParsePrivateKey decodes an 86-char base64url private key, validating length.
func ParsePrivateKey(s string) (PrivateKey, error) {
	b, err := unwire(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return PrivateKey(b), nil
}

// ParseSignature decodes an 86-char base64url signature, validating length.
func ParseSignature(s string) (Signature, error) {
	b, err := unwire(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.SignatureSize {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(b))
	}
	return Signature(b), nil
}
