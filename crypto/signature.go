package crypto

import (
	"crypto/ed25519"
	"errors"
)

// Sign signs data with the private key and returns a detached signature.
func Sign(priv PrivateKey, data []byte) Signature {
	return Signature(ed25519.Sign(ed25519.PrivateKey(priv), data))
}

// Verify checks a signature against data using the public key.
func Verify(pub PublicKey, data []byte, sig Signature) error {
	if len(pub) != ed25519.PublicKeySize {
		return errors.New("invalid public key length")
	}
	if len(sig) != ed25519.SignatureSize {
		return errors.New("invalid signature length")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

// VerifyString verifies a base64url-encoded signature against data.
func VerifyString(pub PublicKey, data []byte, sigB64 string) error {
	sig, err := ParseSignature(sigB64)
	if err != nil {
		return err
	}
	return Verify(pub, data, sig)
}
