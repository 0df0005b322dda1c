// Package wallet owns the node's Ed25519 validator key: generating it,
// loading it from disk, and handing signing authority to a
// crypto.SecretKeyring for the lifetime of the process. No other package
// ever reads the raw private key bytes.
package wallet

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/diva-network/divachain/crypto"
)

// publicFileMode/privateFileMode match the spec's raw key file layout: the public half is
// world-readable, the private half is owner-only.
const (
	publicFileMode  = 0o644
	privateFileMode = 0o600
)

func publicPath(dir, ident string) string  { return filepath.Join(dir, ident+".public") }
func privatePath(dir, ident string) string { return filepath.Join(dir, ident+".private") }

// GenerateKeyFiles creates a fresh Ed25519 key pair and writes its raw bytes
// to "<ident>.public" (0644) and "<ident>.private" (0600) under dir.
func GenerateKeyFiles(dir, ident string) (crypto.PublicKey, error) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create key directory %q: %w", dir, err)
	}
	if err := os.WriteFile(publicPath(dir, ident), []byte(pub), publicFileMode); err != nil {
		return nil, fmt.Errorf("write public key file: %w", err)
	}
	if err := os.WriteFile(privatePath(dir, ident), []byte(priv), privateFileMode); err != nil {
		return nil, fmt.Errorf("write private key file: %w", err)
	}
	return pub, nil
}

// LoadKeyFiles reads the "<ident>.private" raw bytes under dir (the public
// key is derived from it; "<ident>.public" is not read) and wraps the
// private key in a guarded crypto.SecretKeyring. The returned
// keyring is the only thing the caller should retain; the raw bytes read
// from disk are not kept around beyond NewSecretKeyring's internal copy.
func LoadKeyFiles(dir, ident string) (*crypto.SecretKeyring, error) {
	priv, err := os.ReadFile(privatePath(dir, ident))
	if err != nil {
		return nil, fmt.Errorf("read private key file: %w", err)
	}
	kr, err := crypto.NewSecretKeyring(crypto.PrivateKey(priv))
	if err != nil {
		return nil, fmt.Errorf("build keyring: %w", err)
	}
	for i := range priv {
		priv[i] = 0
	}
	return kr, nil
}

// KeyFilesExist reports whether both halves of ident's key pair are present
// under dir, used on startup to decide between LoadKeyFiles and
// GenerateKeyFiles.
func KeyFilesExist(dir, ident string) bool {
	_, pubErr := os.Stat(publicPath(dir, ident))
	_, privErr := os.Stat(privatePath(dir, ident))
	return pubErr == nil && privErr == nil
}
