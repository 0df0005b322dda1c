package crypto

// SecretKeyring owns exactly one validator private key for the lifetime of a
// node process. It is the only component allowed to hold the raw key bytes;
// everything else works with signatures it produces. The backing memory is
// locked where the platform supports it (see keyring_unix.go) so it is never
// written to swap, and Zero overwrites it before unlocking.
type SecretKeyring struct {
	buf    []byte // holds the raw private key bytes, locked where possible
	locked bool
	priv   PrivateKey
	pub    PublicKey
}

// NewSecretKeyring copies priv into guarded memory. The caller's priv slice
// is not retained; callers should zero it themselves after this returns.
func NewSecretKeyring(priv PrivateKey) (*SecretKeyring, error) {
	buf := make([]byte, len(priv))
	copy(buf, priv)

	kr := &SecretKeyring{buf: buf, priv: PrivateKey(buf)}
	kr.locked = kr.lockMemory()
	kr.pub = kr.priv.Public()
	return kr, nil
}

// PublicKey returns the keyring's public key.
func (kr *SecretKeyring) PublicKey() PublicKey { return kr.pub }

// Sign produces a detached signature over data using the guarded private key.
func (kr *SecretKeyring) Sign(data []byte) Signature {
	return Sign(kr.priv, data)
}

// Zero overwrites the private key bytes and releases the memory lock. Called
// once on shutdown; safe to call more than once.
func (kr *SecretKeyring) Zero() error {
	for i := range kr.buf {
		kr.buf[i] = 0
	}
	if kr.locked {
		kr.locked = false
		return kr.unlockMemory()
	}
	return nil
}
