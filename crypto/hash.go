package crypto

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the length in bytes of a consensus Hash.
const HashSize = 32

// Hash is the 32-byte consensus hash of a canonical byte string.
type Hash [HashSize]byte

// String returns the 43-char unpadded URL-safe base64 encoding.
func (h Hash) String() string { return wire(h[:]) }

// IsZero reports whether h is the all-zero genesis placeholder hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Equal reports whether h and other encode the same hash.
func (h Hash) Equal(other Hash) bool { return h == other }

// HashBytes computes the BLAKE2b-256 hash of data, the consensus hash
// function used for every block and transaction commitment.
func HashBytes(data []byte) Hash {
	return Hash(blake2b.Sum256(data))
}

// ParseHash decodes a 43-char base64url consensus hash.
func ParseHash(s string) (Hash, error) {
	b, err := unwire(s)
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// SHA256Hex is the ambient (non-consensus) hash used for API token files and
// other bookkeeping where BLAKE2b is not required. Kept as a distinct helper
// so the consensus hash function is never accidentally used for something
// that does not need to interoperate across nodes.
func SHA256Hex(data []byte) [sha256.Size]byte {
	return sha256.Sum256(data)
}
