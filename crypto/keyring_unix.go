//go:build unix

package crypto

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// lockMemory mlocks the keyring's backing buffer. Best effort: some
// sandboxes and container runtimes deny mlock without CAP_IPC_LOCK.
// Consensus correctness does not depend on it, only defense in depth
// against the private key being written to swap, so we degrade rather
// than fail startup.
func (kr *SecretKeyring) lockMemory() bool {
	return unix.Mlock(kr.buf) == nil
}

func (kr *SecretKeyring) unlockMemory() error {
	if err := unix.Munlock(kr.buf); err != nil {
		return fmt.Errorf("munlock secret key: %w", err)
	}
	return nil
}
