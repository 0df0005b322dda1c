//go:build !unix

package crypto

// lockMemory is a no-op on platforms without mlock (e.g. Windows); divachain
// nodes in production run on unix hosts, so this only affects local dev.
func (kr *SecretKeyring) lockMemory() bool { return false }

func (kr *SecretKeyring) unlockMemory() error { return nil }
