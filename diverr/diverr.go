// Package diverr defines the sentinel error taxonomy shared across
// divachain, so callers can classify a failure with errors.Is instead of
// string matching and apply the right recovery policy (drop, retry, halt).
package diverr

import "errors"

var (
	// ErrValidation marks a structurally invalid message, transaction, or
	// block: bad signature, malformed field, ident collision. Policy: drop.
	ErrValidation = errors.New("validation failed")

	// ErrReplay marks a message whose sequence number has already been seen
	// from that origin. Policy: drop silently.
	ErrReplay = errors.New("replayed sequence number")

	// ErrQuorum marks a Confirm that did not carry enough distinct,
	// verified, stake-weighted votes. Policy: drop; proposer retries on
	// timeout.
	ErrQuorum = errors.New("insufficient quorum")

	// ErrChainGap marks a block whose height or previousHash does not
	// extend the local tip. Policy: trigger sync.
	ErrChainGap = errors.New("chain gap")

	// ErrIO marks a storage or network I/O failure. Policy: retry with
	// backoff; escalate after repeated failure.
	ErrIO = errors.New("i/o failure")

	// ErrClient marks a malformed or unauthorized external request.
	// Policy: reject with 4xx, no state change.
	ErrClient = errors.New("client error")

	// ErrUnrecoverable marks a condition that indicates a safety violation
	// (hash collision on a committed block, registry divergence between
	// replicas). Policy: halt; require operator intervention.
	ErrUnrecoverable = errors.New("unrecoverable error")

	// ErrNotFound marks a missing lookup (storage key, block hash, peer).
	ErrNotFound = errors.New("not found")
)
