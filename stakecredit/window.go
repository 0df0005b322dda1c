package stakecredit

import (
	"fmt"
	"sort"
	"sync"

	"github.com/diva-network/divachain/core"
	"github.com/diva-network/divachain/crypto"
)

// Window accumulates admitted credit deltas over one admission period (one
// p2p interval scaled by network size) and renders them as a single batch
// of ModifyStake commands on Flush.
type Window struct {
	mu      sync.Mutex
	pending map[string]int64
}

// NewWindow returns an empty accumulation window.
func NewWindow() *Window {
	return &Window{pending: make(map[string]int64)}
}

// Record adds delta (positive for IncCredit, negative for AdmitDecrement)
// to target's accumulated change for this window.
func (w *Window) Record(target string, delta int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[target] += delta
}

// Flush returns and clears the accumulated per-target deltas.
func (w *Window) Flush() map[string]int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.pending
	w.pending = make(map[string]int64)
	return out
}

// BuildModifyStakeCommands renders pending deltas into ModifyStake commands
// against each target's live stake (via stakeOf), in deterministic
// ascending-by-target order, with seq numbers starting at seqStart. Targets
// no longer present in the registry (via stakeOf) are skipped.
func BuildModifyStakeCommands(pending map[string]int64, stakeOf func(crypto.PublicKey) (int64, bool), seqStart uint32) ([]core.Command, error) {
	targets := make([]string, 0, len(pending))
	for t := range pending {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	cmds := make([]core.Command, 0, len(targets))
	seq := seqStart
	for _, t := range targets {
		pub, err := crypto.ParsePublicKey(t)
		if err != nil {
			return nil, fmt.Errorf("stakecredit: target %s: %w", t, err)
		}
		stake, ok := stakeOf(pub)
		if !ok {
			continue
		}
		newStake := stake + pending[t]
		if newStake < 0 {
			newStake = 0
		}
		cmds = append(cmds, core.ModifyStakeCommand{SeqNum: seq, PublicKey: pub, Stake: newStake})
		seq++
	}
	return cmds, nil
}
