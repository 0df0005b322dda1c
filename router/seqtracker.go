package router

import "sync"

// SeqTracker maintains the per-origin lastSeq high-water mark used to drop
// replayed or reordered envelopes. Gaps are tolerated: only seq <= lastSeq
// is rejected.
type SeqTracker struct {
	mu      sync.Mutex
	lastSeq map[string]uint64
}

// NewSeqTracker returns an empty tracker.
func NewSeqTracker() *SeqTracker {
	return &SeqTracker{lastSeq: make(map[string]uint64)}
}

// Admit reports whether seq from origin is newer than every previously
// admitted seq from that origin, and if so records it as the new
// high-water mark.
func (t *SeqTracker) Admit(origin string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if last, ok := t.lastSeq[origin]; ok && seq <= last {
		return false
	}
	t.lastSeq[origin] = seq
	return true
}

// LastSeq returns the highest seq admitted for origin, and whether any has
// been admitted at all.
func (t *SeqTracker) LastSeq(origin string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seq, ok := t.lastSeq[origin]
	return seq, ok
}

// Forget drops the tracked state for origin, used when a validator is
// removed from the registry so a later re-add starts clean.
func (t *SeqTracker) Forget(origin string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSeq, origin)
}
