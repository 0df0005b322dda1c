// Package stakecredit implements the advisory liveness aid described for
// the block factory: when a node repeatedly loses the proposer race to the
// same peer, it may propose a stake decrement against that peer, subject to
// floor checks that keep the mechanism from starving anyone. It never
// changes consensus rules — only the content of locally-originated
// ModifyStake transactions.
package stakecredit

import "sync"

// Scheduler tracks per-validator credit, a purely local bookkeeping value
// distinct from registered stake. Credit starts at zero for every
// validator and is only ever nudged by AdmitDecrement/IncCredit.
type Scheduler struct {
	mu     sync.Mutex
	credit map[string]int64
}

// New returns a scheduler with no validators tracked yet.
func New() *Scheduler {
	return &Scheduler{credit: make(map[string]int64)}
}

// CreditOf returns target's current credit, 0 if untouched.
func (s *Scheduler) CreditOf(target string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credit[target]
}

// Total returns the sum of all tracked credit.
func (s *Scheduler) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLocked()
}

func (s *Scheduler) totalLocked() int64 {
	var total int64
	for _, c := range s.credit {
		total += c
	}
	return total
}

// AdmitDecrement reports whether decrementing target's credit by 1 still
// satisfies both floors (credit[target] > quorum·-0.5 and ∑credit >
// quorum·-1) and, if so, applies the decrement. A rejected decrement
// leaves state unchanged — the caller suppresses that ModifyStake.
func (s *Scheduler) AdmitDecrement(target string, quorum int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.credit[target] - 1
	if 2*candidate <= -quorum { // candidate <= quorum * -0.5
		return false
	}
	totalAfter := s.totalLocked() - 1
	if totalAfter <= -quorum { // totalAfter <= quorum * -1
		return false
	}
	s.credit[target] = candidate
	return true
}

// IncCredit restores parity for a peer that did get to propose, the
// symmetric counterpart to AdmitDecrement.
func (s *Scheduler) IncCredit(target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit[target]++
}
