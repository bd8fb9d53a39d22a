package router

import "github.com/apex-run/apex/internal/message"

// The methods in this file are called exclusively by the Switch Engine
// during PREPARE/COMMIT/ABORT; callers must hold no other lock on Router.

// BeginPrepare clears Q_next for every known recipient and flips
// buffer_to_next so that new admissions land in Q_next at the
// prospective epoch (current+1).
func (r *Router) BeginPrepare() {
	r.recipientsMu.RLock()
	states := make([]*recipientState, 0, len(r.recipients))
	for _, rs := range r.recipients {
		states = append(states, rs)
	}
	r.recipientsMu.RUnlock()

	for _, rs := range states {
		rs.next.drainAll()
	}

	r.phaseMu.Lock()
	r.bufferToNext = true
	r.phaseMu.Unlock()
}

// CurrentEpoch returns the epoch counter as currently committed (N).
func (r *Router) CurrentEpoch() uint64 {
	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()
	return r.epoch
}

// Commit atomically advances the epoch, swaps Q_next into Q_active per
// recipient, re-initializes Q_next, and clears buffer_to_next. Returns
// the new epoch and the count of messages migrated from Q_next.
func (r *Router) Commit() (epoch uint64, migrated int) {
	r.recipientsMu.RLock()
	states := make([]*recipientState, 0, len(r.recipients))
	for _, rs := range r.recipients {
		states = append(states, rs)
	}
	r.recipientsMu.RUnlock()

	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()

	for _, rs := range states {
		buffered := rs.next.drainAll()
		migrated += len(buffered)
		rs.active.appendAll(buffered)
	}
	r.epoch++
	r.bufferToNext = false
	return r.epoch, migrated
}

// Abort preserves per-recipient FIFO by appending buffered Q_next content
// as a suffix to whatever remains in Q_active, without advancing the
// epoch. Q_next messages are re-stamped to the (unchanged) current
// epoch — an implementation choice the spec leaves open (§9); the
// invariant that matters is order, not the stamp.
func (r *Router) Abort() (droppedByReason map[message.DropReason]int64) {
	r.recipientsMu.RLock()
	states := make([]*recipientState, 0, len(r.recipients))
	for _, rs := range r.recipients {
		states = append(states, rs)
	}
	r.recipientsMu.RUnlock()

	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()

	currentEpoch := r.epoch
	for _, rs := range states {
		buffered := rs.next.drainAll()
		for _, m := range buffered {
			m.TopoEpoch = currentEpoch
		}
		rs.active.appendAll(buffered)
	}
	r.bufferToNext = false
	return nil
}
