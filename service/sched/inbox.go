package sched

// remoteWork runs on the owning core with its lock held. Items carry
// their own re-validation: by the time a core drains its inbox the
// world may have moved on, so every item re-checks its preconditions
// before acting.
type remoteWork func(c *Core)

// inbox is a bounded handoff channel for work addressed to one core:
// remote wakeups from cores that do not share cache with the target,
// and forced-migration requests from active balancing. Producers never
// block; a full inbox makes the producer fall back to taking the
// target lock directly.
type inbox struct {
	ch chan remoteWork
}

func newInbox(depth int) *inbox {
	return &inbox{ch: make(chan remoteWork, depth)}
}

// tryPush enqueues without blocking and reports whether it fit.
func (b *inbox) tryPush(w remoteWork) bool {
	select {
	case b.ch <- w:
		return true
	default:
		return false
	}
}

// drain runs all pending items. Caller holds c.mu.
func (b *inbox) drain(c *Core) {
	for {
		select {
		case w := <-b.ch:
			w(c)
		default:
			return
		}
	}
}
