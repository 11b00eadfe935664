package collab

import "sync"

// presence serializes users-update delivery per room. Announcements that
// arrive while a room is being flushed are coalesced into one more flush,
// so the last list every member receives is taken after the last
// membership change. A flush never holds a lock while it emits, so an
// Emit that re-enters the manager cannot deadlock.
type presence struct {
	mu       sync.Mutex
	flushing map[string]*presenceFlush
}

type presenceFlush struct {
	dirty bool
}

func newPresence() *presence {
	return &presence{flushing: make(map[string]*presenceFlush)}
}

// announce runs flush for documentID until no announcement is pending.
// If another caller is already flushing the room, announce marks it dirty
// and returns at once.
func (p *presence) announce(documentID string, flush func()) {
	p.mu.Lock()
	if f, ok := p.flushing[documentID]; ok {
		f.dirty = true
		p.mu.Unlock()
		return
	}

	f := &presenceFlush{dirty: true}
	p.flushing[documentID] = f
	for f.dirty {
		f.dirty = false
		p.mu.Unlock()
		flush()
		p.mu.Lock()
	}
	delete(p.flushing, documentID)
	p.mu.Unlock()
}
