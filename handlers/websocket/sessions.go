package websocket

import (
	"context"
	"sync"
	"time"

	"codecollab-server/collab"
)

// Sessions tracks the live connection sessions so shutdown can drain
// their queued events before the manager stops persisting.
type Sessions struct {
	mu     sync.Mutex
	closed bool
	live   map[*session]struct{}
}

func NewSessions() *Sessions {
	return &Sessions{live: make(map[*session]struct{})}
}

// open starts and tracks a session for conn. It reports false once the
// tracker is closed.
func (ss *Sessions) open(manager *collab.Manager, conn collab.Conn, timeout time.Duration) (*session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.closed {
		return nil, false
	}
	s := newSession(manager, conn, timeout)
	ss.live[s] = struct{}{}
	s.start()

	go func() {
		<-s.queue.Done()
		ss.mu.Lock()
		delete(ss.live, s)
		ss.mu.Unlock()
	}()
	return s, true
}

// Len returns the number of sessions whose queue has not finished.
func (ss *Sessions) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.live)
}

// Close stops every live session and waits until each has run its queued
// events and its disconnect, or ctx is done.
func (ss *Sessions) Close(ctx context.Context) error {
	ss.mu.Lock()
	ss.closed = true
	pending := make([]*session, 0, len(ss.live))
	for s := range ss.live {
		pending = append(pending, s)
	}
	ss.mu.Unlock()

	for _, s := range pending {
		s.stop()
	}
	for _, s := range pending {
		select {
		case <-s.queue.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
