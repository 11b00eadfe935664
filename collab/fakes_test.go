package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"codecollab-server/core"
)

type sentEvent struct {
	Event   string
	Payload any
}

type fakeConn struct {
	id string

	mu      sync.Mutex
	events  []sentEvent
	emitErr error

	// beforeEmit, when set, runs ahead of recording each event. It stands
	// in for transport latency and for work interleaved with a send.
	beforeEmit func(event string)
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, payload any) error {
	if c.beforeEmit != nil {
		c.beforeEmit(event)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.events = append(c.events, sentEvent{Event: event, Payload: payload})
	return nil
}

func (c *fakeConn) received(event string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, e := range c.events {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

func (c *fakeConn) all() []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentEvent(nil), c.events...)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

type update struct {
	ID      string
	Content string
}

// fakeStore is an in-memory DocumentStore whose calls can be delayed or
// failed.
type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]*core.Document
	updates []update

	fetchCalls  atomic.Int32
	createCalls atomic.Int32

	fetchErr    error
	updateErr   error
	fetchDelay  time.Duration
	updateDelay func(content string) time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]*core.Document)}
}

func (s *fakeStore) FetchOrCreate(ctx context.Context, id string) (*core.Document, error) {
	s.fetchCalls.Add(1)
	if s.fetchDelay > 0 {
		time.Sleep(s.fetchDelay)
	}
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		return doc.Clone(), nil
	}
	s.createCalls.Add(1)
	doc := core.NewDefaultDocument(id)
	s.docs[id] = doc
	return doc.Clone(), nil
}

func (s *fakeStore) UpdateContent(ctx context.Context, id, content string) error {
	if s.updateDelay != nil {
		select {
		case <-time.After(s.updateDelay(content)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.updateErr != nil {
		return s.updateErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, core.ErrDocumentNotFound)
	}
	doc.Content = content
	s.updates = append(s.updates, update{ID: id, Content: content})
	return nil
}

func (s *fakeStore) content(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		return doc.Content
	}
	return ""
}

func (s *fakeStore) updateLog() []update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]update(nil), s.updates...)
}

type fakeRooms struct {
	mu      sync.Mutex
	touched []string
	err     error
}

func (r *fakeRooms) ListRooms(ctx context.Context) ([]core.Room, error) { return nil, nil }

func (r *fakeRooms) TouchRoom(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, roomID)
	return r.err
}

func (r *fakeRooms) touches() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.touched...)
}

var errStoreDown = errors.New("store unavailable")
