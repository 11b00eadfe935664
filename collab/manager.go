package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codecollab-server/core"
	"codecollab-server/metrics"

	"github.com/sirupsen/logrus"
)

// ErrNotJoined is returned for edits and cursor moves from a connection
// that is not a member of the target room.
var ErrNotJoined = errors.New("connection not joined to document")

// Manager runs the join / edit / cursor / leave protocol for document
// rooms. Edits are broadcast first and persisted in the background.
type Manager struct {
	registry  *Registry
	channel   *Channel
	store     core.DocumentStore
	persister *Persister
	presence  *presence
}

type Option func(*Manager)

// WithRoomRegistry records room activity on join and after content writes.
func WithRoomRegistry(rooms core.RoomRegistry) Option {
	return func(m *Manager) { m.persister.rooms = rooms }
}

// WithPersistTimeout bounds each background write. Zero disables it.
func WithPersistTimeout(timeout time.Duration) Option {
	return func(m *Manager) { m.persister.timeout = timeout }
}

// NewManager builds a manager with its own registry and channel.
func NewManager(store core.DocumentStore, opts ...Option) *Manager {
	registry := NewRegistry()
	m := &Manager{
		registry:  registry,
		channel:   NewChannel(registry),
		store:     store,
		persister: NewPersister(store, nil, 0),
		presence:  newPresence(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Registry() *Registry { return m.registry }

func (m *Manager) Persister() *Persister { return m.persister }

// ActiveRooms maps each live room to its member count.
func (m *Manager) ActiveRooms() map[string]int { return m.registry.ActiveRooms() }

// Connect makes conn reachable for unicast and room delivery.
func (m *Manager) Connect(conn Conn) {
	m.channel.Attach(conn)
	logrus.WithField("connection_id", conn.ID()).Info("User connected")
}

// Join loads (or creates) the document, adds the connection to the room,
// sends the snapshot to the joiner and the presence list to the room.
// On failure the joiner alone receives an error event and its membership
// is left unchanged.
func (m *Manager) Join(ctx context.Context, conn Conn, req JoinRequest) error {
	log := logrus.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"document_id":   req.DocumentID,
		"user_id":       req.UserID,
	})

	err := m.join(ctx, conn, req)
	metrics.ObserveJoin(err)
	if err != nil {
		log.WithError(err).Error("Error joining document")
		m.channel.SendTo(conn.ID(), EventError, ErrorPayload{Message: joinFailedMessage})
		return err
	}

	log.WithField("user_name", req.UserName).Info("User joined document")
	return nil
}

func (m *Manager) join(ctx context.Context, conn Conn, req JoinRequest) error {
	if req.DocumentID == "" {
		return fmt.Errorf("join: %w", core.ErrInvalidDocumentID)
	}

	doc, err := m.store.FetchOrCreate(ctx, req.DocumentID)
	if err != nil {
		return fmt.Errorf("fetch document %s: %w", req.DocumentID, err)
	}

	// The snapshot goes out before registration so that no presence list
	// can reach the joiner ahead of it.
	m.channel.SendTo(conn.ID(), EventDocumentContent, DocumentContentPayload{Content: doc.Content})

	m.registry.Join(req.DocumentID, conn.ID(), req.identity())
	metrics.SetActiveRooms(m.registry.RoomCount())
	m.persister.Touch(req.DocumentID)

	m.announcePresence(req.DocumentID)
	return nil
}

// EditContent relays new content to the other members and schedules its
// persistence. The broadcast never waits for storage.
func (m *Manager) EditContent(conn Conn, change CodeChange) error {
	if err := m.requireMember(conn, change.DocumentID, EventCodeChange); err != nil {
		return err
	}

	m.channel.Broadcast(change.DocumentID, EventCodeChanged, CodeChangedPayload{Code: change.Code}, conn.ID())
	m.persister.Persist(change.DocumentID, change.Code)
	return nil
}

// MoveCursor relays cursor state to the other members, keyed by
// connection id so that two tabs of one user stay apart. Cursor state is
// never persisted.
func (m *Manager) MoveCursor(conn Conn, move CursorMove) error {
	if err := m.requireMember(conn, move.DocumentID, EventCursor); err != nil {
		return err
	}

	m.channel.Broadcast(move.DocumentID, EventCursor, CursorPayload{UserID: conn.ID(), Cursor: move.Cursor}, conn.ID())
	return nil
}

// Leave removes the connection from one room and re-announces presence to
// whoever remains.
func (m *Manager) Leave(conn Conn, documentID string) {
	if !m.registry.LeaveRoom(documentID, conn.ID()) {
		return
	}
	metrics.SetActiveRooms(m.registry.RoomCount())

	logrus.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"document_id":   documentID,
	}).Info("User left document")
	m.announcePresence(documentID)
}

// Disconnect is an implicit leave of every room the connection is in.
func (m *Manager) Disconnect(conn Conn) {
	left := m.registry.Leave(conn.ID())
	m.channel.Detach(conn.ID())
	metrics.SetActiveRooms(m.registry.RoomCount())

	logrus.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"rooms":         len(left),
	}).Info("User disconnected")

	for _, documentID := range left {
		m.announcePresence(documentID)
	}
}

// Close stops accepting background writes and waits for the scheduled
// ones to finish or ctx to expire.
func (m *Manager) Close(ctx context.Context) error {
	return m.persister.Close(ctx)
}

// announcePresence sends the current member list to the room. Concurrent
// announcements for one room are coalesced; the last delivery always
// reflects membership after the last change.
func (m *Manager) announcePresence(documentID string) {
	m.presence.announce(documentID, func() {
		members := m.registry.Snapshot(documentID)
		if len(members) == 0 {
			return
		}

		users := make([]Identity, 0, len(members))
		for _, member := range members {
			users = append(users, member.Identity)
		}
		m.channel.Deliver(members, EventUsersUpdate, users, "")
	})
}

func (m *Manager) requireMember(conn Conn, documentID, event string) error {
	log := logrus.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"document_id":   documentID,
		"event":         event,
	})

	if documentID == "" {
		log.Warn("Dropping event without document id")
		return fmt.Errorf("%s: %w", event, core.ErrInvalidDocumentID)
	}

	if _, ok := m.registry.IsMember(documentID, conn.ID()); !ok {
		log.Warn("Dropping event from connection not joined to document")
		return fmt.Errorf("%s: %w", event, ErrNotJoined)
	}
	return nil
}
