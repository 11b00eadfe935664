package collab

import (
	"sync"

	"codecollab-server/metrics"

	"github.com/sirupsen/logrus"
)

// Conn is one live transport session.
type Conn interface {
	ID() string
	Emit(event string, payload any) error
}

// Channel delivers events to the members of a room. Delivery is
// fire-and-forget: sends to connections that are gone are dropped.
type Channel struct {
	registry *Registry

	mu    sync.RWMutex
	conns map[string]Conn
}

// NewChannel delivers to the members recorded in registry.
func NewChannel(registry *Registry) *Channel {
	return &Channel{
		registry: registry,
		conns:    make(map[string]Conn),
	}
}

// Attach makes conn reachable by its id.
func (c *Channel) Attach(conn Conn) {
	c.mu.Lock()
	c.conns[conn.ID()] = conn
	n := len(c.conns)
	c.mu.Unlock()

	metrics.SetConnections(n)
}

// Detach forgets the connection. Later sends to it are dropped.
func (c *Channel) Detach(connectionID string) {
	c.mu.Lock()
	delete(c.conns, connectionID)
	n := len(c.conns)
	c.mu.Unlock()

	metrics.SetConnections(n)
}

// Connections returns the number of attached connections.
func (c *Channel) Connections() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.conns)
}

// Broadcast sends to every current member of the room except exclude and
// returns how many sends were handed to the transport.
func (c *Channel) Broadcast(documentID, event string, payload any, exclude string) int {
	return c.Deliver(c.registry.Snapshot(documentID), event, payload, exclude)
}

// Deliver sends to an already taken member snapshot.
func (c *Channel) Deliver(members []Member, event string, payload any, exclude string) int {
	delivered := 0
	for _, m := range members {
		if m.ConnectionID == exclude {
			continue
		}
		if c.SendTo(m.ConnectionID, event, payload) {
			delivered++
		}
	}
	metrics.ObserveBroadcast(event, delivered)
	return delivered
}

// SendTo delivers to a single connection.
func (c *Channel) SendTo(connectionID, event string, payload any) bool {
	c.mu.RLock()
	conn, ok := c.conns[connectionID]
	c.mu.RUnlock()

	log := logrus.WithFields(logrus.Fields{
		"connection_id": connectionID,
		"event":         event,
	})

	if !ok {
		metrics.ObserveDroppedSend()
		log.Debug("Dropping send to detached connection")
		return false
	}

	if err := conn.Emit(event, payload); err != nil {
		metrics.ObserveDroppedSend()
		log.WithError(err).Debug("Dropping send to closing connection")
		return false
	}
	return true
}
