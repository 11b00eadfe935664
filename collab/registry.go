package collab

import (
	"sort"
	"sync"
)

// Member is a connection present in a room.
type Member struct {
	ConnectionID string
	Identity     Identity

	seq uint64
}

type room map[string]*Member

// Registry tracks which connections are present in which document room.
// A room exists only while it has at least one member.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]room
	seq   uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]room)}
}

// Join adds the connection to the room, creating the room if needed.
// Joining again overwrites the identity and keeps the original position.
func (r *Registry) Join(documentID, connectionID string, identity Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[documentID]
	if !ok {
		members = make(room)
		r.rooms[documentID] = members
	}

	if m, exists := members[connectionID]; exists {
		m.Identity = identity
		return
	}

	r.seq++
	members[connectionID] = &Member{ConnectionID: connectionID, Identity: identity, seq: r.seq}
}

// Leave removes the connection from every room it is in and returns the
// ids of those rooms.
func (r *Registry) Leave(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for documentID, members := range r.rooms {
		if _, ok := members[connectionID]; !ok {
			continue
		}
		delete(members, connectionID)
		if len(members) == 0 {
			delete(r.rooms, documentID)
		}
		left = append(left, documentID)
	}
	sort.Strings(left)
	return left
}

// LeaveRoom removes the connection from a single room.
func (r *Registry) LeaveRoom(documentID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[documentID]
	if !ok {
		return false
	}
	if _, ok := members[connectionID]; !ok {
		return false
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.rooms, documentID)
	}
	return true
}

// MembersOf returns the identities in the room in join order. Unknown
// rooms yield an empty slice.
func (r *Registry) MembersOf(documentID string) []Identity {
	snapshot := r.Snapshot(documentID)
	out := make([]Identity, 0, len(snapshot))
	for _, m := range snapshot {
		out = append(out, m.Identity)
	}
	return out
}

// Snapshot returns copies of the room's members in join order.
func (r *Registry) Snapshot(documentID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[documentID]
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// IsMember returns the identity the connection joined the room with.
func (r *Registry) IsMember(documentID, connectionID string) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.rooms[documentID][connectionID]
	if !ok {
		return Identity{}, false
	}
	return m.Identity, true
}

// RoomsOf lists the rooms a connection is in, sorted by id.
func (r *Registry) RoomsOf(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for documentID, members := range r.rooms {
		if _, ok := members[connectionID]; ok {
			out = append(out, documentID)
		}
	}
	sort.Strings(out)
	return out
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ActiveRooms maps each room to its member count.
func (r *Registry) ActiveRooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make(map[string]int, len(r.rooms))
	for id, members := range r.rooms {
		rooms[id] = len(members)
	}
	return rooms
}
