package collab

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_JoinAndMembersOf(t *testing.T) {
	r := NewRegistry()
	r.Join("doc", "c1", Identity{UserID: "u1", UserName: "Ann"})
	r.Join("doc", "c2", Identity{UserID: "u2", UserName: "Bob"})

	assert.Equal(t, []Identity{
		{UserID: "u1", UserName: "Ann"},
		{UserID: "u2", UserName: "Bob"},
	}, r.MembersOf("doc"))
	assert.Equal(t, 1, r.RoomCount())
}

func TestRegistry_RejoinOverwritesIdentityKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Join("doc", "c1", Identity{UserID: "u1", UserName: "Ann"})
	r.Join("doc", "c2", Identity{UserID: "u2", UserName: "Bob"})
	r.Join("doc", "c1", Identity{UserID: "u1", UserName: "Annie"})

	members := r.MembersOf("doc")
	require.Len(t, members, 2)
	assert.Equal(t, "Annie", members[0].UserName)
	assert.Equal(t, "Bob", members[1].UserName)
}

func TestRegistry_EmptyRoomIsRemoved(t *testing.T) {
	r := NewRegistry()
	r.Join("doc", "c1", Identity{UserID: "u1"})
	require.Equal(t, 1, r.RoomCount())

	left := r.Leave("c1")

	assert.Equal(t, []string{"doc"}, left)
	assert.Empty(t, r.MembersOf("doc"))
	assert.Equal(t, 0, r.RoomCount())
	assert.NotContains(t, r.ActiveRooms(), "doc")
}

func TestRegistry_LeaveUnknownConnectionIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Join("doc", "c1", Identity{UserID: "u1"})

	assert.Empty(t, r.Leave("ghost"))
	assert.False(t, r.LeaveRoom("doc", "ghost"))
	assert.False(t, r.LeaveRoom("nope", "c1"))
	assert.Len(t, r.MembersOf("doc"), 1)
}

func TestRegistry_MembersOfUnknownRoom(t *testing.T) {
	r := NewRegistry()
	members := r.MembersOf("missing")
	assert.NotNil(t, members)
	assert.Empty(t, members)
}

func TestRegistry_MultipleRoomsPerConnection(t *testing.T) {
	r := NewRegistry()
	r.Join("a", "c1", Identity{UserID: "u1"})
	r.Join("b", "c1", Identity{UserID: "u1"})
	r.Join("b", "c2", Identity{UserID: "u2"})

	assert.Equal(t, []string{"a", "b"}, r.RoomsOf("c1"))

	assert.True(t, r.LeaveRoom("a", "c1"))
	assert.Equal(t, []string{"b"}, r.RoomsOf("c1"))
	assert.Equal(t, 1, r.RoomCount())

	assert.Equal(t, []string{"b"}, r.Leave("c1"))
	assert.Equal(t, map[string]int{"b": 1}, r.ActiveRooms())
}

func TestRegistry_IsMember(t *testing.T) {
	r := NewRegistry()
	r.Join("doc", "c1", Identity{UserID: "u1", UserName: "Ann"})

	id, ok := r.IsMember("doc", "c1")
	assert.True(t, ok)
	assert.Equal(t, "u1", id.UserID)

	_, ok = r.IsMember("doc", "c2")
	assert.False(t, ok)
	_, ok = r.IsMember("other", "c1")
	assert.False(t, ok)
}

// Membership must equal the connections that joined and have not left,
// for any interleaving of joins and leaves.
func TestRegistry_MembershipMatchesJoinLeaveSequence(t *testing.T) {
	r := NewRegistry()
	expected := map[string]bool{}

	ops := []struct {
		join bool
		conn string
	}{
		{true, "a"}, {true, "b"}, {true, "c"}, {false, "b"}, {true, "d"},
		{false, "a"}, {true, "b"}, {false, "x"}, {true, "a"}, {false, "d"},
		{false, "c"}, {true, "c"}, {false, "a"}, {false, "b"}, {false, "c"},
	}

	for i, op := range ops {
		if op.join {
			r.Join("doc", op.conn, Identity{UserID: op.conn})
			expected[op.conn] = true
		} else {
			r.Leave(op.conn)
			delete(expected, op.conn)
		}

		got := map[string]bool{}
		for _, m := range r.Snapshot("doc") {
			got[m.ConnectionID] = true
		}
		assert.Equal(t, expected, got, "after op %d", i)

		if len(expected) == 0 {
			assert.Equal(t, 0, r.RoomCount(), "after op %d", i)
		}
	}
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			r.Join("doc", conn, Identity{UserID: conn})
			if i%2 == 0 {
				r.Leave(conn)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.MembersOf("doc"), 50)
}
