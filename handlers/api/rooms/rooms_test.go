package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"codecollab-server/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRegistry struct {
	rooms []core.Room
	err   error
}

func (s stubRegistry) ListRooms(ctx context.Context) ([]core.Room, error) { return s.rooms, s.err }
func (s stubRegistry) TouchRoom(ctx context.Context, roomID string) error { return nil }

func list(t *testing.T, active map[string]int, registry core.RoomRegistry) []Summary {
	t.Helper()
	rec := httptest.NewRecorder()
	HandleList(func() map[string]int { return active }, registry).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out []Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func ids(rooms []Summary) []string {
	out := make([]string, len(rooms))
	for i, r := range rooms {
		out[i] = r.ID
	}
	return out
}

func TestHandleList_MergesRegistry(t *testing.T) {
	active := map[string]int{"busy": 3, "quiet": 1, "also-quiet": 1}
	registry := stubRegistry{rooms: []core.Room{
		{ID: "quiet", LastActive: 100},
		{ID: "also-quiet", LastActive: 200},
		{ID: "idle", LastActive: 50},
		{ID: "never", LastActive: 0},
	}}

	rooms := list(t, active, registry)

	assert.Equal(t, []string{"busy", "also-quiet", "quiet", "idle", "never"}, ids(rooms))
	assert.Equal(t, 3, rooms[0].Users)
	assert.Nil(t, rooms[0].LastActive)
	require.NotNil(t, rooms[1].LastActive)
	assert.Equal(t, int64(200), *rooms[1].LastActive)
	assert.Equal(t, 0, rooms[3].Users)
	assert.Nil(t, rooms[4].LastActive)
}

func TestHandleList_RegistryFailure(t *testing.T) {
	rooms := list(t, map[string]int{"b": 1, "a": 1}, stubRegistry{err: errors.New("down")})
	assert.Equal(t, []string{"a", "b"}, ids(rooms))
}

func TestHandleList_Empty(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleList(func() map[string]int { return nil }, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	assert.JSONEq(t, `[]`, rec.Body.String())
}
