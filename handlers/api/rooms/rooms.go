package rooms

import (
	"net/http"
	"sort"

	"codecollab-server/core"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Summary is one entry of the room listing.
type Summary struct {
	ID         string `json:"id"`
	Users      int    `json:"users"`
	LastActive *int64 `json:"lastActive,omitempty"`
}

// HandleList merges live member counts with the recorded room activity.
// registry may be nil.
func HandleList(activeRooms func() map[string]int, registry core.RoomRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomMap := make(map[string]*Summary)
		for id, count := range activeRooms() {
			roomMap[id] = &Summary{ID: id, Users: count}
		}

		if registry != nil {
			if storedRooms, err := registry.ListRooms(r.Context()); err != nil {
				logrus.WithError(err).Warn("failed to list rooms from registry")
			} else {
				for _, room := range storedRooms {
					entry, exists := roomMap[room.ID]
					if !exists {
						entry = &Summary{ID: room.ID}
						roomMap[room.ID] = entry
					}
					if room.LastActive > 0 {
						lastActive := room.LastActive
						entry.LastActive = &lastActive
					}
				}
			}
		}

		roomList := make([]Summary, 0, len(roomMap))
		for _, entry := range roomMap {
			roomList = append(roomList, *entry)
		}
		Sort(roomList)

		render.JSON(w, r, roomList)
	}
}

// Sort orders rooms by users, then last activity, then id.
func Sort(rooms []Summary) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Users != rooms[j].Users {
			return rooms[i].Users > rooms[j].Users
		}
		li, lj := lastActive(rooms[i]), lastActive(rooms[j])
		if li != lj {
			return li > lj
		}
		return rooms[i].ID < rooms[j].ID
	})
}

func lastActive(s Summary) int64 {
	if s.LastActive == nil {
		return 0
	}
	return *s.LastActive
}
