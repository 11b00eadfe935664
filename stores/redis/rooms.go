package redis

import (
	"context"
	"fmt"
	"time"

	"codecollab-server/core"

	goredis "github.com/redis/go-redis/v9"
)

const defaultRoomsKey = "codecollab:rooms"

// roomRegistry keeps room activity in a sorted set scored by the last
// activity time in milliseconds, so several server instances share one view.
type roomRegistry struct {
	client *goredis.Client
	key    string
}

// NewRoomRegistry connects to addr and verifies the connection.
func NewRoomRegistry(ctx context.Context, addr string) (*roomRegistry, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return NewRoomRegistryWithClient(client), nil
}

func NewRoomRegistryWithClient(client *goredis.Client) *roomRegistry {
	return &roomRegistry{client: client, key: defaultRoomsKey}
}

func (r *roomRegistry) Close() error {
	return r.client.Close()
}

func (r *roomRegistry) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	return r.client.ZAdd(ctx, r.key, goredis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: roomID,
	}).Err()
}

func (r *roomRegistry) ListRooms(ctx context.Context) ([]core.Room, error) {
	entries, err := r.client.ZRevRangeWithScores(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	rooms := make([]core.Room, 0, len(entries))
	for _, entry := range entries {
		id, ok := entry.Member.(string)
		if !ok {
			continue
		}
		rooms = append(rooms, core.Room{ID: id, LastActive: int64(entry.Score)})
	}
	core.SortRooms(rooms)
	return rooms, nil
}
