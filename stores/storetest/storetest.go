// Package storetest holds the behaviour every document store backend must
// share. Backend tests call Run with a constructor for a fresh store.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"codecollab-server/core"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Store interface {
	core.DocumentStore
	core.DocumentRepository
	core.RoomRegistry
}

// Run executes the shared suite. newStore is called once per subtest.
func Run(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s Store)
	}{
		{"FetchOrCreateCreatesDefault", testFetchOrCreateCreatesDefault},
		{"FetchOrCreateReturnsExisting", testFetchOrCreateReturnsExisting},
		{"FetchOrCreateConcurrentFirstCallers", testFetchOrCreateConcurrent},
		{"UpdateContentUnknownDocument", testUpdateContentUnknown},
		{"UpdateContentLastWriteWins", testUpdateContentLastWriteWins},
		{"CreateAndFind", testCreateAndFind},
		{"CreateDuplicateID", testCreateDuplicateID},
		{"FindIDNotFound", testFindIDNotFound},
		{"ListForUser", testListForUser},
		{"Save", testSave},
		{"Delete", testDelete},
		{"Rooms", testRooms},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func newID() string { return "doc-" + uuid.NewString() }

func testFetchOrCreateCreatesDefault(t *testing.T, s Store) {
	id := newID()

	doc, err := s.FetchOrCreate(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, doc.ID)
	assert.Equal(t, core.StarterContent, doc.Content)
	assert.Equal(t, fmt.Sprintf("Document %s", id), doc.Title)
	assert.Empty(t, doc.Owner)
}

func testFetchOrCreateReturnsExisting(t *testing.T, s Store) {
	ctx := context.Background()
	id := newID()

	_, err := s.FetchOrCreate(ctx, id)
	require.NoError(t, err)
	require.NoError(t, s.UpdateContent(ctx, id, "print('hi')"))

	doc, err := s.FetchOrCreate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", doc.Content)
}

func testFetchOrCreateConcurrent(t *testing.T, s Store) {
	ctx := context.Background()
	id := newID()

	const callers = 8
	created := make([]int64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := s.FetchOrCreate(ctx, id)
			if assert.NoError(t, err) {
				created[i] = doc.CreatedAt.UnixMilli()
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Equal(t, created[0], created[i], "caller %d observed a different document", i)
	}

	require.NoError(t, s.UpdateContent(ctx, id, "after"))
	doc, err := s.FetchOrCreate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "after", doc.Content)
}

func testUpdateContentUnknown(t *testing.T, s Store) {
	err := s.UpdateContent(context.Background(), newID(), "x")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func testUpdateContentLastWriteWins(t *testing.T, s Store) {
	ctx := context.Background()
	id := newID()
	_, err := s.FetchOrCreate(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.UpdateContent(ctx, id, "first"))
	require.NoError(t, s.UpdateContent(ctx, id, "second"))

	doc, err := s.FindID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "second", doc.Content)
}

func testCreateAndFind(t *testing.T, s Store) {
	ctx := context.Background()

	id, err := s.Create(ctx, &core.Document{
		Title:   "Notes",
		Content: "body",
		Owner:   "owner-1",
		Editors: []string{"ed-1"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := s.FindID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, "Notes", doc.Title)
	assert.Equal(t, "body", doc.Content)
	assert.Equal(t, "owner-1", doc.Owner)
	assert.Equal(t, []string{"ed-1"}, doc.Editors)
	assert.Empty(t, doc.Viewers)
	assert.False(t, doc.CreatedAt.IsZero())
}

func testCreateDuplicateID(t *testing.T, s Store) {
	ctx := context.Background()
	id := newID()

	_, err := s.Create(ctx, &core.Document{ID: id, Title: "one"})
	require.NoError(t, err)

	_, err = s.Create(ctx, &core.Document{ID: id, Title: "two"})
	assert.ErrorIs(t, err, core.ErrDocumentExists)
}

func testFindIDNotFound(t *testing.T, s Store) {
	_, err := s.FindID(context.Background(), newID())
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func testListForUser(t *testing.T, s Store) {
	ctx := context.Background()
	user := "user-" + uuid.NewString()
	other := "user-" + uuid.NewString()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	create := func(owner string, viewers []string, updated time.Time) string {
		id, err := s.Create(ctx, &core.Document{
			ID:        newID(),
			Title:     "t",
			Content:   "secret",
			Owner:     owner,
			Viewers:   viewers,
			CreatedAt: base,
			UpdatedAt: updated,
		})
		require.NoError(t, err)
		return id
	}

	older := create(user, nil, base.Add(time.Hour))
	newer := create(user, nil, base.Add(3*time.Hour))
	shared := create(other, []string{user}, base.Add(2*time.Hour))
	create(other, nil, base.Add(4*time.Hour))

	docs, err := s.ListForUser(ctx, user)
	require.NoError(t, err)

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
		assert.Empty(t, doc.Content, "list view must omit content")
	}
	assert.Equal(t, []string{newer, shared, older}, ids)

	none, err := s.ListForUser(ctx, "nobody-"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testSave(t *testing.T, s Store) {
	ctx := context.Background()
	id, err := s.Create(ctx, &core.Document{ID: newID(), Title: "before", Content: "keep", Owner: "o"})
	require.NoError(t, err)

	doc, err := s.FindID(ctx, id)
	require.NoError(t, err)
	doc.Title = "after"
	doc.Share([]string{"e1"}, []string{"v1", "v2"})
	require.NoError(t, s.Save(ctx, doc))

	saved, err := s.FindID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "after", saved.Title)
	assert.Equal(t, "keep", saved.Content)
	assert.Equal(t, []string{"e1"}, saved.Editors)
	assert.Equal(t, []string{"v1", "v2"}, saved.Viewers)

	err = s.Save(ctx, &core.Document{ID: newID(), Title: "ghost"})
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
}

func testDelete(t *testing.T, s Store) {
	ctx := context.Background()
	id, err := s.Create(ctx, &core.Document{ID: newID(), Title: "bye"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))

	_, err = s.FindID(ctx, id)
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
	assert.ErrorIs(t, s.Delete(ctx, id), core.ErrDocumentNotFound)
}

func testRooms(t *testing.T, s Store) {
	ctx := context.Background()
	first, second := newID(), newID()

	require.NoError(t, s.TouchRoom(ctx, first))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.TouchRoom(ctx, second))

	rooms, err := s.ListRooms(ctx)
	require.NoError(t, err)

	positions := map[string]int{}
	for i, room := range rooms {
		positions[room.ID] = i
		assert.Positive(t, room.LastActive)
	}
	require.Contains(t, positions, first)
	require.Contains(t, positions, second)
	assert.Less(t, positions[second], positions[first])

	assert.Error(t, s.TouchRoom(ctx, ""))
}
