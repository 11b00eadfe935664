package websocket

import (
	"context"
	"testing"
	"time"

	"codecollab-server/collab"
	"codecollab-server/core"
	"codecollab-server/stores/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowStore delays content writes so queued edits are still pending when
// shutdown starts.
type slowStore struct {
	core.DocumentStore
	delay time.Duration
}

func (s slowStore) UpdateContent(ctx context.Context, id, content string) error {
	time.Sleep(s.delay)
	return s.DocumentStore.UpdateContent(ctx, id, content)
}

func TestSessions_CloseDrainsQueuedEdits(t *testing.T) {
	docs := memory.NewDocumentStore()
	manager := collab.NewManager(slowStore{DocumentStore: docs, delay: 10 * time.Millisecond})
	sessions := NewSessions()

	conn := &recordingConn{id: "a"}
	s, ok := sessions.open(manager, conn, time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, sessions.Len())

	// Hold the queue so both events below are still pending at Close.
	release := make(chan struct{})
	s.queue.push(func() { <-release })
	s.dispatch(collab.EventJoinDocument, []any{map[string]any{"documentId": "doc"}})
	s.dispatch(collab.EventCodeChange, []any{map[string]any{"documentId": "doc", "code": "final"}})

	closed := make(chan error, 1)
	go func() { closed <- sessions.Close(context.Background()) }()
	close(release)

	require.NoError(t, <-closed)
	require.NoError(t, manager.Close(context.Background()))

	doc, err := docs.FindID(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, "final", doc.Content)

	_, member := manager.Registry().IsMember("doc", "a")
	assert.False(t, member, "disconnect runs as part of Close")
	assert.Eventually(t, func() bool { return sessions.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSessions_RejectsAfterClose(t *testing.T) {
	manager := collab.NewManager(memory.NewDocumentStore())
	sessions := NewSessions()
	require.NoError(t, sessions.Close(context.Background()))

	_, ok := sessions.open(manager, &recordingConn{id: "late"}, time.Second)
	assert.False(t, ok)
	assert.Equal(t, 0, sessions.Len())
}

func TestSessions_CloseHonoursContext(t *testing.T) {
	manager := collab.NewManager(memory.NewDocumentStore())
	sessions := NewSessions()

	s, ok := sessions.open(manager, &recordingConn{id: "stuck"}, time.Second)
	require.True(t, ok)
	release := make(chan struct{})
	defer close(release)
	s.queue.push(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sessions.Close(ctx), context.DeadlineExceeded)
}
