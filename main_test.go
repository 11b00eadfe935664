package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"codecollab-server/collab"
	"codecollab-server/config"
	"codecollab-server/handlers/websocket"
	"codecollab-server/stores"
	"codecollab-server/stores/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(cfg *config.Config) http.Handler {
	store := memory.NewDocumentStore()
	manager := collab.NewManager(store, collab.WithRoomRegistry(store))
	return setupRouter(cfg, store, manager, store)
}

func serve(h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(newRouter(&config.Config{}), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRoomsEndpoint(t *testing.T) {
	rec := serve(newRouter(&config.Config{}), http.MethodGet, "/api/rooms", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(&config.Config{})
	serve(r, http.MethodGet, "/healthz", nil)

	rec := serve(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "codecollab_http_requests_total")
}

func TestDocumentsRequireSecret(t *testing.T) {
	rec := serve(newRouter(&config.Config{}), http.MethodGet, "/api/documents", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(newRouter(&config.Config{JWTSecret: "s"}), http.MethodGet, "/api/documents", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORS(t *testing.T) {
	r := newRouter(&config.Config{CORSOrigins: []string{"https://app.example.com"}})

	tests := []struct {
		origin string
		allow  bool
	}{
		{"https://app.example.com", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"https://evil.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			rec := serve(r, http.MethodGet, "/healthz", http.Header{"Origin": {tt.origin}})
			if tt.allow {
				assert.Equal(t, tt.origin, rec.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

// closingStore counts content writes that land after Close.
type closingStore struct {
	stores.Store

	mu         sync.Mutex
	closed     bool
	lateWrites int
}

func (s *closingStore) UpdateContent(ctx context.Context, id, content string) error {
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	if s.closed {
		s.lateWrites++
	}
	s.mu.Unlock()
	return s.Store.UpdateContent(ctx, id, content)
}

func (s *closingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type nopConn struct{ id string }

func (c nopConn) ID() string { return c.id }

func (c nopConn) Emit(event string, payload any) error { return nil }

func TestShutdownFlushesWritesBeforeClosingStores(t *testing.T) {
	store := &closingStore{Store: memory.NewDocumentStore()}
	manager := collab.NewManager(store)
	ioo, sessions := websocket.SetupSocketIO(manager, &config.Config{MaxHTTPBufferSize: 1 << 20})
	ioo.ServeHandler(nil)

	ctx := context.Background()
	conn := nopConn{id: "a"}
	manager.Connect(conn)
	require.NoError(t, manager.Join(ctx, conn, collab.JoinRequest{DocumentID: "doc"}))
	require.NoError(t, manager.EditContent(conn, collab.CodeChange{DocumentID: "doc", Code: "final"}))

	shutdown(ctx, &http.Server{}, ioo, sessions, manager, store, store)

	store.mu.Lock()
	assert.True(t, store.closed)
	assert.Zero(t, store.lateWrites)
	store.mu.Unlock()

	doc, err := store.FindID(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "final", doc.Content)
}
