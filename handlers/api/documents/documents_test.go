package documents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codecollab-server/core"
	"codecollab-server/middleware"
	"codecollab-server/stores/memory"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("documents-test")

type testServer struct {
	t      *testing.T
	router http.Handler
	repo   core.DocumentRepository
}

func newTestServer(t *testing.T, repo core.DocumentRepository) *testServer {
	r := chi.NewRouter()
	r.With(middleware.AuthJWT(testSecret)).Mount("/api/documents", Routes(repo))
	return &testServer{t: t, router: r, repo: repo}
}

func (s *testServer) do(method, path, userID, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		token, err := middleware.CreateJWT(testSecret, userID, userID+"-name", time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeDocument(t *testing.T, rec *httptest.ResponseRecorder) core.Document {
	t.Helper()
	var doc core.Document
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	return doc
}

func (s *testServer) create(owner, body string) core.Document {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/documents", owner, body)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeDocument(s.t, rec)
}

func TestHandleCreate(t *testing.T) {
	srv := newTestServer(t, memory.NewDocumentStore())

	doc := srv.create("alice", "")
	assert.Equal(t, core.DefaultTitle, doc.Title)
	assert.Equal(t, "alice", doc.Owner)
	assert.Len(t, doc.ID, 26)
	assert.Empty(t, doc.Editors)

	doc = srv.create("alice", `{"title":"  Plan  ","content":"x = 1"}`)
	assert.Equal(t, "Plan", doc.Title)
	assert.Equal(t, "x = 1", doc.Content)
}

func TestHandleCreate_InvalidBody(t *testing.T) {
	srv := newTestServer(t, memory.NewDocumentStore())

	rec := srv.do(http.MethodPost, "/api/documents", "alice", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid request body"}`, rec.Body.String())
}

func TestRequiresToken(t *testing.T) {
	srv := newTestServer(t, memory.NewDocumentStore())

	rec := srv.do(http.MethodGet, "/api/documents", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleList(t *testing.T) {
	srv := newTestServer(t, memory.NewDocumentStore())

	own := srv.create("alice", `{"title":"mine"}`)
	theirs := srv.create("bob", `{"title":"theirs"}`)
	srv.create("bob", `{"title":"private"}`)

	rec := srv.do(http.MethodPost, "/api/documents/"+theirs.ID+"/share", "bob", `{"viewerIds":["alice"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(http.MethodGet, "/api/documents", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var docs []core.Document
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&docs))
	require.Len(t, docs, 2)
	assert.Equal(t, theirs.ID, docs[0].ID, "most recently updated first")
	assert.Equal(t, own.ID, docs[1].ID)

	rec = srv.do(http.MethodGet, "/api/documents", "carol", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandleGet(t *testing.T) {
	srv := newTestServer(t, memory.NewDocumentStore())
	doc := srv.create("alice", `{"title":"t","content":"body"}`)

	rec := srv.do(http.MethodGet, "/api/documents/"+doc.ID, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "body", decodeDocument(t, rec).Content)

	rec = srv.do(http.MethodGet, "/api/documents/"+doc.ID, "mallory", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(http.MethodGet, "/api/documents/missing", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Document not found"}`, rec.Body.String())
}

func TestHandleUpdate(t *testing.T) {
	srv := newTestServer(t, memory.NewDocumentStore())
	doc := srv.create("alice", `{"title":"old"}`)

	rec := srv.do(http.MethodPost, "/api/documents/"+doc.ID+"/share", "alice", `{"editorIds":["bob"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(http.MethodPut, "/api/documents/"+doc.ID, "bob", `{"title":"hijack"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code, "editors cannot change metadata")

	rec = srv.do(http.MethodPut, "/api/documents/"+doc.ID, "alice", `{"title":"new"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new", decodeDocument(t, rec).Title)

	rec = srv.do(http.MethodPut, "/api/documents/"+doc.ID, "alice", `{"title":"   "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new", decodeDocument(t, rec).Title, "blank title is ignored")

	rec = srv.do(http.MethodPut, "/api/documents/missing", "alice", `{"title":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDelete(t *testing.T) {
	srv := newTestServer(t, memory.NewDocumentStore())
	doc := srv.create("alice", "")

	rec := srv.do(http.MethodDelete, "/api/documents/"+doc.ID, "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(http.MethodDelete, "/api/documents/"+doc.ID, "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.do(http.MethodGet, "/api/documents/"+doc.ID, "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(http.MethodDelete, "/api/documents/"+doc.ID, "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleShare(t *testing.T) {
	srv := newTestServer(t, memory.NewDocumentStore())
	doc := srv.create("alice", "")
	path := "/api/documents/" + doc.ID + "/share"

	rec := srv.do(http.MethodPost, path, "alice", `{"editorIds":["bob","bob",""],"viewerIds":["carol"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(http.MethodPost, path, "alice", `{"editorIds":["dave","bob"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	shared := decodeDocument(t, rec)
	assert.Equal(t, []string{"bob", "dave"}, shared.Editors)
	assert.Equal(t, []string{"carol"}, shared.Viewers)

	rec = srv.do(http.MethodPost, path, "bob", `{"viewerIds":["eve"]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(http.MethodGet, "/api/documents/"+doc.ID, "carol", "")
	assert.Equal(t, http.StatusOK, rec.Code, "viewers can read")
}

// failingRepo fails every call with a storage error.
type failingRepo struct{}

var errBackend = errors.New("backend down")

func (failingRepo) Create(ctx context.Context, d *core.Document) (string, error) { return "", errBackend }
func (failingRepo) FindID(ctx context.Context, id string) (*core.Document, error) {
	return nil, errBackend
}
func (failingRepo) ListForUser(ctx context.Context, userID string) ([]*core.Document, error) {
	return nil, errBackend
}
func (failingRepo) Save(ctx context.Context, d *core.Document) error { return errBackend }
func (failingRepo) Delete(ctx context.Context, id string) error      { return errBackend }

func TestRepositoryFailures(t *testing.T) {
	srv := newTestServer(t, failingRepo{})

	tests := []struct {
		method, path, body string
		wantError          string
	}{
		{http.MethodPost, "/api/documents", "", "Failed to create document"},
		{http.MethodGet, "/api/documents", "", "Failed to list documents"},
		{http.MethodGet, "/api/documents/x", "", "Internal server error"},
		{http.MethodDelete, "/api/documents/x", "", "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := srv.do(tt.method, tt.path, "alice", tt.body)
			assert.Equal(t, http.StatusInternalServerError, rec.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantError, body["error"])
		})
	}
}
