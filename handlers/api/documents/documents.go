package documents

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"codecollab-server/core"
	"codecollab-server/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	createRequest struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}

	updateRequest struct {
		Title *string `json:"title"`
	}

	shareRequest struct {
		EditorIDs []string `json:"editorIds"`
		ViewerIDs []string `json:"viewerIds"`
	}
)

// Routes mounts the document API. Callers must wrap it with
// middleware.AuthJWT.
func Routes(repo core.DocumentRepository) chi.Router {
	r := chi.NewRouter()
	r.Post("/", HandleCreate(repo))
	r.Get("/", HandleList(repo))
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", HandleGet(repo))
		r.Put("/", HandleUpdate(repo))
		r.Delete("/", HandleDelete(repo))
		r.Post("/share", HandleShare(repo))
	})
	return r
}

func HandleCreate(repo core.DocumentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		var req createRequest
		if !decodeBody(w, r, &req) {
			return
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = core.DefaultTitle
		}

		doc := &core.Document{
			Title:   title,
			Content: req.Content,
			Owner:   claims.Subject,
		}
		id, err := repo.Create(r.Context(), doc)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"user_id": claims.Subject,
			}).Error("Failed to create document")
			renderError(w, r, http.StatusInternalServerError, "Failed to create document")
			return
		}

		created, err := repo.FindID(r.Context(), id)
		if err != nil {
			renderRepoError(w, r, err, id)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, created)
	}
}

func HandleList(repo core.DocumentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		docs, err := repo.ListForUser(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"error":   err,
				"user_id": claims.Subject,
			}).Error("Failed to list documents")
			renderError(w, r, http.StatusInternalServerError, "Failed to list documents")
			return
		}

		if docs == nil {
			docs = []*core.Document{}
		}
		render.JSON(w, r, docs)
	}
}

func HandleGet(repo core.DocumentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		doc, ok := loadDocument(w, r, repo)
		if !ok {
			return
		}
		if !doc.CanAccess(claims.Subject) {
			renderError(w, r, http.StatusForbidden, "Access denied")
			return
		}

		render.JSON(w, r, doc)
	}
}

func HandleUpdate(repo core.DocumentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		var req updateRequest
		if !decodeBody(w, r, &req) {
			return
		}

		doc, ok := loadOwned(w, r, repo, claims.Subject)
		if !ok {
			return
		}

		if req.Title != nil {
			if title := strings.TrimSpace(*req.Title); title != "" {
				doc.Title = title
			}
		}

		saveAndRender(w, r, repo, doc)
	}
}

func HandleDelete(repo core.DocumentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		doc, ok := loadOwned(w, r, repo, claims.Subject)
		if !ok {
			return
		}

		if err := repo.Delete(r.Context(), doc.ID); err != nil {
			renderRepoError(w, r, err, doc.ID)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleShare(repo core.DocumentRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := requireClaims(w, r)
		if !ok {
			return
		}

		var req shareRequest
		if !decodeBody(w, r, &req) {
			return
		}

		doc, ok := loadOwned(w, r, repo, claims.Subject)
		if !ok {
			return
		}

		doc.Share(req.EditorIDs, req.ViewerIDs)
		saveAndRender(w, r, repo, doc)
	}
}

func requireClaims(w http.ResponseWriter, r *http.Request) (*middleware.AppClaims, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		renderError(w, r, http.StatusUnauthorized, "User claims not found")
		return nil, false
	}
	return claims, true
}

func loadDocument(w http.ResponseWriter, r *http.Request, repo core.DocumentRepository) (*core.Document, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		renderError(w, r, http.StatusBadRequest, "Document id is required")
		return nil, false
	}

	doc, err := repo.FindID(r.Context(), id)
	if err != nil {
		renderRepoError(w, r, err, id)
		return nil, false
	}
	return doc, true
}

func loadOwned(w http.ResponseWriter, r *http.Request, repo core.DocumentRepository, userID string) (*core.Document, bool) {
	doc, ok := loadDocument(w, r, repo)
	if !ok {
		return nil, false
	}
	if !doc.IsOwner(userID) {
		renderError(w, r, http.StatusForbidden, "Only the owner can modify this document")
		return nil, false
	}
	return doc, true
}

func saveAndRender(w http.ResponseWriter, r *http.Request, repo core.DocumentRepository, doc *core.Document) {
	if err := repo.Save(r.Context(), doc); err != nil {
		renderRepoError(w, r, err, doc.ID)
		return
	}

	saved, err := repo.FindID(r.Context(), doc.ID)
	if err != nil {
		renderRepoError(w, r, err, doc.ID)
		return
	}
	render.JSON(w, r, saved)
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		renderError(w, r, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func renderRepoError(w http.ResponseWriter, r *http.Request, err error, id string) {
	if errors.Is(err, core.ErrDocumentNotFound) {
		renderError(w, r, http.StatusNotFound, "Document not found")
		return
	}
	logrus.WithFields(logrus.Fields{
		"error":       err,
		"document_id": id,
	}).Error("Document repository error")
	renderError(w, r, http.StatusInternalServerError, "Internal server error")
}

func renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}
