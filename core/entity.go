package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

const (
	// StarterContent seeds documents created on first join.
	StarterContent = "// Welcome to Real-time Code Editor\nconsole.log(\"Hello World!\");"

	// DefaultTitle is used by the HTTP API when a create request has no title.
	DefaultTitle = "Untitled"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidDocumentID = errors.New("invalid document id")
	ErrDocumentExists    = errors.New("document already exists")
)

type (
	// Document is a shared text document and its access lists.
	Document struct {
		ID        string    `json:"id"`
		Title     string    `json:"title"`
		Content   string    `json:"content"`
		Owner     string    `json:"owner,omitempty"`
		Editors   []string  `json:"editors"`
		Viewers   []string  `json:"viewers"`
		CreatedAt time.Time `json:"createdAt"`
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// DocumentStore is the narrow persistence surface used by the
	// collaboration layer.
	DocumentStore interface {
		// FetchOrCreate returns the document with the given id, creating it
		// with NewDefaultDocument when absent. Concurrent calls for the same
		// id observe a single document.
		FetchOrCreate(ctx context.Context, id string) (*Document, error)

		// UpdateContent replaces the content of an existing document.
		// The last completed call wins.
		UpdateContent(ctx context.Context, id, content string) error
	}

	// DocumentRepository is the metadata surface used by the HTTP API.
	DocumentRepository interface {
		// Create stores a new document and returns its id. An empty
		// document.ID is replaced by a generated one.
		Create(ctx context.Context, document *Document) (string, error)

		// FindID returns ErrDocumentNotFound (wrapped) for unknown ids.
		FindID(ctx context.Context, id string) (*Document, error)

		// ListForUser returns documents the user owns, edits or views,
		// most recently updated first. Content is omitted.
		ListForUser(ctx context.Context, userID string) ([]*Document, error)

		// Save updates title and access lists of an existing document.
		Save(ctx context.Context, document *Document) error

		Delete(ctx context.Context, id string) error
	}

	Room struct {
		ID         string
		LastActive int64
	}

	// RoomRegistry records when rooms were last active.
	RoomRegistry interface {
		ListRooms(ctx context.Context) ([]Room, error)
		TouchRoom(ctx context.Context, roomID string) error
	}
)

// NewDefaultDocument builds the document created when a room is joined
// for an id that does not exist yet.
func NewDefaultDocument(id string) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:        id,
		Title:     fmt.Sprintf("Document %s", id),
		Content:   StarterContent,
		Editors:   []string{},
		Viewers:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanAccess reports whether userID is the owner, an editor or a viewer.
func (d *Document) CanAccess(userID string) bool {
	if userID == "" {
		return false
	}
	if d.Owner == userID {
		return true
	}
	for _, id := range d.Editors {
		if id == userID {
			return true
		}
	}
	for _, id := range d.Viewers {
		if id == userID {
			return true
		}
	}
	return false
}

// IsOwner reports whether userID owns the document.
func (d *Document) IsOwner(userID string) bool {
	return userID != "" && d.Owner == userID
}

// Share merges editor and viewer ids into the access lists, keeping each
// id once and preserving first-seen order.
func (d *Document) Share(editorIDs, viewerIDs []string) {
	d.Editors = mergeUnique(d.Editors, editorIDs)
	d.Viewers = mergeUnique(d.Viewers, viewerIDs)
}

// Metadata returns a copy without content, for list views.
func (d *Document) Metadata() *Document {
	return &Document{
		ID:        d.ID,
		Title:     d.Title,
		Owner:     d.Owner,
		Editors:   append([]string{}, d.Editors...),
		Viewers:   append([]string{}, d.Viewers...),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// Normalize fills zero timestamps and nil access lists before a store
// writes a new document.
func (d *Document) Normalize(now time.Time) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	if d.Editors == nil {
		d.Editors = []string{}
	}
	if d.Viewers == nil {
		d.Viewers = []string{}
	}
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	c := d.Metadata()
	c.Content = d.Content
	return c
}

// SortRooms orders rooms by most recent activity, then id.
func SortRooms(rooms []Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})
}

func mergeUnique(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(extra))
	out := make([]string, 0, len(existing)+len(extra))
	for _, list := range [][]string{existing, extra} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
