package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"codecollab-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type documentStore struct {
	mu        sync.RWMutex
	documents map[string]*core.Document
	rooms     map[string]int64
}

func NewDocumentStore() *documentStore {
	return &documentStore{
		documents: make(map[string]*core.Document),
		rooms:     make(map[string]int64),
	}
}

func (s *documentStore) FetchOrCreate(ctx context.Context, id string) (*core.Document, error) {
	if id == "" {
		return nil, core.ErrInvalidDocumentID
	}
	log := logrus.WithField("document_id", id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if doc, ok := s.documents[id]; ok {
		log.Debug("Document retrieved successfully")
		return doc.Clone(), nil
	}

	doc := core.NewDefaultDocument(id)
	s.documents[id] = doc
	log.Info("Document created successfully")
	return doc.Clone(), nil
}

func (s *documentStore) UpdateContent(ctx context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
	}
	doc.Content = content
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) (string, error) {
	doc := document.Clone()
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	doc.Normalize(time.Now().UTC())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[doc.ID]; exists {
		return "", fmt.Errorf("document with id %s: %w", doc.ID, core.ErrDocumentExists)
	}
	s.documents[doc.ID] = doc

	logrus.WithFields(logrus.Fields{
		"document_id":    doc.ID,
		"content_length": len(doc.Content),
	}).Info("Document created successfully")
	return doc.ID, nil
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	s.mu.RLock()
	doc, ok := s.documents[id]
	s.mu.RUnlock()

	if !ok {
		log.WithField("error", "document not found").Warn("Document with specified ID not found")
		return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
	}

	log.Info("Document retrieved successfully")
	return doc.Clone(), nil
}

func (s *documentStore) ListForUser(ctx context.Context, userID string) ([]*core.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := make([]*core.Document, 0)
	for _, doc := range s.documents {
		if doc.CanAccess(userID) {
			docs = append(docs, doc.Metadata())
		}
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})

	logrus.WithField("user_id", userID).Infof("Listed %d documents", len(docs))
	return docs, nil
}

func (s *documentStore) Save(ctx context.Context, document *core.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[document.ID]
	if !ok {
		return fmt.Errorf("document with id %s: %w", document.ID, core.ErrDocumentNotFound)
	}

	doc.Title = document.Title
	doc.Owner = document.Owner
	doc.Editors = append([]string{}, document.Editors...)
	doc.Viewers = append([]string{}, document.Viewers...)
	doc.UpdatedAt = time.Now().UTC()

	logrus.WithField("document_id", doc.ID).Info("Document saved successfully")
	return nil
}

func (s *documentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
	}
	delete(s.documents, id)

	logrus.WithField("document_id", id).Info("Document deleted successfully")
	return nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	s.mu.Lock()
	s.rooms[roomID] = time.Now().UnixMilli()
	s.mu.Unlock()

	return nil
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.Room, 0, len(s.rooms))
	for id, last := range s.rooms {
		rooms = append(rooms, core.Room{ID: id, LastActive: last})
	}

	core.SortRooms(rooms)
	return rooms, nil
}
