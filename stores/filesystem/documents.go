package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"codecollab-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	documentsDir = "documents"
	roomsFile    = "rooms.json"
)

// documentStore keeps one JSON file per document under basePath/documents.
// Writes go through a temp file and a rename so readers never see a
// partial document.
type documentStore struct {
	basePath string

	mu      sync.Mutex
	roomsMu sync.Mutex
}

func NewDocumentStore(basePath string) (*documentStore, error) {
	if err := os.MkdirAll(filepath.Join(basePath, documentsDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &documentStore{basePath: basePath}, nil
}

func (s *documentStore) FetchOrCreate(ctx context.Context, id string) (*core.Document, error) {
	filePath, err := s.documentPath(id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"document_id": id, "file_path": filePath})

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := readDocument(filePath)
	if err == nil {
		log.Debug("Document retrieved successfully")
		return doc, nil
	}
	if !errors.Is(err, core.ErrDocumentNotFound) {
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}

	doc = core.NewDefaultDocument(id)
	if err := createExclusive(filePath, doc); err != nil {
		if errors.Is(err, os.ErrExist) {
			// Another process created it first.
			return readDocument(filePath)
		}
		log.WithError(err).Error("Failed to create document")
		return nil, err
	}

	log.Info("Document created successfully")
	return doc, nil
}

func (s *documentStore) UpdateContent(ctx context.Context, id, content string) error {
	return s.update(id, func(doc *core.Document) {
		doc.Content = content
	})
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) (string, error) {
	doc := document.Clone()
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	doc.Normalize(time.Now().UTC())

	filePath, err := s.documentPath(doc.ID)
	if err != nil {
		return "", err
	}
	log := logrus.WithFields(logrus.Fields{"document_id": doc.ID, "file_path": filePath})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := createExclusive(filePath, doc); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("document with id %s: %w", doc.ID, core.ErrDocumentExists)
		}
		log.WithError(err).Error("Failed to create document")
		return "", err
	}

	log.Info("Document created successfully")
	return doc.ID, nil
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	filePath, err := s.documentPath(id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("document_id", id)

	doc, err := readDocument(filePath)
	if err != nil {
		if errors.Is(err, core.ErrDocumentNotFound) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
		} else {
			log.WithError(err).Error("Failed to retrieve document")
		}
		return nil, err
	}

	log.Info("Document retrieved successfully")
	return doc, nil
}

func (s *documentStore) ListForUser(ctx context.Context, userID string) ([]*core.Document, error) {
	dir := filepath.Join(s.basePath, documentsDir)
	log := logrus.WithFields(logrus.Fields{"user_id": userID, "path": dir})

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.WithError(err).Error("Failed to read documents directory")
		return nil, err
	}

	docs := make([]*core.Document, 0)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		doc, err := readDocument(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.WithError(err).Warnf("Failed to read document file %s, skipping", entry.Name())
			continue
		}
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

	log.Infof("Listed %d documents", len(docs))
	return docs, nil
}

func (s *documentStore) Save(ctx context.Context, document *core.Document) error {
	return s.update(document.ID, func(doc *core.Document) {
		doc.Title = document.Title
		doc.Owner = document.Owner
		doc.Editors = append([]string{}, document.Editors...)
		doc.Viewers = append([]string{}, document.Viewers...)
	})
}

func (s *documentStore) Delete(ctx context.Context, id string) error {
	filePath, err := s.documentPath(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
		}
		return err
	}

	logrus.WithField("document_id", id).Info("Document deleted successfully")
	return nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	s.roomsMu.Lock()
	defer s.roomsMu.Unlock()

	rooms, err := s.readRooms()
	if err != nil {
		return err
	}
	rooms[roomID] = time.Now().UnixMilli()
	return writeJSONAtomic(filepath.Join(s.basePath, roomsFile), rooms)
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.roomsMu.Lock()
	stored, err := s.readRooms()
	s.roomsMu.Unlock()
	if err != nil {
		return nil, err
	}

	rooms := make([]core.Room, 0, len(stored))
	for id, last := range stored {
		rooms = append(rooms, core.Room{ID: id, LastActive: last})
	}
	core.SortRooms(rooms)
	return rooms, nil
}

func (s *documentStore) update(id string, mutate func(doc *core.Document)) error {
	filePath, err := s.documentPath(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := readDocument(filePath)
	if err != nil {
		return err
	}
	mutate(doc)
	doc.UpdatedAt = time.Now().UTC()

	if err := writeJSONAtomic(filePath, doc); err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to write document")
		return err
	}
	return nil
}

func (s *documentStore) readRooms() (map[string]int64, error) {
	rooms := make(map[string]int64)
	data, err := os.ReadFile(filepath.Join(s.basePath, roomsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return rooms, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

// documentPath maps an id to its file, rejecting ids that would escape the
// documents directory.
func (s *documentStore) documentPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return "", fmt.Errorf("document id %q: %w", id, core.ErrInvalidDocumentID)
	}
	return filepath.Join(s.basePath, documentsDir, id+".json"), nil
}

func readDocument(filePath string) (*core.Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			id := strings.TrimSuffix(filepath.Base(filePath), ".json")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
		}
		return nil, err
	}

	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filePath, err)
	}
	return &doc, nil
}

// createExclusive writes v to a temp file and links it into place, failing
// with os.ErrExist if filePath already exists.
func createExclusive(filePath string, v any) error {
	tmp, err := writeTemp(filePath, v)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	return os.Link(tmp, filePath)
}

func writeJSONAtomic(filePath string, v any) error {
	tmp, err := writeTemp(filePath, v)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func writeTemp(filePath string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(filepath.Dir(filePath), ".tmp-*")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
