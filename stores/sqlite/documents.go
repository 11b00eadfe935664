package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codecollab-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	editors TEXT NOT NULL DEFAULT '[]',
	viewers TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	last_active INTEGER NOT NULL
	)`,
}

const selectDocument = `SELECT id, title, content, owner, editors, viewers, created_at, updated_at FROM documents`

type documentStore struct {
	db *sql.DB
}

func NewDocumentStore(dataSourceName string) (*documentStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return &documentStore{db}, nil
}

func (s *documentStore) Close() error {
	return s.db.Close()
}

func (s *documentStore) FetchOrCreate(ctx context.Context, id string) (*core.Document, error) {
	if id == "" {
		return nil, core.ErrInvalidDocumentID
	}
	log := logrus.WithField("document_id", id)

	doc := core.NewDefaultDocument(id)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, owner, editors, viewers, created_at, updated_at)
		 VALUES (?, ?, ?, '', '[]', '[]', ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, doc.Title, doc.Content, doc.CreatedAt.UnixMilli(), doc.UpdatedAt.UnixMilli())
	if err != nil {
		log.WithField("error", err).Error("Failed to create document")
		return nil, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Info("Document created successfully")
	}

	return s.FindID(ctx, id)
}

func (s *documentStore) UpdateContent(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET content = ?, updated_at = ? WHERE id = ?",
		content, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	return expectRow(res, id)
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) (string, error) {
	doc := document.Clone()
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	doc.Normalize(time.Now().UTC())

	editors, viewers, err := encodeAccess(doc)
	if err != nil {
		return "", err
	}

	log := logrus.WithFields(logrus.Fields{
		"document_id":    doc.ID,
		"content_length": len(doc.Content),
	})

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, owner, editors, viewers, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		doc.ID, doc.Title, doc.Content, doc.Owner, editors, viewers,
		doc.CreatedAt.UnixMilli(), doc.UpdatedAt.UnixMilli())
	if err != nil {
		log.WithField("error", err).Error("Failed to create document")
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("document with id %s: %w", doc.ID, core.ErrDocumentExists)
	}

	log.Info("Document created successfully")
	return doc.ID, nil
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	log.Debug("Retrieving document by ID")

	doc, err := scanDocument(s.db.QueryRowContext(ctx, selectDocument+" WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
		}
		log.WithField("error", err).Error("Failed to retrieve document")
		return nil, err
	}

	log.Debug("Document retrieved successfully")
	return doc, nil
}

func (s *documentStore) ListForUser(ctx context.Context, userID string) ([]*core.Document, error) {
	docs := make([]*core.Document, 0)
	if userID == "" {
		return docs, nil
	}

	rows, err := s.db.QueryContext(ctx, selectDocument+`
		WHERE owner = ?
		   OR EXISTS (SELECT 1 FROM json_each(documents.editors) WHERE value = ?)
		   OR EXISTS (SELECT 1 FROM json_each(documents.viewers) WHERE value = ?)
		ORDER BY updated_at DESC, id`,
		userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc.Metadata())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logrus.WithField("user_id", userID).Infof("Listed %d documents", len(docs))
	return docs, nil
}

func (s *documentStore) Save(ctx context.Context, document *core.Document) error {
	editors, viewers, err := encodeAccess(document)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET title = ?, owner = ?, editors = ?, viewers = ?, updated_at = ? WHERE id = ?",
		document.Title, document.Owner, editors, viewers, time.Now().UnixMilli(), document.ID)
	if err != nil {
		return err
	}
	if err := expectRow(res, document.ID); err != nil {
		return err
	}

	logrus.WithField("document_id", document.ID).Info("Document saved successfully")
	return nil
}

func (s *documentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return err
	}
	if err := expectRow(res, id); err != nil {
		return err
	}

	logrus.WithField("document_id", id).Info("Document deleted successfully")
	return nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, last_active) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_active = excluded.last_active`,
		roomID, time.Now().UnixMilli())
	return err
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, last_active FROM rooms ORDER BY last_active DESC, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]core.Room, 0)
	for rows.Next() {
		var room core.Room
		if err := rows.Scan(&room.ID, &room.LastActive); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*core.Document, error) {
	var (
		doc                core.Document
		editors, viewers   string
		createdAt, updated int64
	)
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Owner, &editors, &viewers, &createdAt, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(editors), &doc.Editors); err != nil {
		return nil, fmt.Errorf("decode editors of %s: %w", doc.ID, err)
	}
	if err := json.Unmarshal([]byte(viewers), &doc.Viewers); err != nil {
		return nil, fmt.Errorf("decode viewers of %s: %w", doc.ID, err)
	}
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	doc.UpdatedAt = time.UnixMilli(updated).UTC()
	return &doc, nil
}

func encodeAccess(doc *core.Document) (string, string, error) {
	editors, err := json.Marshal(nonNil(doc.Editors))
	if err != nil {
		return "", "", err
	}
	viewers, err := json.Marshal(nonNil(doc.Viewers))
	if err != nil {
		return "", "", err
	}
	return string(editors), string(viewers), nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func expectRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
	}
	return nil
}
