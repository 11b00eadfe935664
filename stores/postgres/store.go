package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codecollab-server/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		editors TEXT[] NOT NULL DEFAULT '{}',
		viewers TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS documents_owner_idx ON documents (owner)`,
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		last_active BIGINT NOT NULL
	)`,
}

const selectDocument = `SELECT id, title, content, owner, editors, viewers, created_at, updated_at FROM documents`

type pgStore struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool for databaseURL and creates the tables.
func NewStore(ctx context.Context, databaseURL string) (*pgStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return &pgStore{pool: pool}, nil
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *pgStore) FetchOrCreate(ctx context.Context, id string) (*core.Document, error) {
	if id == "" {
		return nil, core.ErrInvalidDocumentID
	}
	log := logrus.WithField("document_id", id)

	def := core.NewDefaultDocument(id)
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, title, content, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		id, def.Title, def.Content, def.CreatedAt, def.UpdatedAt)
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return nil, err
	}
	if tag.RowsAffected() > 0 {
		log.Info("Document created successfully")
	}

	return s.FindID(ctx, id)
}

func (s *pgStore) UpdateContent(ctx context.Context, id, content string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE documents SET content = $1, updated_at = $2 WHERE id = $3",
		content, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
	}
	return nil
}

func (s *pgStore) Create(ctx context.Context, document *core.Document) (string, error) {
	doc := document.Clone()
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	doc.Normalize(time.Now().UTC())

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, title, content, owner, editors, viewers, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		doc.ID, doc.Title, doc.Content, doc.Owner, doc.Editors, doc.Viewers, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		return "", fmt.Errorf("document with id %s: %w", doc.ID, core.ErrDocumentExists)
	}

	logrus.WithFields(logrus.Fields{
		"document_id":    doc.ID,
		"content_length": len(doc.Content),
	}).Info("Document created successfully")
	return doc.ID, nil
}

func (s *pgStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	doc, err := scanDocument(s.pool.QueryRow(ctx, selectDocument+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
		}
		return nil, err
	}

	log.Debug("Document retrieved successfully")
	return doc, nil
}

func (s *pgStore) ListForUser(ctx context.Context, userID string) ([]*core.Document, error) {
	docs := make([]*core.Document, 0)
	if userID == "" {
		return docs, nil
	}

	rows, err := s.pool.Query(ctx, selectDocument+`
		WHERE owner = $1 OR $1 = ANY(editors) OR $1 = ANY(viewers)
		ORDER BY updated_at DESC, id`, userID)
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

func (s *pgStore) Save(ctx context.Context, document *core.Document) error {
	editors, viewers := document.Editors, document.Viewers
	if editors == nil {
		editors = []string{}
	}
	if viewers == nil {
		viewers = []string{}
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE documents SET title = $1, owner = $2, editors = $3, viewers = $4, updated_at = $5 WHERE id = $6",
		document.Title, document.Owner, editors, viewers, time.Now().UTC(), document.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document with id %s: %w", document.ID, core.ErrDocumentNotFound)
	}

	logrus.WithField("document_id", document.ID).Info("Document saved successfully")
	return nil
}

func (s *pgStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
	}

	logrus.WithField("document_id", id).Info("Document deleted successfully")
	return nil
}

func (s *pgStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (id, last_active) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET last_active = EXCLUDED.last_active`,
		roomID, time.Now().UnixMilli())
	return err
}

func (s *pgStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, last_active FROM rooms ORDER BY last_active DESC, id")
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Room, error) {
		var room core.Room
		err := row.Scan(&room.ID, &room.LastActive)
		return room, err
	})
}

func scanDocument(row pgx.Row) (*core.Document, error) {
	var doc core.Document
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Owner, &doc.Editors, &doc.Viewers, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	doc.Normalize(doc.CreatedAt)
	return &doc, nil
}
