package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"codecollab-server/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	documentsPrefix = "documents/"
	roomsPrefix     = "rooms/"
)

// Client is the subset of the S3 API the store uses.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// s3Store keeps each document as a JSON object. Read-modify-write cycles
// are serialized per process; S3 offers no cross-writer locking, so two
// instances creating the same document both write the same default body.
type s3Store struct {
	client Client
	bucket string

	mu sync.Mutex
}

// NewStore creates an S3-backed store using the default AWS credential chain.
func NewStore(ctx context.Context, bucketName string) (*s3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewStoreWithClient(s3.NewFromConfig(cfg), bucketName), nil
}

func NewStoreWithClient(client Client, bucketName string) *s3Store {
	return &s3Store{client: client, bucket: bucketName}
}

func (s *s3Store) FetchOrCreate(ctx context.Context, id string) (*core.Document, error) {
	key, err := documentKey(id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithField("document_id", id)

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.get(ctx, key, id)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, core.ErrDocumentNotFound) {
		return nil, err
	}

	doc = core.NewDefaultDocument(id)
	if err := s.put(ctx, key, doc); err != nil {
		log.WithError(err).Error("Failed to create document")
		return nil, err
	}

	log.Info("Document created successfully")
	return doc, nil
}

func (s *s3Store) UpdateContent(ctx context.Context, id, content string) error {
	return s.update(ctx, id, func(doc *core.Document) {
		doc.Content = content
	})
}

func (s *s3Store) Create(ctx context.Context, document *core.Document) (string, error) {
	doc := document.Clone()
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	doc.Normalize(time.Now().UTC())

	key, err := documentKey(doc.ID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(ctx, key, doc.ID); err == nil {
		return "", fmt.Errorf("document with id %s: %w", doc.ID, core.ErrDocumentExists)
	} else if !errors.Is(err, core.ErrDocumentNotFound) {
		return "", err
	}

	if err := s.put(ctx, key, doc); err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"document_id":    doc.ID,
		"content_length": len(doc.Content),
	}).Info("Document created successfully")
	return doc.ID, nil
}

func (s *s3Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	key, err := documentKey(id)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, key, id)
}

func (s *s3Store) ListForUser(ctx context.Context, userID string) ([]*core.Document, error) {
	docs := make([]*core.Document, 0)

	keys, err := s.listKeys(ctx, documentsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	for _, key := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(key, documentsPrefix), ".json")
		doc, err := s.get(ctx, key, id)
		if err != nil {
			logrus.WithField("key", key).WithError(err).Warn("Failed to read document object, skipping")
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
	return docs, nil
}

func (s *s3Store) Save(ctx context.Context, document *core.Document) error {
	return s.update(ctx, document.ID, func(doc *core.Document) {
		doc.Title = document.Title
		doc.Owner = document.Owner
		doc.Editors = append([]string{}, document.Editors...)
		doc.Viewers = append([]string{}, document.Viewers...)
	})
}

func (s *s3Store) Delete(ctx context.Context, id string) error {
	key, err := documentKey(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// DeleteObject succeeds for missing keys.
	if _, err := s.get(ctx, key, id); err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (s *s3Store) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	key, err := objectKey(roomsPrefix, roomID)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(strconv.FormatInt(time.Now().UnixMilli(), 10)),
	})
	return err
}

func (s *s3Store) ListRooms(ctx context.Context) ([]core.Room, error) {
	keys, err := s.listKeys(ctx, roomsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	rooms := make([]core.Room, 0, len(keys))
	for _, key := range keys {
		data, err := s.read(ctx, key)
		if err != nil {
			logrus.WithField("key", key).WithError(err).Warn("Failed to read room object, skipping")
			continue
		}
		last, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			continue
		}
		rooms = append(rooms, core.Room{ID: strings.TrimPrefix(key, roomsPrefix), LastActive: last})
	}

	core.SortRooms(rooms)
	return rooms, nil
}

func (s *s3Store) update(ctx context.Context, id string, mutate func(doc *core.Document)) error {
	key, err := documentKey(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.get(ctx, key, id)
	if err != nil {
		return err
	}
	mutate(doc)
	doc.UpdatedAt = time.Now().UTC()

	if err := s.put(ctx, key, doc); err != nil {
		return fmt.Errorf("failed to save document %s: %w", id, err)
	}
	return nil
}

func (s *s3Store) get(ctx context.Context, key, id string) (*core.Document, error) {
	data, err := s.read(ctx, key)
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
		}
		return nil, fmt.Errorf("failed to get document with id %s: %w", id, err)
	}

	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document data: %w", err)
	}
	return &doc, nil
}

func (s *s3Store) read(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (s *s3Store) put(ctx context.Context, key string, doc *core.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *s3Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, object := range page.Contents {
			keys = append(keys, aws.ToString(object.Key))
		}
	}
	return keys, nil
}

func documentKey(id string) (string, error) {
	key, err := objectKey(documentsPrefix, id)
	if err != nil {
		return "", err
	}
	return key + ".json", nil
}

// objectKey rejects ids that are paths rather than plain names.
func objectKey(prefix, id string) (string, error) {
	if id == "" || id == "." || id == ".." || path.Base(id) != id {
		return "", fmt.Errorf("document id %q: %w", id, core.ErrInvalidDocumentID)
	}
	return prefix + id, nil
}
