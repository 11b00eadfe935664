package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codecollab-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	documentsCollection = "documents"
	roomsCollection     = "rooms"
)

type documentRecord struct {
	ID        string    `bson:"_id"`
	Title     string    `bson:"title"`
	Content   string    `bson:"content,omitempty"`
	Owner     string    `bson:"owner"`
	Editors   []string  `bson:"editors"`
	Viewers   []string  `bson:"viewers"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

func (r *documentRecord) document() *core.Document {
	doc := &core.Document{
		ID:        r.ID,
		Title:     r.Title,
		Content:   r.Content,
		Owner:     r.Owner,
		Editors:   r.Editors,
		Viewers:   r.Viewers,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	doc.Normalize(doc.CreatedAt)
	return doc
}

type roomRecord struct {
	ID         string `bson:"_id"`
	LastActive int64  `bson:"lastActive"`
}

type mongoStore struct {
	client    *mongo.Client
	documents *mongo.Collection
	rooms     *mongo.Collection
}

// NewStore connects to uri and prepares the collections in database.
func NewStore(ctx context.Context, uri, database string) (*mongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &mongoStore{
		client:    client,
		documents: db.Collection(documentsCollection),
		rooms:     db.Collection(roomsCollection),
	}

	_, err = s.documents.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner", Value: 1}}},
		{Keys: bson.D{{Key: "editors", Value: 1}}},
		{Keys: bson.D{{Key: "viewers", Value: 1}}},
	})
	if err != nil {
		logrus.WithError(err).Warn("Failed to create document indexes")
	}

	return s, nil
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *mongoStore) FetchOrCreate(ctx context.Context, id string) (*core.Document, error) {
	if id == "" {
		return nil, core.ErrInvalidDocumentID
	}
	log := logrus.WithField("document_id", id)

	def := core.NewDefaultDocument(id)
	update := bson.M{"$setOnInsert": bson.M{
		"title":     def.Title,
		"content":   def.Content,
		"owner":     "",
		"editors":   def.Editors,
		"viewers":   def.Viewers,
		"createdAt": def.CreatedAt,
		"updatedAt": def.UpdatedAt,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var record documentRecord
	err := s.documents.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&record)
	if mongo.IsDuplicateKeyError(err) {
		// Lost a concurrent upsert race; the winner's document exists now.
		err = s.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	}
	if err != nil {
		log.WithError(err).Error("Failed to fetch or create document")
		return nil, err
	}

	log.Debug("Document retrieved successfully")
	return record.document(), nil
}

func (s *mongoStore) UpdateContent(ctx context.Context, id, content string) error {
	res, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"content": content, "updatedAt": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
	}
	return nil
}

func (s *mongoStore) Create(ctx context.Context, document *core.Document) (string, error) {
	doc := document.Clone()
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	doc.Normalize(time.Now().UTC())

	_, err := s.documents.InsertOne(ctx, documentRecord{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		Owner:     doc.Owner,
		Editors:   doc.Editors,
		Viewers:   doc.Viewers,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("document with id %s: %w", doc.ID, core.ErrDocumentExists)
		}
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"document_id":    doc.ID,
		"content_length": len(doc.Content),
	}).Info("Document created successfully")
	return doc.ID, nil
}

func (s *mongoStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	var record documentRecord
	if err := s.documents.FindOne(ctx, bson.M{"_id": id}).Decode(&record); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
		}
		return nil, err
	}

	log.Debug("Document retrieved successfully")
	return record.document(), nil
}

func (s *mongoStore) ListForUser(ctx context.Context, userID string) ([]*core.Document, error) {
	docs := make([]*core.Document, 0)
	if userID == "" {
		return docs, nil
	}

	filter := bson.M{"$or": bson.A{
		bson.M{"owner": userID},
		bson.M{"editors": userID},
		bson.M{"viewers": userID},
	}}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetProjection(bson.M{"content": 0})

	cur, err := s.documents.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []documentRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, err
	}
	for i := range records {
		docs = append(docs, records[i].document())
	}

	logrus.WithField("user_id", userID).Infof("Listed %d documents", len(docs))
	return docs, nil
}

func (s *mongoStore) Save(ctx context.Context, document *core.Document) error {
	res, err := s.documents.UpdateOne(ctx,
		bson.M{"_id": document.ID},
		bson.M{"$set": bson.M{
			"title":     document.Title,
			"owner":     document.Owner,
			"editors":   nonNil(document.Editors),
			"viewers":   nonNil(document.Viewers),
			"updatedAt": time.Now().UTC(),
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("document with id %s: %w", document.ID, core.ErrDocumentNotFound)
	}

	logrus.WithField("document_id", document.ID).Info("Document saved successfully")
	return nil
}

func (s *mongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.documents.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
	}

	logrus.WithField("document_id", id).Info("Document deleted successfully")
	return nil
}

func (s *mongoStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	_, err := s.rooms.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{"$set": bson.M{"lastActive": time.Now().UnixMilli()}},
		options.Update().SetUpsert(true))
	return err
}

func (s *mongoStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	opts := options.Find().SetSort(bson.D{{Key: "lastActive", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := s.rooms.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var records []roomRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, err
	}

	rooms := make([]core.Room, 0, len(records))
	for _, r := range records {
		rooms = append(rooms, core.Room{ID: r.ID, LastActive: r.LastActive})
	}
	return rooms, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
