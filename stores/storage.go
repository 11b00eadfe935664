package stores

import (
	"context"
	"fmt"

	"codecollab-server/config"
	"codecollab-server/core"
	"codecollab-server/stores/aws"
	"codecollab-server/stores/filesystem"
	"codecollab-server/stores/memory"
	"codecollab-server/stores/mongo"
	"codecollab-server/stores/postgres"
	"codecollab-server/stores/redis"
	"codecollab-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store is a union interface that includes all store types.
type Store interface {
	core.DocumentStore
	core.DocumentRepository
	core.RoomRegistry
}

// GetStore builds the document store selected by cfg.StorageType.
func GetStore(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		store Store
		err   error
	)

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		store, err = filesystem.NewDocumentStore(cfg.LocalStoragePath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err = sqlite.NewDocumentStore(cfg.DataSourceName)
	case "s3":
		storageField["bucketName"] = cfg.S3BucketName
		store, err = aws.NewStore(ctx, cfg.S3BucketName)
	case "mongo":
		storageField["database"] = cfg.MongoDatabase
		store, err = mongo.NewStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "postgres":
		store, err = postgres.NewStore(ctx, cfg.DatabaseURL)
	default:
		store = memory.NewDocumentStore()
		storageField["storageType"] = "in-memory"
	}
	if err != nil {
		return nil, fmt.Errorf("init %s storage: %w", cfg.StorageType, err)
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}

// GetRoomRegistry returns where room activity is recorded: the document
// store itself, a shared Redis sorted set, or nowhere.
func GetRoomRegistry(ctx context.Context, cfg *config.Config, store Store) (core.RoomRegistry, error) {
	switch cfg.RoomRegistry {
	case "none":
		logrus.Info("Room activity registry disabled")
		return nil, nil
	case "redis":
		registry, err := redis.NewRoomRegistry(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		logrus.WithField("addr", cfg.RedisAddr).Info("Use redis room registry")
		return registry, nil
	default:
		return store, nil
	}
}
