package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the server settings read from the environment.
type Config struct {
	ListenAddr string
	LogLevel   string
	LogFormat  string

	StorageType      string
	LocalStoragePath string
	DataSourceName   string
	S3BucketName     string
	MongoURI         string
	MongoDatabase    string
	DatabaseURL      string

	RoomRegistry string
	RedisAddr    string

	JWTSecret   string
	CORSOrigins []string

	PersistTimeout    time.Duration
	MaxHTTPBufferSize int64
}

var storageTypes = map[string]bool{
	"":           true,
	"memory":     true,
	"filesystem": true,
	"sqlite":     true,
	"s3":         true,
	"mongo":      true,
	"postgres":   true,
}

// Load reads an optional .env file and then the process environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		logrus.Debug("No .env file found")
	}

	cfg := &Config{
		ListenAddr:       getEnvOrDefault("LISTEN_ADDR", ":3002"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        getEnvOrDefault("LOG_FORMAT", "text"),
		StorageType:      os.Getenv("STORAGE_TYPE"),
		LocalStoragePath: getEnvOrDefault("LOCAL_STORAGE_PATH", "./data"),
		DataSourceName:   getEnvOrDefault("DATA_SOURCE_NAME", "codecollab.db"),
		S3BucketName:     os.Getenv("S3_BUCKET_NAME"),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDatabase:    getEnvOrDefault("MONGO_DATABASE", "codecollab"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RoomRegistry:     getEnvOrDefault("ROOM_REGISTRY", "store"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		CORSOrigins:      splitList(getEnvOrDefault("CORS_ORIGINS", "http://localhost:3000")),
	}

	var err error
	cfg.PersistTimeout, err = time.ParseDuration(getEnvOrDefault("PERSIST_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PERSIST_TIMEOUT: %w", err)
	}

	cfg.MaxHTTPBufferSize, err = strconv.ParseInt(getEnvOrDefault("MAX_HTTP_BUFFER_SIZE", "1000000"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_HTTP_BUFFER_SIZE: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks combinations that the store and registry factories need.
func (c *Config) Validate() error {
	if !storageTypes[c.StorageType] {
		return fmt.Errorf("unsupported STORAGE_TYPE: %s", c.StorageType)
	}

	switch c.StorageType {
	case "s3":
		if c.S3BucketName == "" {
			return fmt.Errorf("S3_BUCKET_NAME must be set for s3 storage type")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI must be set for mongo storage type")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for postgres storage type")
		}
	}

	switch c.RoomRegistry {
	case "store", "none":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR must be set for redis room registry")
		}
	default:
		return fmt.Errorf("unsupported ROOM_REGISTRY: %s", c.RoomRegistry)
	}

	if c.PersistTimeout < 0 {
		return fmt.Errorf("PERSIST_TIMEOUT must not be negative")
	}
	if c.MaxHTTPBufferSize <= 0 {
		return fmt.Errorf("MAX_HTTP_BUFFER_SIZE must be positive")
	}
	return nil
}

// ConfigureLogging applies level and format to the global logrus logger.
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)

	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
