// Package storage persists question transcripts: append-only JSONL files on
// the local filesystem, one JSON object per transcript in S3, or a
// PostgreSQL table.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"lexgraph-backend/config"
	"lexgraph-backend/models"

	"github.com/google/uuid"
)

// Storage interface for transcript persistence
type Storage interface {
	// Save appends a transcript and returns the key it can be loaded by
	Save(ctx context.Context, t *models.Transcript) (string, error)

	// Load retrieves a transcript by key
	Load(ctx context.Context, key string) (*models.Transcript, error)
}

// ErrRecordNotFound is returned by Load for unknown keys
var ErrRecordNotFound = errors.New("transcript not found")

// StorageType represents the storage backend type
type StorageType string

const (
	StorageTypeLocal    StorageType = "local"
	StorageTypeS3       StorageType = "s3"
	StorageTypePostgres StorageType = "postgres"
)

// StorageConfig holds configuration for storage
type StorageConfig struct {
	Type         StorageType
	LocalPath    string // For local storage
	S3Bucket     string // For S3 storage
	S3Region     string // For S3 storage
	S3Prefix     string // For S3 storage
	AWSAccessKey string
	AWSSecretKey string
}

// ConfigFrom builds a StorageConfig from the application configuration.
// Static AWS credentials are read from the environment when present.
func ConfigFrom(cfg config.StorageConfig) StorageConfig {
	return StorageConfig{
		Type:         StorageType(cfg.Type),
		LocalPath:    cfg.LocalPath,
		S3Bucket:     cfg.S3Bucket,
		S3Region:     cfg.S3Region,
		S3Prefix:     cfg.S3Prefix,
		AWSAccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	}
}

// NewStorage creates a new storage instance based on configuration. repo is
// only used by the postgres backend.
func NewStorage(ctx context.Context, cfg StorageConfig, repo TranscriptRepository) (Storage, error) {
	switch cfg.Type {
	case StorageTypeLocal:
		return NewLocalStorage(cfg.LocalPath)
	case StorageTypeS3:
		return NewS3Storage(ctx, cfg)
	case StorageTypePostgres:
		if repo == nil {
			return nil, errors.New("postgres storage requires a transcript repository")
		}
		return NewDBStorage(repo), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// prepare fills in the id and timestamp of a new transcript
func prepare(t *models.Transcript) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now().UTC()
	}
	if t.ModelResponses == nil {
		t.ModelResponses = []string{}
	}
}
