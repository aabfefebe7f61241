package storage

import (
	"context"
	"errors"
	"fmt"

	"lexgraph-backend/models"
	"lexgraph-backend/repository"

	"github.com/google/uuid"
)

// TranscriptRepository is the table access the postgres backend needs
type TranscriptRepository interface {
	Create(ctx context.Context, t *models.Transcript) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transcript, error)
	ListRecent(ctx context.Context, limit, offset int) ([]*models.Transcript, error)
}

// Lister is implemented by backends that can page through transcripts
type Lister interface {
	List(ctx context.Context, limit, offset int) ([]*models.Transcript, error)
}

// DBStorage stores transcripts in the transcripts table
type DBStorage struct {
	repo TranscriptRepository
}

// NewDBStorage creates a new database-backed storage
func NewDBStorage(repo TranscriptRepository) *DBStorage {
	return &DBStorage{repo: repo}
}

// Save inserts the transcript
func (s *DBStorage) Save(ctx context.Context, t *models.Transcript) (string, error) {
	prepare(t)
	if err := s.repo.Create(ctx, t); err != nil {
		return "", err
	}
	return t.ID.String(), nil
}

// Load reads a transcript by its id
func (s *DBStorage) Load(ctx context.Context, key string) (*models.Transcript, error) {
	id, err := uuid.Parse(key)
	if err != nil {
		return nil, ErrRecordNotFound
	}
	t, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	return t, nil
}

// List returns transcripts newest first
func (s *DBStorage) List(ctx context.Context, limit, offset int) ([]*models.Transcript, error) {
	return s.repo.ListRecent(ctx, limit, offset)
}
