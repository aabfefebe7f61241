package repository

import (
	"context"
	"fmt"
	"time"

	"lexgraph-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TranscriptRepository persists question transcripts in PostgreSQL
type TranscriptRepository struct {
	base
}

// NewTranscriptRepository creates a new transcript repository
func NewTranscriptRepository(db *pgxpool.Pool, opts ...Option) *TranscriptRepository {
	return &TranscriptRepository{base: newBase(db, opts)}
}

// Create inserts a transcript. Missing id and timestamp are filled in.
func (r *TranscriptRepository) Create(ctx context.Context, t *models.Transcript) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	responses := t.ModelResponses
	if responses == nil {
		responses = []string{}
	}

	query := `
		INSERT INTO transcripts (id, question, model_responses, final_answer, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		t.ID,
		t.Question,
		responses,
		t.FinalAnswer,
		t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transcript: %w", err)
	}
	return nil
}

// GetByID retrieves a transcript by ID
func (r *TranscriptRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transcript, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	t := &models.Transcript{}
	query := `
		SELECT id, question, model_responses, final_answer, created_at
		FROM transcripts
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.Question,
		&t.ModelResponses,
		&t.FinalAnswer,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

// ListRecent returns transcripts newest first
func (r *TranscriptRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.Transcript, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, question, model_responses, final_answer, created_at
		FROM transcripts
		ORDER BY created_at DESC`

	var args []any
	argIndex := 1
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, limit)
		argIndex++
		if offset > 0 {
			query += fmt.Sprintf(" OFFSET $%d", argIndex)
			args = append(args, offset)
		}
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts: %w", err)
	}
	defer rows.Close()

	var out []*models.Transcript
	for rows.Next() {
		t := &models.Transcript{}
		if err := rows.Scan(&t.ID, &t.Question, &t.ModelResponses, &t.FinalAnswer, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
