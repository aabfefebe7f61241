package repository

import (
	"context"
	"fmt"

	"lexgraph-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentRepository handles database operations for documents
type DocumentRepository struct {
	base
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *pgxpool.Pool, opts ...Option) *DocumentRepository {
	return &DocumentRepository{base: newBase(db, opts)}
}

// Upsert creates the document or updates the tag and legal name of the
// existing document with the same name; nil fields keep their stored value.
// doc.ID is set either way.
func (r *DocumentRepository) Upsert(ctx context.Context, doc *models.Document) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}

	query := `
		INSERT INTO documents (id, name, tag, legal_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
			SET tag = coalesce(EXCLUDED.tag, documents.tag),
				legal_name = coalesce(EXCLUDED.legal_name, documents.legal_name)
		RETURNING id`

	if err := r.db.QueryRow(ctx, query, doc.ID, doc.Name, doc.Tag, doc.LegalName).Scan(&doc.ID); err != nil {
		return fmt.Errorf("failed to upsert document %q: %w", doc.Name, err)
	}
	return nil
}

// BestByLegalName returns the document whose legal name is most similar to
// name, with its trigram similarity in [0, 1]
func (r *DocumentRepository) BestByLegalName(ctx context.Context, name string) (uuid.UUID, float64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, similarity(lower(legal_name), lower($1))::float8 AS score
		FROM documents
		WHERE legal_name IS NOT NULL
		ORDER BY score DESC, name
		LIMIT 1`

	var (
		id    uuid.UUID
		score float64
	)
	if err := r.db.QueryRow(ctx, query, name).Scan(&id, &score); err != nil {
		return uuid.Nil, 0, notFound(err)
	}
	return id, score, nil
}

// ListNames returns every document name in alphabetical order
func (r *DocumentRepository) ListNames(ctx context.Context) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Query(ctx, `SELECT name FROM documents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan document name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return names, nil
}
