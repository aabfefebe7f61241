package repository

import (
	"context"
	"fmt"

	"lexgraph-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RelationRepository handles database operations for RELATED edges
type RelationRepository struct {
	base
}

// NewRelationRepository creates a new relation repository
func NewRelationRepository(db *pgxpool.Pool, opts ...Option) *RelationRepository {
	return &RelationRepository{base: newBase(db, opts)}
}

// Create writes the edge unless one already links the same ordered pair,
// and reports whether a row was written
func (r *RelationRepository) Create(ctx context.Context, edge models.RelatedEdge) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO related_edges (source_id, target_id, target_kind, text)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id, target_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, edge.SourceID, edge.TargetID, edge.TargetKind, edge.Text)
	if err != nil {
		return false, fmt.Errorf("failed to create related edge: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Count returns the number of RELATED edges
func (r *RelationRepository) Count(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM related_edges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count related edges: %w", err)
	}
	return n, nil
}

// RelatedContentTexts returns, per source id, the texts of the content nodes
// it relates to. Edges pointing at chunks are ignored.
func (r *RelationRepository) RelatedContentTexts(ctx context.Context, sourceIDs []uuid.UUID) (map[uuid.UUID][]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	out := make(map[uuid.UUID][]string)
	if len(sourceIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT e.source_id,
			btrim(coalesce(c.title, '') || ' ' || coalesce(c.body, c.heading, ''))
		FROM related_edges e
		JOIN content_nodes c ON c.id = e.target_id
		WHERE e.source_id = ANY($1) AND e.target_kind = $2
		ORDER BY e.source_id, e.created_at`

	rows, err := r.db.Query(ctx, query, sourceIDs, models.TargetContent)
	if err != nil {
		return nil, fmt.Errorf("failed to query related nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   uuid.UUID
			text string
		)
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("failed to scan related node: %w", err)
		}
		out[id] = append(out[id], text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating related nodes: %w", err)
	}
	return out, nil
}
