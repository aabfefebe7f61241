package repository

import (
	"context"
	"fmt"

	"lexgraph-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository handles database operations for document chunks
type ChunkRepository struct {
	base
}

// NewChunkRepository creates a new chunk repository
func NewChunkRepository(db *pgxpool.Pool, opts ...Option) *ChunkRepository {
	return &ChunkRepository{base: newBase(db, opts)}
}

// VectorSearch returns the k chunks nearest to embedding, by cosine
// similarity
func (r *ChunkRepository) VectorSearch(ctx context.Context, embedding []float32, k int) ([]models.Scored, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, 1 - (embedding <=> $1::vector) AS score
		FROM chunks
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $2`

	return r.scored(ctx, "vector search chunks", query, pgvector.NewVector(embedding), k)
}

// FulltextSearch returns the k chunks ranking highest for text
func (r *ChunkRepository) FulltextSearch(ctx context.Context, text string, k int) ([]models.Scored, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		WITH q AS (SELECT ` + orQuery + ` AS query)
		SELECT c.id, ts_rank(to_tsvector('italian', c.text), q.query)::float8 AS score
		FROM chunks c, q
		WHERE to_tsvector('italian', c.text) @@ q.query
		ORDER BY score DESC
		LIMIT $2`

	return r.scored(ctx, "fulltext search chunks", query, text, k)
}

// ByEntityLabel returns up to k chunks carrying an entity whose label equals
// label, ignoring case
func (r *ChunkRepository) ByEntityLabel(ctx context.Context, label string, k int) ([]uuid.UUID, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT DISTINCT ce.chunk_id
		FROM chunk_entities ce
		JOIN entities e ON e.id = ce.entity_id
		WHERE lower(e.label) = lower($1)
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, label, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks by category: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunk ids: %w", err)
	}
	return ids, nil
}

// ReachableFrom returns the subset of ids lying on the chunk chain of the
// document named docName
func (r *ChunkRepository) ReachableFrom(ctx context.Context, docName string, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		WITH RECURSIVE chain AS (
			SELECT c.id
			FROM chunks c
			JOIN documents d ON d.id = c.document_id
			WHERE d.name = $1
			UNION
			SELECT n.id
			FROM chunks n
			JOIN chain ON n.prev_chunk_id = chain.id
		)
		SELECT id FROM chain WHERE id = ANY($2)`

	rows, err := r.db.Query(ctx, query, docName, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to walk chunk chain: %w", err)
	}
	defer rows.Close()

	reachable := make(map[uuid.UUID]bool)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk id: %w", err)
		}
		reachable[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunk chain: %w", err)
	}
	return reachable, nil
}

// Enrich loads text, neighbouring chunk texts, entities and the source
// document name of each chunk in ids. Missing ids are absent from the map.
func (r *ChunkRepository) Enrich(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Result, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	out := make(map[uuid.UUID]*models.Result, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT c.id, c.text, p.text, n.text
		FROM chunks c
		LEFT JOIN chunks p ON p.id = c.prev_chunk_id
		LEFT JOIN chunks n ON n.prev_chunk_id = c.id
		WHERE c.id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	for rows.Next() {
		var (
			id         uuid.UUID
			text       string
			prev, next *string
		)
		if err := rows.Scan(&id, &text, &prev, &next); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		res := &models.Result{ID: id, Text: text}
		if prev != nil {
			res.Prev = append(res.Prev, *prev)
		}
		if next != nil {
			res.Next = append(res.Next, *next)
		}
		out[id] = res
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	if err := r.attachSources(ctx, ids, out); err != nil {
		return nil, err
	}
	if err := r.attachEntities(ctx, ids, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachSources walks each chain back to its head to find the document
func (r *ChunkRepository) attachSources(ctx context.Context, ids []uuid.UUID, out map[uuid.UUID]*models.Result) error {
	query := `
		WITH RECURSIVE back AS (
			SELECT c.id AS origin, c.prev_chunk_id, c.document_id
			FROM chunks c
			WHERE c.id = ANY($1)
			UNION
			SELECT b.origin, p.prev_chunk_id, p.document_id
			FROM back b
			JOIN chunks p ON p.id = b.prev_chunk_id
		)
		SELECT b.origin, d.name
		FROM back b
		JOIN documents d ON d.id = b.document_id`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to resolve chunk sources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   uuid.UUID
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return fmt.Errorf("failed to scan chunk source: %w", err)
		}
		if res, ok := out[id]; ok {
			res.Source = name
		}
	}
	return rows.Err()
}

func (r *ChunkRepository) attachEntities(ctx context.Context, ids []uuid.UUID, out map[uuid.UUID]*models.Result) error {
	query := `
		SELECT ce.chunk_id, e.text, e.label
		FROM chunk_entities ce
		JOIN entities e ON e.id = ce.entity_id
		WHERE ce.chunk_id = ANY($1)
		ORDER BY e.label, e.text`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return fmt.Errorf("failed to query chunk entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id uuid.UUID
			e  models.Entity
		)
		if err := rows.Scan(&id, &e.Text, &e.Label); err != nil {
			return fmt.Errorf("failed to scan entity: %w", err)
		}
		if res, ok := out[id]; ok {
			res.Entities = append(res.Entities, e)
		}
	}
	return rows.Err()
}

// HasChain reports whether the document already has a head chunk
func (r *ChunkRepository) HasChain(ctx context.Context, documentID uuid.UUID) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chunks WHERE document_id = $1)`, documentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check chunk chain: %w", err)
	}
	return exists, nil
}

// InsertChain stores the chunks of a document as a linked chain in the given
// order, with their entities. The first chunk becomes the head.
func (r *ChunkRepository) InsertChain(ctx context.Context, documentID uuid.UUID, chunks []models.Chunk, entities [][]models.Entity) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var prev *uuid.UUID
	for i := range chunks {
		c := &chunks[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.DocumentID = nil
		if prev == nil {
			c.DocumentID = &documentID
		}
		c.PrevChunkID = prev

		var emb any
		if len(c.Embedding) > 0 {
			emb = pgvector.NewVector(c.Embedding)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, prev_chunk_id, text, embedding)
			VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.DocumentID, c.PrevChunkID, c.Text, emb,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}

		if i < len(entities) {
			for _, e := range entities[i] {
				_, err := tx.Exec(ctx, `
					WITH ent AS (
						INSERT INTO entities (text, label) VALUES ($2, $3)
						ON CONFLICT (text, label) DO UPDATE SET text = EXCLUDED.text
						RETURNING id
					)
					INSERT INTO chunk_entities (chunk_id, entity_id)
					SELECT $1, id FROM ent
					ON CONFLICT DO NOTHING`,
					c.ID, e.Text, e.Label,
				)
				if err != nil {
					return fmt.Errorf("failed to link entity %q: %w", e.Text, err)
				}
			}
		}
		id := c.ID
		prev = &id
	}

	return tx.Commit(ctx)
}

func (r *ChunkRepository) scored(ctx context.Context, op, query string, args ...any) ([]models.Scored, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var out []models.Scored
	for rows.Next() {
		var s models.Scored
		if err := rows.Scan(&s.ID, &s.Score); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}
	return out, nil
}
