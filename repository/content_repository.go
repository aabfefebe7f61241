package repository

import (
	"context"
	"fmt"

	"lexgraph-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ContentRepository handles database operations for the content-node trees
// of legal texts
type ContentRepository struct {
	base
}

// NewContentRepository creates a new content repository
func NewContentRepository(db *pgxpool.Pool, opts ...Option) *ContentRepository {
	return &ContentRepository{base: newBase(db, opts)}
}

const nodeColumns = `c.id, c.document_id, c.parent_id, c.kind, c.position, c.title, c.heading, c.body, c.embedding`

const leafResultColumns = `c.id, c.title, coalesce(c.heading, ''), coalesce(c.body, ''), d.name, coalesce(d.legal_name, '')`

// isLeaf holds for nodes with no outgoing HAS relation
const isLeaf = `NOT EXISTS (SELECT 1 FROM content_nodes k WHERE k.parent_id = c.id)`

// FindArticle returns one leaf titled title, constrained to the document
// whose legal name is lawName unless lawName is empty. Which document wins
// when several qualify is unspecified.
func (r *ContentRepository) FindArticle(ctx context.Context, title, lawName string) (*models.Result, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + leafResultColumns + `
		FROM content_nodes c
		JOIN documents d ON d.id = c.document_id
		WHERE c.title = $1
			AND ` + isLeaf + `
			AND ($2 = '' OR d.legal_name = $2)
		LIMIT 1`

	res, err := scanLeafResult(r.db.QueryRow(ctx, query, title, lawName))
	if err != nil {
		return nil, notFound(err)
	}
	return res, nil
}

// LeafByID returns the leaf result for a node id
func (r *ContentRepository) LeafByID(ctx context.Context, id uuid.UUID) (*models.Result, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + leafResultColumns + `
		FROM content_nodes c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id = $1`

	res, err := scanLeafResult(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return res, nil
}

// FindLeafUnderDocument returns the id of a leaf of the document whose title
// is one of titles
func (r *ContentRepository) FindLeafUnderDocument(ctx context.Context, documentID uuid.UUID, titles []string) (uuid.UUID, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT c.id
		FROM content_nodes c
		WHERE c.document_id = $1
			AND c.title = ANY($2)
			AND ` + isLeaf + `
		ORDER BY array_position($2, c.title)
		LIMIT 1`

	var id uuid.UUID
	if err := r.db.QueryRow(ctx, query, documentID, titles).Scan(&id); err != nil {
		return uuid.Nil, notFound(err)
	}
	return id, nil
}

// TopLevelBranches returns the nodes that seed a wide-search walk: every
// "parti" node and every node titled "TITOLO..." under the documents with
// legal name lawName, or under all documents when lawName is empty
func (r *ContentRepository) TopLevelBranches(ctx context.Context, lawName string) ([]models.ContentNode, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + nodeColumns + `
		FROM content_nodes c
		JOIN documents d ON d.id = c.document_id
		WHERE ($1 = '' OR d.legal_name = $1)
			AND (c.kind = 'parti' OR c.title LIKE 'TITOLO%')
		ORDER BY d.name, c.position, c.id`

	return r.nodes(ctx, query, lawName)
}

// Children returns the direct children of a node in sibling order
func (r *ContentRepository) Children(ctx context.Context, parentID uuid.UUID) ([]models.ContentNode, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + nodeColumns + `
		FROM content_nodes c
		WHERE c.parent_id = $1
		ORDER BY c.position, c.id`

	return r.nodes(ctx, query, parentID)
}

// LeafVectorSearch returns the k leaves with a body nearest to embedding
func (r *ContentRepository) LeafVectorSearch(ctx context.Context, embedding []float32, k int) ([]models.Result, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + leafResultColumns + `, 1 - (c.embedding <=> $1::vector) AS score
		FROM content_nodes c
		JOIN documents d ON d.id = c.document_id
		WHERE c.body IS NOT NULL AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $1::vector
		LIMIT $2`

	return r.scoredLeaves(ctx, "vector search content", query, pgvector.NewVector(embedding), k)
}

// LeafFulltextSearch returns the k leaves whose body ranks highest for text
func (r *ContentRepository) LeafFulltextSearch(ctx context.Context, text string, k int) ([]models.Result, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		WITH q AS (SELECT ` + orQuery + ` AS query)
		SELECT ` + leafResultColumns + `, ts_rank(to_tsvector('italian', c.body), q.query)::float8 AS score
		FROM content_nodes c
		JOIN documents d ON d.id = c.document_id, q
		WHERE c.body IS NOT NULL
			AND to_tsvector('italian', c.body) @@ q.query
		ORDER BY score DESC
		LIMIT $2`

	return r.scoredLeaves(ctx, "fulltext search content", query, text, k)
}

// NodesWithBody returns every node carrying a non-empty body, without
// embeddings
func (r *ContentRepository) NodesWithBody(ctx context.Context) ([]models.ContentNode, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT c.id, c.document_id, c.parent_id, c.kind, c.position, c.title, c.heading, c.body, NULL::vector
		FROM content_nodes c
		WHERE c.body IS NOT NULL AND btrim(c.body) <> ''
		ORDER BY c.document_id, c.position, c.id`

	return r.nodes(ctx, query)
}

// HasContent reports whether any content node belongs to the document
func (r *ContentRepository) HasContent(ctx context.Context, documentID uuid.UUID) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM content_nodes WHERE document_id = $1)`, documentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check document content: %w", err)
	}
	return exists, nil
}

// InsertTree stores the content nodes of a document in one transaction, in
// the given order. Parents must precede their children. Nodes without an id
// get one.
func (r *ContentRepository) InsertTree(ctx context.Context, documentID uuid.UUID, nodes []models.ContentNode) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO content_nodes (
			id, document_id, parent_id, kind, position, title, heading, body, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	for i := range nodes {
		node := &nodes[i]
		if node.ID == uuid.Nil {
			node.ID = uuid.New()
		}
		node.DocumentID = documentID

		var emb any
		if len(node.Embedding) > 0 {
			emb = pgvector.NewVector(node.Embedding)
		}
		_, err := tx.Exec(ctx, query,
			node.ID,
			node.DocumentID,
			node.ParentID,
			string(node.Kind),
			node.Position,
			node.Title,
			node.Heading,
			node.Body,
			emb,
		)
		if err != nil {
			return fmt.Errorf("failed to insert content node %q: %w", node.Title, err)
		}
	}

	return tx.Commit(ctx)
}

func (r *ContentRepository) nodes(ctx context.Context, query string, args ...any) ([]models.ContentNode, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query content nodes: %w", err)
	}
	defer rows.Close()

	var out []models.ContentNode
	for rows.Next() {
		var (
			n    models.ContentNode
			kind string
			emb  *pgvector.Vector
		)
		err := rows.Scan(
			&n.ID,
			&n.DocumentID,
			&n.ParentID,
			&kind,
			&n.Position,
			&n.Title,
			&n.Heading,
			&n.Body,
			&emb,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content node: %w", err)
		}
		n.Kind = models.NodeKind(kind)
		if emb != nil {
			n.Embedding = emb.Slice()
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating content nodes: %w", err)
	}
	return out, nil
}

func (r *ContentRepository) scoredLeaves(ctx context.Context, op, query string, args ...any) ([]models.Result, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var out []models.Result
	for rows.Next() {
		var res models.Result
		if err := rows.Scan(&res.ID, &res.Title, &res.Heading, &res.Text, &res.Source, &res.LawName, &res.Score); err != nil {
			return nil, fmt.Errorf("failed to scan content hit: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating content hits: %w", err)
	}
	return out, nil
}

func scanLeafResult(row pgx.Row) (*models.Result, error) {
	var res models.Result
	if err := row.Scan(&res.ID, &res.Title, &res.Heading, &res.Text, &res.Source, &res.LawName); err != nil {
		return nil, err
	}
	return &res, nil
}
