package service

import (
	"context"

	"lexgraph-backend/models"

	"github.com/google/uuid"
)

// The interfaces below are the datastore operations the services need. The
// repository package implements them over PostgreSQL.

// ChunkStore reads chunk chains
type ChunkStore interface {
	VectorSearch(ctx context.Context, embedding []float32, k int) ([]models.Scored, error)
	FulltextSearch(ctx context.Context, text string, k int) ([]models.Scored, error)
	ByEntityLabel(ctx context.Context, label string, k int) ([]uuid.UUID, error)
	ReachableFrom(ctx context.Context, docName string, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	Enrich(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.Result, error)
}

// ContentStore reads content-node trees
type ContentStore interface {
	FindArticle(ctx context.Context, title, lawName string) (*models.Result, error)
	LeafByID(ctx context.Context, id uuid.UUID) (*models.Result, error)
	FindLeafUnderDocument(ctx context.Context, documentID uuid.UUID, titles []string) (uuid.UUID, error)
	TopLevelBranches(ctx context.Context, lawName string) ([]models.ContentNode, error)
	Children(ctx context.Context, parentID uuid.UUID) ([]models.ContentNode, error)
	LeafVectorSearch(ctx context.Context, embedding []float32, k int) ([]models.Result, error)
	LeafFulltextSearch(ctx context.Context, text string, k int) ([]models.Result, error)
	NodesWithBody(ctx context.Context) ([]models.ContentNode, error)
}

// DocumentStore reads documents
type DocumentStore interface {
	BestByLegalName(ctx context.Context, name string) (uuid.UUID, float64, error)
	ListNames(ctx context.Context) ([]string, error)
}

// RelationStore reads and writes RELATED edges
type RelationStore interface {
	Create(ctx context.Context, edge models.RelatedEdge) (bool, error)
	Count(ctx context.Context) (int64, error)
	RelatedContentTexts(ctx context.Context, sourceIDs []uuid.UUID) (map[uuid.UUID][]string, error)
}
