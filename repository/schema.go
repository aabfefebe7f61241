package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// SchemaStep is one DDL statement of the graph schema
type SchemaStep struct {
	Name string
	SQL  string
}

// SchemaSteps returns the DDL for the graph schema with embedding columns of
// the given dimension. Every statement is idempotent.
func SchemaSteps(dims int) []SchemaStep {
	return []SchemaStep{
		{"pgvector extension", `CREATE EXTENSION IF NOT EXISTS vector`},
		{"pg_trgm extension", `CREATE EXTENSION IF NOT EXISTS pg_trgm`},
		{"documents table", `
CREATE TABLE IF NOT EXISTS documents (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name TEXT NOT NULL UNIQUE,
    tag TEXT,
    legal_name TEXT,
    created_at TIMESTAMPTZ DEFAULT NOW()
)`},
		{"chunks table", fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS chunks (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    -- set on the head chunk only
    document_id UUID UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
    prev_chunk_id UUID UNIQUE REFERENCES chunks(id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    embedding vector(%d),
    CONSTRAINT chunk_single_parent CHECK (document_id IS NULL OR prev_chunk_id IS NULL),
    CONSTRAINT chunk_has_parent CHECK (document_id IS NOT NULL OR prev_chunk_id IS NOT NULL)
)`, dims)},
		{"entities table", `
CREATE TABLE IF NOT EXISTS entities (
    id BIGSERIAL PRIMARY KEY,
    text TEXT NOT NULL,
    label TEXT NOT NULL,
    UNIQUE (text, label)
)`},
		{"chunk_entities table", `
CREATE TABLE IF NOT EXISTS chunk_entities (
    chunk_id UUID NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
    entity_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
    PRIMARY KEY (chunk_id, entity_id)
)`},
		{"content_nodes table", fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS content_nodes (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    parent_id UUID REFERENCES content_nodes(id) ON DELETE CASCADE,
    kind TEXT NOT NULL CHECK (kind IN ('parti', 'contenuto')),
    position INTEGER NOT NULL DEFAULT 0,
    title TEXT NOT NULL DEFAULT '',
    heading TEXT,
    body TEXT,
    embedding vector(%d)
)`, dims)},
		{"related_edges table", `
CREATE TABLE IF NOT EXISTS related_edges (
    source_id UUID NOT NULL,
    target_id UUID NOT NULL,
    target_kind TEXT NOT NULL CHECK (target_kind IN ('contenuto', 'chunk')),
    text TEXT,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    PRIMARY KEY (source_id, target_id)
)`},
		{"transcripts table", `
CREATE TABLE IF NOT EXISTS transcripts (
    id UUID PRIMARY KEY,
    question TEXT NOT NULL,
    model_responses TEXT[] NOT NULL DEFAULT '{}',
    final_answer TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
		{"chunk vector index (HNSW)", `
CREATE INDEX IF NOT EXISTS idx_chunks_embedding_hnsw ON chunks
USING hnsw (embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64)`},
		{"content vector index (HNSW)", `
CREATE INDEX IF NOT EXISTS idx_content_embedding_hnsw ON content_nodes
USING hnsw (embedding vector_cosine_ops)
WITH (m = 16, ef_construction = 64)`},
		{"chunk fulltext index", `
CREATE INDEX IF NOT EXISTS idx_chunks_text_fts ON chunks
USING gin (to_tsvector('italian', text))`},
		{"content fulltext index", `
CREATE INDEX IF NOT EXISTS idx_content_body_fts ON content_nodes
USING gin (to_tsvector('italian', body))
WHERE body IS NOT NULL`},
		{"document legal name trigram index", `
CREATE INDEX IF NOT EXISTS idx_documents_legal_name_trgm ON documents
USING gin (lower(legal_name) gin_trgm_ops)`},
		{"content parent index", `CREATE INDEX IF NOT EXISTS idx_content_parent ON content_nodes(parent_id)`},
		{"content document/title index", `CREATE INDEX IF NOT EXISTS idx_content_document_title ON content_nodes(document_id, title)`},
		{"content title index", `CREATE INDEX IF NOT EXISTS idx_content_title ON content_nodes(title)`},
		{"entity label index", `CREATE INDEX IF NOT EXISTS idx_entities_label ON entities(lower(label))`},
		{"chunk_entities entity index", `CREATE INDEX IF NOT EXISTS idx_chunk_entities_entity ON chunk_entities(entity_id)`},
		{"related_edges target index", `CREATE INDEX IF NOT EXISTS idx_related_target ON related_edges(target_id)`},
		{"transcripts created_at index", `CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at DESC)`},
	}
}

// CreateSchema applies SchemaSteps in order
func CreateSchema(ctx context.Context, db *pgxpool.Pool, dims int, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, step := range SchemaSteps(dims) {
		if _, err := db.Exec(ctx, step.SQL); err != nil {
			return fmt.Errorf("failed to create %s: %w", step.Name, err)
		}
		logger.Info("schema step applied", zap.String("step", step.Name))
	}
	return nil
}
