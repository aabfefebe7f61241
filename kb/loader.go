package kb

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"lexgraph-backend/llm"
	"lexgraph-backend/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DocumentWriter upserts documents
type DocumentWriter interface {
	Upsert(ctx context.Context, doc *models.Document) error
}

// ContentWriter writes content trees. InsertTree stores all nodes or none.
type ContentWriter interface {
	HasContent(ctx context.Context, documentID uuid.UUID) (bool, error)
	InsertTree(ctx context.Context, documentID uuid.UUID, nodes []models.ContentNode) error
}

// ChunkWriter writes chunk chains
type ChunkWriter interface {
	HasChain(ctx context.Context, documentID uuid.UUID) (bool, error)
	InsertChain(ctx context.Context, documentID uuid.UUID, chunks []models.Chunk, entities [][]models.Entity) error
}

// Loader writes KB trees and chunk files into the graph, embedding what it
// writes
type Loader struct {
	documents     DocumentWriter
	content       ContentWriter
	chunks        ChunkWriter
	embedder      llm.Embedder
	legalEmbedder llm.Embedder
	logger        *zap.Logger
}

// LoaderOption is a functional option for Loader
type LoaderOption func(*Loader)

// LoaderWithDocuments sets the document writer
func LoaderWithDocuments(w DocumentWriter) LoaderOption {
	return func(l *Loader) {
		l.documents = w
	}
}

// LoaderWithContent sets the content writer
func LoaderWithContent(w ContentWriter) LoaderOption {
	return func(l *Loader) {
		l.content = w
	}
}

// LoaderWithChunks sets the chunk writer
func LoaderWithChunks(w ChunkWriter) LoaderOption {
	return func(l *Loader) {
		l.chunks = w
	}
}

// LoaderWithEmbedder sets the embedder used for chunks
func LoaderWithEmbedder(e llm.Embedder) LoaderOption {
	return func(l *Loader) {
		l.embedder = e
	}
}

// LoaderWithLegalEmbedder sets the embedder used for content nodes
func LoaderWithLegalEmbedder(e llm.Embedder) LoaderOption {
	return func(l *Loader) {
		l.legalEmbedder = e
	}
}

// LoaderWithLogger sets the logger
func LoaderWithLogger(logger *zap.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a new loader. The legal embedder defaults to the chunk
// embedder.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	if l.legalEmbedder == nil {
		l.legalEmbedder = l.embedder
	}
	return l
}

var ErrWriterNotSet = errors.New("kb writer not set")

// LoadResult reports one loaded document
type LoadResult struct {
	Document string
	Nodes    int
	Embedded int
	Skipped  bool // the document was already loaded
}

// Load writes a parsed KB tree. Every embedding is computed before the tree
// is written, and the tree is written in one step, so a failed load leaves
// no content behind and can be retried. A document that already has content
// is skipped.
func (l *Loader) Load(ctx context.Context, root *Node) (*LoadResult, error) {
	if l.documents == nil || l.content == nil {
		return nil, ErrWriterNotSet
	}
	if root == nil || root.Kind != KindDocument {
		return nil, fmt.Errorf("%w: root is not a document", ErrInvalidTree)
	}

	doc := &models.Document{Name: root.Name, LegalName: &root.LegalName}
	if root.Tag != "" {
		doc.Tag = &root.Tag
	}
	if err := l.documents.Upsert(ctx, doc); err != nil {
		return nil, err
	}
	res := &LoadResult{Document: doc.Name}

	loaded, err := l.content.HasContent(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if loaded {
		l.logger.Info("document already loaded, skipping", zap.String("document", doc.Name))
		res.Skipped = true
		return res, nil
	}

	ids := map[*Node]uuid.UUID{}
	var nodes []models.ContentNode
	embedded := 0
	err = Walk(root, func(n, parent *Node, position int) error {
		node := models.ContentNode{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			Kind:       models.KindContent,
			Position:   position,
			Title:      n.Title,
		}
		if n.Kind == KindBranch {
			node.Kind = models.KindBranch
		}
		if id, ok := ids[parent]; ok {
			node.ParentID = &id
		}
		if n.Heading != "" {
			node.Heading = &n.Heading
		}
		if n.Body != "" {
			node.Body = &n.Body
		}

		if text := embeddingText(n); text != "" && l.legalEmbedder != nil {
			emb, err := l.legalEmbedder.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("failed to embed %q: %w", n.Title, err)
			}
			node.Embedding = emb
			embedded++
		}

		ids[n] = node.ID
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", doc.Name, err)
	}

	if err := l.content.InsertTree(ctx, doc.ID, nodes); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", doc.Name, err)
	}
	res.Nodes = len(nodes)
	res.Embedded = embedded

	l.logger.Info("document loaded",
		zap.String("document", doc.Name),
		zap.Int("nodes", res.Nodes),
		zap.Int("embedded", res.Embedded))
	return res, nil
}

// embeddingText is the body of a node, or its heading, or its title
func embeddingText(n *Node) string {
	for _, s := range []string{n.Body, n.Heading, n.Title} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// ChunkDocument is one line of a chunk file: a document and its chunks in
// reading order
type ChunkDocument struct {
	Document  string       `json:"document"`
	Tag       string       `json:"tag,omitempty"`
	LegalName string       `json:"legal_name,omitempty"`
	Chunks    []ChunkInput `json:"chunks"`
}

// ChunkInput is one chunk of a ChunkDocument
type ChunkInput struct {
	Text     string          `json:"text"`
	Entities []models.Entity `json:"entities,omitempty"`
}

// ChunkResult reports a chunk-file load
type ChunkResult struct {
	Documents int
	Chunks    int
	Skipped   int // already loaded or malformed
}

// LoadChunks reads a JSONL chunk file and stores each document as a chunk
// chain. Malformed lines are logged and skipped.
func (l *Loader) LoadChunks(ctx context.Context, r io.Reader) (*ChunkResult, error) {
	if l.documents == nil || l.chunks == nil {
		return nil, ErrWriterNotSet
	}

	res := &ChunkResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		in, err := decodeChunkDocument(raw)
		if err != nil {
			l.logger.Warn("malformed chunk line skipped", zap.Int("line", line), zap.Error(err))
			res.Skipped++
			continue
		}

		n, err := l.loadChunkDocument(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if n == 0 {
			res.Skipped++
			continue
		}
		res.Documents++
		res.Chunks += n
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chunk file: %w", err)
	}
	return res, nil
}

func decodeChunkDocument(raw []byte) (*ChunkDocument, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var in ChunkDocument
	if err := dec.Decode(&in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Document) == "" {
		return nil, errors.New("missing document name")
	}
	if len(in.Chunks) == 0 {
		return nil, errors.New("no chunks")
	}
	return &in, nil
}

// loadChunkDocument returns how many chunks it stored; zero when the
// document already had a chain
func (l *Loader) loadChunkDocument(ctx context.Context, in *ChunkDocument) (int, error) {
	doc := &models.Document{Name: in.Document}
	if in.Tag != "" {
		doc.Tag = &in.Tag
	}
	if in.LegalName != "" {
		doc.LegalName = &in.LegalName
	}
	if err := l.documents.Upsert(ctx, doc); err != nil {
		return 0, err
	}

	loaded, err := l.chunks.HasChain(ctx, doc.ID)
	if err != nil {
		return 0, err
	}
	if loaded {
		l.logger.Info("chunks already loaded, skipping", zap.String("document", doc.Name))
		return 0, nil
	}

	chunks := make([]models.Chunk, len(in.Chunks))
	entities := make([][]models.Entity, len(in.Chunks))
	for i, c := range in.Chunks {
		chunks[i] = models.Chunk{Text: c.Text}
		entities[i] = c.Entities
		if l.embedder != nil && strings.TrimSpace(c.Text) != "" {
			emb, err := l.embedder.Embed(ctx, c.Text)
			if err != nil {
				return 0, fmt.Errorf("failed to embed chunk %d of %s: %w", i, doc.Name, err)
			}
			chunks[i].Embedding = emb
		}
	}

	if err := l.chunks.InsertChain(ctx, doc.ID, chunks, entities); err != nil {
		return 0, err
	}
	l.logger.Info("chunks loaded", zap.String("document", doc.Name), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}
