package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"lexgraph-backend/llm"
	"lexgraph-backend/metrics"
	"lexgraph-backend/models"
	"lexgraph-backend/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultOverfetch is how many candidates the chunk searches pull from the
// global index before intersecting with a document scope
const DefaultOverfetch = 400

// SearchEngine turns queries into ranked, context-enriched results over the
// chunk chains and content trees of the graph
type SearchEngine struct {
	chunks        ChunkStore
	content       ContentStore
	relations     RelationStore
	embedder      llm.Embedder
	legalEmbedder llm.Embedder
	overfetch     int
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// SearchOption is a functional option for SearchEngine
type SearchOption func(*SearchEngine)

// SearchWithChunks sets the chunk store
func SearchWithChunks(s ChunkStore) SearchOption {
	return func(e *SearchEngine) {
		e.chunks = s
	}
}

// SearchWithContent sets the content store
func SearchWithContent(s ContentStore) SearchOption {
	return func(e *SearchEngine) {
		e.content = s
	}
}

// SearchWithRelations sets the relation store used for related-node enrichment
func SearchWithRelations(s RelationStore) SearchOption {
	return func(e *SearchEngine) {
		e.relations = s
	}
}

// SearchWithEmbedder sets the query embedder
func SearchWithEmbedder(emb llm.Embedder) SearchOption {
	return func(e *SearchEngine) {
		e.embedder = emb
	}
}

// SearchWithLegalEmbedder sets the embedder used by wide search
func SearchWithLegalEmbedder(emb llm.Embedder) SearchOption {
	return func(e *SearchEngine) {
		e.legalEmbedder = emb
	}
}

// SearchWithOverfetch sets the candidate window of the chunk searches
func SearchWithOverfetch(n int) SearchOption {
	return func(e *SearchEngine) {
		if n > 0 {
			e.overfetch = n
		}
	}
}

// SearchWithLogger sets the logger
func SearchWithLogger(logger *zap.Logger) SearchOption {
	return func(e *SearchEngine) {
		e.logger = logger
	}
}

// SearchWithMetrics sets the metrics sink
func SearchWithMetrics(m *metrics.Metrics) SearchOption {
	return func(e *SearchEngine) {
		e.metrics = m
	}
}

// NewSearchEngine creates a new search engine. The legal embedder defaults to
// the query embedder.
func NewSearchEngine(opts ...SearchOption) *SearchEngine {
	e := &SearchEngine{
		overfetch: DefaultOverfetch,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.legalEmbedder == nil {
		e.legalEmbedder = e.embedder
	}
	return e
}

var (
	ErrEmptyQuery       = errors.New("empty search query")
	ErrRepositoryNotSet = errors.New("repository not set")
	ErrEmbedderNotSet   = errors.New("embedder not set")
)

// SearchByEmbedding ranks chunks by cosine similarity to the query
func (e *SearchEngine) SearchByEmbedding(ctx context.Context, docScope, query string, limit int) ([]models.Result, error) {
	defer e.metrics.ObserveSearch("embedding", time.Now())

	if e.chunks == nil {
		return nil, ErrRepositoryNotSet
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	emb, err := e.embed(ctx, e.embedder, query)
	if err != nil {
		return nil, err
	}

	cands, err := e.chunks.VectorSearch(ctx, emb, e.overfetch)
	if err != nil {
		return nil, err
	}
	return e.rankChunks(ctx, docScope, cands, limit)
}

// SearchByText ranks chunks by fulltext relevance of the lower-cased text
func (e *SearchEngine) SearchByText(ctx context.Context, docScope, text string, limit int) ([]models.Result, error) {
	defer e.metrics.ObserveSearch("text", time.Now())

	if e.chunks == nil {
		return nil, ErrRepositoryNotSet
	}
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil, ErrEmptyQuery
	}

	cands, err := e.chunks.FulltextSearch(ctx, text, e.overfetch)
	if err != nil {
		return nil, err
	}
	return e.rankChunks(ctx, docScope, cands, limit)
}

// SearchByCategory returns chunks carrying an entity labelled label. Every
// hit scores 1.0.
func (e *SearchEngine) SearchByCategory(ctx context.Context, docScope, label string, limit int) ([]models.Result, error) {
	defer e.metrics.ObserveSearch("category", time.Now())

	if e.chunks == nil {
		return nil, ErrRepositoryNotSet
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, ErrEmptyQuery
	}

	k := limit
	if docScope != "" {
		k = e.overfetch
	}
	ids, err := e.chunks.ByEntityLabel(ctx, label, k)
	if err != nil {
		return nil, err
	}
	cands := make([]models.Scored, len(ids))
	for i, id := range ids {
		cands[i] = models.Scored{ID: id, Score: 1.0}
	}
	return e.rankChunks(ctx, docScope, cands, limit)
}

// rankChunks intersects candidates with the scope, sorts them by score,
// truncates to limit and enriches what is left
func (e *SearchEngine) rankChunks(ctx context.Context, docScope string, cands []models.Scored, limit int) ([]models.Result, error) {
	if docScope = strings.TrimSpace(docScope); docScope != "" && len(cands) > 0 {
		reachable, err := e.chunks.ReachableFrom(ctx, docScope, scoredIDs(cands))
		if err != nil {
			return nil, err
		}
		cands = slices.DeleteFunc(cands, func(c models.Scored) bool {
			return !reachable[c.ID]
		})
	}

	slices.SortStableFunc(cands, func(a, b models.Scored) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if limit >= 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	if len(cands) == 0 {
		return []models.Result{}, nil
	}

	ids := scoredIDs(cands)
	enriched, err := e.chunks.Enrich(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]models.Result, 0, len(cands))
	for _, c := range cands {
		res, ok := enriched[c.ID]
		if !ok {
			continue
		}
		res.Score = c.Score
		results = append(results, *res)
	}
	return e.attachRelated(ctx, results)
}

// SearchByArticle returns the leaf titled "Art. {number}", constrained to
// lawName when given. At most one result.
func (e *SearchEngine) SearchByArticle(ctx context.Context, number, lawName string) ([]models.Result, error) {
	defer e.metrics.ObserveSearch("article", time.Now())

	if e.content == nil {
		return nil, ErrRepositoryNotSet
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return nil, ErrEmptyQuery
	}

	res, err := e.content.FindArticle(ctx, models.ArticleTitle(number), strings.TrimSpace(lawName))
	if errors.Is(err, repository.ErrRecordNotFound) {
		return []models.Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	res.Score = 1.0
	return e.attachRelated(ctx, []models.Result{*res})
}

// WideSearch runs three independent passes and returns their hits in order:
// a greedy walk down the content trees, the nearest leaf by embedding and
// the best leaf by fulltext rank. Absent hits leave no slot.
func (e *SearchEngine) WideSearch(ctx context.Context, query, lawName string) ([]models.Result, error) {
	defer e.metrics.ObserveSearch("wide", time.Now())

	if e.content == nil {
		return nil, ErrRepositoryNotSet
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	emb, err := e.embed(ctx, e.legalEmbedder, query)
	if err != nil {
		return nil, err
	}

	results := make([]models.Result, 0, 3)

	walked, err := e.walk(ctx, emb, strings.TrimSpace(lawName))
	if err != nil {
		return nil, fmt.Errorf("wide search walk: %w", err)
	}
	if walked != nil {
		results = append(results, *walked)
	}

	nearest, err := e.content.LeafVectorSearch(ctx, emb, 1)
	if err != nil {
		return nil, err
	}
	results = append(results, nearest...)

	ranked, err := e.content.LeafFulltextSearch(ctx, strings.ToLower(query), 1)
	if err != nil {
		return nil, err
	}
	results = append(results, ranked...)

	return e.attachRelated(ctx, results)
}

// walk descends from the top-level branches, following only the child most
// similar to the query at each step, until it pops a leaf
func (e *SearchEngine) walk(ctx context.Context, emb []float32, lawName string) (*models.Result, error) {
	seeds, err := e.content.TopLevelBranches(ctx, lawName)
	if err != nil {
		return nil, err
	}

	visited := make(map[uuid.UUID]bool, len(seeds))
	queue := make([]models.ContentNode, 0, len(seeds))
	for _, n := range seeds {
		if !visited[n.ID] {
			visited[n.ID] = true
			queue = append(queue, n)
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue[0]
		queue = queue[1:]

		children, err := e.content.Children(ctx, current.ID)
		if err != nil {
			return nil, err
		}

		var (
			best      *models.ContentNode
			bestScore = math.Inf(-1)
		)
		for i := range children {
			c := &children[i]
			if visited[c.ID] || len(c.Embedding) == 0 {
				continue
			}
			if s := cosine(c.Embedding, emb); s > bestScore {
				best, bestScore = c, s
			}
		}
		if best == nil {
			continue
		}
		visited[best.ID] = true

		if best.HasBody() {
			res, err := e.content.LeafByID(ctx, best.ID)
			if err != nil {
				return nil, err
			}
			res.Score = bestScore
			return res, nil
		}
		queue = append(queue, *best)
	}
	return nil, nil
}

// attachRelated fills Related with the texts of content nodes each result
// cites
func (e *SearchEngine) attachRelated(ctx context.Context, results []models.Result) ([]models.Result, error) {
	if e.relations == nil || len(results) == 0 {
		return results, nil
	}
	ids := make([]uuid.UUID, len(results))
	for i := range results {
		ids[i] = results[i].ID
	}
	related, err := e.relations.RelatedContentTexts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Related = related[results[i].ID]
	}
	return results, nil
}

func (e *SearchEngine) embed(ctx context.Context, emb llm.Embedder, text string) ([]float32, error) {
	if emb == nil {
		return nil, ErrEmbedderNotSet
	}
	v, err := emb.Embed(ctx, text)
	if err != nil {
		if errors.Is(err, llm.ErrEmbeddingFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", llm.ErrEmbeddingFailed, err)
	}
	return v, nil
}

func scoredIDs(cands []models.Scored) []uuid.UUID {
	ids := make([]uuid.UUID, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	return ids
}

// cosine returns the cosine similarity of a and b over their common prefix
func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
