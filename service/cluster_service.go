package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"lexgraph-backend/extractor"
	"lexgraph-backend/metrics"
	"lexgraph-backend/models"
	"lexgraph-backend/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultLawName is the law whose articles intentional relations start from
const DefaultLawName = "Codice Civile"

// ClusterBuilder links content nodes to the articles they cite
type ClusterBuilder struct {
	content   ContentStore
	relations RelationStore
	matcher   Matcher
	extractor extractor.Extractor
	workers   int
	lawName   string
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// ClusterOption is a functional option for ClusterBuilder
type ClusterOption func(*ClusterBuilder)

// ClusterWithContent sets the content store
func ClusterWithContent(s ContentStore) ClusterOption {
	return func(b *ClusterBuilder) {
		b.content = s
	}
}

// ClusterWithRelations sets the relation store used for the edge count
func ClusterWithRelations(s RelationStore) ClusterOption {
	return func(b *ClusterBuilder) {
		b.relations = s
	}
}

// ClusterWithMatcher sets the citation matcher
func ClusterWithMatcher(m Matcher) ClusterOption {
	return func(b *ClusterBuilder) {
		b.matcher = m
	}
}

// ClusterWithExtractor sets the citation extractor
func ClusterWithExtractor(x extractor.Extractor) ClusterOption {
	return func(b *ClusterBuilder) {
		b.extractor = x
	}
}

// ClusterWithWorkers sets how many nodes are processed at once
func ClusterWithWorkers(n int) ClusterOption {
	return func(b *ClusterBuilder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// ClusterWithLawName sets the law intentional relations start from
func ClusterWithLawName(name string) ClusterOption {
	return func(b *ClusterBuilder) {
		if name != "" {
			b.lawName = name
		}
	}
}

// ClusterWithLogger sets the logger
func ClusterWithLogger(logger *zap.Logger) ClusterOption {
	return func(b *ClusterBuilder) {
		b.logger = logger
	}
}

// ClusterWithMetrics sets the metrics sink
func ClusterWithMetrics(m *metrics.Metrics) ClusterOption {
	return func(b *ClusterBuilder) {
		b.metrics = m
	}
}

// NewClusterBuilder creates a new cluster builder. It processes one node at
// a time unless ClusterWithWorkers says otherwise.
func NewClusterBuilder(opts ...ClusterOption) *ClusterBuilder {
	b := &ClusterBuilder{
		workers:   1,
		lawName:   DefaultLawName,
		extractor: extractor.NewRuleExtractor(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ClusterResult reports a clustering run
type ClusterResult struct {
	Processed int   // sources examined
	Failed    int   // sources skipped after an error
	Created   int64 // edges written by this run
	Total     int64 // edges in the graph afterwards
}

func (b *ClusterBuilder) check() error {
	if b.content == nil || b.relations == nil || b.matcher == nil {
		return ErrRepositoryNotSet
	}
	if b.extractor == nil {
		return errors.New("citation extractor not set")
	}
	return nil
}

// Run extracts the citations of every content node with a body and links
// each node to the articles it cites. A node that fails is logged and
// skipped. Running it again over unchanged content creates nothing.
func (b *ClusterBuilder) Run(ctx context.Context) (*ClusterResult, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	nodes, err := b.content.NodesWithBody(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list content nodes: %w", err)
	}
	b.logger.Info("clustering started",
		zap.Int("nodes", len(nodes)),
		zap.Int("workers", b.workers))

	var created, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, node := range nodes {
		if gctx.Err() != nil {
			break
		}
		if !node.HasBody() {
			continue
		}
		g.Go(func() error {
			n, err := b.linkCitations(gctx, node.ID, *node.Body, nil)
			created.Add(n)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failed.Add(1)
				b.metrics.NodeFailed()
				b.logger.Warn("node skipped",
					zap.String("node_id", node.ID.String()),
					zap.String("title", node.Title),
					zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return b.finish(ctx, &ClusterResult{
		Processed: len(nodes),
		Failed:    int(failed.Load()),
		Created:   created.Load(),
	})
}

// linkCitations creates an edge from source to every resolved citation in
// text and returns how many were new
func (b *ClusterBuilder) linkCitations(ctx context.Context, source uuid.UUID, text string, edgeText *string) (int64, error) {
	citations, err := b.extractor.Extract(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("citation extraction failed: %w", err)
	}

	var created int64
	for _, c := range citations {
		match := b.matcher.FindBestMatch(ctx, c.DocumentName, c.ArticleNumber)
		// an article citing itself gets no edge
		if !match.Resolved() || match.ArticleID.UUID == source {
			continue
		}
		ok, err := b.matcher.CreateRelated(ctx, source, match.ArticleID.UUID, edgeText)
		if err != nil {
			return created, fmt.Errorf("failed to link %s art. %s: %w", c.DocumentName, c.ArticleNumber, err)
		}
		if ok {
			created++
			b.metrics.EdgeCreated()
		}
	}
	return created, nil
}

func (b *ClusterBuilder) finish(ctx context.Context, res *ClusterResult) (*ClusterResult, error) {
	total, err := b.relations.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count related edges: %w", err)
	}
	res.Total = total

	b.logger.Info("clustering completed",
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
		zap.Int64("created", res.Created),
		zap.Int64("total", res.Total))
	return res, nil
}

// intentionalRecord is one line of a relations file
type intentionalRecord struct {
	ArticleNumber string `json:"article_number"`
	Text          string `json:"text"`
}

// RelateFromDir reads every *.jsonl file in dir. Each record names an
// article of the configured law and a passage about it; the citations in
// the passage are linked from that article with the passage as edge text.
// Unparseable lines and records with missing fields are skipped.
func (b *ClusterBuilder) RelateFromDir(ctx context.Context, dir string) (*ClusterResult, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list relation files: %w", err)
	}
	sort.Strings(files)
	b.logger.Info("relating from files", zap.Int("files", len(files)), zap.String("dir", dir))

	res := &ClusterResult{}
	for _, path := range files {
		if err := b.relateFile(ctx, path, res); err != nil {
			return nil, err
		}
	}
	return b.finish(ctx, res)
}

func (b *ClusterBuilder) relateFile(ctx context.Context, path string, res *ClusterResult) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	logger := b.logger.With(zap.String("file", filepath.Base(path)))

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}

		var rec intentionalRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			logger.Warn("unparseable line skipped", zap.Int("line", line), zap.Error(err))
			continue
		}
		if rec.ArticleNumber == "" || rec.Text == "" {
			continue
		}
		res.Processed++

		title := models.ArticleTitle(rec.ArticleNumber)
		source, err := b.content.FindArticle(ctx, title, b.lawName)
		if err != nil {
			if errors.Is(err, repository.ErrRecordNotFound) {
				logger.Warn("no matching article", zap.String("article", title))
			} else {
				logger.Warn("article lookup failed", zap.String("article", title), zap.Error(err))
			}
			res.Failed++
			continue
		}

		text := rec.Text
		n, err := b.linkCitations(ctx, source.ID, text, &text)
		res.Created += n
		if err != nil {
			res.Failed++
			b.metrics.NodeFailed()
			logger.Warn("record skipped", zap.Int("line", line), zap.Error(err))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}
