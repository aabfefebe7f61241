// Package app wires configuration, the graph store, the models and the
// services together for the binaries.
package app

import (
	"context"
	"fmt"

	"lexgraph-backend/config"
	"lexgraph-backend/kb"
	"lexgraph-backend/llm"
	"lexgraph-backend/metrics"
	"lexgraph-backend/repository"
	"lexgraph-backend/service"
	"lexgraph-backend/storage"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// App owns the long-lived handles of a lexgraph process
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	DB       *pgxpool.Pool

	Documents   *repository.DocumentRepository
	Chunks      *repository.ChunkRepository
	Content     *repository.ContentRepository
	Relations   *repository.RelationRepository
	Transcripts *repository.TranscriptRepository

	models *llm.Models
	store  storage.Storage
}

// New connects to the database and builds the repositories. Models are
// created on first use so that commands which never call a model need no
// API key.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := initPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
	}
	logger.Info("postgres connection established")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opt := repository.WithQueryTimeout(cfg.Database.QueryTimeout)
	return &App{
		Config:      cfg,
		Logger:      logger,
		Registry:    reg,
		Metrics:     metrics.New(reg),
		DB:          db,
		Documents:   repository.NewDocumentRepository(db, opt),
		Chunks:      repository.NewChunkRepository(db, opt),
		Content:     repository.NewContentRepository(db, opt),
		Relations:   repository.NewRelationRepository(db, opt),
		Transcripts: repository.NewTranscriptRepository(db, opt),
	}, nil
}

func initPostgres(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Models returns the model handles, creating them on first call
func (a *App) Models(ctx context.Context) (*llm.Models, error) {
	if a.models != nil {
		return a.models, nil
	}
	m, err := llm.NewModels(ctx, a.Config.LLM, a.Config.Embedding, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize models: %w", err)
	}
	a.models = m
	return m, nil
}

// Storage returns the configured transcript store, creating it on first call
func (a *App) Storage(ctx context.Context) (storage.Storage, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := storage.NewStorage(ctx, storage.ConfigFrom(a.Config.Storage), a.Transcripts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Logger.Info("storage initialized", zap.String("type", a.Config.Storage.Type))
	a.store = s
	return s, nil
}

// Matcher creates a citation matcher over the graph
func (a *App) Matcher() *service.CitationMatcher {
	return service.NewCitationMatcher(
		service.MatcherWithDocuments(a.Documents),
		service.MatcherWithContent(a.Content),
		service.MatcherWithRelations(a.Relations),
		service.MatcherWithLogger(a.Logger.Named("matcher")),
	)
}

// SearchEngine creates the search engine
func (a *App) SearchEngine(ctx context.Context) (*service.SearchEngine, error) {
	m, err := a.Models(ctx)
	if err != nil {
		return nil, err
	}
	return service.NewSearchEngine(
		service.SearchWithChunks(a.Chunks),
		service.SearchWithContent(a.Content),
		service.SearchWithRelations(a.Relations),
		service.SearchWithEmbedder(m.Embedder),
		service.SearchWithLegalEmbedder(m.LegalEmbedder),
		service.SearchWithOverfetch(a.Config.Search.Overfetch),
		service.SearchWithLogger(a.Logger.Named("search")),
		service.SearchWithMetrics(a.Metrics),
	), nil
}

// Agent creates the question-answering agent
func (a *App) Agent(ctx context.Context) (*service.Agent, error) {
	m, err := a.Models(ctx)
	if err != nil {
		return nil, err
	}
	engine, err := a.SearchEngine(ctx)
	if err != nil {
		return nil, err
	}
	store, err := a.Storage(ctx)
	if err != nil {
		return nil, err
	}
	return service.NewAgent(
		service.AgentWithLLM(m.Chat),
		service.AgentWithSearch(engine),
		service.AgentWithDocuments(a.Documents),
		service.AgentWithStorage(store),
		service.AgentWithMaxIterations(a.Config.Agent.MaxIterations),
		service.AgentWithLimit(a.Config.Search.Limit),
		service.AgentWithTokenCounter(llm.CountTokens),
		service.AgentWithLogger(a.Logger.Named("agent")),
		service.AgentWithMetrics(a.Metrics),
	), nil
}

// ClusterBuilder creates the citation clustering job
func (a *App) ClusterBuilder() *service.ClusterBuilder {
	return service.NewClusterBuilder(
		service.ClusterWithContent(a.Content),
		service.ClusterWithRelations(a.Relations),
		service.ClusterWithMatcher(a.Matcher()),
		service.ClusterWithWorkers(a.Config.Cluster.Workers),
		service.ClusterWithLawName(a.Config.Cluster.LawName),
		service.ClusterWithLogger(a.Logger.Named("cluster")),
		service.ClusterWithMetrics(a.Metrics),
	)
}

// Loader creates the knowledge-base loader
func (a *App) Loader(ctx context.Context) (*kb.Loader, error) {
	m, err := a.Models(ctx)
	if err != nil {
		return nil, err
	}
	return kb.NewLoader(
		kb.LoaderWithDocuments(a.Documents),
		kb.LoaderWithContent(a.Content),
		kb.LoaderWithChunks(a.Chunks),
		kb.LoaderWithEmbedder(m.Embedder),
		kb.LoaderWithLegalEmbedder(m.LegalEmbedder),
		kb.LoaderWithLogger(a.Logger.Named("kb")),
	), nil
}

// CreateSchema applies the graph schema
func (a *App) CreateSchema(ctx context.Context) error {
	return repository.CreateSchema(ctx, a.DB, a.Config.Embedding.Dimensions, a.Logger.Named("schema"))
}

// Close releases the models and the database pool
func (a *App) Close() error {
	var err error
	if a.models != nil {
		err = a.models.Close()
	}
	a.DB.Close()
	return err
}
