package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"lexgraph-backend/config"
)

// Models holds the model handles built from configuration. Chat and the
// embedders are already guarded by timeouts, retries and a shared rate
// limiter.
type Models struct {
	Chat          Client
	Embedder      Embedder
	LegalEmbedder Embedder

	gemini map[string]*genai.Client
}

// NewModels creates the chat model and the two embedders
func NewModels(ctx context.Context, llmCfg config.LLMConfig, embCfg config.EmbeddingConfig, logger *zap.Logger) (*Models, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Models{gemini: make(map[string]*genai.Client)}

	limiter := NewLimiter(llmCfg.RequestsPerSecond)
	retry := DefaultRetryConfig()
	retry.MaxAttempts = llmCfg.MaxRetries

	chat, err := m.newChat(ctx, llmCfg)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.Chat = GuardClient(chat, NewGuard(
		GuardWithTimeout(llmCfg.Timeout),
		GuardWithRetry(retry),
		GuardWithLimiter(limiter),
		GuardWithLogger(logger.Named("llm")),
	))

	embGuard := NewGuard(
		GuardWithTimeout(embCfg.Timeout),
		GuardWithRetry(retry),
		GuardWithLimiter(limiter),
		GuardWithLogger(logger.Named("embedding")),
	)
	emb, err := m.newEmbedder(ctx, embCfg, embCfg.Model)
	if err != nil {
		m.Close()
		return nil, err
	}
	m.Embedder = GuardEmbedder(emb, embGuard)

	m.LegalEmbedder = m.Embedder
	if embCfg.LegalModel != "" && embCfg.LegalModel != embCfg.Model {
		legal, err := m.newEmbedder(ctx, embCfg, embCfg.LegalModel)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.LegalEmbedder = GuardEmbedder(legal, embGuard)
	}

	logger.Info("models initialized",
		zap.String("llm_provider", llmCfg.Provider),
		zap.String("llm_model", llmCfg.Model),
		zap.String("embedding_provider", embCfg.Provider),
		zap.String("embedding_model", embCfg.Model),
		zap.Int("dimensions", embCfg.Dimensions),
	)
	return m, nil
}

func (m *Models) newChat(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "gemini":
		gc, err := m.geminiClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		opts := []GeminiOption{GeminiWithTemperature(cfg.Temperature)}
		if cfg.MaxTokens > 0 {
			opts = append(opts, GeminiWithMaxTokens(int32(cfg.MaxTokens)))
		}
		return NewGeminiClient(gc, cfg.Model, opts...), nil
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
}

func (m *Models) newEmbedder(ctx context.Context, cfg config.EmbeddingConfig, model string) (Embedder, error) {
	switch cfg.Provider {
	case "gemini":
		gc, err := m.geminiClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, err
		}
		return NewGeminiEmbedder(gc, model, cfg.Dimensions), nil
	case "openai":
		return NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, model, cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
}

// geminiClient returns one genai client per API key
func (m *Models) geminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if c, ok := m.gemini[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	m.gemini[apiKey] = c
	return c, nil
}

// Close releases the underlying clients
func (m *Models) Close() error {
	var errs []error
	for _, c := range m.gemini {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.gemini = map[string]*genai.Client{}
	return errors.Join(errs...)
}
