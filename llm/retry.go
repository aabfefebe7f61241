package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RetryConfig holds retry configuration for model requests
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns three attempts with a doubling backoff from 1s
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// permanentError marks a failure that retrying cannot fix
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the guard stops retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Guard applies a per-attempt timeout, rate limiting and retries with
// exponential backoff to model calls.
type Guard struct {
	timeout time.Duration
	retry   RetryConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// GuardOption is a functional option for Guard
type GuardOption func(*Guard)

// GuardWithTimeout bounds each attempt
func GuardWithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		g.timeout = d
	}
}

// GuardWithRetry sets the retry policy
func GuardWithRetry(cfg RetryConfig) GuardOption {
	return func(g *Guard) {
		g.retry = cfg
	}
}

// GuardWithLimiter shares a token bucket between guarded calls
func GuardWithLimiter(l *rate.Limiter) GuardOption {
	return func(g *Guard) {
		g.limiter = l
	}
}

// GuardWithLogger sets the logger
func GuardWithLogger(logger *zap.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger
	}
}

// NewGuard creates a guard with the default retry policy and no timeout
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{
		retry:  DefaultRetryConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retry.MaxAttempts < 1 {
		g.retry.MaxAttempts = 1
	}
	return g
}

// NewLimiter returns a limiter allowing rps requests per second, or nil
// (unlimited) when rps is not positive.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// Do runs fn until it succeeds, fails permanently, the parent context ends,
// or the attempts are exhausted.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := g.retry.InitialBackoff
	var lastErr error
	for attempt := 0; attempt < g.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			g.logger.Warn("retrying model call",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
			if g.retry.MaxBackoff > 0 && backoff > g.retry.MaxBackoff {
				backoff = g.retry.MaxBackoff
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: rate limiter: %w", op, err)
			}
		}

		lastErr = g.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) || ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, lastErr)
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, g.retry.MaxAttempts, lastErr)
}

func (g *Guard) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return fn(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type guardedClient struct {
	next  Client
	guard *Guard
}

// GuardClient wraps c so every Generate call goes through g
func GuardClient(c Client, g *Guard) Client {
	return &guardedClient{next: c, guard: g}
}

func (c *guardedClient) Generate(ctx context.Context, system, prompt string) (string, error) {
	var out string
	err := c.guard.Do(ctx, "generate", func(ctx context.Context) error {
		var err error
		out, err = c.next.Generate(ctx, system, prompt)
		return err
	})
	return out, err
}

type guardedEmbedder struct {
	next  Embedder
	guard *Guard
}

// GuardEmbedder wraps e so every Embed call goes through g
func GuardEmbedder(e Embedder, g *Guard) Embedder {
	return &guardedEmbedder{next: e, guard: g}
}

func (e *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.guard.Do(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = e.next.Embed(ctx, text)
		return err
	})
	return out, err
}
