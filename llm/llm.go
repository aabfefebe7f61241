// Package llm wraps the text-generation and embedding models used by the
// question-answering agent and the search engine.
package llm

import (
	"context"
	"errors"
	"math"
)

// Client generates a completion for a prompt under a system instruction
type Client interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Embedder turns a text into a dense vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var (
	ErrEmptyResponse   = errors.New("model returned an empty response")
	ErrEmbeddingFailed = errors.New("failed to generate embedding")
	ErrUnknownProvider = errors.New("unknown model provider")
)

// ClientFunc adapts a function to Client
type ClientFunc func(ctx context.Context, system, prompt string) (string, error)

func (f ClientFunc) Generate(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

// EmbedderFunc adapts a function to Embedder
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// normalize scales v to unit length in place and truncates it to dims when
// dims is positive and smaller than len(v).
func normalize(v []float32, dims int) []float32 {
	if dims > 0 && len(v) > dims {
		v = v[:dims]
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
