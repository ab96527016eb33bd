// Package embedding turns text into vectors for semantic recall.
package embedding

import (
	"context"
	"fmt"
	"strings"
)

const (
	ProviderOpenAI = "openai"
	ProviderGenAI  = "genai"

	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultGenAIModel  = "gemini-embedding-001"
)

// Engine is the embedding capability.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Options struct {
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the provider endpoint.
	BaseURL string
	// TaskType is the Gemini task type, e.g. SEMANTIC_SIMILARITY.
	TaskType string
}

// New builds the engine for opts.Provider.
func New(ctx context.Context, opts Options) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case ProviderOpenAI, "":
		return NewOpenAIEngine(opts.APIKey, opts.BaseURL, opts.Model)
	case ProviderGenAI:
		return NewGenAIEngine(ctx, opts.APIKey, opts.BaseURL, opts.Model, opts.TaskType)
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q (use %q or %q)", opts.Provider, ProviderOpenAI, ProviderGenAI)
	}
}
