// Package provider adapts hosted language models to a two-call capability:
// a one-shot Generate and a streaming Stream.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

const (
	TypeOpenAI           = "openai"
	TypeOpenAICompatible = "openai_compatible"
	TypeAnthropic        = "anthropic"

	defaultMaxOutputTokens = 8192
)

// Provider is the model capability used by the orchestrator.
//
// Stream blocks until the reply is complete; onDelta, if non-nil, sees each
// text fragment in order. Both calls return the full reply text.
type Provider interface {
	Generate(ctx context.Context, system string, user string) (string, error)
	Stream(ctx context.Context, prompt string, onDelta func(string)) (string, error)
}

type Options struct {
	// ID names the provider in errors and logs.
	ID              string
	Type            string
	BaseURL         string
	APIKey          string
	Model           string
	MaxOutputTokens int64
}

// New builds the SDK-backed adapter for opts.Type. SDK-level retries are
// disabled; rate limits surface as *RateLimitError to the caller.
func New(opts Options) (Provider, error) {
	providerType := strings.ToLower(strings.TrimSpace(opts.Type))
	apiKey := strings.TrimSpace(opts.APIKey)
	baseURL := strings.TrimSpace(opts.BaseURL)
	model := strings.TrimSpace(opts.Model)
	if apiKey == "" {
		return nil, errors.New("missing provider api key")
	}
	if model == "" {
		return nil, errors.New("missing model")
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = providerType
	}
	maxTokens := opts.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}

	switch providerType {
	case TypeOpenAI, TypeOpenAICompatible:
		clientOpts := []ooption.RequestOption{ooption.WithAPIKey(apiKey), ooption.WithMaxRetries(0)}
		if baseURL != "" {
			clientOpts = append(clientOpts, ooption.WithBaseURL(baseURL))
		}
		return &openAIProvider{
			id:        id,
			model:     model,
			maxTokens: maxTokens,
			client:    openai.NewClient(clientOpts...),
		}, nil
	case TypeAnthropic:
		clientOpts := []aoption.RequestOption{aoption.WithAPIKey(apiKey), aoption.WithMaxRetries(0)}
		if baseURL != "" {
			clientOpts = append(clientOpts, aoption.WithBaseURL(baseURL))
		}
		return &anthropicProvider{
			id:        id,
			model:     model,
			maxTokens: maxTokens,
			client:    anthropic.NewClient(clientOpts...),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", providerType)
	}
}
