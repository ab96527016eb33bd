package provider

import (
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

type openAIProvider struct {
	id        string
	model     string
	maxTokens int64
	client    openai.Client
}

func (p *openAIProvider) Generate(ctx context.Context, system string, user string) (string, error) {
	return p.stream(ctx, system, user, nil)
}

func (p *openAIProvider) Stream(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	return p.stream(ctx, "", prompt, onDelta)
}

// stream drives the Responses API. A reply without response.completed is a
// failure even when text arrived.
func (p *openAIProvider) stream(ctx context.Context, system string, user string, onDelta func(string)) (string, error) {
	if p == nil {
		return "", errors.New("nil provider")
	}
	params := oresponses.ResponseNewParams{
		Model:           oshared.ResponsesModel(p.model),
		MaxOutputTokens: openai.Int(p.maxTokens),
		Input: oresponses.ResponseNewParamsInputUnion{
			OfString: openai.String(user),
		},
	}
	if strings.TrimSpace(system) != "" {
		params.Instructions = openai.String(strings.TrimSpace(system))
	}

	stream := p.client.Responses.NewStreaming(ctx, params)
	defer stream.Close()

	var textBuf strings.Builder
	gotCompleted := false
	for stream.Next() {
		event := stream.Current()
		switch strings.TrimSpace(event.Type) {
		case "response.output_text.delta":
			delta := event.Delta.OfString
			if delta == "" {
				continue
			}
			textBuf.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		case "response.completed":
			gotCompleted = true
		case "response.failed", "error":
			return "", &Error{Provider: p.id, Message: "stream reported " + event.Type}
		}
	}
	if err := stream.Err(); err != nil {
		return "", classify(p.id, err)
	}
	if !gotCompleted {
		return "", &Error{Provider: p.id, Message: "missing response.completed event"}
	}
	return textBuf.String(), nil
}
