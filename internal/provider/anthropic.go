package provider

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

type anthropicProvider struct {
	id        string
	model     string
	maxTokens int64
	client    anthropic.Client
}

func (p *anthropicProvider) Generate(ctx context.Context, system string, user string) (string, error) {
	return p.stream(ctx, system, user, nil)
}

func (p *anthropicProvider) Stream(ctx context.Context, prompt string, onDelta func(string)) (string, error) {
	return p.stream(ctx, "", prompt, onDelta)
}

func (p *anthropicProvider) stream(ctx context.Context, system string, user string, onDelta func(string)) (string, error) {
	if p == nil {
		return "", errors.New("nil provider")
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if strings.TrimSpace(system) != "" {
		params.System = []anthropic.TextBlockParam{{Text: strings.TrimSpace(system)}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var textBuf strings.Builder
	gotStop := false
	for stream.Next() {
		event := stream.Current()
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				textBuf.WriteString(delta.Text)
				if onDelta != nil {
					onDelta(delta.Text)
				}
			}
		case anthropic.MessageStopEvent:
			gotStop = true
		}
	}
	if err := stream.Err(); err != nil {
		return "", classify(p.id, err)
	}
	if !gotStop {
		return "", &Error{Provider: p.id, Message: "missing message_stop event"}
	}
	return textBuf.String(), nil
}
