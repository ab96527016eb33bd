package pipeline

import (
	"context"
	"strings"

	"github.com/floegence/redeven-forge/internal/orchestrator"
	"github.com/floegence/redeven-forge/internal/recall"
	"github.com/floegence/redeven-forge/internal/routing"
)

type MessageKind string

const (
	MessageStatus      MessageKind = "status"
	MessageExplanation MessageKind = "explanation"
	MessageFix         MessageKind = "fix"
	MessageComplete    MessageKind = "complete"
	MessageError       MessageKind = "error"
)

// Message is one step of a debug run. Fix is set for MessageFix and Err for
// MessageError.
type Message struct {
	Kind MessageKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	Fix  *FileChange `json:"fix,omitempty"`
	Err  error       `json:"-"`
}

// Debug asks the models to fix errText in the files of req and streams the
// outcome: one status, the explanation, one fix per file, then complete. Any
// failure ends the stream with a single error message. The channel is closed
// when the run ends; a cancelled ctx stops delivery.
//
// Every fix is remembered as a correction record without waiting for it.
func (w *Workbench) Debug(ctx context.Context, req orchestrator.Request, errText string) <-chan Message {
	ch := make(chan Message, 4)
	go func() {
		defer close(ch)
		send := func(m Message) bool {
			select {
			case ch <- m:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(Message{Kind: MessageStatus, Text: "analyzing error"}) {
			return
		}
		dreq := debugRequest(req, errText)
		matches := w.recall(ctx, dreq.Prompt)
		if len(matches) > 0 {
			dreq.Context = withRecalled(dreq.Context, matches)
		}

		res, err := w.orch.Generate(ctx, dreq)
		if err != nil {
			send(Message{Kind: MessageError, Text: err.Error(), Err: err})
			return
		}
		changes, err := w.diffAll(ctx, nil, dreq.Base, res.Files)
		if err != nil {
			send(Message{Kind: MessageError, Text: err.Error(), Err: err})
			return
		}

		if !send(Message{Kind: MessageExplanation, Text: res.Explanation}) {
			return
		}
		for i := range changes {
			c := changes[i]
			if !send(Message{Kind: MessageFix, Text: c.Path, Fix: &c}) {
				return
			}
			if w.memory != nil && c.Changed() {
				w.memory.RecordAsync(ctx, recall.TypeCorrection, recall.Content{
					Prompt: dreq.Prompt,
					Preset: req.Preset,
					Diff:   c.Diff,
					Extra:  map[string]string{"path": c.Path, "error": firstLine(errText)},
				})
			}
		}
		send(Message{Kind: MessageComplete, Text: "debug complete"})
	}()
	return ch
}

// debugRequest turns req into a fix request. An unset mode is routed to the
// refine model.
func debugRequest(req orchestrator.Request, errText string) orchestrator.Request {
	var b strings.Builder
	b.WriteString("Fix the following error.\n")
	b.WriteString(strings.TrimSpace(errText))
	if p := strings.TrimSpace(req.Prompt); p != "" {
		b.WriteString("\n\nThe code was produced for this request:\n")
		b.WriteString(p)
	}
	req.Prompt = b.String()
	if strings.TrimSpace(req.Mode) == "" {
		req.Mode = string(routing.StrategyRefine)
	}
	return req
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
