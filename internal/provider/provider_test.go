package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type openAIMock struct {
	deltas       []string
	skipComplete bool
	status       int
	header       http.Header

	mu           sync.Mutex
	instructions string
	input        string
}

func (m *openAIMock) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(r.Header.Get("Authorization")) != "Bearer sk-test" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !strings.HasSuffix(strings.TrimSpace(r.URL.Path), "/responses") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()
	var req map[string]any
	_ = json.Unmarshal(body, &req)
	m.mu.Lock()
	m.instructions, _ = req["instructions"].(string)
	m.input, _ = req["input"].(string)
	m.mu.Unlock()

	if m.status != 0 {
		for k, vs := range m.header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.status)
		_, _ = io.WriteString(w, `{"error":{"message":"mock failure","type":"mock_error"}}`)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	f, ok := w.(http.Flusher)
	if !ok {
		return
	}
	for _, d := range m.deltas {
		writeSSEJSON(w, f, map[string]any{
			"type":    "response.output_text.delta",
			"item_id": "msg_1",
			"delta":   d,
		})
	}
	if !m.skipComplete {
		writeSSEJSON(w, f, map[string]any{
			"type":     "response.completed",
			"response": map[string]any{"usage": map[string]any{"input_tokens": 1, "output_tokens": 1}},
		})
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	f.Flush()
}

func (m *openAIMock) seen() (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instructions, m.input
}

func writeSSEJSON(w io.Writer, f http.Flusher, v any) {
	b, _ := json.Marshal(v)
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(b)
	_, _ = io.WriteString(w, "\n\n")
	f.Flush()
}

func newOpenAITestProvider(t *testing.T, mock *openAIMock) Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(mock.handle))
	t.Cleanup(srv.Close)
	p, err := New(Options{ID: "fast", Type: TypeOpenAI, BaseURL: strings.TrimSuffix(srv.URL, "/") + "/v1", APIKey: "sk-test", Model: "gpt-5-mini"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestOpenAIProvider_StreamCollectsDeltas(t *testing.T) {
	t.Parallel()

	mock := &openAIMock{deltas: []string{`<file path="a.js">`, "x", "</file>"}}
	p := newOpenAITestProvider(t, mock)

	var seen []string
	text, err := p.Stream(context.Background(), "build it", func(d string) { seen = append(seen, d) })
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if text != `<file path="a.js">x</file>` {
		t.Fatalf("text=%q", text)
	}
	if len(seen) != 3 {
		t.Fatalf("deltas=%d, want 3", len(seen))
	}
	if _, input := mock.seen(); input != "build it" {
		t.Fatalf("input=%q, want %q", input, "build it")
	}
}

func TestOpenAIProvider_GenerateSendsInstructions(t *testing.T) {
	t.Parallel()

	mock := &openAIMock{deltas: []string{"ok"}}
	p := newOpenAITestProvider(t, mock)

	text, err := p.Generate(context.Background(), "  be strict  ", "harden it")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "ok" {
		t.Fatalf("text=%q, want ok", text)
	}
	instructions, input := mock.seen()
	if instructions != "be strict" {
		t.Fatalf("instructions=%q, want %q", instructions, "be strict")
	}
	if input != "harden it" {
		t.Fatalf("input=%q, want %q", input, "harden it")
	}
}

func TestOpenAIProvider_MissingCompletedFails(t *testing.T) {
	t.Parallel()

	p := newOpenAITestProvider(t, &openAIMock{deltas: []string{"partial"}, skipComplete: true})
	_, err := p.Stream(context.Background(), "hi", nil)
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("err=%v, want *Error", err)
	}
	if !strings.Contains(perr.Error(), "response.completed") {
		t.Fatalf("err=%q, want mention of response.completed", perr.Error())
	}
}

func TestOpenAIProvider_RateLimitCarriesRetryAfter(t *testing.T) {
	t.Parallel()

	p := newOpenAITestProvider(t, &openAIMock{
		status: http.StatusTooManyRequests,
		header: http.Header{"Retry-After": []string{"7"}},
	})
	_, err := p.Stream(context.Background(), "hi", nil)
	rl, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("err=%v, want *RateLimitError", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Fatalf("retry_after=%s, want 7s", rl.RetryAfter)
	}
	if rl.Provider != "fast" {
		t.Fatalf("provider=%q, want fast", rl.Provider)
	}
}

func TestOpenAIProvider_ServerErrorIsProviderError(t *testing.T) {
	t.Parallel()

	p := newOpenAITestProvider(t, &openAIMock{status: http.StatusBadRequest})
	_, err := p.Generate(context.Background(), "", "hi")
	if _, ok := IsRateLimited(err); ok {
		t.Fatalf("err=%v classified as rate limit", err)
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("err=%v, want *Error", err)
	}
	if perr.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want %d", perr.StatusCode, http.StatusBadRequest)
	}
}

type anthropicMock struct {
	token  string
	status int
	header http.Header

	mu     sync.Mutex
	system string
}

func (m *anthropicMock) handle(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(r.Header.Get("x-api-key")) != "sk-ant-test" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !strings.HasSuffix(strings.TrimSpace(r.URL.Path), "/messages") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()
	var req struct {
		System []struct {
			Text string `json:"text"`
		} `json:"system"`
	}
	_ = json.Unmarshal(body, &req)
	m.mu.Lock()
	if len(req.System) > 0 {
		m.system = req.System[0].Text
	}
	m.mu.Unlock()

	if m.status != 0 {
		for k, vs := range m.header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.status)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	f, ok := w.(http.Flusher)
	if !ok {
		return
	}
	writeAnthropicSSEJSON(w, f, map[string]any{"type": "message_start", "message": map[string]any{}})
	writeAnthropicSSEJSON(w, f, map[string]any{
		"type":          "content_block_start",
		"index":         0,
		"content_block": map[string]any{"type": "text", "text": ""},
	})
	writeAnthropicSSEJSON(w, f, map[string]any{
		"type":  "content_block_delta",
		"index": 0,
		"delta": map[string]any{"type": "text_delta", "text": m.token},
	})
	writeAnthropicSSEJSON(w, f, map[string]any{"type": "content_block_stop", "index": 0})
	writeAnthropicSSEJSON(w, f, map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": "end_turn", "stop_sequence": nil},
		"usage": map[string]any{"output_tokens": 1},
	})
	writeAnthropicSSEJSON(w, f, map[string]any{"type": "message_stop"})
}

func writeAnthropicSSEJSON(w io.Writer, f http.Flusher, v any) {
	if m, ok := v.(map[string]any); ok {
		if t, ok := m["type"].(string); ok && strings.TrimSpace(t) != "" {
			_, _ = io.WriteString(w, "event: "+strings.TrimSpace(t)+"\n")
		}
	}
	b, _ := json.Marshal(v)
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(b)
	_, _ = io.WriteString(w, "\n\n")
	f.Flush()
}

func newAnthropicTestProvider(t *testing.T, mock *anthropicMock) Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(mock.handle))
	t.Cleanup(srv.Close)
	p, err := New(Options{ID: "refine", Type: TypeAnthropic, BaseURL: srv.URL, APIKey: "sk-ant-test", Model: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestAnthropicProvider_GenerateReturnsText(t *testing.T) {
	t.Parallel()

	mock := &anthropicMock{token: `<file path="b.go">package b</file>`}
	p := newAnthropicTestProvider(t, mock)

	text, err := p.Generate(context.Background(), "system rules", "refine this")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != mock.token {
		t.Fatalf("text=%q, want %q", text, mock.token)
	}
	mock.mu.Lock()
	system := mock.system
	mock.mu.Unlock()
	if system != "system rules" {
		t.Fatalf("system=%q, want %q", system, "system rules")
	}
}

func TestAnthropicProvider_RateLimitMilliseconds(t *testing.T) {
	t.Parallel()

	p := newAnthropicTestProvider(t, &anthropicMock{
		status: http.StatusTooManyRequests,
		header: http.Header{"Retry-After-Ms": []string{"1500"}},
	})
	_, err := p.Generate(context.Background(), "", "hi")
	rl, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("err=%v, want *RateLimitError", err)
	}
	if rl.RetryAfter != 1500*time.Millisecond {
		t.Fatalf("retry_after=%s, want 1.5s", rl.RetryAfter)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{Type: TypeOpenAI, Model: "m"}); err == nil {
		t.Fatalf("expected missing api key error")
	}
	if _, err := New(Options{Type: TypeOpenAI, APIKey: "k"}); err == nil {
		t.Fatalf("expected missing model error")
	}
	if _, err := New(Options{Type: "bard", APIKey: "k", Model: "m"}); err == nil {
		t.Fatalf("expected unsupported type error")
	}
	if _, err := New(Options{Type: " OpenAI_Compatible ", APIKey: "k", Model: "m"}); err != nil {
		t.Fatalf("New openai_compatible: %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cases := []struct {
		name string
		h    http.Header
		want time.Duration
	}{
		{name: "nil", h: nil, want: 0},
		{name: "seconds", h: http.Header{"Retry-After": []string{"3"}}, want: 3 * time.Second},
		{name: "ms_wins", h: http.Header{"Retry-After": []string{"3"}, "Retry-After-Ms": []string{"250"}}, want: 250 * time.Millisecond},
		{name: "http_date", h: http.Header{"Retry-After": []string{now.Add(10 * time.Second).Format(http.TimeFormat)}}, want: 10 * time.Second},
		{name: "past_date", h: http.Header{"Retry-After": []string{now.Add(-time.Minute).Format(http.TimeFormat)}}, want: 0},
		{name: "garbage", h: http.Header{"Retry-After": []string{"soon"}}, want: 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := ParseRetryAfter(tc.h, now); got != tc.want {
				t.Fatalf("ParseRetryAfter=%s, want %s", got, tc.want)
			}
		})
	}
}
