package recall

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeEngine maps a text to a vector by the first matching key it contains.
type fakeEngine struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   atomic.Int32
	block   chan struct{}
}

func (f *fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, vec := range f.vectors {
		if strings.Contains(text, key) {
			return vec, nil
		}
	}
	return []float32{0, 0}, nil
}

func unitAt(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos))}
}

func TestStore_QueryThresholdAndLimit(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{vectors: map[string][]float32{
		"query-login": {1, 0},
		"r-high":      unitAt(0.91),
		"r-mid":       unitAt(0.72),
		"r-low":       unitAt(0.40),
	}}
	store, err := New(engine, &MemoryBackend{}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	for _, p := range []string{"r-mid", "r-low", "r-high"} {
		if _, err := store.Record(ctx, TypePattern, Content{Prompt: p}); err != nil {
			t.Fatalf("Record %s: %v", p, err)
		}
	}

	got, err := store.Query(ctx, "query-login", 0.7, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("matches=%d, want 2", len(got))
	}
	if got[0].Content.Prompt != "r-high" || got[1].Content.Prompt != "r-mid" {
		t.Fatalf("order=[%s %s], want [r-high r-mid]", got[0].Content.Prompt, got[1].Content.Prompt)
	}
	if math.Abs(got[0].Similarity-0.91) > 1e-4 || math.Abs(got[1].Similarity-0.72) > 1e-4 {
		t.Fatalf("similarities=[%v %v], want ~[0.91 0.72]", got[0].Similarity, got[1].Similarity)
	}
	for _, m := range got {
		if m.Similarity < 0.7 {
			t.Fatalf("similarity %v below threshold", m.Similarity)
		}
	}
}

func TestStore_QueryWindowOnlyScoresRecent(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{vectors: map[string][]float32{
		"query": {1, 0},
		"old":   {1, 0},
		"new":   {0, 1},
	}}
	store, err := New(engine, &MemoryBackend{}, Options{Window: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Record(ctx, TypePattern, Content{Prompt: "old"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := store.Record(ctx, TypePattern, Content{Prompt: "new"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := store.Query(ctx, "query", 0.5, 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("matches=%d, want 0 (old record is outside the window)", len(got))
	}
}

func TestStore_RecordAssignsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	backend := &MemoryBackend{}
	store, err := New(&fakeEngine{}, backend, Options{Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec, err := store.Record(context.Background(), TypeCorrection, Content{Prompt: "p", Diff: "+x"})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("missing record id")
	}
	if !rec.CreatedAt.Equal(fixed) {
		t.Fatalf("created_at=%s, want %s", rec.CreatedAt, fixed)
	}
	if backend.Len() != 1 {
		t.Fatalf("backend len=%d, want 1", backend.Len())
	}
	if _, err := store.Record(context.Background(), Type("bogus"), Content{}); err == nil {
		t.Fatalf("expected invalid type error")
	}
}

func TestStore_EmbedFailureIsStorageError(t *testing.T) {
	t.Parallel()

	store, err := New(&fakeEngine{err: errors.New("quota")}, &MemoryBackend{}, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Record(context.Background(), TypePattern, Content{Prompt: "x"}); !errors.Is(err, ErrStorage) {
		t.Fatalf("Record err=%v, want ErrStorage", err)
	}
	if _, err := store.Query(context.Background(), "x", 0.5, 1); !errors.Is(err, ErrStorage) {
		t.Fatalf("Query err=%v, want ErrStorage", err)
	}
}

func TestStore_RecordAsyncSurvivesCallerCancel(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{block: make(chan struct{})}
	backend := &MemoryBackend{}
	store, err := New(engine, backend, Options{AsyncTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	store.RecordAsync(ctx, TypeCorrection, Content{Prompt: "fix"})
	cancel()
	close(engine.block)
	store.Wait()

	if backend.Len() != 1 {
		t.Fatalf("backend len=%d, want 1", backend.Len())
	}
}

func TestStore_RecordAsyncSwallowsFailures(t *testing.T) {
	t.Parallel()

	backend := &MemoryBackend{}
	store, err := New(&fakeEngine{err: errors.New("down")}, backend, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 10; i++ {
		store.RecordAsync(context.Background(), TypePattern, Content{Prompt: "p"})
	}
	store.Wait()
	if backend.Len() != 0 {
		t.Fatalf("backend len=%d, want 0", backend.Len())
	}
}

func TestSummary_CanonicalOrderSkipsBlank(t *testing.T) {
	t.Parallel()

	got := Summary(TypeCorrection, Content{Prompt: " add login ", Diff: "+form", Preset: ""})
	want := "type: correction\nprompt: add login\ndiff: +form"
	if got != want {
		t.Fatalf("Summary=%q, want %q", got, want)
	}
}

func TestCosine_EdgeCases(t *testing.T) {
	t.Parallel()

	if got := Cosine([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("zero vector cosine=%v, want 0", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
		t.Fatalf("dimension mismatch cosine=%v, want 0", got)
	}
	if got := Cosine([]float32{2, 0}, []float32{5, 0}); math.Abs(got-1) > 1e-9 {
		t.Fatalf("parallel cosine=%v, want 1", got)
	}
}

func TestRank_TiesKeepRecencyOrder(t *testing.T) {
	t.Parallel()

	records := []Record{
		{ID: "newest", Embedding: []float32{1, 0}},
		{ID: "older", Embedding: []float32{1, 0}},
	}
	got := rank([]float32{1, 0}, records, 0.5, -1)
	if len(got) != 2 || got[0].ID != "newest" || got[1].ID != "older" {
		t.Fatalf("rank order=%v", got)
	}
}
