package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/floegence/redeven-forge/internal/recall"
)

func TestStore_InsertListRecent(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "recall.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	in := []recall.Record{
		{ID: "r1", Type: recall.TypePattern, Embedding: []float32{0.5, -1.25, 3}, Content: recall.Content{Prompt: "login form"}, CreatedAt: base},
		{ID: "r2", Type: recall.TypeCorrection, Embedding: []float32{1, 0}, Content: recall.Content{Prompt: "fix", Diff: "-a\n+b", Extra: map[string]string{"error": "TypeError"}}, CreatedAt: base.Add(time.Second)},
		{ID: "r3", Type: recall.TypePattern, Embedding: []float32{0, 1}, Content: recall.Content{Preset: "vibe"}, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, rec := range in {
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert %s: %v", rec.ID, err)
		}
	}

	got, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	want := []recall.Record{in[2], in[1]}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ListRecent mismatch (-want +got):\n%s", diff)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count=%d, want 3", n)
	}
}

func TestStore_DuplicateIDRejected(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "recall.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	rec := recall.Record{ID: "dup", Type: recall.TypePattern, Embedding: []float32{1}, CreatedAt: time.Now()}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, rec); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestStore_ReopenKeepsRecords(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "recall.sqlite")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Insert(context.Background(), recall.Record{ID: "keep", Type: recall.TypePattern, Embedding: []float32{1, 2}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_ = s.Close()

	s2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	got, err := s2.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 1 || got[0].ID != "keep" {
		t.Fatalf("records=%v, want [keep]", got)
	}
}

func TestStore_WorksAsRecallBackend(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "recall.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	var backend recall.Backend = s
	store, err := recall.New(constEngine{1, 0}, backend, recall.Options{})
	if err != nil {
		t.Fatalf("recall.New: %v", err)
	}
	if _, err := store.Record(context.Background(), recall.TypePattern, recall.Content{Prompt: "hero section"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	matches, err := store.Query(context.Background(), "hero", 0.9, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].Content.Prompt != "hero section" {
		t.Fatalf("matches=%v", matches)
	}
}

func TestDecodeVector_RejectsTruncatedBlob(t *testing.T) {
	t.Parallel()

	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for truncated blob")
	}
}

type constEngine []float32

func (c constEngine) Embed(context.Context, string) ([]float32, error) {
	return []float32(c), nil
}
