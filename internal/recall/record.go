// Package recall stores past prompts, diffs and corrections as embedding
// vectors and retrieves the ones most similar to a new request.
package recall

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"
)

type Type string

const (
	TypePattern    Type = "pattern"
	TypeCorrection Type = "correction"
)

// ErrStorage wraps every embedding or backend failure surfaced by Store.
var ErrStorage = errors.New("recall storage failure")

// Content is the payload remembered for one record.
type Content struct {
	Prompt string            `json:"prompt,omitempty"`
	Diff   string            `json:"diff,omitempty"`
	Preset string            `json:"preset,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// Record is append-only once inserted.
type Record struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Embedding []float32 `json:"embedding"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is a record scored against a query.
type Match struct {
	Record
	Similarity float64 `json:"similarity"`
}

// Backend persists records. ListRecent returns at most n records, newest first.
type Backend interface {
	Insert(ctx context.Context, rec Record) error
	ListRecent(ctx context.Context, n int) ([]Record, error)
}

// Summary is the canonical text embedded for a record. Blank fields are left out.
func Summary(t Type, c Content) string {
	lines := make([]string, 0, 4)
	add := func(key, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		lines = append(lines, key+": "+value)
	}
	add("type", string(t))
	add("preset", c.Preset)
	add("prompt", c.Prompt)
	add("diff", c.Diff)
	return strings.Join(lines, "\n")
}

// Cosine returns the cosine similarity of a and b. Mismatched dimensions and
// zero-length vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// rank scores records against query, keeps those at or above minSimilarity, and
// orders them by similarity. Equal scores keep the input (recency) order.
func rank(query []float32, records []Record, minSimilarity float64, limit int) []Match {
	out := make([]Match, 0, len(records))
	for _, rec := range records {
		sim := Cosine(query, rec.Embedding)
		if sim < minSimilarity {
			continue
		}
		out = append(out, Match{Record: rec, Similarity: sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
