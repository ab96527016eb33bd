package recall

import (
	"context"
	"slices"
	"sync"
)

// MemoryBackend keeps records in process. The zero value is ready to use.
type MemoryBackend struct {
	mu      sync.Mutex
	records []Record
}

func (m *MemoryBackend) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.Embedding = slices.Clone(rec.Embedding)
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) ListRecent(ctx context.Context, n int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.records) {
		n = len(m.records)
	}
	out := make([]Record, 0, n)
	for i := len(m.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
