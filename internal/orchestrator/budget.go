package orchestrator

import (
	"errors"
	"sync"
)

// ErrBudgetExceeded means no model calls are left for this request.
var ErrBudgetExceeded = errors.New("model call budget exceeded")

// Budget caps how many model calls may be made. One Budget may be shared by
// many requests; a nil *Budget is unlimited.
type Budget struct {
	mu   sync.Mutex
	max  int
	used int
}

func NewBudget(maxCalls int) *Budget {
	return &Budget{max: maxCalls}
}

// Remaining is -1 for an unlimited budget.
func (b *Budget) Remaining() int {
	if b == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return max(0, b.max-b.used)
}

func (b *Budget) Used() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// reserve takes up to n calls and reports how many were granted.
func (b *Budget) reserve(n int) int {
	if b == nil {
		return n
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	granted := min(n, max(0, b.max-b.used))
	b.used += granted
	return granted
}

// release returns n reserved calls that were never made.
func (b *Budget) release(n int) {
	if b == nil || n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = max(0, b.used-n)
}
