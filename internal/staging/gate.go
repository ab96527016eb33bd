package staging

import (
	"errors"
	"fmt"

	"github.com/floegence/redeven-forge/internal/testrun"
)

// DefaultMinPassRate is the share of passing tests a batch needs before it
// may be applied.
const DefaultMinPassRate = 0.8

var ErrGateBlocked = errors.New("test gate blocked")

// Gate decides whether a test result is good enough to apply staged changes.
// It is advisory: Manager.Apply does not consult it.
type Gate struct {
	MinPassRate float64
}

// Allow returns nil when r passes the gate. A run with no tests never passes.
func (g Gate) Allow(r testrun.Result) error {
	threshold := g.MinPassRate
	if threshold <= 0 {
		threshold = DefaultMinPassRate
	}
	if r.Total <= 0 {
		return fmt.Errorf("%w: no tests ran", ErrGateBlocked)
	}
	rate := r.PassRate()
	if rate < threshold {
		return fmt.Errorf("%w: pass rate %.2f below %.2f (%d/%d passed)", ErrGateBlocked, rate, threshold, r.Passed, r.Total)
	}
	return nil
}
