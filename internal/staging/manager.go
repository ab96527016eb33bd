// Package staging holds generated changes for review and applies them to a
// project without overwriting files a human has touched since.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
)

type State string

const (
	StateEmpty  State = "empty"
	StateStaged State = "staged"
)

// Change is one pending file write.
type Change struct {
	Path       string `json:"path"`
	Before     string `json:"before"`
	After      string `json:"after"`
	ProducedBy string `json:"produced_by,omitempty"`
}

const ReasonLocalEdit = "local_edit"

// Conflict is a staged path that Apply left alone.
type Conflict struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type PathError struct {
	Path string `json:"path"`
	Err  error  `json:"-"`
}

func (e PathError) Error() string { return e.Path + ": " + e.Err.Error() }

// ApplyResult reports what one Apply did. Applied and SkippedCount are the
// lengths of AppliedPaths and Skipped.
type ApplyResult struct {
	Applied      int         `json:"applied"`
	SkippedCount int         `json:"skipped_count"`
	AppliedPaths []string    `json:"applied_paths"`
	Skipped      []Conflict  `json:"skipped"`
	Failed       []PathError `json:"failed,omitempty"`
}

// Manager is the staging area for one project session.
//
// States: Empty -> Staged on Stage; Staged -> Empty on Apply or Discard.
// All methods are safe for concurrent use; concurrent Stage calls are last
// write wins.
type Manager struct {
	mu      sync.Mutex
	project Project
	log     *slog.Logger
	pending []Change
	edited  map[string]struct{}
}

func NewManager(project Project, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{project: project, log: logger, edited: map[string]struct{}{}}
}

func (m *Manager) Project() Project { return m.project }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return StateEmpty
	}
	return StateStaged
}

// Stage replaces the pending set. Paths are normalized; a later change for
// the same path replaces an earlier one in place.
func (m *Manager) Stage(changes []Change) error {
	next := make([]Change, 0, len(changes))
	index := make(map[string]int, len(changes))
	for _, c := range changes {
		p, err := CleanPath(c.Path)
		if err != nil {
			return err
		}
		c.Path = p
		if i, ok := index[p]; ok {
			next[i] = c
			continue
		}
		index[p] = len(next)
		next = append(next, c)
	}

	m.mu.Lock()
	m.pending = next
	m.mu.Unlock()
	m.log.Debug("changes staged", "count", len(next))
	return nil
}

// Pending returns a copy of the staged changes.
func (m *Manager) Pending() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Change(nil), m.pending...)
}

// MarkEdited records that a human changed p outside of staging.
func (m *Manager) MarkEdited(p string) error {
	cp, err := CleanPath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.edited[cp] = struct{}{}
	m.mu.Unlock()
	return nil
}

// Reconcile re-reads every staged path from the project and marks the ones
// whose content no longer equals Change.Before as edited, so Apply skips
// them. A missing file reads as empty. It returns the newly marked paths.
func (m *Manager) Reconcile(ctx context.Context) ([]string, error) {
	if m.project == nil {
		return nil, errors.New("missing project")
	}
	pending := m.Pending()

	var drifted []string
	for _, c := range pending {
		current, err := m.project.ReadFile(ctx, c.Path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return drifted, fmt.Errorf("read %s: %w", c.Path, err)
		}
		if current == c.Before {
			continue
		}
		if err := m.MarkEdited(c.Path); err != nil {
			return drifted, err
		}
		drifted = append(drifted, c.Path)
		m.log.Info("staged path changed on disk", "path", c.Path)
	}
	return drifted, nil
}

// Edited lists locally edited paths in sorted order.
func (m *Manager) Edited() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.edited))
	for p := range m.edited {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Apply writes every staged change whose path has no local edit. Locally
// edited paths are skipped and reported. Written paths leave the edit set.
// The pending set is cleared whatever happens; a failed write is recorded
// and does not stop the others.
func (m *Manager) Apply(ctx context.Context) ApplyResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending := m.pending
	m.pending = nil

	res := ApplyResult{AppliedPaths: []string{}, Skipped: []Conflict{}}
	for _, c := range pending {
		if _, ok := m.edited[c.Path]; ok {
			res.Skipped = append(res.Skipped, Conflict{Path: c.Path, Reason: ReasonLocalEdit})
			m.log.Info("staged change skipped", "path", c.Path, "reason", ReasonLocalEdit)
			continue
		}
		if m.project == nil {
			res.Failed = append(res.Failed, PathError{Path: c.Path, Err: errors.New("missing project")})
			continue
		}
		if err := m.project.WriteFile(ctx, c.Path, c.After); err != nil {
			res.Failed = append(res.Failed, PathError{Path: c.Path, Err: err})
			m.log.Warn("staged change write failed", "path", c.Path, "error", err)
			continue
		}
		delete(m.edited, c.Path)
		res.AppliedPaths = append(res.AppliedPaths, c.Path)
	}
	res.Applied = len(res.AppliedPaths)
	res.SkippedCount = len(res.Skipped)
	m.log.Info("staged changes applied", "applied", res.Applied, "skipped", res.SkippedCount, "failed", len(res.Failed))
	return res
}

// Discard drops the pending set and reports how many changes it held.
func (m *Manager) Discard() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.pending)
	m.pending = nil
	return n
}
