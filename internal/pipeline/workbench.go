// Package pipeline wires generation, diffing, staging, the test gate and
// semantic recall into the request flow the CLI drives.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/floegence/redeven-forge/internal/diff"
	"github.com/floegence/redeven-forge/internal/orchestrator"
	"github.com/floegence/redeven-forge/internal/recall"
	"github.com/floegence/redeven-forge/internal/staging"
	"github.com/floegence/redeven-forge/internal/testrun"
)

// Memory is the part of the recall store the workbench uses.
type Memory interface {
	Query(ctx context.Context, text string, minSimilarity float64, limit int) ([]recall.Match, error)
	RecordAsync(ctx context.Context, t recall.Type, content recall.Content)
}

type Options struct {
	Orchestrator *orchestrator.Orchestrator
	// Memory is optional; without it nothing is recalled or recorded.
	Memory Memory
	// Runner is optional; without it Apply skips the test gate.
	Runner testrun.Runner
	Gate   staging.Gate

	RecallMinSimilarity float64
	RecallLimit         int
	// DiffWorkers bounds concurrent base reads and diffs. Defaults to 8.
	DiffWorkers int

	Logger *slog.Logger
}

type Workbench struct {
	orch       *orchestrator.Orchestrator
	memory     Memory
	runner     testrun.Runner
	gate       staging.Gate
	minSim     float64
	limit      int
	diffWorker int
	log        *slog.Logger
}

func New(opts Options) (*Workbench, error) {
	if opts.Orchestrator == nil {
		return nil, errors.New("missing orchestrator")
	}
	w := &Workbench{
		orch:       opts.Orchestrator,
		memory:     opts.Memory,
		runner:     opts.Runner,
		gate:       opts.Gate,
		minSim:     opts.RecallMinSimilarity,
		limit:      opts.RecallLimit,
		diffWorker: opts.DiffWorkers,
		log:        opts.Logger,
	}
	if w.log == nil {
		w.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if w.minSim <= 0 {
		w.minSim = recall.DefaultMinSimilarity
	}
	if w.limit == 0 {
		w.limit = recall.DefaultLimit
	}
	if w.diffWorker <= 0 {
		w.diffWorker = 8
	}
	return w, nil
}

// FileChange is one candidate file diffed against the project.
type FileChange struct {
	Path       string `json:"path"`
	Before     string `json:"before"`
	After      string `json:"after"`
	Diff       string `json:"diff"`
	Added      int    `json:"added"`
	Removed    int    `json:"removed"`
	ProducedBy string `json:"produced_by"`
	// New is set when the project had no file at Path.
	New bool `json:"new,omitempty"`
}

func (c FileChange) Changed() bool { return c.Added > 0 || c.Removed > 0 }

// Proposal is a generated candidate set together with its per-file diffs.
type Proposal struct {
	Request  orchestrator.Request `json:"request"`
	Result   orchestrator.Result  `json:"result"`
	Changes  []FileChange         `json:"changes"`
	Recalled []recall.Match       `json:"recalled,omitempty"`
}

// Staged returns the changes that would alter the project.
func (p Proposal) Staged() []staging.Change {
	out := make([]staging.Change, 0, len(p.Changes))
	for _, c := range p.Changes {
		if !c.Changed() {
			continue
		}
		out = append(out, staging.Change{Path: c.Path, Before: c.Before, After: c.After, ProducedBy: c.ProducedBy})
	}
	return out
}

// CombinedDiff joins every changed file's diff under a "file:" header line.
func (p Proposal) CombinedDiff() string {
	var b strings.Builder
	for _, c := range p.Changes {
		if !c.Changed() {
			continue
		}
		b.WriteString("file: ")
		b.WriteString(c.Path)
		b.WriteString("\n")
		b.WriteString(c.Diff)
		b.WriteString("\n")
	}
	return b.String()
}

// Propose recalls similar past cases, generates candidates and diffs each one
// against the project. When mgr is non-nil the changed files are staged on it.
// A failed recall lookup is logged and the request continues without it.
func (w *Workbench) Propose(ctx context.Context, mgr *staging.Manager, req orchestrator.Request, onDelta func(string)) (Proposal, error) {
	matches := w.recall(ctx, req.Prompt)
	if len(matches) > 0 {
		req.Context = withRecalled(req.Context, matches)
	}

	res, err := w.orch.GenerateStream(ctx, req, onDelta)
	if err != nil {
		return Proposal{}, err
	}

	var project staging.Project
	if mgr != nil {
		project = mgr.Project()
	}
	changes, err := w.diffAll(ctx, project, req.Base, res.Files)
	if err != nil {
		return Proposal{}, err
	}
	p := Proposal{Request: req, Result: res, Changes: changes, Recalled: matches}

	if mgr != nil {
		if err := mgr.Stage(p.Staged()); err != nil {
			return Proposal{}, fmt.Errorf("stage: %w", err)
		}
	}
	w.log.Info("proposal ready",
		"strategy", string(res.Strategy),
		"files", len(changes),
		"staged", len(p.Staged()),
		"recalled", len(matches),
	)
	return p, nil
}

// Verify runs the configured test command and checks the result against the
// gate. It returns the parsed result even when the gate blocks.
func (w *Workbench) Verify(ctx context.Context, selector string) (testrun.Result, error) {
	if w.runner == nil {
		return testrun.Result{}, errors.New("no test runner configured")
	}
	out, err := w.runner.Run(ctx, selector)
	if err != nil {
		return testrun.Result{}, fmt.Errorf("run tests: %w", err)
	}
	res := testrun.Parse(out.Raw)
	w.log.Info("tests finished",
		"passed", res.Passed,
		"failed", res.Failed,
		"total", res.Total,
		"exit_code", out.ExitCode,
	)
	return res, w.gate.Allow(res)
}

// ApplyOptions controls one Apply call.
type ApplyOptions struct {
	// SkipTests applies without consulting the test gate.
	SkipTests bool
	// TestSelector narrows the test run.
	TestSelector string
}

// ApplyOutcome is what Apply did.
type ApplyOutcome struct {
	Tests  *testrun.Result     `json:"tests,omitempty"`
	Result staging.ApplyResult `json:"result"`
}

// Apply gates and writes the changes staged on mgr. When the gate blocks, the
// staged set is left in place and the error wraps staging.ErrGateBlocked.
// Applied files of p are remembered as a pattern record.
func (w *Workbench) Apply(ctx context.Context, mgr *staging.Manager, p Proposal, opts ApplyOptions) (ApplyOutcome, error) {
	if mgr == nil {
		return ApplyOutcome{}, errors.New("missing staging manager")
	}
	var out ApplyOutcome
	if w.runner != nil && !opts.SkipTests {
		res, err := w.Verify(ctx, opts.TestSelector)
		if err != nil {
			if errors.Is(err, staging.ErrGateBlocked) {
				out.Tests = &res
			}
			return out, err
		}
		out.Tests = &res
	}

	// Files may have changed on disk while the model streamed or tests ran.
	if _, err := mgr.Reconcile(ctx); err != nil {
		return out, fmt.Errorf("reconcile staged changes: %w", err)
	}
	out.Result = mgr.Apply(ctx)
	if out.Result.Applied > 0 && w.memory != nil {
		w.memory.RecordAsync(ctx, recall.TypePattern, recall.Content{
			Prompt: p.Request.Prompt,
			Preset: p.Request.Preset,
			Diff:   appliedDiff(p, out.Result.AppliedPaths),
			Extra:  map[string]string{"strategy": string(p.Result.Strategy)},
		})
	}
	return out, nil
}

func (w *Workbench) recall(ctx context.Context, prompt string) []recall.Match {
	if w.memory == nil || strings.TrimSpace(prompt) == "" {
		return nil
	}
	matches, err := w.memory.Query(ctx, prompt, w.minSim, w.limit)
	if err != nil {
		w.log.Warn("recall lookup failed", "error", err)
		return nil
	}
	return matches
}

// diffAll reads each candidate's current content and diffs it. Base wins over
// the project when the request carried a snapshot.
func (w *Workbench) diffAll(ctx context.Context, project staging.Project, base map[string]string, files []orchestrator.CandidateFile) ([]FileChange, error) {
	changes := make([]FileChange, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.diffWorker)
	for i, f := range files {
		g.Go(func() error {
			p, err := staging.CleanPath(f.Path)
			if err != nil {
				return err
			}
			before, exists, err := currentContent(gctx, project, base, p)
			if err != nil {
				return fmt.Errorf("read %s: %w", p, err)
			}
			unified := diff.Compute(before, f.Content)
			added, removed := diff.Stats(unified)
			changes[i] = FileChange{
				Path:       p,
				Before:     before,
				After:      f.Content,
				Diff:       unified,
				Added:      added,
				Removed:    removed,
				ProducedBy: f.ProducedBy,
				New:        !exists,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return changes, nil
}

func currentContent(ctx context.Context, project staging.Project, base map[string]string, p string) (string, bool, error) {
	if base != nil {
		c, ok := base[p]
		return c, ok, nil
	}
	if project == nil {
		return "", false, nil
	}
	c, err := project.ReadFile(ctx, p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return c, true, nil
}

func withRecalled(existing string, matches []recall.Match) string {
	var b strings.Builder
	b.WriteString("Similar past cases:\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "%d. (%s, similarity %.2f)\n", i+1, m.Type, m.Similarity)
		b.WriteString(recall.Summary(m.Type, m.Content))
		b.WriteString("\n")
	}
	if s := strings.TrimSpace(existing); s != "" {
		b.WriteString("\n")
		b.WriteString(s)
	}
	return b.String()
}

func appliedDiff(p Proposal, applied []string) string {
	keep := make(map[string]struct{}, len(applied))
	for _, a := range applied {
		keep[a] = struct{}{}
	}
	var b strings.Builder
	for _, c := range p.Changes {
		if _, ok := keep[c.Path]; !ok {
			continue
		}
		b.WriteString("file: ")
		b.WriteString(c.Path)
		b.WriteString("\n")
		b.WriteString(c.Diff)
		b.WriteString("\n")
	}
	return b.String()
}
