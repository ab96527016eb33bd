// Package orchestrator runs the model calls a routing decision asks for and
// turns the replies into candidate files.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/floegence/redeven-forge/internal/protocol"
	"github.com/floegence/redeven-forge/internal/provider"
	"github.com/floegence/redeven-forge/internal/routing"
)

const (
	producedByFast   = "fast"
	producedByRefine = "refine"

	ReasonBudgetExceeded = "budget_exceeded"
)

type Options struct {
	// Fast streams the quick draft. Required.
	Fast provider.Provider
	// Refine produces the hardened answer; Fast is used when nil.
	Refine provider.Provider
	Budget *Budget
	Retry  RetryPolicy
	Logger *slog.Logger
	// Sleep replaces the retry wait, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Orchestrator struct {
	fast   provider.Provider
	refine provider.Provider
	budget *Budget
	retry  RetryPolicy
	log    *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Fast == nil {
		return nil, errors.New("missing fast provider")
	}
	o := &Orchestrator{
		fast:   opts.Fast,
		refine: opts.Refine,
		budget: opts.Budget,
		retry:  opts.Retry.effective(),
		log:    opts.Logger,
		sleep:  opts.Sleep,
	}
	if o.refine == nil {
		o.refine = o.fast
	}
	if o.log == nil {
		o.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	return o, nil
}

// Generate routes req and runs it to a complete candidate set.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (Result, error) {
	return o.GenerateStream(ctx, req, nil)
}

// GenerateStream is Generate with onDelta receiving the fast model's text as
// it streams.
func (o *Orchestrator) GenerateStream(ctx context.Context, req Request, onDelta func(string)) (Result, error) {
	req = req.clone()
	decision := routing.Route(req.Prompt, req.Mode, req.Preset)
	res := Result{Decision: decision, Strategy: decision.Strategy}

	need := 1
	if decision.Strategy == routing.StrategyChained {
		need = 2
	}
	granted := o.budget.reserve(need)
	if granted == 0 {
		return Result{}, ErrBudgetExceeded
	}
	if granted < need {
		res.Strategy = routing.StrategyFast
		res.Degraded = true
		res.DegradeReason = ReasonBudgetExceeded
		o.log.Warn("chained generation degraded", "reason", ReasonBudgetExceeded)
	}
	o.log.Info("generation routed",
		"strategy", string(res.Strategy),
		"reason", decision.Reason,
		"source", decision.Source,
	)

	var (
		out        protocol.Output
		raw        string
		producedBy string
		err        error
	)
	switch res.Strategy {
	case routing.StrategyFast:
		out, raw, err = o.runFast(ctx, req, onDelta)
		producedBy = producedByFast
		res.Calls = 1
	case routing.StrategyRefine:
		out, raw, err = o.runRefine(ctx, userPrompt(req))
		producedBy = producedByRefine
		res.Calls = 1
	case routing.StrategyChained:
		out, raw, producedBy, err = o.runChained(ctx, req, onDelta, &res)
	default:
		return Result{}, errors.New("unknown strategy " + string(res.Strategy))
	}
	if err != nil {
		return Result{}, err
	}

	res.Raw = raw
	res.Explanation = out.Explanation
	res.Tests = out.Tests
	res.Wrapped = out.Fallback
	res.Files = candidates(out, producedBy, req.Base)
	return res, nil
}

func (o *Orchestrator) runFast(ctx context.Context, req Request, onDelta func(string)) (protocol.Output, string, error) {
	prompt := fastPrompt(req)
	raw, err := o.withRetry(ctx, producedByFast, func() (string, error) {
		return o.fast.Stream(ctx, prompt, onDelta)
	})
	if err != nil {
		return protocol.Output{}, "", err
	}
	return protocol.Parse(raw), raw, nil
}

func (o *Orchestrator) runRefine(ctx context.Context, user string) (protocol.Output, string, error) {
	system := refineSystemPrompt()
	raw, err := o.withRetry(ctx, producedByRefine, func() (string, error) {
		return o.refine.Generate(ctx, system, user)
	})
	if err != nil {
		return protocol.Output{}, "", err
	}
	return protocol.Parse(raw), raw, nil
}

// runChained drafts with the fast model and hardens with the refine model.
// A refine reply without file blocks falls back to the draft; refine errors
// are returned as-is.
func (o *Orchestrator) runChained(ctx context.Context, req Request, onDelta func(string), res *Result) (protocol.Output, string, string, error) {
	draft, draftRaw, err := o.runFast(ctx, req, onDelta)
	if err != nil {
		// The refine call reserved for this request never runs.
		o.budget.release(1)
		return protocol.Output{}, "", "", err
	}
	res.Calls = 1

	refined, refinedRaw, err := o.runRefine(ctx, chainedRefinePrompt(req, draft))
	if err != nil {
		return protocol.Output{}, "", "", err
	}
	res.Calls = 2

	if refined.FileCount() == 0 || refined.Fallback {
		res.Fallback = true
		o.log.Info("refine reply had no file blocks; using draft", "draft_files", draft.FileCount())
		return draft, draftRaw, producedByFast, nil
	}
	return refined, refinedRaw, producedByRefine, nil
}

func candidates(out protocol.Output, producedBy string, base map[string]string) []CandidateFile {
	files := make([]CandidateFile, 0, len(out.Files))
	for _, f := range out.Files {
		c := CandidateFile{Path: f.Path, Content: f.Content, ProducedBy: producedBy}
		if base != nil {
			differs := base[f.Path] != f.Content
			c.DiffersFromBase = &differs
		}
		files = append(files, c)
	}
	return files
}
