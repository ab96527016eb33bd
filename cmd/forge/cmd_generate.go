package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/floegence/redeven-forge/internal/auditlog"
	"github.com/floegence/redeven-forge/internal/diff"
	"github.com/floegence/redeven-forge/internal/orchestrator"
	"github.com/floegence/redeven-forge/internal/pipeline"
	"github.com/floegence/redeven-forge/internal/staging"
)

type generateFlags struct {
	mode         string
	preset       string
	project      string
	contextFile  string
	testSpec     string
	apply        bool
	skipTests    bool
	testSelector string
	stream       bool
	jsonOut      bool
	color        string
}

func newGenerateCmd(root *rootOptions) *cobra.Command {
	f := &generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate code for a prompt and show it as diffs against the project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, root, f, strings.Join(args, " "))
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.mode, "mode", "", "Strategy: fast|refine|chained (default: routed from preset and prompt)")
	fl.StringVar(&f.preset, "preset", "", "Preset name, e.g. fast, vibe, production, secure, pro-chain")
	fl.StringVar(&f.project, "project", ".", "Project root the changes apply to")
	fl.StringVar(&f.contextFile, "context-file", "", "File with extra reference text for the model")
	fl.StringVar(&f.testSpec, "test-spec", "", "Tests or acceptance criteria the result must satisfy")
	fl.BoolVar(&f.apply, "apply", false, "Apply the staged changes after the test gate passes")
	fl.BoolVar(&f.skipTests, "skip-tests", false, "With --apply, write without running the test command")
	fl.StringVar(&f.testSelector, "test-selector", "", "Argument appended to the test command")
	fl.BoolVar(&f.stream, "stream", false, "Echo the fast model's reply to stderr while it streams")
	fl.BoolVar(&f.jsonOut, "json", false, "Print the proposal as JSON instead of diffs")
	fl.StringVar(&f.color, "color", "auto", "Colour diffs: auto|always|never")
	return cmd
}

func runGenerate(cmd *cobra.Command, root *rootOptions, f *generateFlags, prompt string) error {
	if strings.TrimSpace(f.mode) != "" {
		if _, ok := parseMode(f.mode); !ok {
			return fmt.Errorf("invalid --mode %q", f.mode)
		}
	}
	req := orchestrator.Request{
		Prompt:   prompt,
		Mode:     f.mode,
		Preset:   f.preset,
		TestSpec: f.testSpec,
	}
	if f.contextFile != "" {
		b, err := os.ReadFile(f.contextFile)
		if err != nil {
			return err
		}
		req.Context = string(b)
	}

	a, err := loadApp(root, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := withTimeout(cmd, root)
	defer cancel()

	if f.apply {
		if err := a.lock(ctx); err != nil {
			return err
		}
	}
	project, err := staging.NewDirProject(f.project)
	if err != nil {
		return err
	}
	wb, err := a.workbench(ctx, project.Root())
	if err != nil {
		return err
	}
	mgr := staging.NewManager(project, a.log.With("component", "staging"))

	var onDelta func(string)
	if f.stream {
		errOut := cmd.ErrOrStderr()
		onDelta = func(d string) { _, _ = io.WriteString(errOut, d) }
	}
	journal := a.journal()
	p, err := wb.Propose(ctx, mgr, req, onDelta)
	if f.stream {
		fmt.Fprintln(cmd.ErrOrStderr())
	}
	if err != nil {
		journal.Append(auditlog.Entry{Action: auditlog.ActionGenerate, Status: auditlog.StatusFailure, Error: err.Error(), Prompt: prompt, Preset: f.preset, Project: project.Root()})
		return err
	}
	journal.Append(proposalEntry(p, project.Root()))

	out := cmd.OutOrStdout()
	if f.jsonOut {
		if err := writeJSON(out, p); err != nil {
			return err
		}
	} else {
		printProposal(out, p, useColor(f.color, out))
	}

	if !f.apply {
		return nil
	}
	outcome, err := wb.Apply(ctx, mgr, p, pipeline.ApplyOptions{SkipTests: f.skipTests, TestSelector: f.testSelector})
	if outcome.Tests != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "tests: %d passed, %d failed, %d total\n", outcome.Tests.Passed, outcome.Tests.Failed, outcome.Tests.Total)
	}
	journal.Append(applyEntry(p, project.Root(), outcome, err))
	if err != nil {
		if errors.Is(err, staging.ErrGateBlocked) {
			return fmt.Errorf("changes not applied: %w", err)
		}
		return err
	}
	printApplyResult(cmd.ErrOrStderr(), outcome.Result)
	if len(outcome.Result.Failed) > 0 {
		return fmt.Errorf("%d file(s) failed to write", len(outcome.Result.Failed))
	}
	return nil
}

func proposalEntry(p pipeline.Proposal, project string) auditlog.Entry {
	e := auditlog.Entry{
		Action:   auditlog.ActionGenerate,
		Status:   auditlog.StatusSuccess,
		Prompt:   p.Request.Prompt,
		Preset:   p.Request.Preset,
		Strategy: string(p.Result.Strategy),
		Reason:   p.Result.Decision.Reason,
		Project:  project,
	}
	for _, c := range p.Changes {
		if c.Changed() {
			e.Paths = append(e.Paths, c.Path)
		}
	}
	return e
}

func applyEntry(p pipeline.Proposal, project string, outcome pipeline.ApplyOutcome, err error) auditlog.Entry {
	e := proposalEntry(p, project)
	e.Action = auditlog.ActionApply
	e.Paths = outcome.Result.AppliedPaths
	for _, s := range outcome.Result.Skipped {
		e.Skipped = append(e.Skipped, s.Path)
	}
	for _, f := range outcome.Result.Failed {
		e.Failed = append(e.Failed, f.Path)
	}
	if outcome.Tests != nil {
		rate := outcome.Tests.PassRate()
		e.PassRate = &rate
	}
	switch {
	case errors.Is(err, staging.ErrGateBlocked):
		e.Status = auditlog.StatusBlocked
		e.Error = err.Error()
	case err != nil:
		e.Status = auditlog.StatusFailure
		e.Error = err.Error()
	case len(e.Failed) > 0:
		e.Status = auditlog.StatusFailure
	}
	return e
}

func printProposal(w io.Writer, p pipeline.Proposal, color bool) {
	r := p.Result
	fmt.Fprintf(w, "strategy: %s (%s, %s)\n", r.Strategy, r.Decision.Reason, r.Decision.Source)
	if r.Degraded {
		fmt.Fprintf(w, "degraded: %s\n", r.DegradeReason)
	}
	if r.Fallback {
		fmt.Fprintln(w, "note: refine reply had no files; showing the fast draft")
	}
	if r.Wrapped {
		fmt.Fprintln(w, "note: reply had no file blocks; wrapped as a single file")
	}
	if len(p.Recalled) > 0 {
		fmt.Fprintf(w, "recalled: %d similar case(s)\n", len(p.Recalled))
	}
	fmt.Fprintln(w)
	for _, c := range p.Changes {
		if !c.Changed() {
			fmt.Fprintf(w, "unchanged: %s\n", c.Path)
			continue
		}
		_, _ = io.WriteString(w, diff.Render(c.Path, c.Before, c.After, color))
	}
	if s := strings.TrimSpace(r.Explanation); s != "" {
		fmt.Fprintf(w, "\nexplanation:\n%s\n", s)
	}
	if s := strings.TrimSpace(r.Tests); s != "" {
		fmt.Fprintf(w, "\ntests:\n%s\n", s)
	}
}

func printApplyResult(w io.Writer, r staging.ApplyResult) {
	fmt.Fprintf(w, "applied %d, skipped %d\n", r.Applied, r.SkippedCount)
	for _, s := range r.Skipped {
		fmt.Fprintf(w, "  skipped %s (%s)\n", s.Path, s.Reason)
	}
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  failed %s\n", f.Error())
	}
}

func useColor(mode string, w io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "always":
		return true
	case "never":
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
