package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/floegence/redeven-forge/internal/auditlog"
	"github.com/floegence/redeven-forge/internal/diff"
	"github.com/floegence/redeven-forge/internal/orchestrator"
	"github.com/floegence/redeven-forge/internal/pipeline"
	"github.com/floegence/redeven-forge/internal/staging"
)

func newDebugCmd(root *rootOptions) *cobra.Command {
	var (
		errorText string
		errorFile string
		project   string
		mode      string
		prompt    string
		jsonOut   bool
		color     string
	)
	cmd := &cobra.Command{
		Use:   "debug <file>...",
		Short: "Ask the models to fix an error in the given project files",
		Long: `debug sends the error text and the current content of the named files to the
models and prints the explanation and one diff per fixed file. Fixes are not
written; pipe them through "forge patch" or re-run generate with --apply.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if errorFile != "" {
				b, err := readInput(cmd.InOrStdin(), errorFile)
				if err != nil {
					return err
				}
				errorText = string(b)
			}
			if strings.TrimSpace(errorText) == "" {
				return errors.New("missing --error or --error-file")
			}
			if strings.TrimSpace(mode) != "" {
				if _, ok := parseMode(mode); !ok {
					return fmt.Errorf("invalid --mode %q", mode)
				}
			}

			proj, err := staging.NewDirProject(project)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd, root)
			defer cancel()

			base := make(map[string]string, len(args))
			for _, a := range args {
				p, err := staging.CleanPath(a)
				if err != nil {
					return err
				}
				content, err := proj.ReadFile(ctx, p)
				if errors.Is(err, os.ErrNotExist) {
					// Left out of the snapshot so a fix for it counts as a new file.
					continue
				}
				if err != nil {
					return err
				}
				base[p] = content
			}

			a, err := loadApp(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			wb, err := a.workbench(ctx, proj.Root())
			if err != nil {
				return err
			}

			req := orchestrator.Request{Prompt: prompt, Mode: mode, Base: base}
			out := cmd.OutOrStdout()
			colored := useColor(color, out)
			entry := auditlog.Entry{Action: auditlog.ActionDebug, Prompt: firstNonEmpty(prompt, errorText), Project: proj.Root()}
			var failed error
			for msg := range wb.Debug(ctx, req, errorText) {
				if jsonOut {
					if err := writeJSON(out, msg); err != nil {
						return err
					}
				} else {
					printDebugMessage(out, msg, colored)
				}
				switch msg.Kind {
				case pipeline.MessageError:
					failed = msg.Err
				case pipeline.MessageFix:
					if msg.Fix != nil && msg.Fix.Changed() {
						entry.Paths = append(entry.Paths, msg.Fix.Path)
					}
				}
			}
			if failed == nil {
				failed = ctx.Err()
			}
			if failed != nil {
				entry.Status = auditlog.StatusFailure
				entry.Error = failed.Error()
			}
			a.journal().Append(entry)
			return failed
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&errorText, "error", "", "Error text to fix")
	fl.StringVar(&errorFile, "error-file", "", "File holding the error text (- for stdin)")
	fl.StringVar(&project, "project", ".", "Project root the files are read from")
	fl.StringVar(&mode, "mode", "", "Strategy override (default: refine)")
	fl.StringVar(&prompt, "prompt", "", "The request the code was originally generated for")
	fl.BoolVar(&jsonOut, "json", false, "Print one JSON message per line")
	fl.StringVar(&color, "color", "auto", "Colour diffs: auto|always|never")
	return cmd
}

func printDebugMessage(w io.Writer, m pipeline.Message, color bool) {
	switch m.Kind {
	case pipeline.MessageStatus, pipeline.MessageComplete:
		fmt.Fprintf(w, "[%s] %s\n", m.Kind, m.Text)
	case pipeline.MessageExplanation:
		if s := strings.TrimSpace(m.Text); s != "" {
			fmt.Fprintf(w, "\n%s\n\n", s)
		}
	case pipeline.MessageFix:
		if m.Fix == nil {
			return
		}
		if !m.Fix.Changed() {
			fmt.Fprintf(w, "unchanged: %s\n", m.Fix.Path)
			return
		}
		_, _ = io.WriteString(w, diff.Render(m.Fix.Path, m.Fix.Before, m.Fix.After, color))
	case pipeline.MessageError:
		fmt.Fprintf(w, "[error] %s\n", m.Text)
	}
}
