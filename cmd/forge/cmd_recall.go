package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/floegence/redeven-forge/internal/recall"
)

func newRecallCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Query or add semantic recall records",
	}
	cmd.AddCommand(newRecallQueryCmd(root), newRecallRecordCmd(root))
	return cmd
}

func newRecallQueryCmd(root *rootOptions) *cobra.Command {
	var (
		minSimilarity float64
		limit         int
		jsonOut       bool
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "List stored records similar to text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			ctx, cancel := withTimeout(cmd, root)
			defer cancel()

			store, err := a.recallStore(ctx, true)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("min") {
				minSimilarity = a.cfg.EffectiveRecallMinSimilarity()
			}
			if !cmd.Flags().Changed("limit") {
				limit = a.cfg.EffectiveRecallLimit()
			}
			matches, err := store.Query(ctx, strings.Join(args, " "), minSimilarity, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				for i := range matches {
					matches[i].Embedding = nil
				}
				return writeJSON(out, matches)
			}
			if len(matches) == 0 {
				fmt.Fprintln(out, "no similar records")
				return nil
			}
			for _, m := range matches {
				fmt.Fprintf(out, "%.3f  %s  %s  %s\n", m.Similarity, m.ID, m.Type, m.CreatedAt.Format("2006-01-02 15:04"))
				for _, line := range strings.Split(recall.Summary(m.Type, m.Content), "\n") {
					fmt.Fprintf(out, "    %s\n", line)
				}
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&minSimilarity, "min", 0, "Minimum cosine similarity (default from config)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum matches, -1 for no cap (default from config)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print matches as JSON")
	return cmd
}

func newRecallRecordCmd(root *rootOptions) *cobra.Command {
	var (
		kind     string
		prompt   string
		diffFile string
		preset   string
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Store a pattern or correction record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := recall.Type(strings.TrimSpace(kind))
			if t != recall.TypePattern && t != recall.TypeCorrection {
				return fmt.Errorf("invalid --type %q (use %s or %s)", kind, recall.TypePattern, recall.TypeCorrection)
			}
			content := recall.Content{Prompt: prompt, Preset: preset}
			if diffFile != "" {
				b, err := readInput(cmd.InOrStdin(), diffFile)
				if err != nil {
					return err
				}
				content.Diff = string(b)
			}
			if strings.TrimSpace(content.Prompt) == "" && strings.TrimSpace(content.Diff) == "" {
				return errors.New("missing --prompt or --diff-file")
			}

			a, err := loadApp(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			ctx, cancel := withTimeout(cmd, root)
			defer cancel()

			store, err := a.recallStore(ctx, true)
			if err != nil {
				return err
			}
			rec, err := store.Record(ctx, t, content)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "type", string(recall.TypeCorrection), "Record type: pattern|correction")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Prompt text")
	cmd.Flags().StringVar(&diffFile, "diff-file", "", "File holding the diff (- for stdin)")
	cmd.Flags().StringVar(&preset, "preset", "", "Preset the prompt ran with")
	return cmd
}
