package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newLogCmd(root *rootOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent generate, apply and debug runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			entries, err := a.journal().List(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "no entries")
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%s  %-8s %-7s %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Action, e.Status, firstLine(e.Prompt))
				if e.Strategy != "" {
					fmt.Fprintf(out, "    strategy %s (%s)\n", e.Strategy, e.Reason)
				}
				if len(e.Paths) > 0 {
					fmt.Fprintf(out, "    files    %s\n", strings.Join(e.Paths, ", "))
				}
				if len(e.Skipped) > 0 {
					fmt.Fprintf(out, "    skipped  %s\n", strings.Join(e.Skipped, ", "))
				}
				if e.PassRate != nil {
					fmt.Fprintf(out, "    tests    %.0f%% passed\n", *e.PassRate*100)
				}
				if e.Error != "" {
					fmt.Fprintf(out, "    error    %s\n", e.Error)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print entries as JSON")
	return cmd
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
