package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/floegence/redeven-forge/internal/routing"
)

func parseMode(raw string) (routing.Strategy, bool) {
	return routing.ParseStrategy(raw)
}

func newRouteCmd() *cobra.Command {
	var (
		mode    string
		preset  string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "route <prompt>",
		Short: "Show which strategy a prompt would be routed to",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := routing.Route(strings.Join(args, " "), mode, preset)
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), d)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", d.Strategy, d.Reason, d.Source)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Requested strategy: fast|refine|chained")
	cmd.Flags().StringVar(&preset, "preset", "", "Preset name")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the decision as JSON")
	return cmd
}
