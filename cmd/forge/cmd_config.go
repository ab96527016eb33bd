package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/floegence/redeven-forge/internal/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Clean(root.configPath)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written: %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config and show the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := filepath.Clean(root.configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fast, _ := cfg.FastProvider()
			refine, _ := cfg.RefineProvider()
			stateDir := cfg.EffectiveStateDir(path)
			fmt.Fprintf(out, "fast:        %s (%s %s)\n", fast.ID, fast.Type, fast.Model)
			fmt.Fprintf(out, "refine:      %s (%s %s)\n", refine.ID, refine.Type, refine.Model)
			fmt.Fprintf(out, "state dir:   %s\n", stateDir)
			fmt.Fprintf(out, "recall:      %v (db %s, window %d, min %.2f, limit %d)\n",
				cfg.RecallEnabled(), cfg.EffectiveRecallDBPath(stateDir), cfg.EffectiveRecallWindow(),
				cfg.EffectiveRecallMinSimilarity(), cfg.EffectiveRecallLimit())
			fmt.Fprintf(out, "test gate:   %.2f (%q)\n", cfg.EffectiveMinPassRate(), cfg.EffectiveTestCommand())
			fmt.Fprintf(out, "retry:       %d attempts, %s backoff\n", cfg.EffectiveRetryMaxAttempts(), cfg.EffectiveRetryBackoff())
			if n := cfg.EffectiveMaxCalls(); n > 0 {
				fmt.Fprintf(out, "budget:      %d calls\n", n)
			} else {
				fmt.Fprintln(out, "budget:      unlimited")
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
