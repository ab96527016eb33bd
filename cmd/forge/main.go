package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/floegence/redeven-forge/internal/config"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

type rootOptions struct {
	configPath string
	logFormat  string
	logLevel   string
	timeout    time.Duration
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "forge: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "forge",
		Short: "Generate, diff, stage and apply model-written code changes",
		Long: `forge routes a prompt to a fast or refine model (or both in sequence),
parses the reply into files, diffs them against your project, and applies
them once the project's tests pass.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "Config file path (.json, .yaml or .yml)")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format override: json|text")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level override: debug|info|warn|error")
	pf.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "Overall timeout for model, embedding and test calls")

	root.AddCommand(
		newRouteCmd(),
		newGenerateCmd(opts),
		newDebugCmd(opts),
		newDiffCmd(),
		newPatchCmd(),
		newRecallCmd(opts),
		newConfigCmd(opts),
		newLogCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "forge %s (%s) %s\n", Version, Commit, BuildTime)
		},
	}
}

// withTimeout bounds a command's context by --timeout.
func withTimeout(cmd *cobra.Command, opts *rootOptions) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.timeout)
}
