package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/floegence/redeven-forge/internal/diff"
)

// readInput reads path, or stdin when path is "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func newDiffCmd() *cobra.Command {
	var (
		render bool
		color  string
		stats  bool
	)
	cmd := &cobra.Command{
		Use:   "diff <before> <after>",
		Short: "Print the line diff between two files",
		Long: `diff prints every line of the two files prefixed with " ", "-" or "+".
The output is the format "forge patch" applies. With --render a git-style
hunked view is printed instead.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			before, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			after, err := readInput(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if render {
				_, err := io.WriteString(out, diff.Render(args[1], string(before), string(after), useColor(color, out)))
				return err
			}
			unified := diff.Compute(string(before), string(after))
			if stats {
				added, removed := diff.Stats(unified)
				fmt.Fprintf(cmd.ErrOrStderr(), "+%d -%d\n", added, removed)
			}
			_, err = io.WriteString(out, unified+"\n")
			return err
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "Print a git-style hunked diff")
	cmd.Flags().StringVar(&color, "color", "auto", "Colour --render output: auto|always|never")
	cmd.Flags().BoolVar(&stats, "stat", false, "Print added and removed line counts to stderr")
	return cmd
}

func newPatchCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "patch <base> <diff>",
		Short: "Apply a forge diff to a file",
		Long: `patch replays a diff produced by "forge diff" against base. When the diff's
context lines do not match, base is printed unchanged.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "-" && args[1] == "-" {
				return fmt.Errorf("base and diff cannot both be stdin")
			}
			base, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			unified, err := readInput(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}
			result := diff.Apply(string(base), strings.TrimSuffix(string(unified), "\n"))
			if write {
				if args[0] == "-" {
					return fmt.Errorf("--write needs a base file, not stdin")
				}
				info, err := os.Stat(args[0])
				if err != nil {
					return err
				}
				return os.WriteFile(args[0], []byte(result), info.Mode().Perm())
			}
			_, err = io.WriteString(cmd.OutOrStdout(), result)
			return err
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "Write the result back to the base file")
	return cmd
}
