// Package testrun executes a project's test command and reads pass/fail
// counts out of its output.
package testrun

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// Output is what a test run printed and how it exited.
type Output struct {
	Raw      string
	ExitCode int
	Duration time.Duration
}

// Runner is the test-runner capability. selector narrows the run (a file,
// a package, a -run pattern); empty runs everything.
type Runner interface {
	Run(ctx context.Context, selector string) (Output, error)
}

// CommandRunner runs Command in Dir without a shell.
// The selector, when present, is appended as the last argument.
type CommandRunner struct {
	Command []string
	Dir     string
	Env     []string
}

// NewCommandRunner splits a command line on whitespace.
func NewCommandRunner(commandLine string, dir string) (*CommandRunner, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.New("missing test command")
	}
	return &CommandRunner{Command: fields, Dir: dir}, nil
}

// Run returns a non-nil error only when the command could not be started.
// A failing test suite is a normal Output with a non-zero ExitCode.
func (r *CommandRunner) Run(ctx context.Context, selector string) (Output, error) {
	if r == nil || len(r.Command) == 0 {
		return Output{}, errors.New("missing test command")
	}
	args := append([]string(nil), r.Command[1:]...)
	if s := strings.TrimSpace(selector); s != "" {
		args = append(args, s)
	}
	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	out := Output{Raw: buf.String(), Duration: time.Since(start)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, err
	}
	return out, nil
}
