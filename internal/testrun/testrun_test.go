package testrun

import (
	"context"
	"math"
	"os/exec"
	"runtime"
	"strings"
	"testing"
)

func TestParse_Formats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		raw        string
		wantFormat string
		passed     int
		failed     int
		total      int
	}{
		{
			name:       "jest",
			raw:        "PASS src/App.test.jsx\nFAIL src/Login.test.jsx\n\nTest Suites: 1 failed, 1 passed, 2 total\nTests:       1 failed, 4 passed, 5 total\nSnapshots:   0 total\n",
			wantFormat: FormatJest, passed: 4, failed: 1, total: 5,
		},
		{
			name:       "vitest_with_skipped",
			raw:        " Test Files  2 passed (2)\n Tests:  9 passed, 1 skipped, 10 total\n",
			wantFormat: FormatJest, passed: 9, failed: 0, total: 10,
		},
		{
			name: "go_json",
			raw: strings.Join([]string{
				`{"Action":"run","Package":"p","Test":"TestA"}`,
				`{"Action":"pass","Package":"p","Test":"TestA"}`,
				`{"Action":"run","Package":"p","Test":"TestB"}`,
				`{"Action":"fail","Package":"p","Test":"TestB"}`,
				`{"Action":"pass","Package":"p","Test":"TestC"}`,
				`{"Action":"fail","Package":"p"}`,
			}, "\n"),
			wantFormat: FormatGoJSON, passed: 2, failed: 1, total: 3,
		},
		{
			name:       "pytest",
			raw:        "tests/test_api.py ..F.\n=========== 1 failed, 3 passed, 1 error in 0.42s ===========\n",
			wantFormat: FormatPytest, passed: 3, failed: 2, total: 5,
		},
		{
			name:       "mocha_fallback",
			raw:        "  12 passing (30ms)\n  2 failing\n",
			wantFormat: FormatFallback, passed: 12, failed: 2, total: 14,
		},
		{
			name:       "nothing",
			raw:        "npm ERR! missing script: test",
			wantFormat: FormatNone,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tc.raw)
			if got.Format != tc.wantFormat {
				t.Fatalf("format=%q, want %q", got.Format, tc.wantFormat)
			}
			if got.Passed != tc.passed || got.Failed != tc.failed || got.Total != tc.total {
				t.Fatalf("counts=(%d,%d,%d), want (%d,%d,%d)", got.Passed, got.Failed, got.Total, tc.passed, tc.failed, tc.total)
			}
			if got.RawOutput != tc.raw {
				t.Fatalf("raw output not preserved")
			}
		})
	}
}

func TestResult_PassRate(t *testing.T) {
	t.Parallel()

	if got := (Result{}).PassRate(); got != 0 {
		t.Fatalf("empty pass rate=%v, want 0", got)
	}
	if got := (Result{Passed: 4, Total: 5}).PassRate(); math.Abs(got-0.8) > 1e-9 {
		t.Fatalf("pass rate=%v, want 0.8", got)
	}
}

func TestCommandRunner_ExitCodeIsNotAnError(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := &CommandRunner{Command: []string{"sh", "-c", "echo '3 passed, 1 failed'; exit 1"}}
	out, err := r.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.ExitCode != 1 {
		t.Fatalf("exit_code=%d, want 1", out.ExitCode)
	}
	res := Parse(out.Raw)
	if res.Passed != 3 || res.Failed != 1 {
		t.Fatalf("counts=(%d,%d), want (3,1)", res.Passed, res.Failed)
	}
}

func TestCommandRunner_MissingBinary(t *testing.T) {
	t.Parallel()

	r := &CommandRunner{Command: []string{"definitely-not-a-real-binary-forge"}}
	if _, err := r.Run(context.Background(), ""); err == nil {
		t.Fatalf("expected start error")
	}
}

func TestNewCommandRunner(t *testing.T) {
	t.Parallel()

	if _, err := NewCommandRunner("   ", ""); err == nil {
		t.Fatalf("expected error for empty command")
	}
	r, err := NewCommandRunner("npx vitest run", "/tmp/app")
	if err != nil {
		t.Fatalf("NewCommandRunner: %v", err)
	}
	if len(r.Command) != 3 || r.Command[0] != "npx" || r.Dir != "/tmp/app" {
		t.Fatalf("runner=%+v", r)
	}
}
