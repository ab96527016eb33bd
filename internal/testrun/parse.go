package testrun

import (
	"bufio"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// Result is the pass/fail tally of one run.
type Result struct {
	Passed    int    `json:"passed"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
	RawOutput string `json:"raw_output,omitempty"`
	// Format names the detector that produced the counts.
	Format string `json:"format"`
}

// PassRate is Passed/Total, or 0 when nothing ran.
func (r Result) PassRate() float64 {
	if r.Total <= 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total)
}

const (
	FormatJest     = "jest"
	FormatGoJSON   = "go_json"
	FormatPytest   = "pytest"
	FormatFallback = "fallback"
	FormatNone     = "none"
)

var (
	jestTestsLine  = regexp.MustCompile(`(?m)^\s*Tests:\s+(.+?)\s*$`)
	jestCount      = regexp.MustCompile(`(\d+)\s+(passed|failed|skipped|todo|total)`)
	pytestSummary  = regexp.MustCompile(`(?m)^=+ (.*\d+ (?:passed|failed).*?) =+\s*$`)
	pytestCount    = regexp.MustCompile(`(\d+)\s+(passed|failed|errors?)`)
	fallbackPassed = regexp.MustCompile(`(?i)(\d+)\s+pass(?:ed|ing|es)?\b`)
	fallbackFailed = regexp.MustCompile(`(?i)(\d+)\s+fail(?:ed|ing|ures?|s)?\b`)
)

// Parse reads counts from raw runner output. Known report formats are tried
// first; otherwise the first "N passed" and "N failed" phrases are used.
// Output with nothing recognisable yields a zero Result.
func Parse(raw string) Result {
	for _, detect := range []func(string) (Result, bool){parseJest, parseGoJSON, parsePytest, parseFallback} {
		if res, ok := detect(raw); ok {
			res.RawOutput = raw
			return res
		}
	}
	return Result{RawOutput: raw, Format: FormatNone}
}

// parseJest handles the Jest/Vitest "Tests: 1 failed, 4 passed, 5 total" line.
func parseJest(raw string) (Result, bool) {
	m := jestTestsLine.FindAllStringSubmatch(raw, -1)
	if len(m) == 0 {
		return Result{}, false
	}
	line := m[len(m)-1][1]
	res := Result{Format: FormatJest}
	haveTotal := false
	for _, c := range jestCount.FindAllStringSubmatch(line, -1) {
		n, _ := strconv.Atoi(c[1])
		switch c[2] {
		case "passed":
			res.Passed = n
		case "failed":
			res.Failed = n
		case "total":
			res.Total = n
			haveTotal = true
		}
	}
	if !haveTotal {
		res.Total = res.Passed + res.Failed
	}
	if res.Total == 0 && res.Passed == 0 && res.Failed == 0 {
		return Result{}, false
	}
	return res, true
}

type goTestEvent struct {
	Action string `json:"Action"`
	Test   string `json:"Test"`
}

// parseGoJSON counts per-test pass/fail actions from `go test -json`.
func parseGoJSON(raw string) (Result, bool) {
	res := Result{Format: FormatGoJSON}
	seen := false
	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var ev goTestEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil || ev.Action == "" {
			continue
		}
		seen = true
		if ev.Test == "" {
			continue
		}
		switch ev.Action {
		case "pass":
			res.Passed++
		case "fail":
			res.Failed++
		}
	}
	if !seen || res.Passed+res.Failed == 0 {
		return Result{}, false
	}
	res.Total = res.Passed + res.Failed
	return res, true
}

// parsePytest handles the "==== 3 failed, 10 passed in 0.12s ====" footer.
func parsePytest(raw string) (Result, bool) {
	m := pytestSummary.FindAllStringSubmatch(raw, -1)
	if len(m) == 0 {
		return Result{}, false
	}
	res := Result{Format: FormatPytest}
	for _, c := range pytestCount.FindAllStringSubmatch(m[len(m)-1][1], -1) {
		n, _ := strconv.Atoi(c[1])
		switch c[2] {
		case "passed":
			res.Passed = n
		case "failed", "error", "errors":
			res.Failed += n
		}
	}
	res.Total = res.Passed + res.Failed
	return res, res.Total > 0
}

func parseFallback(raw string) (Result, bool) {
	res := Result{Format: FormatFallback}
	found := false
	if m := fallbackPassed.FindStringSubmatch(raw); m != nil {
		res.Passed, _ = strconv.Atoi(m[1])
		found = true
	}
	if m := fallbackFailed.FindStringSubmatch(raw); m != nil {
		res.Failed, _ = strconv.Atoi(m[1])
		found = true
	}
	res.Total = res.Passed + res.Failed
	return res, found
}
