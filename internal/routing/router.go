// Package routing picks a generation strategy for a prompt.
package routing

import (
	"strings"
)

type Strategy string

const (
	StrategyFast    Strategy = "fast"
	StrategyRefine  Strategy = "refine"
	StrategyChained Strategy = "chained"
)

const (
	SourceMode      = "mode"
	SourcePreset    = "preset"
	SourceHeuristic = "heuristic"
	SourceDefault   = "default"
)

// Decision is the outcome of Route. Reason is a short snake_case phrase.
type Decision struct {
	Strategy Strategy `json:"strategy"`
	Reason   string   `json:"reason"`
	Source   string   `json:"source"`
}

var (
	chainedPresets = []string{"chained", "pro-chain"}
	speedPresets   = []string{"fast", "vibe", "prototype", "quick"}
	rigorPresets   = []string{"production", "refine", "secure", "rigor"}

	creationKeywords = []string{
		"create", "build", "scaffold", "generate", "make", "prototype",
		"new component", "new page", "landing page", "mockup", "quick",
	}
	refinementKeywords = []string{
		"refactor", "harden", "optimize", "optimise", "fix", "debug",
		"secure", "security", "production", "accessibility", "a11y",
		"performance", "edge case", "validate", "validation", "test coverage",
		"clean up", "improve",
	}
)

// ParseStrategy normalizes a mode string. ok is false for unknown modes.
func ParseStrategy(raw string) (Strategy, bool) {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case StrategyFast:
		return StrategyFast, true
	case StrategyRefine:
		return StrategyRefine, true
	case StrategyChained:
		return StrategyChained, true
	default:
		return "", false
	}
}

// Route decides the strategy for one request. It is pure: identical
// arguments always yield the identical decision.
//
// Precedence: chained mode or preset, explicit fast/refine mode, speed preset,
// rigor preset, prompt keywords, default fast.
func Route(prompt string, mode string, preset string) Decision {
	m, haveMode := ParseStrategy(mode)
	p := strings.ToLower(strings.TrimSpace(preset))

	if haveMode && m == StrategyChained {
		return Decision{Strategy: StrategyChained, Reason: "chained_mode_requested", Source: SourceMode}
	}
	if containsExact(chainedPresets, p) {
		return Decision{Strategy: StrategyChained, Reason: "chained_preset", Source: SourcePreset}
	}
	if haveMode {
		return Decision{Strategy: m, Reason: string(m) + "_mode_requested", Source: SourceMode}
	}
	if containsExact(speedPresets, p) {
		return Decision{Strategy: StrategyFast, Reason: "speed_preset", Source: SourcePreset}
	}
	if containsExact(rigorPresets, p) {
		return Decision{Strategy: StrategyRefine, Reason: "rigor_preset", Source: SourcePreset}
	}

	lower := strings.ToLower(prompt)
	wantsRefine := containsAny(lower, refinementKeywords)
	wantsCreate := containsAny(lower, creationKeywords)
	switch {
	case wantsRefine:
		return Decision{Strategy: StrategyRefine, Reason: "refinement_keywords", Source: SourceHeuristic}
	case wantsCreate:
		return Decision{Strategy: StrategyFast, Reason: "creation_keywords", Source: SourceHeuristic}
	}
	return Decision{Strategy: StrategyFast, Reason: "default_fast", Source: SourceDefault}
}

func containsExact(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// containsAny matches whole words so "fix" does not fire on "prefix".
func containsAny(text string, tokens []string) bool {
	for _, token := range tokens {
		if containsWord(text, token) {
			return true
		}
	}
	return false
}

func containsWord(text string, word string) bool {
	from := 0
	for {
		idx := strings.Index(text[from:], word)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(word)
		if (start == 0 || !isWordByte(text[start-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		from = start + 1
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
