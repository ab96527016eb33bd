package routing

import "testing"

func TestRoute_Table(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		prompt       string
		mode         string
		preset       string
		wantStrategy Strategy
		wantSource   string
		wantReason   string
	}{
		{name: "chained_mode", prompt: "anything", mode: "chained", wantStrategy: StrategyChained, wantSource: SourceMode, wantReason: "chained_mode_requested"},
		{name: "chained_mode_beats_speed_preset", prompt: "x", mode: "CHAINED", preset: "vibe", wantStrategy: StrategyChained, wantSource: SourceMode},
		{name: "chained_preset_beats_fast_mode", prompt: "x", mode: "fast", preset: "pro-chain", wantStrategy: StrategyChained, wantSource: SourcePreset},
		{name: "explicit_refine_beats_speed_preset", prompt: "x", mode: "refine", preset: "vibe", wantStrategy: StrategyRefine, wantSource: SourceMode, wantReason: "refine_mode_requested"},
		{name: "explicit_fast_beats_rigor_preset", prompt: "x", mode: "fast", preset: "production", wantStrategy: StrategyFast, wantSource: SourceMode},
		{name: "speed_preset", prompt: "harden the auth flow", preset: "prototype", wantStrategy: StrategyFast, wantSource: SourcePreset, wantReason: "speed_preset"},
		{name: "rigor_preset", prompt: "make a button", preset: " Secure ", wantStrategy: StrategyRefine, wantSource: SourcePreset, wantReason: "rigor_preset"},
		{name: "unknown_mode_ignored", prompt: "build a todo app", mode: "turbo", wantStrategy: StrategyFast, wantSource: SourceHeuristic},
		{name: "creation_keywords", prompt: "Build a landing page for my bakery", wantStrategy: StrategyFast, wantSource: SourceHeuristic, wantReason: "creation_keywords"},
		{name: "refinement_keywords", prompt: "Refactor the reducer and add validation", wantStrategy: StrategyRefine, wantSource: SourceHeuristic, wantReason: "refinement_keywords"},
		{name: "both_keywords_refine_wins", prompt: "create a form and harden it", wantStrategy: StrategyRefine, wantSource: SourceHeuristic},
		{name: "word_boundary", prompt: "rename the prefix constant", wantStrategy: StrategyFast, wantSource: SourceDefault},
		{name: "default", prompt: "hello there", wantStrategy: StrategyFast, wantSource: SourceDefault, wantReason: "default_fast"},
		{name: "empty", wantStrategy: StrategyFast, wantSource: SourceDefault},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Route(tc.prompt, tc.mode, tc.preset)
			if got.Strategy != tc.wantStrategy {
				t.Fatalf("strategy=%q, want %q", got.Strategy, tc.wantStrategy)
			}
			if got.Source != tc.wantSource {
				t.Fatalf("source=%q, want %q", got.Source, tc.wantSource)
			}
			if tc.wantReason != "" && got.Reason != tc.wantReason {
				t.Fatalf("reason=%q, want %q", got.Reason, tc.wantReason)
			}
		})
	}
}

func TestRoute_Deterministic(t *testing.T) {
	t.Parallel()

	first := Route("Optimize the image grid", "", "")
	for i := 0; i < 50; i++ {
		if got := Route("Optimize the image grid", "", ""); got != first {
			t.Fatalf("run %d: decision=%+v, want %+v", i, got, first)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	if s, ok := ParseStrategy(" Refine "); !ok || s != StrategyRefine {
		t.Fatalf("ParseStrategy=%q,%v, want refine,true", s, ok)
	}
	if _, ok := ParseStrategy(""); ok {
		t.Fatalf("ParseStrategy(\"\") ok=true, want false")
	}
}
