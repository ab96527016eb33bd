package orchestrator

import (
	"maps"

	"github.com/floegence/redeven-forge/internal/routing"
)

// Request is one generation request. Generate works on a copy, so callers
// may reuse the Base map afterwards.
type Request struct {
	Prompt string `json:"prompt"`
	// Mode is fast, refine or chained; empty lets routing decide.
	Mode   string `json:"mode,omitempty"`
	Preset string `json:"preset,omitempty"`
	// Context is extra reference text, e.g. scraped docs or recalled cases.
	Context string `json:"context,omitempty"`
	// Base is the current content of project files keyed by path.
	Base     map[string]string `json:"base,omitempty"`
	TestSpec string            `json:"test_spec,omitempty"`
}

func (r Request) clone() Request {
	r.Base = maps.Clone(r.Base)
	return r
}

// CandidateFile is one proposed file.
type CandidateFile struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	ProducedBy string `json:"produced_by"`
	// DiffersFromBase is nil when the request carried no base snapshot.
	DiffersFromBase *bool `json:"differs_from_base,omitempty"`
}

// Result is a complete candidate set.
type Result struct {
	Files       []CandidateFile  `json:"files"`
	Explanation string           `json:"explanation,omitempty"`
	Tests       string           `json:"tests,omitempty"`
	Decision    routing.Decision `json:"decision"`
	// Strategy is what actually ran; it differs from Decision.Strategy when degraded.
	Strategy routing.Strategy `json:"strategy"`
	Calls    int              `json:"calls"`

	// Fallback is set when a chained refine reply had no file blocks and the
	// fast result was returned instead.
	Fallback bool `json:"fallback,omitempty"`
	// Wrapped is set when the returned reply had no file blocks and its whole
	// text was placed at protocol.DefaultFallbackPath.
	Wrapped       bool   `json:"wrapped,omitempty"`
	Degraded      bool   `json:"degraded,omitempty"`
	DegradeReason string `json:"degrade_reason,omitempty"`
	Raw           string `json:"-"`
}

func (r Result) Paths() []string {
	out := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		out = append(out, f.Path)
	}
	return out
}
