package orchestrator

import (
	"sort"
	"strings"

	"github.com/floegence/redeven-forge/internal/protocol"
)

const scaffoldMarker = "Initial scaffold to harden:"

func baseInstructions() []string {
	return []string{
		"You are a senior software engineer producing code changes for an existing project.",
		"Reply with one block per file you create or change, in exactly this format:",
		`<file path="relative/path.ext">`,
		"complete new file content",
		"</file>",
		"Always give the complete file content, never a fragment or a diff.",
		"After the files you may add <explanation>short summary</explanation> and <tests>test code or a test plan</tests>.",
		"Do not wrap blocks in markdown code fences.",
	}
}

func fastSystemPrompt() string {
	lines := baseInstructions()
	lines = append(lines, "Favour a working result quickly; keep the change small and idiomatic.")
	return strings.Join(lines, "\n")
}

func refineSystemPrompt() string {
	lines := baseInstructions()
	lines = append(lines,
		"Favour correctness: handle edge cases and invalid input.",
		"Check accessibility, security and error handling before answering.",
		"Keep file paths stable unless a move is required.",
	)
	return strings.Join(lines, "\n")
}

// userPrompt renders the request body shared by every strategy.
func userPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Request:\n")
	b.WriteString(strings.TrimSpace(req.Prompt))
	b.WriteString("\n")
	if ctx := strings.TrimSpace(req.Context); ctx != "" {
		b.WriteString("\nContext:\n")
		b.WriteString(ctx)
		b.WriteString("\n")
	}
	if len(req.Base) > 0 {
		paths := make([]string, 0, len(req.Base))
		for p := range req.Base {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		current := protocol.Output{Files: make([]protocol.FileBlock, 0, len(paths))}
		for _, p := range paths {
			current.Files = append(current.Files, protocol.FileBlock{Path: p, Content: req.Base[p]})
		}
		b.WriteString("\nCurrent files:\n")
		b.WriteString(protocol.Encode(current))
	}
	if spec := strings.TrimSpace(req.TestSpec); spec != "" {
		b.WriteString("\nTests the result must satisfy:\n")
		b.WriteString(spec)
		b.WriteString("\n")
	}
	return b.String()
}

// fastPrompt is the single streaming prompt; the stream call has no separate
// system slot.
func fastPrompt(req Request) string {
	return fastSystemPrompt() + "\n\n" + userPrompt(req)
}

// chainedRefinePrompt shows the fast candidate back to the refine model.
func chainedRefinePrompt(req Request, scaffold protocol.Output) string {
	var b strings.Builder
	b.WriteString(scaffoldMarker)
	b.WriteString("\n")
	b.WriteString(protocol.Encode(scaffold))
	b.WriteString("\nOriginal ")
	b.WriteString(userPrompt(req))
	return b.String()
}
