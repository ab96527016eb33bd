package diff

import (
	"crypto/sha1"
	"fmt"
	"strings"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[90m"
	colorBold  = "\033[1m"
)

const renderContext = 3

type hunk struct {
	oldStart, oldCount int
	newStart, newCount int
	lines              []edit
}

// Render prints a git-style diff with @@ hunk headers for review output.
// It returns "" when before and after are identical.
func Render(path string, before, after string, color bool) string {
	if before == after {
		return ""
	}
	a := splitLines(strings.TrimSuffix(before, "\n"))
	b := splitLines(strings.TrimSuffix(after, "\n"))
	if before == "" {
		a = nil
	}
	if after == "" {
		b = nil
	}
	hunks := groupHunks(edits(a, b), renderContext)

	paint := func(c, s string) string {
		if !color {
			return s
		}
		return c + s + colorReset
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%s\n", paint(colorBold+colorCyan, fmt.Sprintf("diff --git a/%s b/%s", path, path)))
	fmt.Fprintf(&out, "index %s..%s 100644\n", shortSHA(before), shortSHA(after))
	fmt.Fprintf(&out, "%s\n", paint(colorCyan, "--- a/"+path))
	fmt.Fprintf(&out, "%s\n", paint(colorCyan, "+++ b/"+path))
	for _, h := range hunks {
		fmt.Fprintf(&out, "%s\n", paint(colorCyan, fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.oldStart, h.oldCount, h.newStart, h.newCount)))
		for _, e := range h.lines {
			switch e.op {
			case opInsert:
				out.WriteString(paint(colorGreen, "+"+e.txt))
			case opDelete:
				out.WriteString(paint(colorRed, "-"+e.txt))
			default:
				out.WriteString(paint(colorGray, " "+e.txt))
			}
			out.WriteByte('\n')
		}
	}
	return out.String()
}

// groupHunks splits seq into hunks that keep ctx lines of context around
// changes, merging hunks whose context would overlap.
func groupHunks(seq []edit, ctx int) []hunk {
	type span struct{ from, to int }
	var spans []span
	for idx, e := range seq {
		if e.op == opContext {
			continue
		}
		from := max(0, idx-ctx)
		to := min(len(seq), idx+ctx+1)
		if n := len(spans); n > 0 && from <= spans[n-1].to {
			spans[n-1].to = max(spans[n-1].to, to)
			continue
		}
		spans = append(spans, span{from, to})
	}

	// Line numbers before each position.
	oldAt := make([]int, len(seq)+1)
	newAt := make([]int, len(seq)+1)
	for idx, e := range seq {
		oldAt[idx+1] = oldAt[idx]
		newAt[idx+1] = newAt[idx]
		if e.op != opInsert {
			oldAt[idx+1]++
		}
		if e.op != opDelete {
			newAt[idx+1]++
		}
	}

	out := make([]hunk, 0, len(spans))
	for _, s := range spans {
		h := hunk{
			oldStart: oldAt[s.from] + 1,
			oldCount: oldAt[s.to] - oldAt[s.from],
			newStart: newAt[s.from] + 1,
			newCount: newAt[s.to] - newAt[s.from],
			lines:    seq[s.from:s.to],
		}
		if h.oldCount == 0 {
			h.oldStart--
		}
		if h.newCount == 0 {
			h.newStart--
		}
		out = append(out, h)
	}
	return out
}

func shortSHA(s string) string {
	h := sha1.Sum([]byte(s))
	return fmt.Sprintf("%x", h[:4])
}
