// Package diff computes line diffs between two texts and replays them tolerantly.
//
// The diff text is a plain sequence of prefixed lines: " " for context, "-" for
// lines only in the base, "+" for lines only in the target. There are no hunk
// headers; the whole file is covered by a single run.
package diff

import (
	"strings"
)

const (
	opContext = ' '
	opDelete  = '-'
	opInsert  = '+'
)

type edit struct {
	op  byte
	txt string
}

// splitLines keeps a trailing newline as a final empty line so joins are exact.
func splitLines(s string) []string {
	return strings.Split(s, "\n")
}

// edits aligns a and b with a longest-common-subsequence table. On ties the
// base line is consumed first, so deletions precede insertions.
func edits(a, b []string) []edit {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	seq := make([]edit, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			seq = append(seq, edit{opContext, a[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			seq = append(seq, edit{opDelete, a[i]})
			i++
		default:
			seq = append(seq, edit{opInsert, b[j]})
			j++
		}
	}
	for ; i < n; i++ {
		seq = append(seq, edit{opDelete, a[i]})
	}
	for ; j < m; j++ {
		seq = append(seq, edit{opInsert, b[j]})
	}
	return seq
}

// Compute returns the prefixed line diff turning before into after.
func Compute(before, after string) string {
	seq := edits(splitLines(before), splitLines(after))
	var out strings.Builder
	for idx, e := range seq {
		if idx > 0 {
			out.WriteByte('\n')
		}
		out.WriteByte(e.op)
		out.WriteString(e.txt)
	}
	return out.String()
}

// Apply replays unified against before.
//
// Context lines must match the base at the cursor; any mismatch abandons the
// whole patch and returns before unchanged. Deletions that do not match are
// skipped without moving the cursor. Additions are always emitted. Whatever
// the diff does not reach is appended as-is.
func Apply(before, unified string) string {
	base := splitLines(before)
	out := make([]string, 0, len(base))
	cur := 0
	for _, line := range strings.Split(unified, "\n") {
		if line == "" {
			continue
		}
		txt := line[1:]
		switch line[0] {
		case opContext:
			if cur >= len(base) || base[cur] != txt {
				return before
			}
			out = append(out, txt)
			cur++
		case opDelete:
			if cur < len(base) && base[cur] == txt {
				cur++
			}
		case opInsert:
			out = append(out, txt)
		}
	}
	out = append(out, base[cur:]...)
	return strings.Join(out, "\n")
}

// Stats counts added and removed lines in a diff produced by Compute.
func Stats(unified string) (added int, removed int) {
	for _, line := range strings.Split(unified, "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case opInsert:
			added++
		case opDelete:
			removed++
		}
	}
	return added, removed
}

// Changed reports whether the diff carries any insertion or deletion.
func Changed(unified string) bool {
	added, removed := Stats(unified)
	return added+removed > 0
}
