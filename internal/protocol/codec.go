// Package protocol implements the tagged text protocol spoken with code models.
//
// A model reply may carry any number of <file path="..."> blocks, at most one
// <explanation> block and at most one <tests> block. Everything else is prose
// and is ignored unless the reply has no file blocks at all.
package protocol

import (
	"strings"
)

// DefaultFallbackPath receives the whole reply when a model answers without any file blocks.
const DefaultFallbackPath = "src/App.jsx"

const (
	tagFile        = "file"
	tagExplanation = "explanation"
	tagTests       = "tests"
)

type FileBlock struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Output is the structured form of one model reply.
type Output struct {
	Files       []FileBlock `json:"files"`
	Explanation string      `json:"explanation"`
	Tests       string      `json:"tests"`

	// Fallback is set when Files holds the whole reply wrapped at DefaultFallbackPath.
	Fallback bool `json:"fallback,omitempty"`
}

func (o Output) FileCount() int {
	return len(o.Files)
}

// Paths returns file paths in reply order.
func (o Output) Paths() []string {
	out := make([]string, 0, len(o.Files))
	for _, f := range o.Files {
		out = append(out, f.Path)
	}
	return out
}

// Parse extracts blocks from raw model text. It never fails: malformed or
// unmatched markers are skipped. A file path holding both quote characters
// counts as malformed. Parse runs in time linear in len(raw).
func Parse(raw string) Output {
	var out Output
	haveExplanation := false
	haveTests := false

	// closeAt caches, per tag name, the first close tag at or after the last
	// search start, or -1 once none remains. Search starts only move forward.
	closeAt := map[string]int{}
	findClose := func(name string, from int) int {
		if at, ok := closeAt[name]; ok && (at < 0 || at >= from) {
			return at
		}
		at := -1
		if k := strings.Index(raw[from:], "</"+name+">"); k >= 0 {
			at = from + k
		}
		closeAt[name] = at
		return at
	}

	i := 0
	for i < len(raw) {
		j := strings.IndexByte(raw[i:], '<')
		if j < 0 {
			break
		}
		pos := i + j

		name, attrs, bodyStart, ok := scanOpenTag(raw, pos)
		if !ok {
			i = pos + 1
			continue
		}
		end := findClose(name, bodyStart)
		if end < 0 {
			i = pos + 1
			continue
		}
		body := strings.TrimSpace(raw[bodyStart:end])
		next := end + len("</"+name+">")

		switch name {
		case tagFile:
			path := strings.TrimSpace(attrValue(attrs, "path"))
			if path == "" || !encodablePath(path) {
				i = pos + 1
				continue
			}
			out.Files = append(out.Files, FileBlock{Path: path, Content: body})
		case tagExplanation:
			if !haveExplanation {
				out.Explanation = body
				haveExplanation = true
			}
		case tagTests:
			if !haveTests {
				out.Tests = body
				haveTests = true
			}
		}
		i = next
	}

	if len(out.Files) == 0 {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			out.Files = []FileBlock{{Path: DefaultFallbackPath, Content: trimmed}}
			out.Fallback = true
		}
	}
	return out
}

// Encode renders o in the exact tag format Parse expects. Attribute values
// are not escaped, so a path holding both ' and " cannot be written; such
// files are left out. Parse never yields those paths.
func Encode(o Output) string {
	var b strings.Builder
	for _, f := range o.Files {
		if !encodablePath(f.Path) {
			continue
		}
		b.WriteString("<file path=")
		b.WriteString(quoteAttr(f.Path))
		b.WriteString(">\n")
		b.WriteString(f.Content)
		b.WriteString("\n</file>\n")
	}
	if o.Explanation != "" {
		b.WriteString("<explanation>\n")
		b.WriteString(o.Explanation)
		b.WriteString("\n</explanation>\n")
	}
	if o.Tests != "" {
		b.WriteString("<tests>\n")
		b.WriteString(o.Tests)
		b.WriteString("\n</tests>\n")
	}
	return b.String()
}

// scanOpenTag recognises "<name ...>" at pos for the three known tags.
func scanOpenTag(raw string, pos int) (name string, attrs string, bodyStart int, ok bool) {
	rest := raw[pos+1:]
	for _, candidate := range []string{tagFile, tagExplanation, tagTests} {
		if !strings.HasPrefix(rest, candidate) {
			continue
		}
		after := pos + 1 + len(candidate)
		if after >= len(raw) {
			return "", "", 0, false
		}
		c := raw[after]
		if c != '>' && !isSpace(c) {
			continue
		}
		end := -1
		quote := byte(0)
		for p := after; p < len(raw); p++ {
			ch := raw[p]
			// '<' ends the scan even inside quotes so each byte is
			// visited by one open tag at most.
			if ch == '<' {
				break
			}
			if quote != 0 {
				if ch == quote {
					quote = 0
				}
				continue
			}
			if ch == '"' || ch == '\'' {
				quote = ch
				continue
			}
			if ch == '>' {
				end = p
				break
			}
		}
		if end < 0 {
			return "", "", 0, false
		}
		return candidate, raw[after:end], end + 1, true
	}
	return "", "", 0, false
}

func attrValue(attrs string, key string) string {
	i := 0
	for i < len(attrs) {
		for i < len(attrs) && isSpace(attrs[i]) {
			i++
		}
		start := i
		for i < len(attrs) && attrs[i] != '=' && !isSpace(attrs[i]) {
			i++
		}
		name := attrs[start:i]
		for i < len(attrs) && isSpace(attrs[i]) {
			i++
		}
		if i >= len(attrs) || attrs[i] != '=' {
			if name == "" {
				return ""
			}
			continue
		}
		i++
		for i < len(attrs) && isSpace(attrs[i]) {
			i++
		}
		var value string
		if i < len(attrs) && (attrs[i] == '"' || attrs[i] == '\'') {
			q := attrs[i]
			i++
			vs := i
			for i < len(attrs) && attrs[i] != q {
				i++
			}
			value = attrs[vs:i]
			if i < len(attrs) {
				i++
			}
		} else {
			vs := i
			for i < len(attrs) && !isSpace(attrs[i]) {
				i++
			}
			value = attrs[vs:i]
		}
		if name == key {
			return value
		}
	}
	return ""
}

func encodablePath(p string) bool {
	return !(strings.ContainsRune(p, '"') && strings.ContainsRune(p, '\''))
}

func quoteAttr(v string) string {
	if strings.ContainsRune(v, '"') {
		return "'" + v + "'"
	}
	return `"` + v + `"`
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
