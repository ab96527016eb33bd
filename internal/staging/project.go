package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Project is where staged changes land.
// ReadFile reports a missing file with an error matching fs.ErrNotExist.
type Project interface {
	ReadFile(ctx context.Context, p string) (string, error)
	WriteFile(ctx context.Context, p string, content string) error
}

// ErrPathEscapes rejects project paths that resolve outside the project root.
var ErrPathEscapes = errors.New("path escapes project root")

// CleanPath normalizes a project-relative path to slash form without a
// leading "./" or "/".
func CleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", errors.New("empty path")
	}
	cleaned := path.Clean(strings.TrimPrefix(p, "/"))
	if cleaned == "." {
		return "", errors.New("empty path")
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, p)
	}
	return cleaned, nil
}

// DirProject reads and writes files under a root directory.
type DirProject struct {
	root string
}

func NewDirProject(root string) (*DirProject, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &DirProject{root: filepath.Clean(abs)}, nil
}

func (d *DirProject) Root() string { return d.root }

func (d *DirProject) resolve(p string) (string, error) {
	rel, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	abs := filepath.Clean(filepath.Join(d.root, filepath.FromSlash(rel)))
	ok, err := isWithinRoot(abs, d.root)
	if err != nil || !ok {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, p)
	}
	return abs, nil
}

func (d *DirProject) ReadFile(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	abs, err := d.resolve(p)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *DirProject) WriteFile(ctx context.Context, p string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := d.resolve(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

func isWithinRoot(p string, root string) (bool, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return false, err
	}
	rel = filepath.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false, nil
	}
	return true, nil
}

// MemProject is an in-memory Project. The zero value is ready to use.
type MemProject struct {
	mu    sync.Mutex
	files map[string]string
	// FailWrites makes WriteFile fail for the listed paths.
	FailWrites map[string]error
}

func NewMemProject(files map[string]string) *MemProject {
	m := &MemProject{files: map[string]string{}}
	for p, c := range files {
		if cp, err := CleanPath(p); err == nil {
			m.files[cp] = c
		}
	}
	return m
}

func (m *MemProject) ReadFile(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cp, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.files[cp]
	if !ok {
		return "", fmt.Errorf("%s: %w", cp, fs.ErrNotExist)
	}
	return c, nil
}

func (m *MemProject) WriteFile(ctx context.Context, p string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp, err := CleanPath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailWrites[cp]; err != nil {
		return err
	}
	if m.files == nil {
		m.files = map[string]string{}
	}
	m.files[cp] = content
	return nil
}

// Snapshot returns a copy of every file.
func (m *MemProject) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.files)
}

// Paths lists files in sorted order.
func (m *MemProject) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
