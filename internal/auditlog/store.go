// Package auditlog keeps a local JSONL journal of what forge generated and
// wrote, so a user can trace which prompt changed which files.
package auditlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxBytes   = int64(4 << 20) // 4 MiB
	defaultMaxBackups = 3
	maxPromptChars    = 500

	activeName    = "events.jsonl"
	rotatedPrefix = "events-"
	rotatedSuffix = ".jsonl"
)

const (
	ActionGenerate = "generate"
	ActionApply    = "apply"
	ActionDebug    = "debug"

	StatusSuccess = "success"
	StatusFailure = "failure"
	// StatusBlocked marks an apply stopped by the test gate.
	StatusBlocked = "blocked"
)

type Entry struct {
	CreatedAt time.Time `json:"created_at"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`

	Prompt   string `json:"prompt,omitempty"`
	Preset   string `json:"preset,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Project  string `json:"project,omitempty"`

	Paths   []string `json:"paths,omitempty"`
	Skipped []string `json:"skipped,omitempty"`
	Failed  []string `json:"failed,omitempty"`

	// PassRate is set when a test run gated the action.
	PassRate *float64 `json:"pass_rate,omitempty"`
}

type Options struct {
	Logger *slog.Logger
	// Dir holds events.jsonl and its rotated backups.
	Dir string

	// MaxBytes is the rotation threshold for the active file.
	MaxBytes int64
	// MaxBackups keeps the latest N rotated files besides the active one.
	MaxBackups int
	Now        func() time.Time
}

type Store struct {
	log        *slog.Logger
	dir        string
	activePath string
	maxBytes   int64
	maxBackups int
	now        func() time.Time

	mu sync.Mutex
}

func New(opts Options) (*Store, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, errors.New("missing audit dir")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	s := &Store{
		log:        opts.Logger,
		dir:        dir,
		activePath: filepath.Join(dir, activeName),
		maxBytes:   opts.MaxBytes,
		maxBackups: opts.MaxBackups,
		now:        opts.Now,
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.maxBytes <= 0 {
		s.maxBytes = defaultMaxBytes
	}
	if s.maxBackups <= 0 {
		s.maxBackups = defaultMaxBackups
	}
	if s.now == nil {
		s.now = time.Now
	}
	f, err := os.OpenFile(s.activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return s, nil
}

// Append writes e to the journal. Failures are logged, never returned: the
// journal must not fail the action it describes.
func (s *Store) Append(e Entry) {
	if s == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if strings.TrimSpace(e.Status) == "" {
		e.Status = StatusSuccess
	}
	e.Prompt = truncate(e.Prompt, maxPromptChars)

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.activePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.log.Warn("audit append failed", "error", err)
		return
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	err = enc.Encode(&e)
	_ = f.Close()
	if err != nil {
		s.log.Warn("audit encode failed", "error", err)
		return
	}
	s.rotateLocked()
}

// List returns up to limit entries, newest first, across rotated files.
func (s *Store) List(limit int) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	files := s.filesNewestFirstLocked()
	s.mu.Unlock()

	out := make([]Entry, 0, limit)
	for _, path := range files {
		if len(out) >= limit {
			break
		}
		entries, err := readNewestFirst(path, limit-len(out))
		if err != nil {
			s.log.Warn("audit read failed", "path", path, "error", err)
			continue
		}
		out = append(out, entries...)
	}
	return out, nil
}

// rotatedLocked lists backup file names, oldest first. Names embed the
// rotation time in unix milliseconds so lexical order is time order.
func (s *Store) rotatedLocked() []string {
	ents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasPrefix(name, rotatedPrefix) && strings.HasSuffix(name, rotatedSuffix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *Store) filesNewestFirstLocked() []string {
	paths := []string{s.activePath}
	rotated := s.rotatedLocked()
	for i := len(rotated) - 1; i >= 0; i-- {
		paths = append(paths, filepath.Join(s.dir, rotated[i]))
	}
	return paths
}

func (s *Store) rotateLocked() {
	st, err := os.Stat(s.activePath)
	if err != nil || st.Size() <= s.maxBytes {
		return
	}
	dst := filepath.Join(s.dir, fmt.Sprintf("%s%d%s", rotatedPrefix, s.now().UnixMilli(), rotatedSuffix))
	if err := os.Rename(s.activePath, dst); err != nil {
		s.log.Warn("audit rotate failed", "error", err)
		return
	}
	if f, err := os.OpenFile(s.activePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600); err == nil {
		_ = f.Close()
	}

	rotated := s.rotatedLocked()
	if len(rotated) <= s.maxBackups {
		return
	}
	for _, name := range rotated[:len(rotated)-s.maxBackups] {
		_ = os.Remove(filepath.Join(s.dir, name))
	}
}

func readNewestFirst(path string, limit int) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var entries []Entry
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]Entry, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
