package recall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/floegence/redeven-forge/internal/embedding"
)

const (
	DefaultWindow        = 200
	DefaultMinSimilarity = 0.7
	DefaultLimit         = 3
	DefaultAsyncTimeout  = 30 * time.Second
	DefaultMaxInFlight   = 4
)

type Options struct {
	Logger *slog.Logger
	// Window is how many of the newest records Query scores.
	Window       int
	AsyncTimeout time.Duration
	MaxInFlight  int64
	Now          func() time.Time
}

// Store embeds and ranks records on top of a Backend.
type Store struct {
	engine  embedding.Engine
	backend Backend
	log     *slog.Logger
	window  int
	timeout time.Duration
	now     func() time.Time

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

func New(engine embedding.Engine, backend Backend, opts Options) (*Store, error) {
	if engine == nil {
		return nil, errors.New("missing embedding engine")
	}
	if backend == nil {
		return nil, errors.New("missing recall backend")
	}
	s := &Store{
		engine:  engine,
		backend: backend,
		log:     opts.Logger,
		window:  opts.Window,
		timeout: opts.AsyncTimeout,
		now:     opts.Now,
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if s.timeout <= 0 {
		s.timeout = DefaultAsyncTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	inFlight := opts.MaxInFlight
	if inFlight <= 0 {
		inFlight = DefaultMaxInFlight
	}
	s.sem = semaphore.NewWeighted(inFlight)
	return s, nil
}

// Record embeds the canonical summary of content and appends it.
func (s *Store) Record(ctx context.Context, t Type, content Content) (Record, error) {
	if t != TypePattern && t != TypeCorrection {
		return Record{}, fmt.Errorf("invalid record type %q", t)
	}
	vec, err := s.engine.Embed(ctx, Summary(t, content))
	if err != nil {
		return Record{}, fmt.Errorf("%w: embed: %w", ErrStorage, err)
	}
	rec := Record{
		ID:        uuid.NewString(),
		Type:      t,
		Embedding: vec,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	if err := s.backend.Insert(ctx, rec); err != nil {
		return Record{}, fmt.Errorf("%w: insert: %w", ErrStorage, err)
	}
	s.log.Debug("recall record stored", "record_id", rec.ID, "type", string(t))
	return rec, nil
}

// Query returns up to limit records from the recent window whose similarity
// to text is at least minSimilarity, best first. A negative limit means no cap.
func (s *Store) Query(ctx context.Context, text string, minSimilarity float64, limit int) ([]Match, error) {
	if strings.TrimSpace(text) == "" || limit == 0 {
		return nil, nil
	}
	vec, err := s.engine.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %w", ErrStorage, err)
	}
	recent, err := s.backend.ListRecent(ctx, s.window)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %w", ErrStorage, err)
	}
	matches := rank(vec, recent, minSimilarity, limit)
	for _, m := range matches {
		s.log.Debug("recall match", "record_id", m.ID, "similarity", m.Similarity)
	}
	return matches, nil
}

// RecordAsync stores a record off the caller's path. Failures are logged and
// dropped. The write is detached from ctx cancellation but bounded by the
// store's async timeout.
func (s *Store) RecordAsync(ctx context.Context, t Type, content Content) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		if err := s.sem.Acquire(detached, 1); err != nil {
			s.log.Warn("recall record dropped", "type", string(t), "error", err)
			return
		}
		defer s.sem.Release(1)
		if _, err := s.Record(detached, t, content); err != nil {
			s.log.Warn("recall record failed", "type", string(t), "error", err)
		}
	}()
}

// Wait blocks until every RecordAsync call has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}
