package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/floegence/redeven-forge/internal/auditlog"
	"github.com/floegence/redeven-forge/internal/config"
	"github.com/floegence/redeven-forge/internal/embedding"
	"github.com/floegence/redeven-forge/internal/lockfile"
	"github.com/floegence/redeven-forge/internal/orchestrator"
	"github.com/floegence/redeven-forge/internal/pipeline"
	"github.com/floegence/redeven-forge/internal/provider"
	"github.com/floegence/redeven-forge/internal/recall"
	"github.com/floegence/redeven-forge/internal/recall/sqlitestore"
	"github.com/floegence/redeven-forge/internal/staging"
	"github.com/floegence/redeven-forge/internal/testrun"
)

const lockFileName = "forge.lock"

// app is the wiring shared by the commands that talk to models.
type app struct {
	cfg      *config.Config
	stateDir string
	log      *slog.Logger

	closers []func() error
}

func loadApp(opts *rootOptions, stderr io.Writer) (*app, error) {
	cfgPath := filepath.Clean(opts.configPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	format := firstNonEmpty(opts.logFormat, cfg.LogFormat)
	level := firstNonEmpty(opts.logLevel, cfg.LogLevel)
	log, err := config.NewLogger(stderr, format, level)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, stateDir: cfg.EffectiveStateDir(cfgPath), log: log}, nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// lock takes the state directory lock, waiting until ctx ends.
func (a *app) lock(ctx context.Context) error {
	path := filepath.Join(a.stateDir, lockFileName)
	lk, err := lockfile.AcquireWait(ctx, path, lockfile.DefaultPollInterval)
	if err != nil {
		if pid := lockfile.Holder(path); pid > 0 {
			return fmt.Errorf("acquire %s (held by pid %d): %w", path, pid, err)
		}
		return fmt.Errorf("acquire %s: %w", path, err)
	}
	a.closers = append(a.closers, lk.Release)
	a.log.Debug("state lock acquired", "path", path)
	return nil
}

func newProvider(pc config.ProviderConfig) (provider.Provider, error) {
	key, err := pc.APIKey()
	if err != nil {
		return nil, err
	}
	return provider.New(provider.Options{
		ID:              pc.ID,
		Type:            pc.Type,
		BaseURL:         pc.BaseURL,
		APIKey:          key,
		Model:           pc.Model,
		MaxOutputTokens: int64(pc.MaxOutputTokens),
	})
}

func (a *app) orchestrator() (*orchestrator.Orchestrator, error) {
	fastCfg, ok := a.cfg.FastProvider()
	if !ok {
		return nil, errors.New("no provider configured")
	}
	fast, err := newProvider(fastCfg)
	if err != nil {
		return nil, err
	}
	refine := fast
	if refineCfg, ok := a.cfg.RefineProvider(); ok && refineCfg.ID != fastCfg.ID {
		refine, err = newProvider(refineCfg)
		if err != nil {
			return nil, err
		}
	}
	var budget *orchestrator.Budget
	if n := a.cfg.EffectiveMaxCalls(); n > 0 {
		budget = orchestrator.NewBudget(n)
	}
	return orchestrator.New(orchestrator.Options{
		Fast:   fast,
		Refine: refine,
		Budget: budget,
		Retry: orchestrator.RetryPolicy{
			MaxAttempts:    a.cfg.EffectiveRetryMaxAttempts(),
			DefaultBackoff: a.cfg.EffectiveRetryBackoff(),
		},
		Logger: a.log.With("component", "orchestrator"),
	})
}

// recallStore opens the SQLite-backed store. It returns nil when recall is
// disabled and required is false.
func (a *app) recallStore(ctx context.Context, required bool) (*recall.Store, error) {
	if !a.cfg.RecallEnabled() {
		if required {
			return nil, errors.New("recall is disabled (configure an embedding section)")
		}
		return nil, nil
	}
	ec := a.cfg.Embedding
	engine, err := embedding.New(ctx, embedding.Options{
		Provider: ec.Provider,
		Model:    ec.Model,
		APIKey:   envValue(ec.EffectiveAPIKeyEnv()),
		BaseURL:  ec.BaseURL,
		TaskType: ec.TaskType,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	backend, err := sqlitestore.Open(a.cfg.EffectiveRecallDBPath(a.stateDir))
	if err != nil {
		return nil, fmt.Errorf("open recall db: %w", err)
	}
	store, err := recall.New(engine, backend, recall.Options{
		Logger: a.log.With("component", "recall"),
		Window: a.cfg.EffectiveRecallWindow(),
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	// Pending async writes finish before the database closes.
	a.closers = append(a.closers, backend.Close, func() error { store.Wait(); return nil })
	return store, nil
}

func (a *app) workbench(ctx context.Context, projectRoot string) (*pipeline.Workbench, error) {
	orch, err := a.orchestrator()
	if err != nil {
		return nil, err
	}
	opts := pipeline.Options{
		Orchestrator:        orch,
		Gate:                staging.Gate{MinPassRate: a.cfg.EffectiveMinPassRate()},
		RecallMinSimilarity: a.cfg.EffectiveRecallMinSimilarity(),
		RecallLimit:         a.cfg.EffectiveRecallLimit(),
		Logger:              a.log.With("component", "pipeline"),
	}
	if line := a.cfg.EffectiveTestCommand(); line != "" {
		runner, err := testrun.NewCommandRunner(line, projectRoot)
		if err != nil {
			return nil, err
		}
		opts.Runner = runner
	}
	store, err := a.recallStore(ctx, false)
	if err != nil {
		a.log.Warn("recall unavailable", "error", err)
	} else if store != nil {
		opts.Memory = store
	}
	return pipeline.New(opts)
}

// journal opens the audit log under the state dir. A journal that cannot be
// opened is logged and returned as nil; a nil store ignores appends.
func (a *app) journal() *auditlog.Store {
	s, err := auditlog.New(auditlog.Options{
		Logger: a.log.With("component", "auditlog"),
		Dir:    filepath.Join(a.stateDir, "audit"),
	})
	if err != nil {
		a.log.Warn("audit log unavailable", "error", err)
		return nil
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envValue(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}
