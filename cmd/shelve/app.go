package main

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/config"
	"github.com/fyrsmithlabs/shelve/internal/content"
	"github.com/fyrsmithlabs/shelve/internal/embeddings"
	"github.com/fyrsmithlabs/shelve/internal/indexer"
	"github.com/fyrsmithlabs/shelve/internal/limiter"
	"github.com/fyrsmithlabs/shelve/internal/logging"
	"github.com/fyrsmithlabs/shelve/internal/organizer"
	"github.com/fyrsmithlabs/shelve/internal/placement"
	"github.com/fyrsmithlabs/shelve/internal/store"
	"github.com/fyrsmithlabs/shelve/internal/telemetry"
	"github.com/fyrsmithlabs/shelve/internal/tree"
)

// app holds every component of a running shelve instance.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry
	tree      *tree.FileTree
	store     *store.Store
	model     *embeddings.Handle
	collector *content.Collector
	indexer   *indexer.Engine
	placement *placement.Engine
	org       *organizer.Organizer
}

// loadApp reads configuration and wires the components. The embedding model
// is not loaded until first use.
func loadApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newApp(ctx, cfg)
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	for _, step := range []func(context.Context) error{
		a.initObservability,
		a.initStorage,
		a.initEngines,
	} {
		if err := step(ctx); err != nil {
			_ = a.Close(context.Background())
			return nil, err
		}
	}
	return a, nil
}

func (a *app) initObservability(ctx context.Context) error {
	logCfg, err := logging.FromObservability(a.cfg.Observability)
	if err != nil {
		return err
	}
	// Telemetry comes first so the OTEL log bridge has a provider.
	tel, err := telemetry.New(ctx, telemetry.FromObservability(a.cfg.Observability, version), zap.NewNop())
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	a.telemetry = tel

	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	a.logger = logger.Underlying()
	if tel.Degraded() {
		a.logger.Warn("telemetry running degraded; traces and metrics may be missing")
	}
	return nil
}

func (a *app) initStorage(ctx context.Context) error {
	treePath, err := config.ExpandPath(a.cfg.Tree.Path)
	if err != nil {
		return fmt.Errorf("expanding tree path: %w", err)
	}
	ft, err := tree.OpenFileTree(treePath)
	if err != nil {
		return fmt.Errorf("opening bookmarks file: %w", err)
	}
	a.tree = ft

	st, err := store.Open(ctx, a.cfg.Store, a.logger.Named("store"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	a.store = st
	return nil
}

func (a *app) initEngines(context.Context) error {
	metrics := embeddings.NewMetrics(a.telemetry.Meter("shelve.embeddings"), a.logger)
	providerCfg, err := embeddings.FromConfig(a.cfg.Embeddings, a.logger.Named("embeddings"))
	if err != nil {
		return err
	}
	providerCfg.Metrics = metrics
	a.model = embeddings.NewHandleFromConfig(providerCfg)

	batcher := embeddings.NewBatcher(a.model,
		embeddings.WithMinContentChars(a.cfg.Embeddings.MinContentChars),
		embeddings.WithBatcherMetrics(metrics),
		embeddings.WithBatcherLogger(a.logger.Named("embeddings")),
	)

	opener := content.NewHTTPOpener(content.HTTPConfigFrom(a.cfg.Sync), nil)
	a.collector = content.NewCollector(opener,
		limiter.New(a.cfg.Sync.Concurrency),
		a.cfg.Sync.ContentTimeout.Duration(),
		a.logger.Named("content"),
	)

	a.indexer, err = indexer.New(indexer.Config{
		Tree:          a.tree,
		Store:         a.store,
		Embedder:      batcher,
		Collector:     a.collector,
		ExcludedRoots: a.cfg.Placement.ExcludedRoots,
		Logger:        a.logger.Named("indexer"),
		Meter:         a.telemetry.Meter("shelve.indexer"),
	})
	if err != nil {
		return err
	}

	a.placement, err = placement.New(placement.Config{
		Tree:    a.tree,
		Store:   a.store,
		Logger:  a.logger.Named("placement"),
		LogTopN: a.cfg.Placement.LogTopN,
		Meter:   a.telemetry.Meter("shelve.placement"),
	})
	if err != nil {
		return err
	}

	a.org, err = organizer.New(organizer.Config{
		Tree:      a.tree,
		Store:     a.store,
		Indexer:   a.indexer,
		Placement: a.placement,
		Content:   a.collector,
		Logger:    a.logger.Named("organizer"),
	})
	return err
}

// Close releases the model, the store and telemetry, in that order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.model != nil {
		errs = append(errs, a.model.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
