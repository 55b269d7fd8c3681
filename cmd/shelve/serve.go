package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/shelve/internal/events"
	httpserver "github.com/fyrsmithlabs/shelve/internal/http"
	"github.com/fyrsmithlabs/shelve/internal/tree"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and keep the index in sync",
	Long: `Start the HTTP API, run one reconciliation shortly after start, and
optionally follow edits to the bookmarks file and NATS item events.

Endpoints:
  GET    /health
  GET    /metrics
  GET    /api/v1/status
  POST   /api/v1/sync          (SSE with Accept: text/event-stream)
  POST   /api/v1/place
  POST   /api/v1/items/{created,changed,moved,removed}
  DELETE /api/v1/embeddings`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, runServe)
	},
}

func runServe(ctx context.Context, a *app) error {
	logger := a.logger
	cfg := a.cfg

	srv, err := httpserver.NewServer(a.org, logger.Named("http"), &httpserver.Config{
		Host:  cfg.Server.Host,
		Port:  cfg.Server.Port,
		Meter: a.telemetry.Meter("shelve.http"),
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	if cfg.Events.Enabled {
		stop, err := startEvents(ctx, a)
		if err != nil {
			return err
		}
		defer stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if !cfg.Server.DisableStartupSync {
		g.Go(func() error {
			startupSync(gctx, a, cfg.Server.StartupSyncDelay.Duration())
			return nil
		})
	}

	if cfg.Tree.Watch {
		w, err := tree.NewWatcher(a.tree.Path(), cfg.Tree.WatchDebounce.Duration(), logger.Named("watch"))
		if err != nil {
			logger.Warn("bookmarks file watch disabled", zap.Error(err))
		} else {
			g.Go(func() error {
				err := w.Run(gctx, func(ctx context.Context) { onTreeFileChanged(ctx, a) })
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	}

	logger.Info("shelve serving",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("tree", a.tree.Path()),
		zap.String("store", cfg.Store.Backend),
	)
	return g.Wait()
}

func startupSync(ctx context.Context, a *app, delay time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}
	report, err := a.org.Reconcile(ctx, nil)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("startup sync failed", zap.Error(err))
		}
		return
	}
	a.logger.Info("startup sync complete",
		zap.String("run.id", report.RunID),
		zap.Int("written", report.Written),
		zap.Int("orphans", report.Orphans),
	)
}

// onTreeFileChanged reloads the bookmarks file and reconciles against it.
func onTreeFileChanged(ctx context.Context, a *app) {
	if err := a.tree.Reload(); err != nil {
		a.logger.Warn("reloading bookmarks file", zap.Error(err))
		return
	}
	if _, err := a.org.Reconcile(ctx, nil); err != nil && ctx.Err() == nil {
		a.logger.Error("sync after bookmarks file change failed", zap.Error(err))
	}
}

func startEvents(ctx context.Context, a *app) (func(), error) {
	cfg := a.cfg.Events
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("shelve"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	a.logger.Info("connected to NATS", zap.String("url", cfg.NATSURL))

	sub, err := events.NewSubscriber(nc, a.org, cfg.SubjectPrefix, a.logger.Named("events"))
	if err != nil {
		nc.Close()
		return nil, err
	}
	if err := sub.Start(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return func() {
		sub.Stop()
		nc.Close()
	}, nil
}
