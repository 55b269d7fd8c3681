// Package http provides the HTTP API for shelve.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shelve/internal/indexer"
	"github.com/fyrsmithlabs/shelve/internal/organizer"
	"github.com/fyrsmithlabs/shelve/internal/placement"
	"github.com/fyrsmithlabs/shelve/internal/store"
	"github.com/fyrsmithlabs/shelve/internal/tree"
	"github.com/fyrsmithlabs/shelve/internal/vector"
)

// Organizer is the part of *organizer.Organizer served over HTTP.
type Organizer interface {
	Reconcile(ctx context.Context, onProgress indexer.ProgressFunc) (*indexer.Report, error)
	Status(ctx context.Context) (indexer.Status, error)
	Clear(ctx context.Context) (int, error)
	Place(ctx context.Context, leafID string, dryRun bool) (*placement.Decision, error)
	OnItemCreated(ctx context.Context, item tree.Item, mode organizer.Mode) (*placement.Decision, error)
	OnItemChanged(ctx context.Context, id string, change tree.Change) error
	OnItemMoved(ctx context.Context, id string) error
	OnItemRemoved(ctx context.Context, id string, descendantIDs []string) error
}

// Server provides HTTP endpoints for shelve.
type Server struct {
	echo    *echo.Echo
	org     Organizer
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Meter records request metrics. Nil uses the global meter provider.
	Meter metric.Meter
}

// NewServer creates a new HTTP server.
func NewServer(org Organizer, logger *zap.Logger, cfg *Config) (*Server, error) {
	if org == nil {
		return nil, fmt.Errorf("organizer cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	metrics := NewHTTPMetrics(cfg.Meter, logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		org:     org,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/sync", s.handleSync)
	v1.POST("/place", s.handlePlace)
	v1.DELETE("/embeddings", s.handleClear)

	items := v1.Group("/items")
	items.POST("/created", s.handleCreated)
	items.POST("/changed", s.handleChanged)
	items.POST("/moved", s.handleMoved)
	items.POST("/removed", s.handleRemoved)
}

// Echo exposes the router for additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	st, err := s.status(c.Request().Context())
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) status(ctx context.Context) (StatusResponse, error) {
	st, err := s.org.Status(ctx)
	if err != nil {
		return StatusResponse{}, err
	}
	s.metrics.ObserveStatus(st)
	return StatusResponse{Status: st, InSync: st.InSync()}, nil
}

func (s *Server) handlePlace(c echo.Context) error {
	var req PlaceRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid place request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.LeafID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "leaf_id field is required")
	}
	dec, err := s.org.Place(c.Request().Context(), req.LeafID, req.DryRun)
	if err != nil {
		return s.httpError(err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(dec.Ranked) > limit {
		dec.Ranked = dec.Ranked[:limit]
	}
	return c.JSON(http.StatusOK, dec)
}

func (s *Server) handleClear(c echo.Context) error {
	n, err := s.org.Clear(c.Request().Context())
	if err != nil {
		return s.httpError(err)
	}
	s.logger.Info("cleared embeddings", zap.Int("deleted", n))
	return c.JSON(http.StatusOK, ClearResponse{Deleted: n})
}

func (s *Server) handleCreated(c echo.Context) error {
	var req ItemCreatedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Item.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "item.id field is required")
	}
	mode, err := organizer.ParseMode(req.Mode)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dec, err := s.org.OnItemCreated(c.Request().Context(), req.Item, mode)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, EventResponse{Handled: mode == organizer.ModeInteractive, Decision: dec})
}

func (s *Server) handleChanged(c echo.Context) error {
	var req ItemChangedRequest
	if err := c.Bind(&req); err != nil || req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id field is required")
	}
	if err := s.org.OnItemChanged(c.Request().Context(), req.ID, req.Change); err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, EventResponse{Handled: true})
}

func (s *Server) handleMoved(c echo.Context) error {
	var req ItemMovedRequest
	if err := c.Bind(&req); err != nil || req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id field is required")
	}
	if err := s.org.OnItemMoved(c.Request().Context(), req.ID); err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, EventResponse{Handled: true})
}

func (s *Server) handleRemoved(c echo.Context) error {
	var req ItemRemovedRequest
	if err := c.Bind(&req); err != nil || req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "id field is required")
	}
	if err := s.org.OnItemRemoved(c.Request().Context(), req.ID, req.DescendantIDs); err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, EventResponse{Handled: true})
}

// httpError maps domain errors to status codes.
func (s *Server) httpError(err error) error {
	switch {
	case errors.Is(err, tree.ErrItemNotFound), errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, organizer.ErrNotLeaf):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, vector.ErrPrecondition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server. It blocks until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
