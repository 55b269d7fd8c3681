package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SSE event names for POST /api/v1/sync.
const (
	EventSyncProgress = "SYNC_PROGRESS"
	EventSyncComplete = "SYNC_COMPLETE"
	EventSyncError    = "SYNC_ERROR"
)

// handleSync runs one reconciliation pass. Clients sending
// Accept: text/event-stream receive progress events, everyone else a
// single JSON summary.
//
//	event: SYNC_PROGRESS
//	data: {"processed":3,"total":12}
//
//	event: SYNC_COMPLETE
//	data: {"report":{...},"status":{...}}
func (s *Server) handleSync(c echo.Context) error {
	ctx := c.Request().Context()
	if !wantsEventStream(c.Request()) {
		report, err := s.org.Reconcile(ctx, nil)
		if err != nil {
			return s.httpError(err)
		}
		st, err := s.status(ctx)
		if err != nil {
			return s.httpError(err)
		}
		s.metrics.ObserveSync(report)
		return c.JSON(http.StatusOK, SyncResponse{Report: report, Status: st})
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Leaf progress arrives from collector workers, one call at a time, and
	// never after Reconcile returns.
	report, err := s.org.Reconcile(ctx, func(processed, total int) {
		s.writeEvent(c, EventSyncProgress, ProgressEvent{Processed: processed, Total: total})
	})
	if err != nil {
		s.logger.Error("sync failed", zap.Error(err))
		s.writeEvent(c, EventSyncError, map[string]string{"error": err.Error()})
		return nil
	}
	st, err := s.status(ctx)
	if err != nil {
		s.writeEvent(c, EventSyncError, map[string]string{"error": err.Error()})
		return nil
	}
	s.metrics.ObserveSync(report)
	s.writeEvent(c, EventSyncComplete, SyncResponse{Report: report, Status: st})
	return nil
}

func (s *Server) writeEvent(c echo.Context, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		s.logger.Warn("encoding sse event", zap.String("event", event), zap.Error(err))
		return
	}
	fmt.Fprintf(c.Response(), "event: %s\n", event)
	fmt.Fprintf(c.Response(), "data: %s\n\n", payload)
	c.Response().Flush()
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get(echo.HeaderAccept), "text/event-stream")
}
