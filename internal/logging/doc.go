// Package logging provides structured logging for shelve.
//
// It wraps Zap with:
//   - a Trace level below Debug
//   - stdout and OpenTelemetry outputs
//   - context correlation fields (trace_id, run.id, item.id, request.id)
//   - redaction of credential-bearing keys
//   - sampling below Error
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "reconcile started", zap.Int("live", n))
//
// Components that only need a *zap.Logger get one from Underlying.
// Tests use NewTestLogger to inspect emitted entries.
package logging
