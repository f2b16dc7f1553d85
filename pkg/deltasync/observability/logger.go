// Package observability provides structured logging, metrics and tracing for
// deltasync.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger scopes a logger to a component.
// Returns nil for a nil logger.
//
// Example:
//
//	logger = EnrichLogger(logger, "capture.items")
//	logger.Info("flushing") // includes component
func EnrichLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("component", component))
}

// LogCheckpointCreated logs a new checkpoint replacing any prior one for the
// device and user.
func LogCheckpointCreated(logger *slog.Logger, checkpointID, deviceID, userID string, windowStart time.Time) {
	if logger == nil {
		return
	}
	logger.Info("checkpoint created",
		slog.String("checkpoint_id", checkpointID),
		slog.String("device_id", deviceID),
		slog.String("user_id", userID),
		slog.Time("window_start", windowStart),
	)
}

// LogSyncStarted logs the closing of a checkpoint's window.
func LogSyncStarted(logger *slog.Logger, checkpointID string, windowStart, windowEnd time.Time) {
	if logger == nil {
		return
	}
	logger.Info("sync started",
		slog.String("checkpoint_id", checkpointID),
		slog.Time("window_start", windowStart),
		slog.Time("window_end", windowEnd),
	)
}

// LogFlush logs a successful buffer flush.
func LogFlush(logger *slog.Logger, stream string, size int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("changes flushed",
		slog.String("stream", stream),
		slog.Int("size", size),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogFlushError logs a failed buffer flush attempt.
func LogFlushError(logger *slog.Logger, stream string, size int, err error) {
	if logger == nil {
		return
	}
	logger.Error("flush failed",
		slog.String("stream", stream),
		slog.Int("size", size),
		slog.String("error", err.Error()),
	)
}

// LogDiscarded logs changes dropped without being persisted.
func LogDiscarded(logger *slog.Logger, stream string, count int, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("changes discarded",
		slog.String("stream", stream),
		slog.Int("count", count),
		slog.String("reason", reason),
	)
}

// LogPrune logs a retention pass.
func LogPrune(logger *slog.Logger, cutoff time.Time, checkpoints, items, userData int64) {
	if logger == nil {
		return
	}
	logger.Info("old data pruned",
		slog.Time("cutoff", cutoff),
		slog.Int64("checkpoints", checkpoints),
		slog.Int64("items", items),
		slog.Int64("user_data", userData),
	)
}

// LogMigrationStart logs an outdated schema about to be upgraded.
func LogMigrationStart(logger *slog.Logger, from, to int) {
	if logger == nil {
		return
	}
	logger.Info("schema outdated, migrating",
		slog.Int("from_version", from),
		slog.Int("to_version", to),
	)
}

// LogMigrationStep logs one applied migration.
func LogMigrationStep(logger *slog.Logger, version int, name string) {
	if logger == nil {
		return
	}
	logger.Info("migration applied",
		slog.Int("version", version),
		slog.String("name", name),
	)
}

// LogMigrationMissing logs a version with no registered migration.
func LogMigrationMissing(logger *slog.Logger, version int) {
	if logger == nil {
		return
	}
	logger.Warn("migration not found, skipping",
		slog.Int("version", version),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
