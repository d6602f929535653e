// Package logging provides small helpers around log/slog so that operational
// events and errors are reported with a consistent shape across components.
package logging

import (
	"database/sql"
	"io"
	"log/slog"
	"os"
)

// Setup installs the default slog handler for the process. Verbose enables
// debug-level output.
func Setup(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// ForComponent returns the default logger scoped to a named component.
func ForComponent(name string) *slog.Logger {
	return slog.Default().With(slog.String("component", name))
}

// LogOperation records a named operation with optional structured attributes.
func LogOperation(logger *slog.Logger, operation string, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	logger.Info(operation, args...)
}

// LogError records an error with optional structured attributes.
func LogError(logger *slog.Logger, msg string, err error, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.Any("error", err))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	logger.Error(msg, args...)
}

// SafeCloseWithLogging closes the given closer and logs any close error
// rather than returning it. Intended for defer sites.
func SafeCloseWithLogging(c io.Closer, logger *slog.Logger, what string) {
	if err := c.Close(); err != nil {
		LogError(logger, "error closing resource", err, slog.String("resource", what))
	}
}

// SafeRollbackWithLogging rolls back the transaction and logs unexpected
// rollback errors. A rollback after a successful commit returns
// sql.ErrTxDone, which is expected and not logged.
func SafeRollbackWithLogging(tx *sql.Tx, logger *slog.Logger, operation string) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		LogError(logger, "error rolling back transaction", err, slog.String("operation", operation))
	}
}
