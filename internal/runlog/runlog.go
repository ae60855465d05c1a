// Package runlog records batch runs and their per-URL log lines.
package runlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/storage"
)

// Run kinds.
const (
	KindExplore  = "explore"
	KindExtract  = "extract"
	KindPrepare  = "prepare"
	KindTransfer = "transfer"
)

// DefaultTailLines is used when Tail is called with lines <= 0.
const DefaultTailLines = 50

// Repository is the persistence the run log needs.
type Repository interface {
	InsertRun(ctx context.Context, run *storage.Run) error
	FinishRun(ctx context.Context, runID string, ok, failed int) error
	UpdateRunProgress(ctx context.Context, runID string, ok, failed int) error
	GetRun(ctx context.Context, runID string) (*storage.Run, error)
	InsertRunLog(ctx context.Context, e *storage.RunLogEntry) error
	ListRunLogs(ctx context.Context, runID, level string, tail int) ([]*storage.RunLogEntry, error)
}

// Log writes run records to the store and mirrors them to zap.
type Log struct {
	repo   Repository
	logger *zap.Logger
}

// New creates a run log.
func New(repo Repository, logger *zap.Logger) *Log {
	return &Log{repo: repo, logger: logger.Named("runlog")}
}

// Start opens a run and returns its id.
func (l *Log) Start(ctx context.Context, kind, domain string, total int) (string, error) {
	run := &storage.Run{
		RunID:  uuid.NewString(),
		Kind:   kind,
		Domain: domain,
		Total:  total,
	}
	if err := l.repo.InsertRun(ctx, run); err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}

	l.logger.Info("run started",
		zap.String("run_id", run.RunID),
		zap.String("kind", kind),
		zap.String("domain", domain),
		zap.Int("total", total))
	return run.RunID, nil
}

// Log appends one line to a run. Store failures are logged, not returned,
// so a broken log never aborts a batch.
func (l *Log) Log(ctx context.Context, runID, level, url, msg string) {
	level = normalizeLevel(level)

	fields := []zap.Field{zap.String("run_id", runID)}
	if url != "" {
		fields = append(fields, zap.String("url", url))
	}
	switch level {
	case storage.LevelError:
		l.logger.Error(msg, fields...)
	case storage.LevelWarn:
		l.logger.Warn(msg, fields...)
	default:
		l.logger.Info(msg, fields...)
	}

	e := &storage.RunLogEntry{RunID: runID, Level: level, URL: url, Message: msg}
	if err := l.repo.InsertRunLog(ctx, e); err != nil {
		l.logger.Warn("failed to persist run log line", zap.String("run_id", runID), zap.Error(err))
	}
}

// Infof logs at info level.
func (l *Log) Infof(ctx context.Context, runID, url, format string, args ...any) {
	l.Log(ctx, runID, storage.LevelInfo, url, fmt.Sprintf(format, args...))
}

// Errorf logs at error level.
func (l *Log) Errorf(ctx context.Context, runID, url, format string, args ...any) {
	l.Log(ctx, runID, storage.LevelError, url, fmt.Sprintf(format, args...))
}

// Progress stores the running tally.
func (l *Log) Progress(ctx context.Context, runID string, ok, failed int) {
	if err := l.repo.UpdateRunProgress(ctx, runID, ok, failed); err != nil {
		l.logger.Warn("failed to store run progress", zap.String("run_id", runID), zap.Error(err))
	}
}

// Finish closes a run with its final tally.
func (l *Log) Finish(ctx context.Context, runID string, ok, failed int) error {
	if err := l.repo.FinishRun(ctx, runID, ok, failed); err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	l.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("ok", ok),
		zap.Int("failed", failed))
	return nil
}

// Status returns the run record.
func (l *Log) Status(ctx context.Context, runID string) (*storage.Run, error) {
	run, err := l.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run status: %w", err)
	}
	if run == nil {
		return nil, apperr.Ef(apperr.ErrNotFound, "run status", "run %s", runID)
	}
	return run, nil
}

// Errors returns every error line of a run.
func (l *Log) Errors(ctx context.Context, runID string) ([]*storage.RunLogEntry, error) {
	if _, err := l.Status(ctx, runID); err != nil {
		return nil, err
	}
	return l.repo.ListRunLogs(ctx, runID, storage.LevelError, 0)
}

// Tail returns the last lines of a run, oldest first.
func (l *Log) Tail(ctx context.Context, runID string, lines int) ([]*storage.RunLogEntry, error) {
	if _, err := l.Status(ctx, runID); err != nil {
		return nil, err
	}
	if lines <= 0 {
		lines = DefaultTailLines
	}
	return l.repo.ListRunLogs(ctx, runID, "", lines)
}

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case storage.LevelError:
		return storage.LevelError
	case storage.LevelWarn, "warning":
		return storage.LevelWarn
	default:
		return storage.LevelInfo
	}
}
