package runlog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spider-crawler/shopsync/internal/apperr"
	"github.com/spider-crawler/shopsync/internal/storage"
)

func newTestLog(t *testing.T, logger *zap.Logger) *Log {
	t.Helper()
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, logger)
}

func TestRunLifecycle(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := newTestLog(t, zap.New(core))
	ctx := context.Background()

	runID, err := l.Start(ctx, KindExplore, "shop.example", 3)
	require.NoError(t, err)
	_, err = uuid.Parse(runID)
	require.NoError(t, err)

	l.Infof(ctx, runID, "https://shop.example/p/1", "explored")
	l.Errorf(ctx, runID, "https://shop.example/p/2", "fetch failed: %d", 503)
	l.Log(ctx, runID, "WARNING", "", "slow")
	l.Progress(ctx, runID, 1, 1)

	run, err := l.Status(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunRunning, run.Status)
	assert.Equal(t, 1, run.OK)

	require.NoError(t, l.Finish(ctx, runID, 2, 1))
	run, err = l.Status(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunFinished, run.Status)
	assert.Equal(t, 3, run.Total)
	assert.NotNil(t, run.FinishedAt)

	errs, err := l.Errors(ctx, runID)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "fetch failed: 503", errs[0].Message)
	assert.Equal(t, "https://shop.example/p/2", errs[0].URL)

	tail, err := l.Tail(ctx, runID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "fetch failed: 503", tail[0].Message)
	assert.Equal(t, storage.LevelWarn, tail[1].Level)

	assert.Equal(t, 1, logs.FilterMessage("fetch failed: 503").Len())
	assert.Equal(t, 1, logs.FilterMessage("run finished").Len())
}

func TestTailDefaultsAndLimits(t *testing.T) {
	l := newTestLog(t, zap.NewNop())
	ctx := context.Background()

	runID, err := l.Start(ctx, KindTransfer, "shop.example", 0)
	require.NoError(t, err)
	for i := 0; i < DefaultTailLines+10; i++ {
		l.Infof(ctx, runID, "", "line %d", i)
	}

	tail, err := l.Tail(ctx, runID, 0)
	require.NoError(t, err)
	require.Len(t, tail, DefaultTailLines)
	assert.Equal(t, fmt.Sprintf("line %d", DefaultTailLines+9), tail[len(tail)-1].Message)
}

func TestUnknownRun(t *testing.T) {
	l := newTestLog(t, zap.NewNop())
	ctx := context.Background()

	_, err := l.Status(ctx, "nope")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = l.Errors(ctx, "nope")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = l.Tail(ctx, "nope", 5)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
