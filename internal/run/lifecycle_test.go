package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracer-cloud/tracerd/internal/enrich"
	"github.com/tracer-cloud/tracerd/internal/opstats"
	"github.com/tracer-cloud/tracerd/internal/recorder"
)

func newTestLifecycle(flush FlushFunc) *Lifecycle {
	return New(recorder.New(), enrich.New(nil, nil), opstats.New(), flush)
}

func TestStartWithNoActiveRunRecordsNewRun(t *testing.T) {
	l := newTestLifecycle(nil)

	meta, err := l.Start(context.Background(), "genomics-pipeline", "", []string{"env:prod"})
	require.NoError(t, err)
	assert.NotEmpty(t, meta.Name)
	assert.NotEmpty(t, meta.ID)
	assert.Equal(t, "genomics-pipeline", meta.PipelineName)
	assert.Same(t, meta, l.current)
}

func TestStartHonorsSuppliedRunID(t *testing.T) {
	l := newTestLifecycle(nil)

	meta, err := l.Start(context.Background(), "p", "fixed-run-id", nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed-run-id", meta.ID)
}

func TestStartWhileActiveStopsPriorRunFirst(t *testing.T) {
	flushes := 0
	l := newTestLifecycle(func(ctx context.Context) error { flushes++; return nil })

	first, err := l.Start(context.Background(), "p1", "", nil)
	require.NoError(t, err)

	second, err := l.Start(context.Background(), "p2", "", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, flushes)
	assert.NotEqual(t, first.Name, second.Name)
	assert.Equal(t, "p2", l.Current().PipelineName)
}

func TestStopWithNoActiveRunIsNoop(t *testing.T) {
	l := newTestLifecycle(func(ctx context.Context) error {
		t.Fatal("flush should not be called when no run is active")
		return nil
	})
	assert.NoError(t, l.Stop(context.Background()))
}

func TestStopClearsCurrentAndFlushes(t *testing.T) {
	flushed := false
	l := newTestLifecycle(func(ctx context.Context) error { flushed = true; return nil })

	_, err := l.Start(context.Background(), "p", "", nil)
	require.NoError(t, err)

	require.NoError(t, l.Stop(context.Background()))
	assert.True(t, flushed)
	assert.Nil(t, l.Current())
}

func TestStopPropagatesFlushError(t *testing.T) {
	l := newTestLifecycle(func(ctx context.Context) error { return assert.AnError })

	_, err := l.Start(context.Background(), "p", "", nil)
	require.NoError(t, err)

	err = l.Stop(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCheckIdleDisabledByDefaultNeverStops(t *testing.T) {
	l := newTestLifecycle(nil)
	_, err := l.Start(context.Background(), "p", "", nil)
	require.NoError(t, err)

	l.now = func() time.Time { return l.current.LastInteraction.Add(24 * time.Hour) }

	require.NoError(t, l.CheckIdle(context.Background()))
	assert.NotNil(t, l.Current())
}

func TestCheckIdleStopsWhenEnabledAndPastWindow(t *testing.T) {
	l := newTestLifecycle(nil)
	l.IdleAutoCloseEnabled = true
	l.IdleWindow = time.Minute

	_, err := l.Start(context.Background(), "p", "", nil)
	require.NoError(t, err)

	l.now = func() time.Time { return l.current.LastInteraction.Add(2 * time.Minute) }

	require.NoError(t, l.CheckIdle(context.Background()))
	assert.Nil(t, l.Current())
}

func TestTouchUpdatesLastInteraction(t *testing.T) {
	l := newTestLifecycle(nil)
	_, err := l.Start(context.Background(), "p", "", nil)
	require.NoError(t, err)

	before := l.Current().LastInteraction
	l.now = func() time.Time { return before.Add(time.Second) }
	l.Touch()

	assert.True(t, l.Current().LastInteraction.After(before))
}
