package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracer-cloud/tracerd/internal/types"
)

func TestWriteEmptyBatchIsNoop(t *testing.T) {
	s := New(t.TempDir(), nil)
	path, err := s.Write(context.Background(), nil, "a-run")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestWriteCreatesFileUnderRunDirectory(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	events := []types.Event{
		{
			Timestamp:     time.Now(),
			EventType:     types.EventType,
			ProcessStatus: types.TagToolExecution,
			RunName:       "swift-otter-42",
			Attributes: types.ProcessAttributes{
				ToolName: "samtools",
				ToolPID:  123,
			},
		},
	}

	path, err := s.Write(context.Background(), events, "swift-otter-42")
	require.NoError(t, err)
	require.NotEmpty(t, path)

	assert.Equal(t, filepath.Join(dir, "swift-otter-42"), filepath.Dir(path))
	assert.Equal(t, ".parquet", filepath.Ext(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestWriteFallsBackToAnonymousRunDirectory(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	events := []types.Event{{Timestamp: time.Now(), EventType: types.EventType, ProcessStatus: types.TagAlert}}
	path, err := s.Write(context.Background(), events, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "anonymous"), filepath.Dir(path))
}

type failingUploader struct{ err error }

func (f failingUploader) Upload(ctx context.Context, localPath, key string) error { return f.err }

func TestWriteSurvivesMirrorFailure(t *testing.T) {
	dir := t.TempDir()
	var captured error
	s := New(dir, failingUploader{err: assert.AnError})
	s.OnMirrorFailure = func(err error) { captured = err }

	events := []types.Event{{Timestamp: time.Now(), EventType: types.EventType, ProcessStatus: types.TagMetricEvent}}
	path, err := s.Write(context.Background(), events, "run-a")
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.Error(t, captured)
}

func TestToRowsMapsAttributeVariants(t *testing.T) {
	events := []types.Event{
		{EventType: types.EventType, ProcessStatus: types.TagToolExecution, Attributes: types.ProcessAttributes{ToolName: "bwa"}},
		{EventType: types.EventType, ProcessStatus: types.TagMetricEvent, Attributes: types.SystemMetricAttributes{MemoryUsedBytes: 10}},
	}

	rows, err := toRows(events)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NotNil(t, rows[0].Process)
	assert.Equal(t, "bwa", rows[0].Process.ToolName)
	assert.Nil(t, rows[0].SystemMetric)

	require.NotNil(t, rows[1].SystemMetric)
	assert.Equal(t, uint64(10), rows[1].SystemMetric.MemoryUsedBytes)
	assert.NotEmpty(t, rows[1].JSONEvent)
}
