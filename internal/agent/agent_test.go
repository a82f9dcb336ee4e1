package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracer-cloud/tracerd/internal/tconfig"
	"github.com/tracer-cloud/tracerd/internal/types"
)

type fakeRowSink struct{ writes int }

func (f *fakeRowSink) Write(ctx context.Context, events []types.Event, runName string) error {
	f.writes++
	return nil
}

type fakeColumnarSink struct{ writes int }

func (f *fakeColumnarSink) Write(ctx context.Context, events []types.Event, runName string) (string, error) {
	f.writes++
	return "/tmp/fake.parquet", nil
}

func newTestAgent(t *testing.T) (*Agent, *fakeRowSink, *fakeColumnarSink) {
	t.Helper()
	cfg := tconfig.Default()
	cfg.ProcessPollingIntervalMs = 5
	cfg.BatchSubmissionIntervalMs = 10
	cfg.ProcessMetricsIntervalMs = 10

	row := &fakeRowSink{}
	columnar := &fakeColumnarSink{}

	a, err := New(cfg, "", t.TempDir(), Dependencies{RowSink: row, ColumnarSink: columnar})
	require.NoError(t, err)
	return a, row, columnar
}

func TestNewBuildsAgentWithoutError(t *testing.T) {
	a, _, _ := newTestAgent(t)
	assert.NotNil(t, a)
	assert.Nil(t, a.lifecycle.Current())
}

func TestStartRunBindsIdentityAndRecordsNewRun(t *testing.T) {
	a, _, _ := newTestAgent(t)

	meta, err := a.StartRun(context.Background(), "genomics-pipeline", "", []string{"env:prod"})
	require.NoError(t, err)
	assert.NotEmpty(t, meta.Name)
	assert.Equal(t, "genomics-pipeline", meta.PipelineName)

	current := a.lifecycle.Current()
	require.NotNil(t, current)
	assert.Equal(t, meta.Name, current.Name)
}

func TestStopRunFlushesPendingEvents(t *testing.T) {
	a, row, columnar := newTestAgent(t)

	_, err := a.StartRun(context.Background(), "genomics-pipeline", "", nil)
	require.NoError(t, err)

	require.NoError(t, a.StopRun(context.Background()))
	assert.Equal(t, 1, row.writes)
	assert.Equal(t, 1, columnar.writes)
	assert.Nil(t, a.lifecycle.Current())
}

func TestInfoReportsSnapshot(t *testing.T) {
	a, _, _ := newTestAgent(t)
	data, err := a.Info(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, data)
}

func TestNewThreadsWorkflowDirFromConfig(t *testing.T) {
	cfg := tconfig.Default()
	cfg.WorkflowDir = "/data/work"

	a, err := New(cfg, "", t.TempDir(), Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "/data/work", a.workflowDir)
}

func TestReloadWithoutConfigPathFails(t *testing.T) {
	a, _, _ := newTestAgent(t)
	_, err := a.Reload(context.Background())
	assert.Error(t, err)
}

func TestReloadRebuildsTargetsAndWorkflowDir(t *testing.T) {
	cfg := tconfig.Default()
	cfg.ProcessPollingIntervalMs = 5
	cfg.BatchSubmissionIntervalMs = 10
	cfg.ProcessMetricsIntervalMs = 10

	path := filepath.Join(t.TempDir(), "tracerd.toml")
	require.NoError(t, tconfig.Save(path, cfg))

	a, err := New(cfg, path, t.TempDir(), Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, "", a.workflowDir)

	cfg.WorkflowDir = "/data/work"
	cfg.Targets = []tconfig.Target{{Name: "nextflow", ShortLived: "nf-"}}
	cfg.DatasetFilePatterns = []string{`\.fastq$`}
	require.NoError(t, tconfig.Save(path, cfg))

	result, err := a.Reload(context.Background())
	require.NoError(t, err)
	assert.Contains(t, result, "1 target")
	assert.Equal(t, "/data/work", a.workflowDir)
}

func TestRunExitsOnContextCancellation(t *testing.T) {
	a, _, _ := newTestAgent(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := a.Run(ctx)
	assert.NoError(t, err)
}
