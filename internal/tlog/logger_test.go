package tlog

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracer-cloud/tracerd/internal/types"
)

func TestNewWithNilRunDoesNotPanic(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(nil, &buf)
	l.Info("daemon starting", nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "run_name")
}

func TestNewWithRunBindsIdentityFields(t *testing.T) {
	var buf bytes.Buffer
	run := &types.RunMeta{Name: "brave-otter-7", ID: "run-id-1", PipelineName: "genomics-pipeline", StartTime: time.Now()}
	l := newWithWriter(run, &buf)

	l.Info("run started", nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "brave-otter-7", entry["run_name"])
	assert.Equal(t, "run-id-1", entry["run_id"])
	assert.Equal(t, "genomics-pipeline", entry["pipeline_name"])
	assert.Equal(t, "run started", entry["message"])
}

func TestNewOmitsPipelineNameFieldWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	run := &types.RunMeta{Name: "calm-lynx-3", ID: "run-id-2"}
	l := newWithWriter(run, &buf)

	l.Info("anonymous run", nil)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "pipeline_name")
}

func TestSugarWarnfFormatsTemplate(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(nil, &buf)

	l.Sugar().Warnf("poll failed: %v", assert.AnError)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry["message"], "poll failed")
	assert.Equal(t, "warn", entry["level"])
}
