// Package export implements the columnar sink: one parquet file per flush,
// grouped by run name, with an optional object-storage mirror.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/tracer-cloud/tracerd/internal/types"
)

// row is the flat parquet schema: one nullable struct column per event
// attribute variant, plus the full event serialized as JSON for fidelity
// and easy ad-hoc querying. Unused variant columns are left nil for a
// given row, which parquet-go encodes as the column's null value.
type row struct {
	Timestamp     time.Time `parquet:"timestamp,timestamp"`
	EventType     string    `parquet:"event_type"`
	ProcessStatus string    `parquet:"process_status,dict"`
	PipelineName  string    `parquet:"pipeline_name,optional,dict"`
	RunName       string    `parquet:"run_name,optional,dict"`
	RunID         string    `parquet:"run_id,optional"`
	Message       string    `parquet:"message,optional"`

	Process          *types.ProcessAttributes               `parquet:"process,optional"`
	CompletedProcess *types.CompletedProcessAttributes       `parquet:"completed_process,optional"`
	SystemMetric     *types.SystemMetricAttributes           `parquet:"system_metric,optional"`
	SystemProperties *types.SystemPropertiesAttributes       `parquet:"system_properties,optional"`
	Syslog           *types.SyslogAttributes                 `parquet:"syslog,optional"`
	DatasetStats     *types.ProcessDatasetStatsAttributes     `parquet:"dataset_stats,optional"`

	JSONEvent string `parquet:"json_event"`
}

// Uploader mirrors a local parquet file to object storage. A nil Uploader
// disables mirroring entirely.
type Uploader interface {
	Upload(ctx context.Context, localPath, key string) error
}

// Sink writes one parquet file per flush under BaseDir/<run_name>/<uuid>.parquet
// and, when an Uploader is configured, best-effort mirrors it to object
// storage. A mirror failure never fails the flush: the local file is the
// durable artifact.
type Sink struct {
	BaseDir  string
	Uploader Uploader

	// OnMirrorFailure, when set, is called with the error from a failed
	// mirror attempt instead of silently discarding it.
	OnMirrorFailure func(error)
}

// New constructs a Sink rooted at baseDir. uploader may be nil.
func New(baseDir string, uploader Uploader) *Sink {
	return &Sink{BaseDir: baseDir, Uploader: uploader}
}

// Write serializes events into one parquet file per flush. Returns the
// local file path written, for callers that need to log or clean it up.
func (s *Sink) Write(ctx context.Context, events []types.Event, runName string) (string, error) {
	if len(events) == 0 {
		return "", nil
	}
	if runName == "" {
		runName = "anonymous"
	}

	dir := filepath.Join(s.BaseDir, runName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: create run directory: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+".parquet")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: create parquet file: %w", err)
	}
	defer f.Close()

	rows, err := toRows(events)
	if err != nil {
		return "", fmt.Errorf("export: convert events: %w", err)
	}

	writer := parquet.NewGenericWriter[row](f, parquet.Compression(&parquet.Snappy))
	if _, err := writer.Write(rows); err != nil {
		return "", fmt.Errorf("export: write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("export: close writer: %w", err)
	}

	if s.Uploader != nil {
		key := fmt.Sprintf("exports/%s/%s", runName, filepath.Base(path))
		if err := s.Uploader.Upload(ctx, path, key); err != nil && s.OnMirrorFailure != nil {
			s.OnMirrorFailure(fmt.Errorf("export: mirror %s: %w", path, err))
		}
	}

	return path, nil
}

func toRows(events []types.Event) ([]row, error) {
	rows := make([]row, 0, len(events))
	for i, e := range events {
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal event %d: %w", i, err)
		}

		r := row{
			Timestamp:     e.Timestamp,
			EventType:     e.EventType,
			ProcessStatus: string(e.ProcessStatus),
			PipelineName:  e.PipelineName,
			RunName:       e.RunName,
			RunID:         e.RunID,
			Message:       e.Message,
			JSONEvent:     string(raw),
		}

		switch attrs := e.Attributes.(type) {
		case types.ProcessAttributes:
			r.Process = &attrs
		case types.CompletedProcessAttributes:
			r.CompletedProcess = &attrs
		case types.SystemMetricAttributes:
			r.SystemMetric = &attrs
		case types.SystemPropertiesAttributes:
			r.SystemProperties = &attrs
		case types.SyslogAttributes:
			r.Syslog = &attrs
		case types.ProcessDatasetStatsAttributes:
			r.DatasetStats = &attrs
		}

		rows = append(rows, r)
	}
	return rows, nil
}
