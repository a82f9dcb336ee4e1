// Package submit implements the Batch Submitter: periodic flush of the
// Recorder's buffered events to the row and columnar sinks, with
// at-least-once delivery semantics on failure.
package submit

import (
	"context"
	"errors"
	"fmt"

	"github.com/tracer-cloud/tracerd/internal/opstats"
	"github.com/tracer-cloud/tracerd/internal/recorder"
	"github.com/tracer-cloud/tracerd/internal/types"
)

// RowSink persists a batch of events as relational rows.
type RowSink interface {
	Write(ctx context.Context, events []types.Event, runName string) error
}

// ColumnarSink persists a batch of events as a columnar file, optionally
// mirrored to object storage.
type ColumnarSink interface {
	Write(ctx context.Context, events []types.Event, runName string) (string, error)
}

// CurrentRunName reports the name of the currently active run, or "" if
// none. It is read once per Flush, and the whole batch is grouped under
// that name, even events recorded under an earlier run.
type CurrentRunName func() string

// Submitter periodically drains the Recorder and writes the drained batch
// to every configured sink. The batch is cleared from the Recorder only
// once every sink has acknowledged success, per the Recorder's own
// Snapshot -> sink write -> Clear contract: on any sink failure, nothing
// is cleared, so the same events reappear in the next Flush's Snapshot
// alongside anything recorded meanwhile, and are retried together.
type Submitter struct {
	recorder *recorder.Recorder
	opstats  *opstats.Collector
	runName  CurrentRunName

	row      RowSink
	columnar ColumnarSink
}

// New constructs a Submitter. row and columnar may individually be nil to
// disable that sink (e.g. running without a configured database).
func New(rec *recorder.Recorder, stats *opstats.Collector, runName CurrentRunName, row RowSink, columnar ColumnarSink) *Submitter {
	return &Submitter{recorder: rec, opstats: stats, runName: runName, row: row, columnar: columnar}
}

// Flush snapshots the Recorder's current events and attempts to write them
// to every configured sink. Only the snapshotted prefix is cleared, and
// only once every sink has acknowledged success, so events recorded
// concurrently with the sink write (e.g. from a control-command handler)
// are never at risk of being dropped, and a failed write leaves the
// Recorder holding exactly the unflushed events for the next Flush to
// retry.
func (s *Submitter) Flush(ctx context.Context) error {
	batch := s.recorder.Snapshot()
	if len(batch) == 0 {
		return nil
	}

	name := ""
	if s.runName != nil {
		name = s.runName()
	}

	var errs []error

	if s.row != nil {
		if err := s.row.Write(ctx, batch, name); err != nil {
			s.opstats.IncRowSinkFailure()
			errs = append(errs, fmt.Errorf("submit: row sink: %w", err))
		} else {
			s.opstats.IncRowSinkSuccess()
		}
	}

	if s.columnar != nil {
		if _, err := s.columnar.Write(ctx, batch, name); err != nil {
			s.opstats.IncExportSinkFailure()
			errs = append(errs, fmt.Errorf("submit: columnar sink: %w", err))
		} else {
			s.opstats.IncExportSinkSuccess()
		}
	}

	if len(errs) > 0 {
		// At least one sink failed: leave the batch in the Recorder so the
		// next Flush retries it rather than dropping events.
		return errors.Join(errs...)
	}

	s.recorder.ClearUpTo(len(batch))
	s.opstats.AddEventsFlushed(int64(len(batch)))
	return nil
}

// Pending reports how many events are buffered awaiting a successful flush,
// for the control surface's info response.
func (s *Submitter) Pending() int {
	return s.recorder.Len()
}
