// Package recorder implements the append-only event log bound to the
// currently active run identity.
package recorder

import (
	"sync"
	"time"

	"github.com/tracer-cloud/tracerd/internal/types"
)

// identity is the run-binding captured at Record time, not at flush time.
type identity struct {
	pipelineName string
	runName      string
	runID        string
	tags         []string
}

// Recorder is an append-only, in-memory event log. Recording is infallible:
// there is no error return because appending to an in-process slice under a
// mutex cannot fail for reasons callers could act on.
//
// The Recorder is owned exclusively by the Tracer agent; Snapshot returns a
// copy that stays valid after Clear, and Clear is only ever correct to call
// after a sink has acknowledged a successful flush.
type Recorder struct {
	mu       sync.Mutex
	events   []types.Event
	identity identity
	now      func() time.Time
}

// New creates an empty Recorder. The identity is anonymous until UpdateRun
// is called.
func New() *Recorder {
	return &Recorder{now: time.Now}
}

// UpdateRun rebinds the identity applied to subsequently recorded events.
// Events already recorded keep the identity they were stamped with.
func (r *Recorder) UpdateRun(pipelineName, runName, runID string, tags []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identity = identity{pipelineName: pipelineName, runName: runName, runID: runID, tags: tags}
}

// Record appends a new event. timestamp defaults to now when zero.
func (r *Recorder) Record(tag types.EventTag, message string, attrs types.EventAttributes, timestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if timestamp.IsZero() {
		timestamp = r.now()
	}

	r.events = append(r.events, types.Event{
		Timestamp:     timestamp,
		Message:       message,
		EventType:     types.EventType,
		ProcessType:   types.ProcessTypePipeline,
		ProcessStatus: tag,
		PipelineName:  r.identity.pipelineName,
		RunName:       r.identity.runName,
		RunID:         r.identity.runID,
		Tags:          r.identity.tags,
		Attributes:    attrs,
	})
}

// Snapshot returns a copy of the currently recorded events. The slice is a
// copy so the caller may hold it across a flush without racing Record.
func (r *Recorder) Snapshot() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len reports the number of currently recorded events without copying them.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Clear empties the event log. Valid only after a successful flush of the
// events returned by the preceding Snapshot; calling it otherwise silently
// drops unflushed events, so callers must sequence Snapshot -> sink write
// -> Clear themselves.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// ClearUpTo removes the first n events, the prefix a prior Snapshot
// observed and successfully flushed, leaving any events recorded since
// that Snapshot in place. This lets a caller sequence Snapshot -> sink
// write -> ClearUpTo(len(snapshot)) without losing events recorded
// concurrently with the sink write (e.g. from a control-command
// goroutine), which an unconditional Clear would drop.
func (r *Recorder) ClearUpTo(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 {
		return
	}
	if n >= len(r.events) {
		r.events = nil
		return
	}
	remaining := make([]types.Event, len(r.events)-n)
	copy(remaining, r.events[n:])
	r.events = remaining
}
