// Package opstats accumulates the daemon's own operational health counters,
// distinct from the host resource samples in internal/metrics. These are
// surfaced through the control socket's info response, not written to any
// sink.
package opstats

import "sync"

// Snapshot is an immutable point-in-time view of operational counters.
type Snapshot struct {
	RunsStarted  int64
	RunsFinished int64

	EventsRecorded int64
	EventsFlushed  int64
	EventsDropped  int64

	RowSinkWriteSuccess int64
	RowSinkWriteFailure int64

	ExportSinkWriteSuccess int64
	ExportSinkWriteFailure int64
	ExportMirrorFailure    int64

	ProcessesTracked  int64
	ProcessesFinished int64

	FilesUploaded int64
	FileUploadFailure int64
}

// Collector accumulates operational counters for the lifetime of the
// daemon process. Safe for concurrent use; every increment takes the
// mutex, matching the recorder's single-writer-under-lock discipline.
type Collector struct {
	mu   sync.Mutex
	snap Snapshot
}

// New creates an empty Collector.
func New() *Collector {
	return &Collector{}
}

func (c *Collector) IncRunsStarted()  { c.inc(&c.snap.RunsStarted) }
func (c *Collector) IncRunsFinished() { c.inc(&c.snap.RunsFinished) }

func (c *Collector) IncEventsRecorded() { c.inc(&c.snap.EventsRecorded) }
func (c *Collector) AddEventsFlushed(n int64) { c.add(&c.snap.EventsFlushed, n) }
func (c *Collector) IncEventsDropped()  { c.inc(&c.snap.EventsDropped) }

func (c *Collector) IncRowSinkSuccess() { c.inc(&c.snap.RowSinkWriteSuccess) }
func (c *Collector) IncRowSinkFailure() { c.inc(&c.snap.RowSinkWriteFailure) }

func (c *Collector) IncExportSinkSuccess() { c.inc(&c.snap.ExportSinkWriteSuccess) }
func (c *Collector) IncExportSinkFailure() { c.inc(&c.snap.ExportSinkWriteFailure) }
func (c *Collector) IncExportMirrorFailure() { c.inc(&c.snap.ExportMirrorFailure) }

func (c *Collector) IncProcessesTracked()  { c.inc(&c.snap.ProcessesTracked) }
func (c *Collector) IncProcessesFinished() { c.inc(&c.snap.ProcessesFinished) }

func (c *Collector) IncFilesUploaded()    { c.inc(&c.snap.FilesUploaded) }
func (c *Collector) IncFileUploadFailure() { c.inc(&c.snap.FileUploadFailure) }

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*field++
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*field += n
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}
