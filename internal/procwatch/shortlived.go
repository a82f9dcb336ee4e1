package procwatch

import (
	"fmt"
	"time"

	"github.com/tracer-cloud/tracerd/internal/types"
)

// ShortLivedProcessLog is one start/end record submitted by the shell-alias
// interceptor for a process too short-lived to be sampled live by Poll.
type ShortLivedProcessLog struct {
	PID       int32
	Name      string
	Cmd       []string
	StartTime time.Time
	EndTime   time.Time
}

// IngestShortLived synthesizes a tool_execution/finished_tool_execution
// pair from a reconstructed start/end record. The events carry the run
// identity current at ingest time, but are timestamped with the record's
// own StartTime and EndTime.
func (w *Watcher) IngestShortLived(log ShortLivedProcessLog) {
	w.recorder.Record(types.TagToolExecution, fmt.Sprintf("%s started", log.Name), types.ProcessAttributes{
		ToolName:       log.Name,
		ToolPID:        log.PID,
		Cmd:            log.Cmd,
		StartTime:      log.StartTime,
		ProcessRunTime: log.EndTime.Sub(log.StartTime).Seconds(),
	}, log.StartTime)

	w.recorder.Record(types.TagFinishedToolExecution, fmt.Sprintf("%s finished", log.Name), types.CompletedProcessAttributes{
		ToolName:    log.Name,
		ToolPID:     log.PID,
		DurationSec: log.EndTime.Sub(log.StartTime).Seconds(),
	}, log.EndTime)
}
