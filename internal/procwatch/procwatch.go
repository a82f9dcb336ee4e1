// Package procwatch implements the target-matched Process Watcher: tracked
// process state, per-process metric sampling with derivative I/O counters,
// completion detection, short-lived process rescue, and open-data-file
// detection.
package procwatch

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/tracer-cloud/tracerd/internal/recorder"
	"github.com/tracer-cloud/tracerd/internal/target"
	"github.com/tracer-cloud/tracerd/internal/types"
)

// trackedProcess is the per-pid state described by the tracked-process
// invariant: prior-* fields are defined iff the process has been sampled
// at least once.
type trackedProcess struct {
	displayName    string
	binaryPath     string
	cmd            []string
	parentPID      int32
	startTime      time.Time
	firstSeenWall  time.Time

	hasPriorSample   bool
	priorReadBytes   uint64
	priorWriteBytes  uint64

	lastMetricEmit time.Time

	openDataFiles map[string]struct{}
}

// Watcher maintains the tracked-process set and emits lifecycle and metric
// events through a Recorder.
type Watcher struct {
	matcher  *target.Matcher
	recorder *recorder.Recorder

	metricEmitInterval time.Duration
	dataFilePatterns   []*regexp.Regexp

	tracked map[int32]*trackedProcess
	now     func() time.Time

	// mergedChildren maps a child pid that shares its parent's
	// merge-with-parents-by argument to that parent's pid. Such children are
	// never given their own tracked entry or tool_execution event; their
	// lifecycle folds into the parent's.
	mergedChildren map[int32]int32

	// sessionDatasets accumulates dataset file references spotted in
	// intercepted process output, independent of any single tracked
	// process, since the merged stdout/stderr buffer is not pid-scoped.
	sessionDatasets map[string]struct{}
}

// New constructs a Watcher. dataFilePatterns match open file paths that
// should count toward datasets_in_process (e.g. ".fa", ".fastq").
func New(matcher *target.Matcher, rec *recorder.Recorder, metricEmitInterval time.Duration, dataFilePatterns []*regexp.Regexp) *Watcher {
	return &Watcher{
		matcher:            matcher,
		recorder:           rec,
		metricEmitInterval: metricEmitInterval,
		dataFilePatterns:   dataFilePatterns,
		tracked:            make(map[int32]*trackedProcess),
		now:                time.Now,
		mergedChildren:     make(map[int32]int32),
		sessionDatasets:    make(map[string]struct{}),
	}
}

// SetMatcher replaces the target matcher, for configuration reload.
func (w *Watcher) SetMatcher(m *target.Matcher) {
	w.matcher = m
}

// SetDataFilePatterns replaces the dataset file pattern set, for
// configuration reload.
func (w *Watcher) SetDataFilePatterns(patterns []*regexp.Regexp) {
	w.dataFilePatterns = patterns
}

// Poll performs one process-table scan: detects new matches, emits
// metric samples for processes due, and detects completions. Per-process
// read failures (process vanished between list and stat) are skipped
// rather than aborting the poll, per the filesystem-anomaly error policy.
func (w *Watcher) Poll(ctx context.Context) error {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return fmt.Errorf("procwatch: list processes: %w", err)
	}

	seen := make(map[int32]struct{}, len(pids))
	now := w.now()

	for _, pid := range pids {
		proc, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue // vanished between list and open
		}

		desc, ok := descriptorOf(ctx, proc)
		if !ok {
			continue
		}

		match, ok := w.matcher.Match(desc)
		if !ok {
			continue
		}

		seen[pid] = struct{}{}

		tp, tracked := w.tracked[pid]
		if !tracked {
			if _, alreadyMerged := w.mergedChildren[pid]; alreadyMerged {
				continue
			}

			if parentPID, merge := w.mergeTarget(proc, match, desc); merge {
				w.mergedChildren[pid] = parentPID
				continue
			}

			tp = w.observe(proc, desc, match, now)
			w.tracked[pid] = tp
			w.emitToolExecution(pid, tp, now)
			continue
		}

		w.sampleIfDue(ctx, proc, pid, tp, now)
		w.detectDatasets(ctx, proc, pid, tp)
	}

	w.forgetVanishedMergedChildren(seen)
	w.reapTerminated(seen, now)
	return nil
}

// mergeTarget reports whether proc should be rolled into its parent's
// tracked entry rather than tracked as a new process, per the
// merge-with-parents-by target setting: proc's matched target names an
// argument, its parent is already tracked, and both processes share that
// argument's value.
func (w *Watcher) mergeTarget(proc *process.Process, match target.Match, desc target.Descriptor) (int32, bool) {
	if match.Target.MergeWithParentsBy == "" {
		return 0, false
	}

	ppid, err := proc.Ppid()
	if err != nil {
		return 0, false
	}

	parentTP, ok := w.tracked[ppid]
	if !ok {
		return 0, false
	}

	if !shouldMergeWithParent(match.Target.MergeWithParentsBy, parentTP.cmd, desc.Cmd) {
		return 0, false
	}

	return ppid, true
}

func shouldMergeWithParent(mergeArg string, parentCmd, childCmd []string) bool {
	return target.SharesMergeArg(mergeArg, target.Descriptor{Cmd: parentCmd}, target.Descriptor{Cmd: childCmd})
}

// forgetVanishedMergedChildren drops merged-child bookkeeping for pids no
// longer present in the process table, so the map doesn't grow unbounded
// across the life of the daemon.
func (w *Watcher) forgetVanishedMergedChildren(seen map[int32]struct{}) {
	for childPID := range w.mergedChildren {
		if _, ok := seen[childPID]; !ok {
			delete(w.mergedChildren, childPID)
		}
	}
}

func (w *Watcher) observe(proc *process.Process, desc target.Descriptor, match target.Match, now time.Time) *trackedProcess {
	ppid, _ := proc.Ppid()
	createMs, _ := proc.CreateTime()
	start := now
	if createMs > 0 {
		start = time.UnixMilli(createMs)
	}

	return &trackedProcess{
		displayName:   match.DisplayName,
		binaryPath:    desc.BinaryPath,
		cmd:           desc.Cmd,
		parentPID:     ppid,
		startTime:     start,
		firstSeenWall: now,
		openDataFiles: make(map[string]struct{}),
	}
}

func (w *Watcher) emitToolExecution(pid int32, tp *trackedProcess, now time.Time) {
	w.recorder.Record(types.TagToolExecution, fmt.Sprintf("%s started", tp.displayName), types.ProcessAttributes{
		ToolName:       tp.displayName,
		ToolPID:        pid,
		ToolParentPID:  tp.parentPID,
		ToolBinaryPath: tp.binaryPath,
		Cmd:            tp.cmd,
		StartTime:      tp.startTime,
		ProcessRunTime: now.Sub(tp.startTime).Seconds(),
	}, now)
}

// sampleIfDue emits a tool_metric_event when at least metricEmitInterval has
// elapsed since the last emission for this pid.
func (w *Watcher) sampleIfDue(ctx context.Context, proc *process.Process, pid int32, tp *trackedProcess, now time.Time) {
	if !tp.lastMetricEmit.IsZero() && now.Sub(tp.lastMetricEmit) < w.metricEmitInterval {
		return
	}

	cpuPct, _ := proc.CPUPercentWithContext(ctx)
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	var rss, vms uint64
	if err == nil && memInfo != nil {
		rss, vms = memInfo.RSS, memInfo.VMS
	}

	ioCounters, err := proc.IOCountersWithContext(ctx)
	var readDelta, writeDelta, readTotal, writeTotal uint64
	if err == nil && ioCounters != nil {
		readTotal, writeTotal = ioCounters.ReadBytes, ioCounters.WriteBytes
		if tp.hasPriorSample {
			readDelta = subClamped(readTotal, tp.priorReadBytes)
			writeDelta = subClamped(writeTotal, tp.priorWriteBytes)
		}
		tp.priorReadBytes = readTotal
		tp.priorWriteBytes = writeTotal
		tp.hasPriorSample = true
	}

	tp.lastMetricEmit = now

	w.recorder.Record(types.TagToolMetricEvent, fmt.Sprintf("%s metrics", tp.displayName), types.ProcessAttributes{
		ToolName:              tp.displayName,
		ToolPID:                pid,
		ToolParentPID:          tp.parentPID,
		ToolBinaryPath:         tp.binaryPath,
		Cmd:                    tp.cmd,
		StartTime:              tp.startTime,
		ProcessRunTime:         now.Sub(tp.startTime).Seconds(),
		ProcessCPUUtilization:  cpuPct,
		ProcessMemoryUsage:     rss,
		ProcessMemoryVirtual:   vms,
		DiskReadLastInterval:   readDelta,
		DiskWriteLastInterval:  writeDelta,
		DiskReadTotal:          readTotal,
		DiskWriteTotal:         writeTotal,
	}, now)
}

// subClamped implements the derivative counter invariant: max(0, current - prior).
func subClamped(current, prior uint64) uint64 {
	if current < prior {
		return 0
	}
	return current - prior
}

func (w *Watcher) reapTerminated(seen map[int32]struct{}, now time.Time) {
	for pid, tp := range w.tracked {
		if _, ok := seen[pid]; ok {
			continue
		}
		duration := now.Sub(tp.firstSeenWall).Seconds()
		w.recorder.Record(types.TagFinishedToolExecution, fmt.Sprintf("%s finished", tp.displayName), types.CompletedProcessAttributes{
			ToolName:    tp.displayName,
			ToolPID:     pid,
			DurationSec: duration,
		}, now)
		delete(w.tracked, pid)

		for childPID, parentPID := range w.mergedChildren {
			if parentPID == pid {
				delete(w.mergedChildren, childPID)
			}
		}
	}
}

func descriptorOf(ctx context.Context, proc *process.Process) (target.Descriptor, bool) {
	name, err := proc.NameWithContext(ctx)
	if err != nil {
		return target.Descriptor{}, false
	}
	cmd, _ := proc.CmdlineSliceWithContext(ctx)
	exe, _ := proc.ExeWithContext(ctx)
	return target.Descriptor{Name: name, Cmd: cmd, BinaryPath: exe}, true
}

// detectDatasets grows tp's open-data-files set from the process's open
// file handles and, on growth, emits datasets_in_process.
func (w *Watcher) detectDatasets(ctx context.Context, proc *process.Process, pid int32, tp *trackedProcess) {
	if len(w.dataFilePatterns) == 0 {
		return
	}

	openFiles, err := proc.OpenFilesWithContext(ctx)
	if err != nil {
		return
	}

	grew := false
	for _, of := range openFiles {
		path := of.Path
		if _, already := tp.openDataFiles[path]; already {
			continue
		}
		if !matchesAny(w.dataFilePatterns, path) {
			continue
		}
		tp.openDataFiles[path] = struct{}{}
		grew = true
	}

	if !grew {
		return
	}

	names := make([]string, 0, len(tp.openDataFiles))
	for p := range tp.openDataFiles {
		names = append(names, filepath.Base(p))
	}

	w.recorder.Record(types.TagDatasetsInProcess, fmt.Sprintf("%s datasets", tp.displayName), types.ProcessDatasetStatsAttributes{
		Datasets: joinComma(names),
		Total:    len(names),
	}, w.now())
}

// IngestOutputLine scans one line drained from the merged interceptor
// stdout/stderr buffer against the dataset file patterns, accumulating
// matches into the session-wide dataset set and emitting datasets_in_process
// on growth. Unlike detectDatasets, this source is not pid-scoped: the
// interceptor buffer mixes output from every wrapped command.
func (w *Watcher) IngestOutputLine(line string) {
	if len(w.dataFilePatterns) == 0 {
		return
	}
	if !matchesAny(w.dataFilePatterns, line) {
		return
	}
	if _, already := w.sessionDatasets[line]; already {
		return
	}
	w.sessionDatasets[line] = struct{}{}

	names := make([]string, 0, len(w.sessionDatasets))
	for p := range w.sessionDatasets {
		names = append(names, filepath.Base(p))
	}
	sort.Strings(names)

	w.recorder.Record(types.TagDatasetsInProcess, "datasets referenced in tool output", types.ProcessDatasetStatsAttributes{
		Datasets: joinComma(names),
		Total:    len(names),
	}, w.now())
}

func matchesAny(patterns []*regexp.Regexp, path string) bool {
	for _, p := range patterns {
		if p.MatchString(path) {
			return true
		}
	}
	return false
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// TrackedCount reports the number of currently tracked processes; used by
// the operational counters and the control surface's info response.
func (w *Watcher) TrackedCount() int {
	return len(w.tracked)
}
