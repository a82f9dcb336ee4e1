// Package agent wires the daemon's components into a single running
// process: one scheduler loop driving the process watcher, file watcher,
// system metrics sampler, and batch submitter, serialized behind one
// exclusive lock per the concurrency model shared by every mutable
// component here.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tracer-cloud/tracerd/internal/control"
	"github.com/tracer-cloud/tracerd/internal/enrich"
	"github.com/tracer-cloud/tracerd/internal/filewatch"
	"github.com/tracer-cloud/tracerd/internal/httpclient"
	"github.com/tracer-cloud/tracerd/internal/metrics"
	"github.com/tracer-cloud/tracerd/internal/opstats"
	"github.com/tracer-cloud/tracerd/internal/procwatch"
	"github.com/tracer-cloud/tracerd/internal/recorder"
	"github.com/tracer-cloud/tracerd/internal/run"
	"github.com/tracer-cloud/tracerd/internal/sched"
	"github.com/tracer-cloud/tracerd/internal/submit"
	"github.com/tracer-cloud/tracerd/internal/tail"
	"github.com/tracer-cloud/tracerd/internal/target"
	"github.com/tracer-cloud/tracerd/internal/tconfig"
	"github.com/tracer-cloud/tracerd/internal/tlog"
	"github.com/tracer-cloud/tracerd/internal/types"
)

// DefaultRescueLogPath is where the shell-alias interceptor (cmd/tracer
// install-alias) appends short-lived process start/end records for the
// daemon to tail and rescue into tool_execution/finished_tool_execution
// event pairs.
const DefaultRescueLogPath = "/tmp/tracerd-shortlived.jsonl"

// Agent owns every mutable component and is the sole writer to them,
// invoked only from the scheduler's poll and submit hooks, from a control
// command, or from StartRun/StopRun. The scheduler and the control server
// run on separate goroutines, so each of those entry points holds mu for
// its whole duration: only one of them runs at a time.
type Agent struct {
	mu sync.Mutex

	cfg     tconfig.Config
	cfgPath string
	log     *tlog.Logger

	recorder *recorder.Recorder
	opstats  *opstats.Collector
	metrics  *metrics.Collector
	procs    *procwatch.Watcher
	files    *filewatch.Watcher
	lifecycle *run.Lifecycle
	submitter *submit.Submitter
	scheduler *sched.Scheduler

	rescueBuf    *tail.Buffer
	rescueTailer *tail.Tailer

	syslogBuf    *tail.Buffer
	syslogTailer *tail.Tailer

	execBuf    *tail.Buffer
	execTailer *tail.Tailer

	workflowDir string
}

// Dependencies are the pluggable externals a fully-wired daemon needs but
// that New does not construct itself, because they require network I/O or
// OS resources the caller may want to mock in tests.
type Dependencies struct {
	RowSink      submit.RowSink
	ColumnarSink submit.ColumnarSink
	FileUploader filewatch.Uploader
	Metadata     enrich.MetadataProvider
	Pricing      enrich.PriceLookup
}

// New builds an Agent from cfg, loaded from cfgPath (used by Reload to
// re-read it; pass "" if cfg did not come from a file, in which case Reload
// will refuse). It does not start the scheduler or touch the filesystem
// beyond what filewatch.Prepare needs; call Run to start the main loop.
func New(cfg tconfig.Config, cfgPath, cacheDir string, deps Dependencies) (*Agent, error) {
	rec := recorder.New()
	stats := opstats.New()
	mcol := metrics.NewCollector()

	targets, err := buildTargets(cfg.Targets)
	if err != nil {
		return nil, err
	}
	matcher := target.NewMatcher(targets)

	datasetPatterns, err := buildDatasetPatterns(cfg.DatasetFilePatterns)
	if err != nil {
		return nil, err
	}

	metricInterval := time.Duration(cfg.ProcessMetricsIntervalMs) * time.Millisecond
	procs := procwatch.New(matcher, rec, metricInterval, datasetPatterns)

	filePatterns, err := buildFilewatchPatterns(cfg.FileWatchPatterns)
	if err != nil {
		return nil, err
	}
	files := filewatch.New(filePatterns, cacheDir, time.Duration(cfg.FileStabilityPeriodMs)*time.Millisecond, deps.FileUploader)

	enricher := enrich.New(deps.Metadata, deps.Pricing)

	rescueBuf := &tail.Buffer{}
	syslogBuf := &tail.Buffer{}
	execBuf := &tail.Buffer{}

	a := &Agent{
		cfg:          cfg,
		cfgPath:      cfgPath,
		log:          tlog.New(nil),
		recorder:     rec,
		opstats:      stats,
		metrics:      mcol,
		procs:        procs,
		files:        files,
		rescueBuf:    rescueBuf,
		rescueTailer: tail.NewTailer(DefaultRescueLogPath, rescueBuf, 0),
		syslogBuf:    syslogBuf,
		syslogTailer: tail.NewTailer(cfg.SyslogPath, syslogBuf, 0),
		execBuf:      execBuf,
		execTailer:   tail.NewTailer(cfg.InterceptorOutputPath, execBuf, 0),
		workflowDir:  cfg.WorkflowDir,
	}

	submitter := submit.New(rec, stats, a.currentRunName, deps.RowSink, deps.ColumnarSink)
	a.submitter = submitter

	lifecycle := run.New(rec, enricher, stats, submitter.Flush)
	a.lifecycle = lifecycle

	a.scheduler = sched.New(
		sched.Cadences{
			Poll:        time.Duration(cfg.ProcessPollingIntervalMs) * time.Millisecond,
			MetricEmit:  metricInterval,
			BatchSubmit: time.Duration(cfg.BatchSubmissionIntervalMs) * time.Millisecond,
		},
		sched.Hooks{
			PollTick:   a.pollTick,
			SubmitTick: a.submitTick,
		},
	)

	return a, nil
}

// Run starts the daemon's main scheduler loop. It blocks until ctx is
// canceled, performing one final submit before returning.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.files.Prepare(); err != nil {
		return err
	}
	go a.rescueTailer.Run(ctx)
	go a.syslogTailer.Run(ctx)
	go a.execTailer.Run(ctx)
	return a.scheduler.Run(ctx)
}

func (a *Agent) pollTick(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.procs.Poll(ctx); err != nil {
		a.log.Sugar().Warnf("process poll failed: %v", err)
	}

	if a.workflowDir != "" {
		if err := a.files.Poll(ctx, a.workflowDir); err != nil {
			a.log.Sugar().Warnf("file watch poll failed: %v", err)
		}
	}

	if sample, err := a.metrics.Sample(ctx); err == nil {
		a.recorder.Record(types.TagMetricEvent, "system metrics sample", sample, time.Time{})
	} else {
		a.log.Sugar().Warnf("system metrics sample failed: %v", err)
	}

	a.ingestRescueLines()
	a.ingestSyslogLines()
	a.ingestOutputLines()

	a.lifecycle.Touch()
	if err := a.lifecycle.CheckIdle(ctx); err != nil {
		a.log.Sugar().Warnf("idle auto-close failed: %v", err)
	}

	return nil
}

// rescueRecord is the JSON shape the shell-alias interceptor appends to
// DefaultRescueLogPath, one line per completed short-lived invocation.
type rescueRecord struct {
	PID       int32    `json:"pid"`
	Name      string   `json:"name"`
	Cmd       []string `json:"cmd"`
	StartTime float64  `json:"start_time"`
	EndTime   float64  `json:"end_time"`
}

func (a *Agent) ingestRescueLines() {
	for _, line := range a.rescueBuf.Drain() {
		var rec rescueRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			a.log.Sugar().Warnf("malformed short-lived rescue record: %v", err)
			continue
		}

		a.procs.IngestShortLived(procwatch.ShortLivedProcessLog{
			PID:       rec.PID,
			Name:      rec.Name,
			Cmd:       rec.Cmd,
			StartTime: secondsToTime(rec.StartTime),
			EndTime:   secondsToTime(rec.EndTime),
		})
	}
}

func secondsToTime(epochSeconds float64) time.Time {
	return time.Unix(0, int64(epochSeconds*float64(time.Second)))
}

// ingestSyslogLines drains the syslog Stream Tailer's buffer, recording a
// syslog_event for every line matching the configured keywords (or every
// line, when no keywords are configured).
func (a *Agent) ingestSyslogLines() {
	for _, line := range a.syslogBuf.Drain() {
		keyword, matched := matchSyslogKeyword(a.cfg.SyslogMatchKeywords, line)
		if !matched {
			continue
		}
		a.recorder.Record(types.TagSyslogEvent, "syslog line matched", types.SyslogAttributes{
			Source:  a.cfg.SyslogPath,
			Line:    line,
			Context: keyword,
		}, time.Time{})
	}
}

func matchSyslogKeyword(keywords []string, line string) (string, bool) {
	if len(keywords) == 0 {
		return "", true
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(line, kw) {
			return kw, true
		}
	}
	return "", false
}

// ingestOutputLines drains the merged interceptor stdout/stderr Stream
// Tailer's buffer into the Process Watcher's dataset detection, which
// complements detectDatasets' open-file-handle inspection with anything
// datasets referenced only by name in a tool's own output.
func (a *Agent) ingestOutputLines() {
	for _, line := range a.execBuf.Drain() {
		a.procs.IngestOutputLine(line)
	}
}

func (a *Agent) submitTick(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.submitter.Flush(ctx); err != nil {
		a.log.Sugar().Warnf("batch flush failed, retaining for retry: %v", err)
	}
	return nil
}

func (a *Agent) currentRunName() string {
	if meta := a.lifecycle.Current(); meta != nil {
		return meta.Name
	}
	return ""
}

// StartRun begins tracking a new pipeline run.
func (a *Agent) StartRun(ctx context.Context, pipelineName, runID string, tags []string) (*types.RunMeta, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lifecycle.Start(ctx, pipelineName, runID, tags)
}

// StopRun ends the active run, flushing pending events.
func (a *Agent) StopRun(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lifecycle.Stop(ctx)
}

// Info implements control.Handler.
func (a *Agent) Info(ctx context.Context) (interface{}, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]interface{}{
		"run":     a.lifecycle.Current(),
		"stats":   a.opstats.Snapshot(),
		"pending": a.submitter.Pending(),
		"tracked": a.procs.TrackedCount(),
	}, nil
}

// Reload re-reads the configuration file and rebuilds targets, dataset file
// patterns, file-watch patterns, and the workflow directory from it.
// Polling, submission, and metric-emit intervals are not hot-reloadable:
// the scheduler has already captured its cadences at construction.
func (a *Agent) Reload(ctx context.Context) (interface{}, error) {
	if a.cfgPath == "" {
		return nil, fmt.Errorf("agent: no configuration file path to reload from")
	}

	newCfg, err := tconfig.Load(a.cfgPath)
	if err != nil {
		return nil, fmt.Errorf("agent: reload config: %w", err)
	}

	targets, err := buildTargets(newCfg.Targets)
	if err != nil {
		return nil, fmt.Errorf("agent: reload targets: %w", err)
	}
	matcher := target.NewMatcher(targets)

	datasetPatterns, err := buildDatasetPatterns(newCfg.DatasetFilePatterns)
	if err != nil {
		return nil, fmt.Errorf("agent: reload dataset file patterns: %w", err)
	}

	filePatterns, err := buildFilewatchPatterns(newCfg.FileWatchPatterns)
	if err != nil {
		return nil, fmt.Errorf("agent: reload file watch patterns: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.procs.SetMatcher(matcher)
	a.procs.SetDataFilePatterns(datasetPatterns)
	a.files.SetPatterns(filePatterns)
	a.workflowDir = newCfg.WorkflowDir
	a.cfg = newCfg

	return fmt.Sprintf("reloaded %d target(s)", len(targets)), nil
}

// Terminate stops the active run so pending events are flushed before the
// caller proceeds to shut the process down.
func (a *Agent) Terminate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lifecycle.Stop(ctx)
}

var _ control.Handler = (*Agent)(nil)

func buildTargets(cfgTargets []tconfig.Target) ([]target.Target, error) {
	out := make([]target.Target, 0, len(cfgTargets))
	for _, t := range cfgTargets {
		tt := target.Target{
			Name:               t.Name,
			FilterOutCommands:  t.FilterOutCommands,
			FilterOutPaths:     t.FilterOutPaths,
			FilterOutNames:     t.FilterOutNames,
			MergeWithParentsBy: t.MergeWithParentsBy,
		}

		switch {
		case t.BinaryPathRegex != "":
			re, err := regexp.Compile(t.BinaryPathRegex)
			if err != nil {
				return nil, err
			}
			tt.Kind = target.MatchBinaryPathRegex
			tt.BinaryPathRegex = re
		case t.ShortLived != "":
			tt.Kind = target.MatchShortLivedSubstring
			tt.ShortLivedMatch = t.ShortLived
		default:
			tt.Kind = target.MatchName
		}

		if t.DisplayNamePolicy == "first_arg_basename" {
			tt.DisplayNamePolicy = target.DisplayNameFirstArgBasename
		}

		out = append(out, tt)
	}
	return out, nil
}

// buildDatasetPatterns compiles the configured dataset file regexes used by
// the Process Watcher's open-file-handle and intercepted-output dataset
// detection.
func buildDatasetPatterns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// buildFilewatchPatterns compiles the configured file-watch classification
// rules into the File Watcher's first-match-wins pattern set.
func buildFilewatchPatterns(cfgPatterns []tconfig.FileWatchPattern) ([]filewatch.Pattern, error) {
	out := make([]filewatch.Pattern, 0, len(cfgPatterns))
	for _, p := range cfgPatterns {
		fp := filewatch.Pattern{DirectoryPrefix: p.DirectoryPrefix}
		if p.Action == "upload" {
			fp.Action = filewatch.ActionUpload
		} else {
			fp.Action = filewatch.ActionNone
		}

		switch p.Kind {
		case "filename_regex":
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, err
			}
			fp.Kind = filewatch.PatternFilenameRegex
			fp.Regex = re
		case "path_regex":
			re, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, err
			}
			fp.Kind = filewatch.PatternPathRegex
			fp.Regex = re
		default:
			fp.Kind = filewatch.PatternDirectoryPrefix
		}

		out = append(out, fp)
	}
	return out, nil
}

// EgressClient builds the one-off HTTP egress client used for log
// messages and alerts from cfg's service URL and API key. Nothing in this
// repository calls it.
func EgressClient(cfg tconfig.Config) (*httpclient.Client, error) {
	return httpclient.New(httpclient.Config{
		ServiceURL: cfg.ServiceURL,
		APIKey:     cfg.APIKey,
	})
}
