// Package types defines the event and run data model shared across tracerd.
package types

import (
	"encoding/json"
	"time"
)

// EventType is always "process_status" in the current wire contract; kept
// as a named constant rather than a literal so call sites read intentfully.
const EventType = "process_status"

// ProcessTypePipeline is the only process_type value emitted today.
const ProcessTypePipeline = "pipeline"

// EventTag is the process_status enumeration. External queries depend on
// these literal values; never rename them.
type EventTag string

const (
	TagNewRun                EventTag = "new_run"
	TagFinishedRun           EventTag = "finished_run"
	TagToolExecution         EventTag = "tool_execution"
	TagFinishedToolExecution EventTag = "finished_tool_execution"
	TagToolMetricEvent       EventTag = "tool_metric_event"
	TagMetricEvent           EventTag = "metric_event"
	TagSyslogEvent           EventTag = "syslog_event"
	TagRunStatusMessage      EventTag = "run_status_message"
	TagAlert                 EventTag = "alert"
	TagDatasetsInProcess     EventTag = "datasets_in_process"
	TagTestEvent             EventTag = "test_event"
)

// EventAttributes is the tagged-union payload optionally carried by an
// Event. Each concrete variant implements isEventAttributes to keep the set
// closed to the types defined in this package; callers type-switch on the
// concrete type rather than inspecting an untyped map.
type EventAttributes interface {
	isEventAttributes()
	// Kind returns the wire discriminator written into the "attributes_kind"
	// field when an event is serialized.
	Kind() string
}

// Event is the universal telemetry record. It is a value object: created
// once by the Recorder, never mutated, and transferred to a sink only as
// part of an immutable snapshot.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	EventType string    `json:"event_type"`
	ProcessType string  `json:"process_type"`
	ProcessStatus EventTag `json:"process_status"`

	PipelineName string   `json:"pipeline_name,omitempty"`
	RunName      string   `json:"run_name,omitempty"`
	RunID        string   `json:"run_id,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	Attributes EventAttributes `json:"attributes,omitempty"`
}

// ProcessAttributes describes a single sample of a tracked process.
type ProcessAttributes struct {
	ToolName       string    `json:"tool_name"`
	ToolPID        int32     `json:"tool_pid"`
	ToolParentPID  int32     `json:"tool_parent_pid"`
	ToolBinaryPath string    `json:"tool_binary_path"`
	Cmd            []string  `json:"cmd"`
	StartTime      time.Time `json:"start_time"`
	ProcessRunTime float64   `json:"process_run_time"`

	ProcessCPUUtilization float64 `json:"process_cpu_utilization"`
	ProcessMemoryUsage    uint64  `json:"process_memory_usage"`
	ProcessMemoryVirtual  uint64  `json:"process_memory_virtual"`

	DiskReadLastInterval  uint64 `json:"disk_usage_read_last_interval"`
	DiskWriteLastInterval uint64 `json:"disk_usage_write_last_interval"`
	DiskReadTotal         uint64 `json:"disk_usage_read_total"`
	DiskWriteTotal        uint64 `json:"disk_usage_write_total"`

	ContainerID string `json:"container_id,omitempty"`
}

func (ProcessAttributes) isEventAttributes() {}
func (ProcessAttributes) Kind() string       { return "process" }

// CompletedProcessAttributes is the terminal summary for a tracked process.
type CompletedProcessAttributes struct {
	ToolName    string  `json:"tool_name"`
	ToolPID     int32   `json:"tool_pid"`
	DurationSec float64 `json:"duration_sec"`
}

func (CompletedProcessAttributes) isEventAttributes() {}
func (CompletedProcessAttributes) Kind() string       { return "completed_process" }

// DiskUsage is one disk's utilization sample within SystemMetricAttributes.
type DiskUsage struct {
	Mount       string  `json:"mount"`
	TotalBytes  uint64  `json:"total_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	Utilization float64 `json:"utilization_percent"`
}

// SystemMetricAttributes is a single host-resource sample.
type SystemMetricAttributes struct {
	MemoryTotalBytes     uint64      `json:"memory_total_bytes"`
	MemoryUsedBytes      uint64      `json:"memory_used_bytes"`
	MemoryUtilization    float64     `json:"memory_utilization_percent"`
	SwapTotalBytes       uint64      `json:"swap_total_bytes"`
	SwapUsedBytes        uint64      `json:"swap_used_bytes"`
	CPUUtilizationPercent float64    `json:"cpu_utilization_percent"`
	Disks                []DiskUsage `json:"disks"`
}

func (SystemMetricAttributes) isEventAttributes() {}
func (SystemMetricAttributes) Kind() string       { return "system_metric" }

// SystemPropertiesAttributes is emitted once at run startup, embedded in
// the new_run event.
type SystemPropertiesAttributes struct {
	Hostname    string  `json:"hostname"`
	OS          string  `json:"os"`
	KernelVersion string `json:"kernel_version"`
	CPUCount    int     `json:"cpu_count"`
	TotalMemoryBytes uint64 `json:"total_memory_bytes"`

	// Cloud enrichment fields; absent when the lookup was unreachable.
	CloudRegion       string  `json:"cloud_region,omitempty"`
	CloudAZ           string  `json:"cloud_availability_zone,omitempty"`
	CloudInstanceID   string  `json:"cloud_instance_id,omitempty"`
	CloudInstanceType string  `json:"cloud_instance_type,omitempty"`
	HourlyPriceUSD    *float64 `json:"hourly_price_usd,omitempty"`
}

func (SystemPropertiesAttributes) isEventAttributes() {}
func (SystemPropertiesAttributes) Kind() string       { return "system_properties" }

// SyslogAttributes carries one matched line read from a tailed log file.
type SyslogAttributes struct {
	Source  string `json:"source"`
	Line    string `json:"line"`
	Context string `json:"context,omitempty"`
}

func (SyslogAttributes) isEventAttributes() {}
func (SyslogAttributes) Kind() string       { return "syslog" }

// ProcessDatasetStatsAttributes reports the growing set of data files a
// tracked process has opened.
type ProcessDatasetStatsAttributes struct {
	Datasets string `json:"datasets"`
	Total    int    `json:"total"`
}

func (ProcessDatasetStatsAttributes) isEventAttributes() {}
func (ProcessDatasetStatsAttributes) Kind() string       { return "datasets" }

// OtherAttributes is the free-form escape hatch for one-off events (log
// messages, alerts) whose shape doesn't warrant a dedicated struct.
type OtherAttributes struct {
	Raw json.RawMessage `json:"raw"`
}

func (OtherAttributes) isEventAttributes() {}
func (OtherAttributes) Kind() string       { return "other" }

// RunMeta describes the identity and lifecycle of the single active run.
type RunMeta struct {
	Name            string            `json:"name"`
	ID              string            `json:"id"`
	PipelineName    string            `json:"pipeline_name,omitempty"`
	StartTime       time.Time         `json:"start_time"`
	LastInteraction time.Time         `json:"last_interaction"`
	ParentPID       int32             `json:"parent_pid,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
}
