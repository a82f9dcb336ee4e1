// Package metrics samples host-wide CPU, memory, swap, and disk
// utilization for the System Metrics Collector component.
package metrics

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tracer-cloud/tracerd/internal/types"
)

// Collector samples host resource utilization on demand. It holds no
// mutable state of its own; every call to Sample is a fresh /proc (or
// platform-equivalent) read via gopsutil.
type Collector struct{}

// NewCollector constructs a host metrics Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Sample takes one snapshot of host resource utilization. It is best-effort
// per disk mount: a mount that fails to stat is skipped rather than
// aborting the whole sample, matching the filesystem-anomaly error policy.
func (c *Collector) Sample(ctx context.Context) (types.SystemMetricAttributes, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return types.SystemMetricAttributes{}, fmt.Errorf("metrics: read virtual memory: %w", err)
	}

	swap, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return types.SystemMetricAttributes{}, fmt.Errorf("metrics: read swap memory: %w", err)
	}

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return types.SystemMetricAttributes{}, fmt.Errorf("metrics: read cpu percent: %w", err)
	}
	var cpuPercent float64
	if len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	disks := c.sampleDisks(ctx)

	return types.SystemMetricAttributes{
		MemoryTotalBytes:      vm.Total,
		MemoryUsedBytes:       vm.Used,
		MemoryUtilization:     vm.UsedPercent,
		SwapTotalBytes:        swap.Total,
		SwapUsedBytes:         swap.Used,
		CPUUtilizationPercent: cpuPercent,
		Disks:                 disks,
	}, nil
}

func (c *Collector) sampleDisks(ctx context.Context) []types.DiskUsage {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil
	}

	out := make([]types.DiskUsage, 0, len(partitions))
	for _, p := range partitions {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		out = append(out, types.DiskUsage{
			Mount:       p.Mountpoint,
			TotalBytes:  usage.Total,
			UsedBytes:   usage.Used,
			Utilization: usage.UsedPercent,
		})
	}
	return out
}
