package sysmetrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"connmonitor/models"
)

const cpuSampleInterval = time.Second

// Collector samples CPU, memory and process uptime of the local machine.
type Collector struct {
	cpuPercent    func(ctx context.Context) (float64, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	processStart  func(ctx context.Context) (time.Time, error)
	now           func() time.Time
}

func NewCollector() *Collector {
	return &Collector{
		cpuPercent:    sampleCPU,
		virtualMemory: mem.VirtualMemoryWithContext,
		processStart:  currentProcessStart,
		now:           time.Now,
	}
}

// Collect blocks for about a second while CPU usage is sampled.
func (c *Collector) Collect(ctx context.Context) (models.SystemMetrics, error) {
	cpuUsage, err := c.cpuPercent(ctx)
	if err != nil {
		return models.SystemMetrics{}, fmt.Errorf("failed to sample cpu: %w", err)
	}

	vm, err := c.virtualMemory(ctx)
	if err != nil {
		return models.SystemMetrics{}, fmt.Errorf("failed to read memory: %w", err)
	}

	now := c.now()
	var uptime float64
	if started, err := c.processStart(ctx); err == nil {
		uptime = now.Sub(started).Seconds()
	}

	return models.SystemMetrics{
		CPUUsage:    cpuUsage,
		MemoryUsage: vm.Used,
		TotalMemory: vm.Total,
		FreeMemory:  vm.Available,
		Uptime:      uptime,
		Timestamp:   now.UTC(),
	}, nil
}

func sampleCPU(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, cpuSampleInterval, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("no cpu samples returned")
	}
	return percents[0], nil
}

func currentProcessStart(ctx context.Context) (time.Time, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return time.Time{}, err
	}
	createdMs, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(createdMs), nil
}
