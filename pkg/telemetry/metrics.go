package telemetry

import (
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/errors"

	"github.com/shirou/gopsutil/process"
)

const (
	MetricsQueueSize      = 64
	DefaultSampleInterval = 1 * time.Second
)

// Sample is one resource reading of a running server process
type Sample struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// Metrics is the live sample broadcast of one instance. Nothing is retained:
// a subscriber only sees samples taken after it attached.
type Metrics struct {
	broadcaster *Broadcaster[Sample]
}

func NewMetrics() *Metrics {
	return &Metrics{
		broadcaster: NewBroadcaster[Sample](MetricsQueueSize),
	}
}

func (m *Metrics) Publish(sample Sample) {
	m.broadcaster.Publish(sample)
}

func (m *Metrics) Subscribe() *Subscription[Sample] {
	return m.broadcaster.Subscribe()
}

func (m *Metrics) Close() {
	m.broadcaster.Close()
}

// Probe reads resource usage of a single process
type Probe interface {
	Sample() (Sample, error)
}

// ProcessProbe samples an OS process through gopsutil. CPU percent is
// measured against the previous call, so the first reading is zero.
type ProcessProbe struct {
	pid  int
	proc *process.Process
}

func NewProcessProbe(pid int) (*ProcessProbe, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, errors.NewIOError("failed to open process for sampling", err).WithContext("pid", pid)
	}
	return &ProcessProbe{
		pid:  pid,
		proc: proc,
	}, nil
}

func (p *ProcessProbe) Sample() (Sample, error) {
	cpu, err := p.proc.Percent(0)
	if err != nil {
		return Sample{}, errors.NewIOError("failed to read cpu usage", err).WithContext("pid", p.pid)
	}
	mem, err := p.proc.MemoryInfo()
	if err != nil {
		return Sample{}, errors.NewIOError("failed to read memory usage", err).WithContext("pid", p.pid)
	}
	return Sample{
		CPUPercent:  cpu,
		MemoryBytes: mem.RSS,
		TimestampMs: time.Now().UnixMilli(),
	}, nil
}
