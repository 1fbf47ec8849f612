package instance

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/process"
	"github.com/core-tools/hsu-node-agent/pkg/telemetry"
)

// GracefulStopCommand is written to the server input to request shutdown
const GracefulStopCommand = "stop"

// Instance is the runtime handle of one supervised server process.
// It exists from a successful spawn until exit reconciliation removes it
// from the registry.
type Instance struct {
	id   string
	proc *process.Process

	console *telemetry.Console
	metrics *telemetry.Metrics

	// Serializes writes to the process input
	stdinMutex sync.Mutex
	// Serializes signals against the reaped process
	procMutex sync.Mutex

	stopRequested atomic.Bool
	closeOnce     sync.Once
}

func New(id string, proc *process.Process) *Instance {
	return &Instance{
		id:      id,
		proc:    proc,
		console: telemetry.NewConsole(),
		metrics: telemetry.NewMetrics(),
	}
}

func (i *Instance) ID() string {
	return i.id
}

func (i *Instance) PID() int {
	return i.proc.Pid
}

func (i *Instance) StartedAt() time.Time {
	return i.proc.StartedAt
}

// Uptime returns the time since spawn
func (i *Instance) Uptime() time.Duration {
	return time.Since(i.proc.StartedAt)
}

func (i *Instance) Process() *process.Process {
	return i.proc
}

func (i *Instance) Console() *telemetry.Console {
	return i.console
}

func (i *Instance) Metrics() *telemetry.Metrics {
	return i.metrics
}

// Done is closed once the process has been reaped
func (i *Instance) Done() <-chan struct{} {
	return i.proc.Done()
}

// Exited reports whether the process has been reaped
func (i *Instance) Exited() bool {
	select {
	case <-i.proc.Done():
		return true
	default:
		return false
	}
}

// SendCommand writes one line to the process input
func (i *Instance) SendCommand(line string) error {
	i.stdinMutex.Lock()
	defer i.stdinMutex.Unlock()

	if i.Exited() {
		return errors.NewConflictError("server process has exited", nil).WithContext("id", i.id)
	}
	if _, err := fmt.Fprintf(i.proc.Stdin, "%s\n", line); err != nil {
		return errors.NewIOError("failed to write to server input", err).WithContext("id", i.id).WithContext("pid", i.proc.Pid)
	}
	return nil
}

// SendCommandWithin is SendCommand bounded by timeout. A server that stops
// draining its input leaves the write pending; it finishes in the
// background once the process reads again or exits.
func (i *Instance) SendCommandWithin(line string, timeout time.Duration) error {
	result := make(chan error, 1)
	go func() {
		result <- i.SendCommand(line)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err
	case <-i.Done():
		return errors.NewConflictError("server process has exited", nil).WithContext("id", i.id)
	case <-timer.C:
		return errors.NewIOError("timed out writing to server input", nil).WithContext("id", i.id).WithContext("timeout", timeout)
	}
}

// Terminate signals the process group to exit
func (i *Instance) Terminate() error {
	i.procMutex.Lock()
	defer i.procMutex.Unlock()
	return i.proc.Terminate()
}

// Kill forcibly ends the process group
func (i *Instance) Kill() error {
	i.procMutex.Lock()
	defer i.procMutex.Unlock()
	return i.proc.Kill()
}

// MarkStopRequested records that the exit is intentional, so reconciliation
// must not autostart it. Returns false if it was already marked.
func (i *Instance) MarkStopRequested() bool {
	return i.stopRequested.CompareAndSwap(false, true)
}

func (i *Instance) StopRequested() bool {
	return i.stopRequested.Load()
}

// CloseTelemetry ends every console and metrics subscription
func (i *Instance) CloseTelemetry() {
	i.closeOnce.Do(func() {
		i.console.Close()
		i.metrics.Close()
	})
}
