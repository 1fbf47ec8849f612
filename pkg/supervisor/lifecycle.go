package supervisor

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/instance"
	"github.com/core-tools/hsu-node-agent/pkg/process"
)

func (s *Supervisor) startLocked(id string) (*instance.Instance, error) {
	if s.isClosed() {
		return nil, errors.NewConflictError("agent is shutting down", nil).WithContext("id", id)
	}

	if existing, ok := s.registry.Get(id); ok {
		return nil, errors.NewConflictError("server already running", nil).WithContext("id", id).WithContext("pid", existing.PID())
	}

	def, err := s.registry.Definition(id)
	if err != nil {
		return nil, err
	}

	if err := config.ValidateServerDefinition(def); err != nil {
		s.logger.Errorf("Refusing to start invalid server, id: %s, error: %v", id, err)
		return nil, err
	}

	proc, err := s.spawn(s.launchConfig(def), id, s.logger)
	if err != nil {
		return nil, err
	}

	inst := instance.New(id, proc)
	if err := s.registry.Insert(inst); err != nil {
		_ = proc.Kill()
		return nil, err
	}

	if s.pidFiles != nil {
		if err := s.pidFiles.WritePIDFile(id, proc.Pid); err != nil {
			s.logger.Warnf("Failed to record PID file, id: %s, error: %v", id, err)
		}
	}

	// Listeners hear about the start before any exit can be reconciled
	s.notifyStarted(id, proc.Pid)

	go s.readStream(inst, proc.Stdout, "stdout")
	go s.readStream(inst, proc.Stderr, "stderr")
	go s.sampleMetrics(inst)

	s.logger.Infof("Started server, id: %s, pid: %d", id, proc.Pid)
	return inst, nil
}

func (s *Supervisor) stopLocked(id string) error {
	inst, err := s.running(id)
	if err != nil {
		return err
	}

	s.logger.Infof("Stopping server, id: %s, pid: %d", id, inst.PID())
	inst.MarkStopRequested()

	s.escalate(inst)
	s.onExit(inst)

	s.logger.Infof("Stopped server, id: %s", id)
	return nil
}

// escalate runs the stop phases until the process has been reaped
func (s *Supervisor) escalate(inst *instance.Instance) {
	id, pid := inst.ID(), inst.PID()

	// The graceful window runs whether or not the server drains its input
	go func() {
		if err := inst.SendCommand(instance.GracefulStopCommand); err != nil {
			s.logger.Warnf("Failed to send stop command, id: %s, pid: %d, error: %v", id, pid, err)
		}
	}()
	if s.waitExit(inst, s.timings.gracefulTimeout) {
		s.logger.Infof("Server stopped gracefully, id: %s, pid: %d", id, pid)
		return
	}

	s.logger.Warnf("Server did not stop within %v, sending termination signal, id: %s, pid: %d", s.timings.gracefulTimeout, id, pid)
	if err := inst.Terminate(); err != nil {
		s.logger.Warnf("Failed to send termination signal, id: %s, pid: %d, error: %v", id, pid, err)
	}
	if s.waitExit(inst, s.timings.terminateTimeout) {
		s.logger.Infof("Server terminated, id: %s, pid: %d", id, pid)
		return
	}

	s.logger.Warnf("Server did not terminate within %v, force killing, id: %s, pid: %d", s.timings.terminateTimeout, id, pid)
	if err := inst.Kill(); err != nil {
		s.logger.Errorf("Failed to kill server, id: %s, pid: %d, error: %v", id, pid, err)
	}
	select {
	case <-inst.Done():
		s.logger.Infof("Server force killed, id: %s, pid: %d", id, pid)
	case <-time.After(s.timings.killTimeout):
		s.logger.Errorf("Server still not reaped after kill, id: %s, pid: %d", id, pid)
	}
}

// waitExit polls for process exit until timeout
func (s *Supervisor) waitExit(inst *instance.Instance, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.timings.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if inst.Exited() {
				return true
			}
		case <-deadline.C:
			return inst.Exited()
		}
	}
}

// onExit reconciles a finished instance. Removal from the registry is the
// gate: only the caller that removes the instance continues.
func (s *Supervisor) onExit(inst *instance.Instance) {
	if !s.registry.Remove(inst) {
		return
	}
	id := inst.ID()

	exitCode := inst.Process().ExitCode()
	s.logger.Infof("Server exited, id: %s, pid: %d, exit code: %d, uptime: %v", id, inst.PID(), exitCode, inst.Uptime().Round(time.Second))

	if s.pidFiles != nil {
		_ = s.pidFiles.RemovePIDFile(id)
	}
	inst.CloseTelemetry()
	s.notifyStopped(id)

	if inst.StopRequested() {
		return
	}

	def, err := s.registry.Definition(id)
	if err != nil || !def.Autostart {
		return
	}
	s.scheduleAutostart(id)
}

// scheduleAutostart starts id once after the fixed delay
func (s *Supervisor) scheduleAutostart(id string) {
	scheduled := s.goBackground(func() {
		timer := time.NewTimer(s.timings.autostartDelay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-s.ctx.Done():
			return
		}

		s.logger.Infof("Autostarting server, id: %s", id)
		if _, err := s.Start(id); err != nil {
			s.logger.Errorf("Autostart failed, id: %s, error: %v", id, err)
		}
	})
	if scheduled {
		s.logger.Infof("Autostart scheduled, id: %s, delay: %v", id, s.timings.autostartDelay)
	}
}

// readStream copies process output lines into the console until EOF
func (s *Supervisor) readStream(inst *instance.Instance, stream io.Reader, name string) {
	reader := bufio.NewReader(stream)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			inst.Console().Append(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Warnf("Error reading server output, id: %s, stream: %s, error: %v", inst.ID(), name, err)
				_, _ = io.Copy(io.Discard, stream)
			}
			break
		}
	}
	s.onExit(inst)
}

// sampleMetrics publishes one resource sample per interval while the
// process lives
func (s *Supervisor) sampleMetrics(inst *instance.Instance) {
	probe, err := s.newProbe(inst.PID())
	if err != nil {
		s.logger.Debugf("Metrics probe unavailable, id: %s, error: %v", inst.ID(), err)
	}

	ticker := time.NewTicker(s.timings.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-inst.Done():
			s.onExit(inst)
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		if probe == nil {
			if probe, err = s.newProbe(inst.PID()); err != nil {
				if s.processGone(inst) {
					s.onExit(inst)
					return
				}
				continue
			}
		}

		sample, err := probe.Sample()
		if err != nil {
			if s.processGone(inst) {
				s.onExit(inst)
				return
			}
			s.logger.Debugf("Failed to sample server, id: %s, error: %v", inst.ID(), err)
			continue
		}
		inst.Metrics().Publish(sample)
	}
}

func (s *Supervisor) processGone(inst *instance.Instance) bool {
	if inst.Exited() {
		return true
	}
	running, err := process.IsProcessRunning(inst.PID())
	return err == nil && !running
}
