package process

import (
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/logging"
)

// DefaultWaitDelay bounds how long output copying may outlive the process
const DefaultWaitDelay = 2 * time.Second

// LaunchConfig describes how a server artifact is spawned:
// "<launcher> -Xmx<memory>M -jar <artifact> nogui" in the working directory.
type LaunchConfig struct {
	Launcher         string
	Artifact         string
	MemoryMB         int
	WorkingDirectory string
	WaitDelay        time.Duration
}

// Args returns the launcher arguments
func (c LaunchConfig) Args() []string {
	return []string{
		fmt.Sprintf("-Xmx%dM", c.MemoryMB),
		"-jar",
		c.Artifact,
		"nogui",
	}
}

// Process is a spawned child with its standard streams wired up.
// Stdout and Stderr reach EOF only after the process has been reaped and
// everything it wrote has been read.
type Process struct {
	Pid       int
	StartedAt time.Time
	Stdin     io.WriteCloser
	Stdout    io.Reader
	Stderr    io.Reader

	cmd      *exec.Cmd
	done     chan struct{}
	exitErr  error
	exitOnce sync.Once
}

// Done is closed once the process has been reaped
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitError returns the wait result. Valid after Done is closed.
func (p *Process) ExitError() error {
	<-p.done
	return p.exitErr
}

// ExitCode returns the exit code, or -1 when killed by a signal or still running
func (p *Process) ExitCode() int {
	select {
	case <-p.done:
	default:
		return -1
	}
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Kill forcibly terminates the process group
func (p *Process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return KillProcessGroup(p.Pid)
}

// Terminate asks the process group to exit
func (p *Process) Terminate() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return SendTerminationSignal(p.Pid)
}

// Execute spawns the server process described by config
func Execute(config LaunchConfig, id string, logger logging.Logger) (*Process, error) {
	launcherPath, err := ValidateLaunchConfig(config)
	if err != nil {
		logger.Errorf("Launch configuration validation failed, id: %s, error: %v", id, err)
		return nil, err
	}

	if config.WaitDelay == 0 {
		config.WaitDelay = DefaultWaitDelay
	}

	args := config.Args()
	logger.Debugf("Executing process, id: %s, launcher: '%s', args: %v, working directory: '%s'",
		id, launcherPath, args, config.WorkingDirectory)

	cmd := exec.Command(launcherPath, args...)
	cmd.Dir = config.WorkingDirectory

	// Platform-specific setup is handled in execute_windows.go or execute_unix.go
	setupProcessAttributes(cmd)

	// wait after the process exits, before closing the output pipes
	cmd.WaitDelay = config.WaitDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.NewSpawnError("failed to create stdin pipe", err).WithContext("id", id)
	}

	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	if err := cmd.Start(); err != nil {
		stdoutWriter.Close()
		stderrWriter.Close()
		return nil, errors.NewSpawnError("failed to start the process", err).WithContext("id", id).WithContext("launcher", launcherPath)
	}

	proc := &Process{
		Pid:       cmd.Process.Pid,
		StartedAt: time.Now(),
		Stdin:     stdin,
		Stdout:    stdoutReader,
		Stderr:    stderrReader,
		cmd:       cmd,
		done:      make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		proc.exitOnce.Do(func() {
			proc.exitErr = err
			close(proc.done)
		})
		stdoutWriter.Close()
		stderrWriter.Close()
	}()

	logger.Infof("Successfully executed process, id: %s, PID: %d", id, proc.Pid)
	return proc, nil
}

// ResolveLauncher finds the launcher executable on PATH
func ResolveLauncher(launcher string) (string, error) {
	if launcher == "" {
		return "", errors.NewValidationError("launcher is required", nil)
	}
	path, err := exec.LookPath(launcher)
	if err != nil {
		return "", errors.NewSpawnError("launcher not found", err).WithContext("launcher", launcher)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}
