//go:build !windows

package process

import (
	"syscall"
)

// SendTerminationSignal sends SIGTERM to the process group on Unix systems
func SendTerminationSignal(pid int) error {
	// Negative PID addresses the whole group
	return ignoreMissing(syscall.Kill(-pid, syscall.SIGTERM))
}

// KillProcessGroup sends SIGKILL to the process group
func KillProcessGroup(pid int) error {
	return ignoreMissing(syscall.Kill(-pid, syscall.SIGKILL))
}

func ignoreMissing(err error) error {
	if err == syscall.ESRCH {
		return nil
	}
	return err
}
