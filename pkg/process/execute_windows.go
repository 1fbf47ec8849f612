//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// setupProcessAttributes places the child in its own process group so it
// can receive Ctrl+Break without affecting the agent.
func setupProcessAttributes(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
