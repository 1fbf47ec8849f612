//go:build windows

package process

import (
	"fmt"
	"os"
	"sync"
	"syscall"
)

// Windows console operation lock to prevent race conditions
var consoleOperationLock sync.Mutex

// SendTerminationSignal sends Ctrl+Break to the child's process group
func SendTerminationSignal(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}

	consoleOperationLock.Lock()
	defer consoleOperationLock.Unlock()

	dll, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return fmt.Errorf("failed to load kernel32.dll: %v", err)
	}
	defer dll.Release()

	return generateConsoleCtrlEvent(dll, pid)
}

// KillProcessGroup terminates the process. Windows has no group kill here.
func KillProcessGroup(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	return proc.Kill()
}

func generateConsoleCtrlEvent(dll *syscall.DLL, pid int) error {
	generateConsoleCtrlEvent, err := dll.FindProc("GenerateConsoleCtrlEvent")
	if err != nil {
		return err
	}

	result, _, err := generateConsoleCtrlEvent.Call(
		uintptr(syscall.CTRL_BREAK_EVENT),
		uintptr(pid),
	)
	if result == 0 {
		return err
	}
	return nil
}
