package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/logging"
)

// RunDirectoryName is the PID file subdirectory under the agent data directory
const RunDirectoryName = ".run"

// ProcessFileManager records the PID of every server process the agent
// spawns, so a restarted agent can find the ones it left behind.
type ProcessFileManager struct {
	baseDirectory string
	logger        logging.Logger
}

// NewProcessFileManager keeps PID files in "<dataDirectory>/.run"
func NewProcessFileManager(dataDirectory string, logger logging.Logger) *ProcessFileManager {
	return &ProcessFileManager{
		baseDirectory: filepath.Join(dataDirectory, RunDirectoryName),
		logger:        logger,
	}
}

func (m *ProcessFileManager) BaseDirectory() string {
	return m.baseDirectory
}

// GeneratePIDFilePath generates the PID file path for the given server ID
func (m *ProcessFileManager) GeneratePIDFilePath(id string) string {
	return filepath.Join(m.baseDirectory, id+".pid")
}

// WritePIDFile writes the process PID for the given server ID
func (m *ProcessFileManager) WritePIDFile(id string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(id)
	m.logger.Debugf("Writing PID file, id: %s, pid: %d, path: %s", id, pid, pidFilePath)

	if err := ValidatePIDFileDirectory(pidFilePath); err != nil {
		m.logger.Errorf("PID file directory validation failed, id: %s, path: %s, error: %v", id, pidFilePath, err)
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", pidFilePath)
	}

	pidContent := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(pidFilePath, []byte(pidContent), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, id: %s, pid: %d, path: %s, error: %v", id, pid, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Debugf("PID file written, id: %s, pid: %d, path: %s", id, pid, pidFilePath)
	return nil
}

// ReadPIDFile reads the recorded PID of the given server ID
func (m *ProcessFileManager) ReadPIDFile(id string) (int, error) {
	pidFilePath := m.GeneratePIDFilePath(id)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("PID file not found", err).WithContext("pid_file", pidFilePath)
		}
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		m.logger.Warnf("Invalid PID file content, id: %s, path: %s, content: %s", id, pidFilePath, pidStr)
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", pidFilePath).WithContext("content", pidStr)
	}

	return pid, nil
}

// RemovePIDFile removes the PID file of the given server ID. A missing file
// is not an error.
func (m *ProcessFileManager) RemovePIDFile(id string) error {
	pidFilePath := m.GeneratePIDFilePath(id)
	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		m.logger.Warnf("Failed to remove PID file, id: %s, path: %s, error: %v", id, pidFilePath, err)
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	return nil
}

// ListPIDFiles returns the server IDs that currently have a PID file
func (m *ProcessFileManager) ListPIDFiles() ([]string, error) {
	entries, err := os.ReadDir(m.baseDirectory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("failed to list PID files", err).WithContext("directory", m.baseDirectory)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".pid") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".pid"))
	}
	return ids, nil
}

// ValidatePIDFileDirectory validates that the PID file directory exists and is writable
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
			}
		} else {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	if file, err := os.Create(testFile); err != nil {
		return errors.NewIOError("PID file directory is not writable", err).WithContext("directory", dir)
	} else {
		file.Close()
		os.Remove(testFile)
	}

	return nil
}
