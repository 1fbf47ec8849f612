package process

import (
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-node-agent/pkg/errors"
)

// ValidateLaunchConfig checks that the process can be spawned and returns
// the resolved launcher path
func ValidateLaunchConfig(config LaunchConfig) (string, error) {
	if config.WorkingDirectory == "" {
		return "", errors.NewValidationError("working directory is required", nil)
	}
	if info, err := os.Stat(config.WorkingDirectory); err != nil {
		return "", errors.NewSpawnError("working directory not accessible", err).WithContext("directory", config.WorkingDirectory)
	} else if !info.IsDir() {
		return "", errors.NewSpawnError("working directory is not a directory", nil).WithContext("directory", config.WorkingDirectory)
	}

	if config.Artifact == "" {
		return "", errors.NewValidationError("artifact is required", nil)
	}
	artifactPath := filepath.Join(config.WorkingDirectory, config.Artifact)
	if info, err := os.Stat(artifactPath); err != nil {
		return "", errors.NewSpawnError("artifact not found", err).WithContext("artifact", artifactPath)
	} else if info.IsDir() {
		return "", errors.NewSpawnError("artifact is a directory", nil).WithContext("artifact", artifactPath)
	}

	if config.MemoryMB <= 0 {
		return "", errors.NewValidationError("memory ceiling must be positive", nil)
	}
	if config.WaitDelay < 0 {
		return "", errors.NewValidationError("wait delay cannot be negative", nil)
	}

	return ResolveLauncher(config.Launcher)
}
