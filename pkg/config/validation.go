package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/core-tools/hsu-node-agent/pkg/errors"
)

const (
	MinMemoryMB = 512
	MaxMemoryMB = 32768
	MinPort     = 1024
	MaxPort     = 65535
)

// ValidateServerDefinition checks bounds and filesystem-safety constraints.
// It must run before a definition is persisted and again before every spawn,
// since the file may be edited between the two.
func ValidateServerDefinition(def ServerDefinition) error {
	if def.MemoryMB < MinMemoryMB || def.MemoryMB > MaxMemoryMB {
		return errors.NewValidationError(
			fmt.Sprintf("memory_mb must be between %d and %d", MinMemoryMB, MaxMemoryMB), nil).
			WithContext("memory_mb", def.MemoryMB)
	}

	if def.Port < MinPort || def.Port > MaxPort {
		return errors.NewValidationError(
			fmt.Sprintf("port must be between %d and %d", MinPort, MaxPort), nil).
			WithContext("port", def.Port)
	}

	if err := ValidateServerID(def.ID); err != nil {
		return err
	}

	if def.Artifact == "" {
		return errors.NewValidationError("jar cannot be empty", nil)
	}
	if hasSeparator(def.Artifact) || hasParentSegment(def.Artifact) {
		return errors.NewValidationError("jar must not contain path separators or '..'", nil).
			WithContext("jar", def.Artifact)
	}

	if def.Directory == "" {
		return errors.NewValidationError("directory cannot be empty", nil)
	}
	if hasParentSegment(def.Directory) {
		return errors.NewValidationError("directory must not contain '..'", nil).
			WithContext("directory", def.Directory)
	}
	info, err := os.Stat(def.Directory)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("directory '%s' does not exist", def.Directory), err)
	}
	if !info.IsDir() {
		return errors.NewValidationError(fmt.Sprintf("directory '%s' is not a directory", def.Directory), nil)
	}

	return nil
}

// ValidateServerID checks that id is usable as a registry key and a file name
func ValidateServerID(id string) error {
	if id == "" {
		return errors.NewValidationError("id cannot be empty", nil)
	}
	if hasSeparator(id) || hasParentSegment(id) {
		return errors.NewValidationError("id must not contain '/', '\\', or '..'", nil).
			WithContext("id", id)
	}
	return nil
}

func hasSeparator(s string) bool {
	return strings.ContainsAny(s, `/\`)
}

func hasParentSegment(path string) bool {
	segments := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	for _, segment := range segments {
		if segment == ".." {
			return true
		}
	}
	return false
}

// ValidateConfiguration checks the agent section and identifier uniqueness
// of a loaded file. Server definitions are checked individually on spawn,
// so a missing server directory does not keep the agent from starting.
func ValidateConfiguration(config *Configuration) error {
	if config.Agent.BindAddress == "" {
		return errors.NewValidationError("bind_address cannot be empty", nil)
	}
	if config.Agent.DataDirectory == "" {
		return errors.NewValidationError("data_directory cannot be empty", nil)
	}
	if config.Agent.GRPCPort < 0 || config.Agent.GRPCPort > MaxPort {
		return errors.NewValidationError(fmt.Sprintf("grpc_port must be between 0 and %d", MaxPort), nil).
			WithContext("grpc_port", config.Agent.GRPCPort)
	}

	seen := make(map[string]bool, len(config.Servers))
	for _, def := range config.Servers {
		if err := ValidateServerID(def.ID); err != nil {
			return err
		}
		if seen[def.ID] {
			return errors.NewValidationError("duplicate server id", nil).WithContext("id", def.ID)
		}
		seen[def.ID] = true
	}
	return nil
}
