package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/logging"

	pkgerrors "github.com/pkg/errors"
)

// Store persists the Configuration as JSON at a canonical path.
// Writes go to "<path>.tmp" first and become visible only through rename.
type Store struct {
	path   string
	logger logging.Logger

	// beforeRename runs after the temp file is durable and before it replaces
	// the canonical file. Tests use it to simulate a crash at that point.
	beforeRename func(tmpPath string) error
}

func NewStore(path string, logger logging.Logger) *Store {
	if path == "" {
		path = DefaultConfigPath
	}
	return &Store{
		path:   path,
		logger: logger,
	}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) tmpPath() string {
	return s.path + ".tmp"
}

// Load reads the persisted configuration. A missing file yields defaults.
func (s *Store) Load() (*Configuration, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Infof("Config file not found, using defaults, path: %s", s.path)
		return Default(), nil
	}
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("path", s.path)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, errors.NewValidationError("failed to parse configuration file", err).WithContext("path", s.path)
	}
	if config.Servers == nil {
		config.Servers = []ServerDefinition{}
	}

	s.logger.Infof("Configuration loaded, path: %s, servers: %d", s.path, len(config.Servers))
	return config, nil
}

// Save writes config to the temp path, fsyncs it and renames it over the
// canonical path. A failure at any step leaves the canonical file untouched.
func (s *Store) Save(config *Configuration) error {
	if err := s.save(config); err != nil {
		s.logger.Errorf("Failed to save configuration, path: %s, error: %v", s.path, err)
		return errors.NewPersistenceError("failed to save configuration", err).WithContext("path", s.path)
	}
	s.logger.Debugf("Configuration saved, path: %s, servers: %d", s.path, len(config.Servers))
	return nil
}

func (s *Store) save(config *Configuration) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "serialize configuration")
	}

	tmpPath := s.tmpPath()
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "create %s", tmpPath)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		return pkgerrors.Wrapf(err, "write %s", tmpPath)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return pkgerrors.Wrapf(err, "fsync %s", tmpPath)
	}
	if err := file.Close(); err != nil {
		return pkgerrors.Wrapf(err, "close %s", tmpPath)
	}

	if s.beforeRename != nil {
		if err := s.beforeRename(tmpPath); err != nil {
			return pkgerrors.Wrap(err, "before rename")
		}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return pkgerrors.Wrapf(err, "rename %s to %s", tmpPath, s.path)
	}

	syncDir(filepath.Dir(s.path))
	return nil
}

// syncDir makes the rename itself durable where the platform allows it
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
