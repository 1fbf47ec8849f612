package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/logging"
)

// TimestampLayout formats archive names, e.g. "survival_2024-05-01_13-45-00.tar.gz"
const TimestampLayout = "2006-01-02_15-04-05"

// Archiver writes gzip'd tarballs of server directories with the system tar
type Archiver struct {
	tarPath string
	now     func() time.Time
	logger  logging.Logger
}

func NewArchiver(logger logging.Logger) *Archiver {
	return &Archiver{
		tarPath: "tar",
		now:     time.Now,
		logger:  logger,
	}
}

// ArchiveName returns the file name used for a backup of id taken at t
func ArchiveName(id string, t time.Time) string {
	return fmt.Sprintf("%s_%s.tar.gz", id, t.Format(TimestampLayout))
}

// Backup archives the definition directory into its backup directory and
// returns the archive path. Running servers may be backed up.
func (a *Archiver) Backup(ctx context.Context, def config.ServerDefinition) (string, error) {
	if def.BackupDirectory == "" {
		return "", errors.NewValidationError("backup directory not configured", nil).WithContext("id", def.ID)
	}

	if err := os.MkdirAll(def.BackupDirectory, 0755); err != nil {
		return "", errors.NewIOError("failed to create backup directory", err).WithContext("id", def.ID).WithContext("directory", def.BackupDirectory)
	}

	archivePath := filepath.Join(def.BackupDirectory, ArchiveName(def.ID, a.now()))
	a.logger.Infof("Creating backup, id: %s, source: %s, archive: %s", def.ID, def.Directory, archivePath)

	cmd := exec.CommandContext(ctx, a.tarPath, "-czf", archivePath, "-C", def.Directory, ".")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(archivePath)
		message := strings.TrimSpace(stderr.String())
		a.logger.Errorf("Backup failed, id: %s, error: %v, output: %s", def.ID, err, message)
		return "", errors.NewInternalError("tar command failed", err).WithContext("id", def.ID).WithContext("output", message)
	}

	a.logger.Infof("Created backup, id: %s, archive: %s", def.ID, archivePath)
	return archivePath, nil
}
