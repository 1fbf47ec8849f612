package processfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-node-agent/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ProcessFileMockLogger is a simple mock implementation of Logger for testing
type ProcessFileMockLogger struct{}

func (m *ProcessFileMockLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (m *ProcessFileMockLogger) Debugf(format string, args ...interface{})               {}
func (m *ProcessFileMockLogger) Infof(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Warnf(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Errorf(format string, args ...interface{})               {}

func TestGeneratePIDFilePath(t *testing.T) {
	manager := NewProcessFileManager("/servers", &ProcessFileMockLogger{})

	assert.Equal(t, filepath.Join("/servers", ".run"), manager.BaseDirectory())
	assert.Equal(t, filepath.Join("/servers", ".run", "survival.pid"), manager.GeneratePIDFilePath("survival"))
}

func TestWriteReadRemovePIDFile(t *testing.T) {
	manager := NewProcessFileManager(t.TempDir(), &ProcessFileMockLogger{})

	require.NoError(t, manager.WritePIDFile("survival", 4242))

	content, err := os.ReadFile(manager.GeneratePIDFilePath("survival"))
	require.NoError(t, err)
	assert.Equal(t, "4242\n", string(content))

	pid, err := manager.ReadPIDFile("survival")
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	ids, err := manager.ListPIDFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"survival"}, ids)

	require.NoError(t, manager.RemovePIDFile("survival"))
	require.NoError(t, manager.RemovePIDFile("survival"))

	_, err = manager.ReadPIDFile("survival")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestReadPIDFile_InvalidContent(t *testing.T) {
	manager := NewProcessFileManager(t.TempDir(), &ProcessFileMockLogger{})
	require.NoError(t, ValidatePIDFileDirectory(manager.GeneratePIDFilePath("broken")))
	require.NoError(t, os.WriteFile(manager.GeneratePIDFilePath("broken"), []byte("not-a-pid"), 0644))

	_, err := manager.ReadPIDFile("broken")
	assert.True(t, errors.IsValidationError(err))
}

func TestListPIDFiles_MissingDirectory(t *testing.T) {
	manager := NewProcessFileManager(filepath.Join(t.TempDir(), "absent"), &ProcessFileMockLogger{})

	ids, err := manager.ListPIDFiles()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestValidatePIDFileDirectory(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("creates missing directory", func(t *testing.T) {
		path := filepath.Join(tempDir, "nested", "dir", "a.pid")
		require.NoError(t, ValidatePIDFileDirectory(path))

		info, err := os.Stat(filepath.Dir(path))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("rejects file in place of directory", func(t *testing.T) {
		blocker := filepath.Join(tempDir, "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

		err := ValidatePIDFileDirectory(filepath.Join(blocker, "a.pid"))
		assert.True(t, errors.IsValidationError(err))
	})
}
