package orphans

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/logging"
	"github.com/core-tools/hsu-node-agent/pkg/processfile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProcessTable struct {
	mock.Mock
}

func (m *MockProcessTable) List() ([]ProcessInfo, error) {
	args := m.Called()
	return args.Get(0).([]ProcessInfo), args.Error(1)
}

func (m *MockProcessTable) Get(pid int) (ProcessInfo, error) {
	args := m.Called(pid)
	return args.Get(0).(ProcessInfo), args.Error(1)
}

func (m *MockProcessTable) Kill(pid int) error {
	args := m.Called(pid)
	return args.Error(0)
}

func definition(dir string) config.ServerDefinition {
	return config.ServerDefinition{
		ID:        "survival",
		Directory: dir,
		Artifact:  "server.jar",
		MemoryMB:  1024,
		Port:      25565,
	}
}

func TestReconciler_Matches(t *testing.T) {
	dir := t.TempDir()
	reconciler := NewReconciler("java", &MockProcessTable{}, nil, logging.NewNopLogger())
	def := definition(dir)

	tests := []struct {
		name    string
		info    ProcessInfo
		matches bool
	}{
		{
			name:    "full_signature",
			info:    ProcessInfo{Pid: 10, Cmdline: []string{"java", "-Xmx1024M", "-jar", "server.jar", "nogui"}, Cwd: dir},
			matches: true,
		},
		{
			name:    "absolute_launcher",
			info:    ProcessInfo{Pid: 10, Cmdline: []string{"/usr/lib/jvm/bin/java", "-jar", "/x/server.jar"}, Cwd: dir + "/"},
			matches: true,
		},
		{
			name: "wrong_directory",
			info: ProcessInfo{Pid: 10, Cmdline: []string{"java", "-jar", "server.jar"}, Cwd: filepath.Join(dir, "other")},
		},
		{
			name: "other_artifact",
			info: ProcessInfo{Pid: 10, Cmdline: []string{"java", "-jar", "proxy.jar"}, Cwd: dir},
		},
		{
			name: "no_launcher",
			info: ProcessInfo{Pid: 10, Cmdline: []string{"python", "server.jar"}, Cwd: dir},
		},
		{
			name: "unknown_cwd",
			info: ProcessInfo{Pid: 10, Cmdline: []string{"java", "-jar", "server.jar"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.matches, reconciler.Matches(tt.info, def))
		})
	}
}

func TestReconciler_KillsOnlyMatches(t *testing.T) {
	dir := t.TempDir()
	table := &MockProcessTable{}
	table.On("List").Return([]ProcessInfo{
		{Pid: 11, Cmdline: []string{"java", "-jar", "server.jar", "nogui"}, Cwd: dir},
		{Pid: 12, Cmdline: []string{"java", "-jar", "server.jar", "nogui"}, Cwd: "/elsewhere"},
		{Pid: 13, Cmdline: []string{"bash"}, Cwd: dir},
		{Pid: os.Getpid(), Cmdline: []string{"java", "-jar", "server.jar"}, Cwd: dir},
	}, nil)
	table.On("Kill", 11).Return(nil)

	reconciler := NewReconciler("java", table, nil, logging.NewNopLogger())
	reconciler.gracePeriod = 10 * time.Millisecond

	start := time.Now()
	killed, err := reconciler.Reconcile(context.Background(), []config.ServerDefinition{definition(dir)})
	require.NoError(t, err)
	assert.Equal(t, []int{11}, killed)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	table.AssertExpectations(t)
	table.AssertNotCalled(t, "Kill", 12)
	table.AssertNotCalled(t, "Kill", os.Getpid())
}

func TestReconciler_KillFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	table := &MockProcessTable{}
	table.On("List").Return([]ProcessInfo{
		{Pid: 21, Cmdline: []string{"java", "-jar", "server.jar"}, Cwd: dir},
	}, nil)
	table.On("Kill", 21).Return(fmt.Errorf("operation not permitted"))

	reconciler := NewReconciler("java", table, nil, logging.NewNopLogger())
	reconciler.gracePeriod = 0

	killed, err := reconciler.Reconcile(context.Background(), []config.ServerDefinition{definition(dir)})
	assert.Error(t, err)
	assert.Empty(t, killed)
}

func TestReconciler_PIDFile(t *testing.T) {
	dir := t.TempDir()
	pidFiles := processfile.NewProcessFileManager(t.TempDir(), logging.NewNopLogger())
	require.NoError(t, pidFiles.WritePIDFile("survival", 31))

	table := &MockProcessTable{}
	table.On("List").Return([]ProcessInfo{}, nil)
	table.On("Get", 31).Return(ProcessInfo{Pid: 31, Cmdline: []string{"java", "-jar", "server.jar"}, Cwd: dir}, nil)
	table.On("Kill", 31).Return(nil)

	reconciler := NewReconciler("java", table, pidFiles, logging.NewNopLogger())
	reconciler.gracePeriod = 0

	killed, err := reconciler.Reconcile(context.Background(), []config.ServerDefinition{definition(dir)})
	require.NoError(t, err)
	assert.Equal(t, []int{31}, killed)

	_, err = pidFiles.ReadPIDFile("survival")
	assert.Error(t, err, "PID file should be removed")
	table.AssertExpectations(t)
}

func TestReconciler_StalePIDFileIsRemovedWithoutKill(t *testing.T) {
	dir := t.TempDir()
	pidFiles := processfile.NewProcessFileManager(t.TempDir(), logging.NewNopLogger())
	require.NoError(t, pidFiles.WritePIDFile("survival", 41))

	table := &MockProcessTable{}
	table.On("List").Return([]ProcessInfo{}, nil)
	table.On("Get", 41).Return(ProcessInfo{Pid: 41, Cmdline: []string{"nginx"}, Cwd: "/"}, nil)

	reconciler := NewReconciler("java", table, pidFiles, logging.NewNopLogger())
	reconciler.gracePeriod = 0

	killed, err := reconciler.Reconcile(context.Background(), []config.ServerDefinition{definition(dir)})
	require.NoError(t, err)
	assert.Empty(t, killed)
	table.AssertNotCalled(t, "Kill", 41)

	_, err = pidFiles.ReadPIDFile("survival")
	assert.Error(t, err)
}

func TestReconciler_NoDefinitionsSkipsGrace(t *testing.T) {
	table := &MockProcessTable{}
	table.On("List").Return([]ProcessInfo{}, nil)

	reconciler := NewReconciler("java", table, nil, logging.NewNopLogger())
	reconciler.gracePeriod = time.Hour

	done := make(chan struct{})
	go func() {
		_, _ = reconciler.Reconcile(context.Background(), nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconcile waited without definitions")
	}
}
