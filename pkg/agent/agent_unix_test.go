//go:build !windows

package agent

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/domain"
	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/logging"
	"github.com/core-tools/hsu-node-agent/pkg/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gracefulLauncher = `#!/bin/sh
echo "Starting server"
while IFS= read -r line; do
  echo "> $line"
  if [ "$line" = "stop" ]; then
    exit 0
  fi
done
`

type testEnv struct {
	agent     *Agent
	store     *config.Store
	root      string
	serverDir string
}

func newTestEnv(t *testing.T, servers ...config.ServerDefinition) *testEnv {
	t.Helper()
	root := t.TempDir()

	launcher := filepath.Join(root, "java")
	require.NoError(t, os.WriteFile(launcher, []byte(gracefulLauncher), 0755))

	serverDir := filepath.Join(root, "survival")
	require.NoError(t, os.Mkdir(serverDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(serverDir, "server.jar"), []byte("jar"), 0644))

	cfg := config.Default()
	cfg.Agent.DataDirectory = root
	cfg.Agent.Launcher = launcher
	cfg.Servers = append(cfg.Servers, servers...)

	store := config.NewStore(filepath.Join(root, "config.json"), logging.NewNopLogger())
	require.NoError(t, store.Save(cfg))

	a := NewAgent(store, cfg, logging.NewNopLogger())
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	return &testEnv{agent: a, store: store, root: root, serverDir: serverDir}
}

func (e *testEnv) definition() config.ServerDefinition {
	return config.ServerDefinition{
		ID:              "survival",
		Name:            "Survival",
		Directory:       e.serverDir,
		Artifact:        "server.jar",
		MemoryMB:        1024,
		Port:            25565,
		BackupDirectory: filepath.Join(e.root, "backups"),
	}
}

func TestAgent_CreateListDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	created, err := env.agent.Create(ctx, env.definition())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStateStopped, created.Status)

	_, err = env.agent.Create(ctx, env.definition())
	assert.True(t, errors.IsConflictError(err))

	invalid := env.definition()
	invalid.ID = "other"
	invalid.Port = 80
	_, err = env.agent.Create(ctx, invalid)
	assert.True(t, errors.IsValidationError(err))

	list, err := env.agent.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "survival", list[0].ID)

	loaded, err := env.store.Load()
	require.NoError(t, err)
	assert.Len(t, loaded.Servers, 1)

	require.NoError(t, env.agent.Delete(ctx, "survival"))
	assert.True(t, errors.IsNotFoundError(env.agent.Delete(ctx, "survival")))

	loaded, err = env.store.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Servers)
}

func TestAgent_UpdateRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.agent.Create(ctx, env.definition())
	require.NoError(t, err)

	mismatched := env.definition()
	mismatched.ID = "creative"
	_, err = env.agent.Update(ctx, "survival", mismatched)
	assert.True(t, errors.IsValidationError(err))

	missing := env.definition()
	missing.ID = ""
	_, err = env.agent.Update(ctx, "absent", missing)
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, env.agent.Start(ctx, "survival"))

	portChange := env.definition()
	portChange.Port = 25570
	_, err = env.agent.Update(ctx, "survival", portChange)
	assert.True(t, errors.IsConflictError(err))

	memoryChange := env.definition()
	memoryChange.MemoryMB = 2048
	updated, err := env.agent.Update(ctx, "survival", memoryChange)
	require.NoError(t, err)
	assert.Equal(t, 2048, updated.MemoryMB)
	assert.Equal(t, domain.RunStateRunning, updated.Status)

	assert.True(t, errors.IsConflictError(env.agent.Delete(ctx, "survival")))

	require.NoError(t, env.agent.Stop(ctx, "survival"))
	_, err = env.agent.Update(ctx, "survival", portChange)
	require.NoError(t, err)
}

func TestAgent_StartStopStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.agent.Create(ctx, env.definition())
	require.NoError(t, err)

	require.NoError(t, env.agent.Start(ctx, "survival"))
	assert.True(t, errors.IsConflictError(env.agent.Start(ctx, "survival")))

	list, err := env.agent.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.RunStateRunning, list[0].Status)
	assert.Greater(t, list[0].PID, 0)

	backlog, sub, err := env.agent.Console("survival")
	require.NoError(t, err)
	defer sub.Unsubscribe()
	_ = backlog

	require.NoError(t, env.agent.SendCommand(ctx, "survival", "list"))
	deadline := time.After(5 * time.Second)
	for found := false; !found; {
		select {
		case line := <-sub.C():
			found = line == "> list"
		case <-deadline:
			t.Fatal("command echo not received")
		}
	}

	require.NoError(t, env.agent.Restart(ctx, "survival"))
	require.NoError(t, env.agent.Stop(ctx, "survival"))
	assert.True(t, errors.IsConflictError(env.agent.Stop(ctx, "survival")))

	list, err = env.agent.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStateStopped, list[0].Status)
	assert.Zero(t, list[0].PID)
}

func TestAgent_StartupAutostartsAndShutdownStops(t *testing.T) {
	root := t.TempDir()
	serverDir := filepath.Join(root, "survival")
	require.NoError(t, os.Mkdir(serverDir, 0755))

	env := newTestEnv(t, config.ServerDefinition{
		ID:        "survival",
		Name:      "Survival",
		Directory: serverDir,
		Artifact:  "server.jar",
		MemoryMB:  1024,
		Port:      25565,
		Autostart: true,
	})
	require.NoError(t, os.WriteFile(filepath.Join(serverDir, "server.jar"), []byte("jar"), 0644))

	env.agent.Startup(context.Background())
	assert.Equal(t, AgentStateRunning, env.agent.State())

	list, err := env.agent.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.RunStateRunning, list[0].Status)

	require.NoError(t, env.agent.Shutdown(context.Background()))
	assert.Equal(t, AgentStateStopped, env.agent.State())

	list, err = env.agent.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RunStateStopped, list[0].Status)
}

func TestAgent_StartupKillsOrphanBeforeAutostart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := env.definition()
	def.Autostart = true
	_, err := env.agent.Create(ctx, def)
	require.NoError(t, err)

	// Left behind by a previous agent: same launch signature, not in the registry
	orphan, err := process.Execute(process.LaunchConfig{
		Launcher:         filepath.Join(env.root, "java"),
		Artifact:         def.Artifact,
		MemoryMB:         def.MemoryMB,
		WorkingDirectory: def.Directory,
	}, def.ID, logging.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = orphan.Kill() })
	go func() { _, _ = io.Copy(io.Discard, orphan.Stdout) }()
	go func() { _, _ = io.Copy(io.Discard, orphan.Stderr) }()

	env.agent.Startup(ctx)

	select {
	case <-orphan.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("orphan survived startup")
	}

	inst, ok := env.agent.Supervisor().Instance(def.ID)
	require.True(t, ok, "server must be autostarted")
	assert.NotEqual(t, orphan.Pid, inst.PID())
	assert.False(t, inst.Exited(), "autostarted server must survive reconciliation")

	list, err := env.agent.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.RunStateRunning, list[0].Status)
	assert.Equal(t, inst.PID(), list[0].PID)
}

func TestAgent_Backup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.agent.Backup(ctx, "survival")
	assert.True(t, errors.IsNotFoundError(err))

	def := env.definition()
	def.BackupDirectory = ""
	_, err = env.agent.Create(ctx, def)
	require.NoError(t, err)

	_, err = env.agent.Backup(ctx, "survival")
	assert.True(t, errors.IsValidationError(err))
}
