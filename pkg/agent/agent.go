package agent

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/backup"
	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/domain"
	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/logging"
	"github.com/core-tools/hsu-node-agent/pkg/orphans"
	"github.com/core-tools/hsu-node-agent/pkg/processfile"
	"github.com/core-tools/hsu-node-agent/pkg/registry"
	"github.com/core-tools/hsu-node-agent/pkg/supervisor"
	"github.com/core-tools/hsu-node-agent/pkg/telemetry"
)

// AgentState represents the current state of the agent
type AgentState string

const (
	// AgentStateNotStarted is the initial state before Startup
	AgentStateNotStarted AgentState = "not_started"

	// AgentStateRunning means orphans are reconciled and autostart has run
	AgentStateRunning AgentState = "running"

	// AgentStateStopping means every server is being stopped
	AgentStateStopping AgentState = "stopping"

	// AgentStateStopped means the agent has shut down
	AgentStateStopped AgentState = "stopped"
)

var (
	_ domain.Contract = (*Agent)(nil)
	_ domain.Streams  = (*Agent)(nil)
)

// Agent ties the configuration store, registry, supervisor, orphan
// reconciler and backup archiver into the operation set served to clients.
type Agent struct {
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	reconciler *orphans.Reconciler
	archiver   *backup.Archiver
	logger     logging.Logger

	state AgentState
	mutex sync.Mutex
}

func NewAgent(store *config.Store, initial *config.Configuration, logger logging.Logger) *Agent {
	reg := registry.New(store, initial, logger)
	agentConfig := reg.Agent()

	pidFiles := processfile.NewProcessFileManager(agentConfig.DataDirectory, logger)

	return &Agent{
		registry:   reg,
		supervisor: supervisor.New(reg, pidFiles, logger),
		reconciler: orphans.NewReconciler(agentConfig.LauncherOrDefault(), orphans.NewSystemProcessTable(), pidFiles, logger),
		archiver:   backup.NewArchiver(logger),
		logger:     logger,
		state:      AgentStateNotStarted,
	}
}

// Supervisor exposes the process supervisor for status listeners
func (a *Agent) Supervisor() *supervisor.Supervisor {
	return a.supervisor
}

func (a *Agent) Config() *config.Configuration {
	return a.registry.Config()
}

func (a *Agent) State() AgentState {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.state
}

func (a *Agent) setState(state AgentState) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.state = state
}

// Startup kills orphans of a previous agent lifetime, then starts every
// server marked autostart.
func (a *Agent) Startup(ctx context.Context) {
	a.logger.Infof("Starting agent...")

	defs := a.registry.Config().Servers
	if _, err := a.reconciler.Reconcile(ctx, defs); err != nil {
		a.logger.Errorf("Orphan reconciliation incomplete: %v", err)
	}

	for _, def := range defs {
		if !def.Autostart {
			continue
		}
		if _, err := a.supervisor.Start(def.ID); err != nil {
			a.logger.Errorf("Failed to autostart server, id: %s, error: %v", def.ID, err)
			continue
		}
	}

	a.setState(AgentStateRunning)
	a.logger.Infof("Agent started, servers: %d, running: %d", len(defs), len(a.registry.Running()))
}

// Shutdown stops every running server and waits for all of them
func (a *Agent) Shutdown(ctx context.Context) error {
	a.logger.Infof("Stopping agent...")
	a.setState(AgentStateStopping)

	err := a.supervisor.StopAll(ctx)

	a.setState(AgentStateStopped)
	a.logger.Infof("Agent stopped")
	return err
}

// ===== CONTRACT =====

func (a *Agent) List(ctx context.Context) ([]domain.ServerStatus, error) {
	defs := a.registry.Config().Servers
	statuses := make([]domain.ServerStatus, 0, len(defs))
	for _, def := range defs {
		statuses = append(statuses, a.status(def))
	}
	return statuses, nil
}

func (a *Agent) Create(ctx context.Context, def config.ServerDefinition) (domain.ServerStatus, error) {
	if err := config.ValidateServerDefinition(def); err != nil {
		return domain.ServerStatus{}, err
	}

	unlock := a.registry.LockServer(def.ID)
	defer unlock()

	err := a.registry.UpdateConfig(func(c *config.Configuration) error {
		if _, exists := c.Find(def.ID); exists {
			return errors.NewConflictError("server already exists", nil).WithContext("id", def.ID)
		}
		c.Servers = append(c.Servers, def)
		return nil
	})
	if err != nil {
		return domain.ServerStatus{}, err
	}

	a.logger.Infof("Created server, id: %s, directory: %s", def.ID, def.Directory)
	return a.status(def), nil
}

// Update replaces the definition of id. Directory and port cannot change
// while the server runs; other fields apply on the next start.
func (a *Agent) Update(ctx context.Context, id string, def config.ServerDefinition) (domain.ServerStatus, error) {
	if def.ID == "" {
		def.ID = id
	}
	if def.ID != id {
		return domain.ServerStatus{}, errors.NewValidationError("server id cannot be changed", nil).WithContext("id", id).WithContext("body_id", def.ID)
	}
	if err := config.ValidateServerDefinition(def); err != nil {
		return domain.ServerStatus{}, err
	}

	unlock := a.registry.LockServer(id)
	defer unlock()

	_, running := a.registry.Get(id)
	err := a.registry.UpdateConfig(func(c *config.Configuration) error {
		current, exists := c.Find(id)
		if !exists {
			return errors.NewNotFoundError("server not found", nil).WithContext("id", id)
		}
		if running && (current.Directory != def.Directory || current.Port != def.Port) {
			return errors.NewConflictError("cannot change directory or port while running", nil).WithContext("id", id)
		}
		c.Replace(def)
		return nil
	})
	if err != nil {
		return domain.ServerStatus{}, err
	}

	a.logger.Infof("Updated server, id: %s", id)
	return a.status(def), nil
}

func (a *Agent) Delete(ctx context.Context, id string) error {
	unlock := a.registry.LockServer(id)
	defer unlock()

	if _, running := a.registry.Get(id); running {
		return errors.NewConflictError("cannot delete a running server", nil).WithContext("id", id)
	}

	err := a.registry.UpdateConfig(func(c *config.Configuration) error {
		if !c.Remove(id) {
			return errors.NewNotFoundError("server not found", nil).WithContext("id", id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.logger.Infof("Deleted server, id: %s", id)
	return nil
}

func (a *Agent) Start(ctx context.Context, id string) error {
	_, err := a.supervisor.Start(id)
	return err
}

func (a *Agent) Stop(ctx context.Context, id string) error {
	return a.supervisor.Stop(id)
}

func (a *Agent) Restart(ctx context.Context, id string) error {
	_, err := a.supervisor.Restart(id)
	return err
}

func (a *Agent) Backup(ctx context.Context, id string) (string, error) {
	def, err := a.registry.Definition(id)
	if err != nil {
		return "", err
	}
	return a.archiver.Backup(ctx, def)
}

func (a *Agent) SendCommand(ctx context.Context, id string, line string) error {
	return a.supervisor.SendCommand(id, line)
}

// ===== STREAMS =====

func (a *Agent) Console(id string) ([]string, *telemetry.Subscription[string], error) {
	return a.supervisor.Console(id)
}

func (a *Agent) Metrics(id string) (*telemetry.Subscription[telemetry.Sample], error) {
	return a.supervisor.Metrics(id)
}

func (a *Agent) status(def config.ServerDefinition) domain.ServerStatus {
	status := domain.ServerStatus{
		ServerDefinition: def,
		Status:           domain.RunStateStopped,
	}
	if inst, ok := a.registry.Get(def.ID); ok {
		status.Status = domain.RunStateRunning
		status.PID = inst.PID()
		status.UptimeSeconds = int64(inst.Uptime() / time.Second)
	}
	return status
}
