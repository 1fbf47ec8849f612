package supervisor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/instance"
	"github.com/core-tools/hsu-node-agent/pkg/logging"
	"github.com/core-tools/hsu-node-agent/pkg/process"
	"github.com/core-tools/hsu-node-agent/pkg/processfile"
	"github.com/core-tools/hsu-node-agent/pkg/registry"
	"github.com/core-tools/hsu-node-agent/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// timings are fixed in production and shortened by tests
type timings struct {
	gracefulTimeout  time.Duration
	terminateTimeout time.Duration
	killTimeout      time.Duration
	commandTimeout   time.Duration
	pollInterval     time.Duration
	autostartDelay   time.Duration
	sampleInterval   time.Duration
}

func defaultTimings() timings {
	return timings{
		gracefulTimeout:  15 * time.Second,
		terminateTimeout: 5 * time.Second,
		killTimeout:      5 * time.Second,
		commandTimeout:   5 * time.Second,
		pollInterval:     500 * time.Millisecond,
		autostartDelay:   5 * time.Second,
		sampleInterval:   telemetry.DefaultSampleInterval,
	}
}

// StatusListener is told when a server instance appears or disappears
type StatusListener interface {
	ServerStarted(id string, pid int)
	ServerStopped(id string)
}

// Supervisor owns the lifecycle of server processes: spawn, escalating
// stop, exit reconciliation and delayed autostart.
type Supervisor struct {
	registry *registry.Registry
	pidFiles *processfile.ProcessFileManager
	logger   logging.Logger
	timings  timings
	spawn    func(config process.LaunchConfig, id string, logger logging.Logger) (*process.Process, error)
	newProbe func(pid int) (telemetry.Probe, error)

	listenersMutex sync.RWMutex
	listeners      []StatusListener

	// Background work (autostart timers, samplers) ends with ctx
	ctx    context.Context
	cancel context.CancelFunc

	backgroundMutex sync.Mutex
	background      sync.WaitGroup
	closed          bool
}

func New(reg *registry.Registry, pidFiles *processfile.ProcessFileManager, logger logging.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		registry: reg,
		pidFiles: pidFiles,
		logger:   logger,
		timings:  defaultTimings(),
		spawn:    process.Execute,
		newProbe: func(pid int) (telemetry.Probe, error) {
			probe, err := telemetry.NewProcessProbe(pid)
			if err != nil {
				return nil, err
			}
			return probe, nil
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddListener registers l for start/stop notifications
func (s *Supervisor) AddListener(l StatusListener) {
	s.listenersMutex.Lock()
	defer s.listenersMutex.Unlock()
	s.listeners = append(s.listeners, l)
}

// Start spawns the server defined under id
func (s *Supervisor) Start(id string) (*instance.Instance, error) {
	unlock := s.registry.LockServer(id)
	defer unlock()
	return s.startLocked(id)
}

// Stop shuts the server down: the graceful "stop" command, then SIGTERM,
// then SIGKILL, each phase bounded by its own timeout.
func (s *Supervisor) Stop(id string) error {
	unlock := s.registry.LockServer(id)
	defer unlock()
	return s.stopLocked(id)
}

// Restart stops the server when it is running and starts it again
func (s *Supervisor) Restart(id string) (*instance.Instance, error) {
	unlock := s.registry.LockServer(id)
	defer unlock()

	s.logger.Infof("Restarting server, id: %s", id)

	if _, running := s.registry.Get(id); running {
		if err := s.stopLocked(id); err != nil && !errors.IsConflictError(err) {
			return nil, err
		}
	}
	return s.startLocked(id)
}

// StopAll refuses further starts, cancels pending autostarts and stops
// every running server in parallel. It returns once all of them are gone
// or ctx expires.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.backgroundMutex.Lock()
	s.closed = true
	s.backgroundMutex.Unlock()
	s.cancel()

	// An autostart already past its timer may still spawn; wait it out
	// before taking the set of servers to stop
	s.background.Wait()

	var collectionMutex sync.Mutex
	errs := errors.NewErrorCollection()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			ids := s.registry.Running()
			if len(ids) == 0 {
				return
			}
			s.logger.Infof("Stopping all servers, count: %d", len(ids))

			var g errgroup.Group
			for _, id := range ids {
				id := id
				g.Go(func() error {
					err := s.Stop(id)
					if err != nil && !errors.IsConflictError(err) && !errors.IsNotFoundError(err) {
						collectionMutex.Lock()
						errs.Add(err)
						collectionMutex.Unlock()
					}
					return nil
				})
			}
			_ = g.Wait()

			if ctx.Err() != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		remaining := s.registry.Running()
		s.logger.Errorf("Timed out stopping servers, remaining: %v", remaining)
		return errors.NewInternalError("timed out stopping servers", ctx.Err()).WithContext("remaining", remaining)
	}

	collectionMutex.Lock()
	defer collectionMutex.Unlock()

	s.logger.Infof("All servers stopped")
	return errs.ToError()
}

// Instance returns the live instance for id
func (s *Supervisor) Instance(id string) (*instance.Instance, bool) {
	return s.registry.Get(id)
}

// SendCommand writes one line to the server input
func (s *Supervisor) SendCommand(id, line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.ContainsAny(line, "\r\n") {
		return errors.NewValidationError("command must be a single line", nil).WithContext("id", id)
	}

	inst, err := s.running(id)
	if err != nil {
		return err
	}
	if err := inst.SendCommandWithin(line, s.timings.commandTimeout); err != nil {
		s.logger.Warnf("Failed to send command, id: %s, error: %v", id, err)
		return err
	}
	s.logger.Debugf("Command sent, id: %s, command: %s", id, line)
	return nil
}

// Console returns the backlog and a live subscription for id
func (s *Supervisor) Console(id string) ([]string, *telemetry.Subscription[string], error) {
	inst, err := s.running(id)
	if err != nil {
		return nil, nil, err
	}
	backlog, sub := inst.Console().Subscribe()
	return backlog, sub, nil
}

// Metrics returns a live sample subscription for id
func (s *Supervisor) Metrics(id string) (*telemetry.Subscription[telemetry.Sample], error) {
	inst, err := s.running(id)
	if err != nil {
		return nil, err
	}
	return inst.Metrics().Subscribe(), nil
}

// running returns the live instance, or NotFound for unknown ids and
// Conflict for known ids that are stopped
func (s *Supervisor) running(id string) (*instance.Instance, error) {
	if inst, ok := s.registry.Get(id); ok {
		return inst, nil
	}
	if _, err := s.registry.Definition(id); err != nil {
		return nil, err
	}
	return nil, errors.NewConflictError("server not running", nil).WithContext("id", id)
}

func (s *Supervisor) isClosed() bool {
	s.backgroundMutex.Lock()
	defer s.backgroundMutex.Unlock()
	return s.closed
}

// goBackground runs fn unless the supervisor is shutting down
func (s *Supervisor) goBackground(fn func()) bool {
	s.backgroundMutex.Lock()
	defer s.backgroundMutex.Unlock()

	if s.closed {
		return false
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
	return true
}

func (s *Supervisor) notifyStarted(id string, pid int) {
	s.listenersMutex.RLock()
	defer s.listenersMutex.RUnlock()
	for _, l := range s.listeners {
		l.ServerStarted(id, pid)
	}
}

func (s *Supervisor) notifyStopped(id string) {
	s.listenersMutex.RLock()
	defer s.listenersMutex.RUnlock()
	for _, l := range s.listeners {
		l.ServerStopped(id)
	}
}

func (s *Supervisor) launchConfig(def config.ServerDefinition) process.LaunchConfig {
	return process.LaunchConfig{
		Launcher:         s.registry.Agent().LauncherOrDefault(),
		Artifact:         def.Artifact,
		MemoryMB:         def.MemoryMB,
		WorkingDirectory: def.Directory,
	}
}
