package orphans

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/logging"
	"github.com/core-tools/hsu-node-agent/pkg/processfile"
)

// DefaultGracePeriod is how long the reconciler waits after killing, so
// ports and files held by the orphans are released before autostart.
const DefaultGracePeriod = 2 * time.Second

// ProcessInfo is the part of a process table entry used for matching
type ProcessInfo struct {
	Pid     int
	Cmdline []string
	Cwd     string
}

// ProcessTable lists and kills host processes
type ProcessTable interface {
	List() ([]ProcessInfo, error)
	Get(pid int) (ProcessInfo, error)
	Kill(pid int) error
}

// Reconciler kills server processes left running by a previous agent
// lifetime. It runs once at startup, before any autostart.
type Reconciler struct {
	launcher    string
	table       ProcessTable
	pidFiles    *processfile.ProcessFileManager
	gracePeriod time.Duration
	logger      logging.Logger
}

func NewReconciler(launcher string, table ProcessTable, pidFiles *processfile.ProcessFileManager, logger logging.Logger) *Reconciler {
	if launcher == "" {
		launcher = config.DefaultLauncher
	}
	return &Reconciler{
		launcher:    launcher,
		table:       table,
		pidFiles:    pidFiles,
		gracePeriod: DefaultGracePeriod,
		logger:      logger,
	}
}

// Reconcile kills every process matching the launch signature of one of
// defs, then waits the grace period. Returns the killed PIDs.
func (r *Reconciler) Reconcile(ctx context.Context, defs []config.ServerDefinition) ([]int, error) {
	r.logger.Infof("Reconciling orphaned servers, definitions: %d", len(defs))

	processes, err := r.table.List()
	if err != nil {
		return nil, errors.NewIOError("failed to list processes", err)
	}

	self := os.Getpid()
	killed := make(map[int]bool)
	errs := errors.NewErrorCollection()

	for _, def := range defs {
		for _, info := range processes {
			if info.Pid == self || killed[info.Pid] {
				continue
			}
			if !r.Matches(info, def) {
				continue
			}
			r.logger.Warnf("Found orphaned server, id: %s, pid: %d, killing it", def.ID, info.Pid)
			if err := r.table.Kill(info.Pid); err != nil {
				r.logger.Errorf("Failed to kill orphaned server, id: %s, pid: %d, error: %v", def.ID, info.Pid, err)
				errs.Add(errors.NewIOError("failed to kill orphaned server", err).WithContext("id", def.ID).WithContext("pid", info.Pid))
				continue
			}
			killed[info.Pid] = true
		}

		r.reconcilePIDFile(def, self, killed, errs)
	}

	pids := make([]int, 0, len(killed))
	for pid := range killed {
		pids = append(pids, pid)
	}

	if len(defs) > 0 {
		select {
		case <-time.After(r.gracePeriod):
		case <-ctx.Done():
		}
	}

	r.logger.Infof("Orphan reconciliation done, killed: %d", len(pids))
	return pids, errs.ToError()
}

// reconcilePIDFile kills the process recorded by a previous agent for def
// when it still carries the launch signature, then drops the file.
func (r *Reconciler) reconcilePIDFile(def config.ServerDefinition, self int, killed map[int]bool, errs *errors.ErrorCollection) {
	if r.pidFiles == nil {
		return
	}
	pid, err := r.pidFiles.ReadPIDFile(def.ID)
	if err != nil {
		if !errors.IsNotFoundError(err) {
			r.logger.Warnf("Ignoring unreadable PID file, id: %s, error: %v", def.ID, err)
			_ = r.pidFiles.RemovePIDFile(def.ID)
		}
		return
	}
	defer r.pidFiles.RemovePIDFile(def.ID)

	if pid == self || killed[pid] {
		return
	}
	info, err := r.table.Get(pid)
	if err != nil {
		r.logger.Debugf("PID file process is gone, id: %s, pid: %d", def.ID, pid)
		return
	}
	if !r.Matches(info, def) {
		r.logger.Debugf("PID file process no longer matches, id: %s, pid: %d", def.ID, pid)
		return
	}

	r.logger.Warnf("Found orphaned server from PID file, id: %s, pid: %d, killing it", def.ID, pid)
	if err := r.table.Kill(pid); err != nil {
		errs.Add(errors.NewIOError("failed to kill orphaned server", err).WithContext("id", def.ID).WithContext("pid", pid))
		return
	}
	killed[pid] = true
}

// Matches reports whether info looks like def launched by this agent:
// one argument names the launcher, one names the artifact, and the working
// directory is the definition directory.
func (r *Reconciler) Matches(info ProcessInfo, def config.ServerDefinition) bool {
	launcher := filepath.Base(r.launcher)
	hasLauncher := false
	hasArtifact := false
	for _, arg := range info.Cmdline {
		if strings.Contains(arg, launcher) {
			hasLauncher = true
		}
		if def.Artifact != "" && strings.Contains(arg, def.Artifact) {
			hasArtifact = true
		}
	}
	if !hasLauncher || !hasArtifact {
		return false
	}
	return sameDirectory(info.Cwd, def.Directory)
}

func sameDirectory(cwd, dir string) bool {
	if cwd == "" || dir == "" {
		return false
	}
	if filepath.Clean(cwd) == filepath.Clean(dir) {
		return true
	}
	resolved, err := filepath.EvalSymlinks(dir)
	return err == nil && filepath.Clean(cwd) == resolved
}
