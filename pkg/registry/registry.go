package registry

import (
	"sort"
	"sync"

	"github.com/core-tools/hsu-node-agent/pkg/config"
	"github.com/core-tools/hsu-node-agent/pkg/errors"
	"github.com/core-tools/hsu-node-agent/pkg/instance"
	"github.com/core-tools/hsu-node-agent/pkg/logging"
)

// Registry is the shared state of the agent: the live instances keyed by
// server ID and the configuration under a reader/writer lock.
// No process operation runs while the configuration lock is held.
type Registry struct {
	store  *config.Store
	logger logging.Logger

	configMutex sync.RWMutex
	config      *config.Configuration

	instances sync.Map // string -> *instance.Instance

	opLocks *keyedMutex
}

func New(store *config.Store, initial *config.Configuration, logger logging.Logger) *Registry {
	if initial == nil {
		initial = config.Default()
	}
	return &Registry{
		store:   store,
		logger:  logger,
		config:  initial,
		opLocks: newKeyedMutex(),
	}
}

// ===== CONFIGURATION =====

// Config returns a deep copy of the current configuration
func (r *Registry) Config() *config.Configuration {
	r.configMutex.RLock()
	defer r.configMutex.RUnlock()
	return r.config.Clone()
}

func (r *Registry) Agent() config.AgentConfig {
	r.configMutex.RLock()
	defer r.configMutex.RUnlock()
	return r.config.Agent
}

// Definition returns the definition for id
func (r *Registry) Definition(id string) (config.ServerDefinition, error) {
	r.configMutex.RLock()
	defer r.configMutex.RUnlock()

	def, ok := r.config.Find(id)
	if !ok {
		return config.ServerDefinition{}, errors.NewNotFoundError("server not found", nil).WithContext("id", id)
	}
	return def, nil
}

// UpdateConfig applies mutate to a copy of the configuration, persists the
// copy and only then makes it current. A failed save leaves the in-memory
// configuration untouched.
func (r *Registry) UpdateConfig(mutate func(*config.Configuration) error) error {
	r.configMutex.Lock()
	defer r.configMutex.Unlock()

	next := r.config.Clone()
	if err := mutate(next); err != nil {
		return err
	}
	if err := r.store.Save(next); err != nil {
		return err
	}
	r.config = next
	return nil
}

// ===== INSTANCES =====

// Insert adds inst unless an instance for the same ID already exists
func (r *Registry) Insert(inst *instance.Instance) error {
	if existing, loaded := r.instances.LoadOrStore(inst.ID(), inst); loaded {
		return errors.NewConflictError("server already running", nil).
			WithContext("id", inst.ID()).
			WithContext("pid", existing.(*instance.Instance).PID())
	}
	return nil
}

// Get returns the live instance for id
func (r *Registry) Get(id string) (*instance.Instance, bool) {
	v, ok := r.instances.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*instance.Instance), true
}

// Remove deletes inst if it is still the registered instance for its ID.
// Only the first caller for a given instance gets true.
func (r *Registry) Remove(inst *instance.Instance) bool {
	return r.instances.CompareAndDelete(inst.ID(), inst)
}

// Running returns the IDs of all live instances, sorted
func (r *Registry) Running() []string {
	ids := make([]string, 0)
	r.instances.Range(func(key, _ any) bool {
		ids = append(ids, key.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// ===== OPERATION LOCKS =====

// LockServer serializes lifecycle operations on one server ID.
// The returned function releases the lock.
func (r *Registry) LockServer(id string) func() {
	return r.opLocks.lock(id)
}
