package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hydrogen-io/hydrogen/logging"
)

var (
	ErrServiceNotRegistered  = errors.New("service is not registered")
	ErrDuplicateRegistration = errors.New("a service with that name is already registered")
	ErrDependencyCycle       = errors.New("service dependencies contain a cycle")
	ErrMissingDependency     = errors.New("service declares a dependency that is not registered")
)

// StateListener is invoked on every service state transition, outside any
// registry lock.
type StateListener func(name string, old, next State)

type entry struct {
	service Service
	state   State
	config  map[string]string
	lastErr error
}

// Registry holds the process's named services and manages their lifecycle
// in dependency order.
type Registry struct {
	logger log.Logger

	lock     sync.RWMutex
	entries  map[string]*entry
	config   map[string]string
	forward  map[string][]string
	reverse  map[string][]string
	listener StateListener
}

// NewRegistry constructs an empty Registry.  A nil logger discards output.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	return &Registry{
		logger:  logger,
		entries: make(map[string]*entry),
		config:  make(map[string]string),
	}
}

// SetGlobalConfig replaces the configuration map merged into each
// newly-registered service.
func (r *Registry) SetGlobalConfig(config map[string]string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.config = make(map[string]string, len(config))
	for k, v := range config {
		r.config[k] = v
	}
}

// SetStateListener installs the callback invoked on every state transition.
func (r *Registry) SetStateListener(listener StateListener) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.listener = listener
}

// Register adds a service under its name.  The global configuration is
// merged into the service's config, without overriding keys the service
// already carries.
func (r *Registry) Register(svc Service) error {
	name := svc.Name()
	if len(name) == 0 {
		return errors.New("services must have a nonempty name")
	}

	r.lock.Lock()
	if _, ok := r.entries[name]; ok {
		r.lock.Unlock()
		return ErrDuplicateRegistration
	}

	merged := make(map[string]string, len(r.config))
	for k, v := range r.config {
		merged[k] = v
	}

	r.entries[name] = &entry{
		service: svc,
		state:   Uninitialized,
		config:  merged,
	}
	r.lock.Unlock()

	if configurable, ok := svc.(Configurable); ok {
		configurable.ApplyConfig(merged)
	}

	return nil
}

// Unregister removes a service by name.
func (r *Registry) Unregister(name string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.entries[name]; !ok {
		return ErrServiceNotRegistered
	}

	delete(r.entries, name)
	return nil
}

// Get returns the registered service with the given name.
func (r *Registry) Get(name string) (Service, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.service, true
	}

	return nil, false
}

// IsRegistered tests whether a service with the given name exists.
func (r *Registry) IsRegistered(name string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// StateOf returns the current lifecycle state of a named service.
func (r *Registry) StateOf(name string) (State, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Errored, ErrServiceNotRegistered
	}

	return e.state, nil
}

// ResolveDependencies walks each service's declared dependencies, builds
// the forward and reverse adjacency, and validates the graph via DFS.
func (r *Registry) ResolveDependencies() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	forward := make(map[string][]string, len(r.entries))
	reverse := make(map[string][]string, len(r.entries))
	for name, e := range r.entries {
		for _, dep := range e.service.Dependencies() {
			if _, ok := r.entries[dep]; !ok {
				return fmt.Errorf("%w: %s requires %s", ErrMissingDependency, name, dep)
			}

			forward[name] = append(forward[name], dep)
			reverse[dep] = append(reverse[dep], name)
		}
	}

	// DFS cycle detection with three colors
	const (
		white = iota
		gray
		black
	)

	colors := make(map[string]int, len(r.entries))
	var visit func(string) error
	visit = func(name string) error {
		colors[name] = gray
		for _, dep := range forward[name] {
			switch colors[dep] {
			case gray:
				return fmt.Errorf("%w: involving %s and %s", ErrDependencyCycle, name, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		colors[name] = black
		return nil
	}

	for name := range r.entries {
		if colors[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}

	r.forward = forward
	r.reverse = reverse
	return nil
}

// StartupOrder computes a dependency-respecting order via Kahn's algorithm:
// every service appears after all of its dependencies.
func (r *Registry) StartupOrder() ([]string, error) {
	if err := r.ResolveDependencies(); err != nil {
		return nil, err
	}

	r.lock.RLock()
	defer r.lock.RUnlock()

	indegree := make(map[string]int, len(r.entries))
	for name := range r.entries {
		indegree[name] = len(r.forward[name])
	}

	var queue []string
	for name, degree := range indegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(r.entries))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)

		for _, dependent := range r.reverse[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(r.entries) {
		return nil, ErrDependencyCycle
	}

	return order, nil
}

// transition moves a service to the next state and notifies the listener
// with no lock held.  Invalid transitions are rejected.
func (r *Registry) transition(name string, next State) error {
	r.lock.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.lock.Unlock()
		return ErrServiceNotRegistered
	}

	old := e.state
	if !canTransition(old, next) {
		r.lock.Unlock()
		return fmt.Errorf("invalid transition for %s: %s -> %s", name, old, next)
	}

	e.state = next
	listener := r.listener
	r.lock.Unlock()

	if listener != nil {
		listener(name, old, next)
	}

	return nil
}

func (r *Registry) serviceFor(name string) (Service, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, ErrServiceNotRegistered
	}

	return e.service, nil
}

func (r *Registry) recordError(name string, err error) {
	r.lock.Lock()
	if e, ok := r.entries[name]; ok {
		e.lastErr = err
	}
	r.lock.Unlock()

	// best effort: a terminal service cannot enter ERROR
	_ = r.transition(name, Errored)
}

// InitializeAll initializes every service in startup order, aborting on the
// first failure.
func (r *Registry) InitializeAll(ctx context.Context) error {
	order, err := r.StartupOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		svc, err := r.serviceFor(name)
		if err != nil {
			return err
		}

		if err := r.transition(name, Initializing); err != nil {
			return err
		}

		if err := svc.Initialize(ctx); err != nil {
			r.recordError(name, err)
			return fmt.Errorf("initializing %s: %w", name, err)
		}

		if err := r.transition(name, Initialized); err != nil {
			return err
		}
	}

	return nil
}

// StartAll starts every service in startup order, aborting on the first
// failure.  No service reaches RUNNING before all of its dependencies are
// RUNNING.
func (r *Registry) StartAll(ctx context.Context) error {
	order, err := r.StartupOrder()
	if err != nil {
		return err
	}

	for _, name := range order {
		svc, err := r.serviceFor(name)
		if err != nil {
			return err
		}

		if err := r.transition(name, Starting); err != nil {
			return err
		}

		r.logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "starting service", "service", name)
		if err := svc.Start(ctx); err != nil {
			r.recordError(name, err)
			return fmt.Errorf("starting %s: %w", name, err)
		}

		if err := r.transition(name, Running); err != nil {
			return err
		}
	}

	return nil
}

// StopAll stops every service in reverse startup order, continuing past
// failures and returning the first error encountered.
func (r *Registry) StopAll(ctx context.Context) error {
	order, err := r.StartupOrder()
	if err != nil {
		return err
	}

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		svc, err := r.serviceFor(name)
		if err != nil {
			continue
		}

		if state, _ := r.StateOf(name); state != Running {
			continue
		}

		if err := r.transition(name, Stopping); err != nil {
			continue
		}

		r.logger.Log(level.Key(), level.InfoValue(), logging.MessageKey(), "stopping service", "service", name)
		if err := svc.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stopping %s: %w", name, err)
		}

		_ = r.transition(name, Stopped)
	}

	return firstErr
}

// ShutdownAll stops all running services and then unregisters everything.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	err := r.StopAll(ctx)

	r.lock.Lock()
	r.entries = make(map[string]*entry)
	r.forward = nil
	r.reverse = nil
	r.lock.Unlock()

	return err
}

// AllHealthy reports true iff every registered service reports healthy.
func (r *Registry) AllHealthy() bool {
	r.lock.RLock()
	services := make([]Service, 0, len(r.entries))
	for _, e := range r.entries {
		services = append(services, e.service)
	}
	r.lock.RUnlock()

	for _, svc := range services {
		if !svc.IsHealthy() {
			return false
		}
	}

	return true
}

// Names returns the names of all registered services, in no particular order.
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}

	return names
}
