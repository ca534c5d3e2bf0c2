package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the extraction methods available to run and eval.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
	order   []string // Maintains registration order
}

// NewRegistry creates an empty method registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]Runner),
		order:   make([]string, 0),
	}
}

// NewDefaultRegistry registers one_step and two_step. When handles is
// non-nil the runners share its models instead of loading per call.
func NewDefaultRegistry(deps Deps, handles *Handles) *Registry {
	one := NewOneStep(deps)
	two := NewTwoStep(deps)
	if handles != nil {
		one = one.WithModel(handles.Vision)
		two = two.WithHandles(handles.OCR, handles.Text)
	}

	r := NewRegistry()
	// Names are distinct, so neither call can fail.
	_ = r.Register(one)
	_ = r.Register(two)
	return r
}

// Register adds a runner under its name.
// Returns an error if a runner with the same name is already registered.
func (r *Registry) Register(runner Runner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := runner.Name()
	if _, exists := r.runners[name]; exists {
		return fmt.Errorf("%w: %s", ErrMethodAlreadyRegistered, name)
	}

	r.runners[name] = runner
	r.order = append(r.order, name)
	return nil
}

// Get returns the runner for a method name.
func (r *Registry) Get(name string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runner, ok := r.runners[name]
	if !ok {
		known := make([]string, len(r.order))
		copy(known, r.order)
		sort.Strings(known)
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownMethod, name, known)
	}
	return runner, nil
}

// List returns all runners in registration order.
func (r *Registry) List() []Runner {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runners := make([]Runner, 0, len(r.order))
	for _, name := range r.order {
		runners = append(runners, r.runners[name])
	}
	return runners
}

// Names returns all method names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}
