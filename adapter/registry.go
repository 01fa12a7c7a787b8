package adapter

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/c360studio/semflow/workflow"
)

// Registry errors.
var (
	// ErrDuplicateName reports a second registration under the same name.
	ErrDuplicateName = errors.New("adapter name already registered")

	// ErrInvalidDescriptor reports a descriptor that cannot be registered.
	ErrInvalidDescriptor = errors.New("invalid adapter descriptor")
)

// Registry holds registered adapters keyed by name. It is populated at
// process startup and effectively read-only during a run; there is no
// unregistration. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. The descriptor must carry a name, a valid
// kind, and at least one supported actor.
func (r *Registry) Register(a Adapter) error {
	desc := a.Descriptor()
	if desc.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	if !desc.Kind.IsValid() {
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidDescriptor, desc.Name, desc.Kind)
	}
	if len(desc.Actors) == 0 {
		return fmt.Errorf("%w: %s: no supported actors", ErrInvalidDescriptor, desc.Name)
	}
	for _, actor := range desc.Actors {
		if !actor.IsValid() {
			return fmt.Errorf("%w: %s: unknown actor %q", ErrInvalidDescriptor, desc.Name, actor)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[desc.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, desc.Name)
	}
	r.adapters[desc.Name] = a
	return nil
}

// Lookup returns the adapter registered under name.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns every registered adapter name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Query returns the adapters supporting the given actor kind, ranked by
// (available desc, deterministic-if-preferred desc, estimated cost asc,
// name asc). The name tiebreak makes the order total, so equal inputs
// always produce the same candidate list.
func (r *Registry) Query(actor workflow.Actor, preferDeterministic bool) []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Adapter
	for _, a := range r.adapters {
		if a.Descriptor().Supports(actor) {
			out = append(out, a)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Descriptor(), out[j].Descriptor()
		if di.Available != dj.Available {
			return di.Available
		}
		if preferDeterministic {
			ii, jj := di.Kind == KindDeterministic, dj.Kind == KindDeterministic
			if ii != jj {
				return ii
			}
		}
		if di.EstimatedCost != dj.EstimatedCost {
			return di.EstimatedCost < dj.EstimatedCost
		}
		return di.Name < dj.Name
	})
	return out
}
