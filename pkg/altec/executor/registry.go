package executor

import (
	"fmt"
	"sync"

	"github.com/mindforge/altec/pkg/altec/task"
)

// Registry maps a task.Kind onto its Pipeline definition. It is the
// executor's analogue of an action registry: instead of dispatching a
// named action to a handler, it dispatches a Kind to its ordered phase
// list.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[task.Kind]Pipeline
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[task.Kind]Pipeline)}
}

// Register adds a Pipeline for kind. It is an error to register the same
// kind twice; callers that need to replace a pipeline must Unregister first.
func (r *Registry) Register(kind task.Kind, pipeline Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pipelines[kind]; exists {
		return fmt.Errorf("pipeline for kind %q already registered", kind)
	}
	r.pipelines[kind] = pipeline
	return nil
}

// Unregister removes kind's pipeline, if any. Unregistering an unknown kind
// is a no-op.
func (r *Registry) Unregister(kind task.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pipelines, kind)
}

// Get returns the pipeline registered for kind.
func (r *Registry) Get(kind task.Kind) (Pipeline, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pipeline, ok := r.pipelines[kind]
	if !ok {
		return Pipeline{}, fmt.Errorf("unknown kind %q: no pipeline registered", kind)
	}
	return pipeline, nil
}

// IsRegistered reports whether kind has a registered pipeline.
func (r *Registry) IsRegistered(kind task.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pipelines[kind]
	return ok
}

// Count returns the number of registered pipelines.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pipelines)
}

// RegisteredKinds returns the kinds currently registered, in no particular
// order.
func (r *Registry) RegisteredKinds() []task.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]task.Kind, 0, len(r.pipelines))
	for kind := range r.pipelines {
		kinds = append(kinds, kind)
	}
	return kinds
}
