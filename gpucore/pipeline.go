package gpucore

import (
	"fmt"
	"sync"
)

// namedEntry pairs a named pipeline's create-info hash (for idempotency
// checks) with the handle callers look up.
type namedEntry[CI any] struct {
	hash   uint64
	handle Handle
	info   CI
}

// namedRegistry implements the "name → resource" half of the named
// pipeline registry: a stable string key mapped to a handle owned by the
// corresponding Cache, with idempotent re-registration under identical
// create-info and a hard conflict error otherwise.
type namedRegistry[CI structuralHasher] struct {
	mu      sync.RWMutex
	entries map[string]namedEntry[CI]
}

func newNamedRegistry[CI structuralHasher]() *namedRegistry[CI] {
	return &namedRegistry[CI]{entries: make(map[string]namedEntry[CI])}
}

// GetOrCreate registers name with info, calling create only the first
// time name is seen. A later call with equal structural hash is a no-op
// that returns the original handle; a later call with a different hash
// returns ErrNamedPipelineConflict.
func (r *namedRegistry[CI]) GetOrCreate(name string, info CI, create func(CI) (Handle, error)) (Handle, error) {
	hash := info.structuralHash()

	r.mu.RLock()
	if e, ok := r.entries[name]; ok {
		r.mu.RUnlock()
		if e.hash != hash {
			return Handle{}, fmt.Errorf("%w: %q", ErrNamedPipelineConflict, name)
		}
		return e.handle, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		if e.hash != hash {
			return Handle{}, fmt.Errorf("%w: %q", ErrNamedPipelineConflict, name)
		}
		return e.handle, nil
	}

	h, err := create(info)
	if err != nil {
		return Handle{}, err
	}
	r.entries[name] = namedEntry[CI]{hash: hash, handle: h, info: info}
	return h, nil
}

// Get returns the handle registered under name, if any.
func (r *namedRegistry[CI]) Get(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.handle, ok
}

// Len returns the number of registered names.
func (r *namedRegistry[CI]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// PipelineRegistry owns the two named mappings the context exposes:
// name → pipeline-base (graphics) and name → compute-pipeline.
type PipelineRegistry struct {
	Graphics *namedRegistry[PipelineBaseInfo]
	Compute  *namedRegistry[ComputePipelineInfo]
}

// NewPipelineRegistry constructs an empty registry.
func NewPipelineRegistry() *PipelineRegistry {
	return &PipelineRegistry{
		Graphics: newNamedRegistry[PipelineBaseInfo](),
		Compute:  newNamedRegistry[ComputePipelineInfo](),
	}
}
