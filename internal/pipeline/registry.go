package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks in-flight runs so callers can observe and cancel them.
// The orchestrator removes a run on every terminal transition; a registry
// only ever holds live work.
type Registry interface {
	Put(run *Run)
	Get(id uuid.UUID) (*Run, bool)
	Remove(id uuid.UUID)
	Active() []*Run
}

// MemoryRegistry is the in-process Registry used by the server and the CLI.
type MemoryRegistry struct {
	mu   sync.RWMutex
	runs map[uuid.UUID]*Run
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{runs: make(map[uuid.UUID]*Run)}
}

func (r *MemoryRegistry) Put(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
}

func (r *MemoryRegistry) Get(id uuid.UUID) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

func (r *MemoryRegistry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

func (r *MemoryRegistry) Active() []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out
}
