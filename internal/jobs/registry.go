// Package jobs implements the background order orchestrators: bracket
// (entry + stop loss + take profits with exchange-side OCO emulation) and
// TTL cancellation. Job state lives in an in-memory registry; nothing is
// persisted, so jobs do not survive a restart.
package jobs

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a job state transition, broadcast to subscribers.
type Event struct {
	JobID    string         `json:"job_id"`
	Status   string         `json:"status"`
	Snapshot map[string]any `json:"snapshot"`
	At       int64          `json:"at"`
}

// Registry tracks live and finished job snapshots plus cancellation
// flags. Orchestrator goroutines write; tools and the event stream read.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]map[string]any
	cancels map[string]bool

	subMu sync.Mutex
	subs  []chan Event
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:    make(map[string]map[string]any),
		cancels: make(map[string]bool),
	}
}

// NewJobID generates an id like bracket_1a2b3c4d.
func NewJobID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Put stores a full snapshot for a job and broadcasts it.
func (r *Registry) Put(id string, snapshot map[string]any) {
	r.mu.Lock()
	r.jobs[id] = cloneSnapshot(snapshot)
	r.mu.Unlock()
	r.broadcast(id, snapshot)
}

// Update applies fn to the job's snapshot under the lock and broadcasts
// the result. Missing jobs are ignored.
func (r *Registry) Update(id string, fn func(map[string]any)) {
	r.mu.Lock()
	snap, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(snap)
	out := cloneSnapshot(snap)
	r.mu.Unlock()
	r.broadcast(id, out)
}

// Get returns a copy of the job's snapshot.
func (r *Registry) Get(id string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return cloneSnapshot(snap), true
}

// List returns copies of every tracked job keyed by id.
func (r *Registry) List() map[string]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]any, len(r.jobs))
	for id, snap := range r.jobs {
		out[id] = cloneSnapshot(snap)
	}
	return out
}

// RequestCancel flags a job for cancellation. Returns false when the job
// is unknown.
func (r *Registry) RequestCancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return false
	}
	r.cancels[id] = true
	return true
}

// CancelRequested reports whether a cancel flag is set for the job.
func (r *Registry) CancelRequested(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cancels[id]
}

// Subscribe returns a channel of job events. Slow consumers drop events
// rather than block the orchestrators.
func (r *Registry) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

func (r *Registry) broadcast(id string, snapshot map[string]any) {
	status, _ := snapshot["status"].(string)
	evt := Event{JobID: id, Status: status, Snapshot: cloneSnapshot(snapshot), At: time.Now().UnixMilli()}
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func cloneSnapshot(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
