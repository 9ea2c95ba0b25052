package rollout

import (
	"sync"
	"sync/atomic"
	"time"

	logx "kubelookout/pkg/logx"
)

// Registry owns every live notification thread, at most one per identity.
//
// The dispatcher shards already serialize same-identity access; the lock
// here keeps the registry safe for the sweep and debug surfaces, which read
// across identities.
type Registry struct {
	mu      sync.RWMutex
	threads map[Identity]*Thread

	log       logx.Logger
	conflicts atomic.Uint64
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{threads: map[Identity]*Thread{}, log: log}
}

// FindOrCreate returns the identity's active thread, creating and
// registering a fresh one when none exists and the phase warrants a
// conversation. A healthy observation with no existing thread returns
// (nil, false): nothing to report.
//
// Concurrent creation is resolved by keeping the first registered thread;
// the loser adopts it.
func (r *Registry) FindOrCreate(id Identity, phase Phase, now time.Time) (*Thread, bool) {
	r.mu.RLock()
	t := r.threads[id]
	r.mu.RUnlock()
	if t != nil {
		return t, false
	}

	if phase == PhaseHealthy {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if winner := r.threads[id]; winner != nil {
		r.conflicts.Add(1)
		r.log.Debug("thread creation raced; keeping winner",
			logx.String("identity", id.String()),
			logx.Err(ErrRegistryConflict),
		)
		return winner, false
	}
	t = newThread(id, phase, now)
	r.threads[id] = t
	return t, true
}

// Get returns the identity's thread, or nil.
func (r *Registry) Get(id Identity) *Thread {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.threads[id]
}

// Remove drops the identity's registry entry. Idempotent.
func (r *Registry) Remove(id Identity) {
	r.mu.Lock()
	delete(r.threads, id)
	r.mu.Unlock()
}

// Identities returns the identities with a live thread, for the sweep.
func (r *Registry) Identities() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]Identity, 0, len(r.threads))
	for id := range r.threads {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.threads)
}

// RegistryStats is a point-in-time view for debug output.
type RegistryStats struct {
	Active    int            `json:"active"`
	ByPhase   map[Phase]int  `json:"by_phase"`
	ByState   map[State]int  `json:"by_state"`
	Conflicts uint64         `json:"conflicts"`
	Oldest    *ThreadSummary `json:"oldest,omitempty"`
}

// ThreadSummary is the debug projection of one thread.
type ThreadSummary struct {
	Identity  Identity  `json:"identity"`
	State     State     `json:"state"`
	Phase     Phase     `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := RegistryStats{
		Active:    len(r.threads),
		ByPhase:   map[Phase]int{},
		ByState:   map[State]int{},
		Conflicts: r.conflicts.Load(),
	}
	for _, t := range r.threads {
		st.ByPhase[t.Phase]++
		st.ByState[t.State]++
		if st.Oldest == nil || t.CreatedAt.Before(st.Oldest.CreatedAt) {
			st.Oldest = &ThreadSummary{
				Identity:  t.Identity,
				State:     t.State,
				Phase:     t.Phase,
				CreatedAt: t.CreatedAt,
			}
		}
	}
	return st
}
