package session

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the process-wide component owning the id -> Session map and
// the secondary name -> id index (§4.6, §3 invariant iv).
type Registry struct {
	mu       sync.Mutex
	byID     map[string]*Session
	byName   map[string]string
	defaults Defaults
	maxLen   int
}

// NewRegistry creates an empty Registry. maxSessions <= 0 means unlimited.
func NewRegistry(defaults Defaults, maxSessions int) *Registry {
	return &Registry{
		byID:     make(map[string]*Session),
		byName:   make(map[string]string),
		defaults: defaults,
		maxLen:   maxSessions,
	}
}

// Create generates an id, applies configured defaults, starts the session,
// and inserts it into both maps (§4.6 "create", §3 invariant iv). The two
// inserts are not one atomic step: while the process is being spawned the
// name is already reserved but the id is not yet in byID.
//
// The name is reserved in byName under the lock before create() spawns the
// process: checking uniqueness and then dropping the lock for the (slow,
// side-effecting) spawn would let two concurrent same-name requests both
// pass the check and race to insert, with the second clobbering the first's
// byName entry (§4.6 "serializable per key"). Reserving first closes that
// window; a failed spawn rolls the reservation back.
func (r *Registry) Create(opts CreateOptions) (*Session, error) {
	id := NewID()
	name := opts.Name
	if name == "" {
		name = id[:min(6, len(id))]
	}

	r.mu.Lock()
	if r.maxLen > 0 && len(r.byID) >= r.maxLen {
		r.mu.Unlock()
		return nil, fmt.Errorf("session: at capacity (%d sessions)", r.maxLen)
	}
	if _, taken := r.byName[name]; taken {
		r.mu.Unlock()
		return nil, fmt.Errorf("session: name %q already in use", name)
	}
	r.byName[name] = id
	r.mu.Unlock()

	s, err := create(id, opts, r.defaults)
	if err != nil {
		r.mu.Lock()
		delete(r.byName, name)
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	s.onExit = r.markExited
	r.byID[id] = s
	r.mu.Unlock()

	return s, nil
}

// markExited is invoked from a session's waiter goroutine on process exit.
// The registry keeps the session around (so List/Attach still work against
// an Exited session, per §8 scenario 6) until an explicit Remove.
func (r *Registry) markExited(*Session, int) {}

// Get resolves idOrName, trying id first then name (§4.6 "get").
func (r *Registry) Get(idOrName string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byID[idOrName]; ok {
		return s
	}
	if id, ok := r.byName[idOrName]; ok {
		return r.byID[id]
	}
	return nil
}

// List returns summaries of every session, ordered by created-at ascending
// (§4.6 "list", §4.5 dispatcher "List").
func (r *Registry) List() []Summary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	summaries := make([]Summary, len(sessions))
	for i, s := range sessions {
		summaries[i] = s.Summary()
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
	})
	return summaries
}

// Remove drops session from both maps (§4.6 "remove").
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, s.ID)
	if id, ok := r.byName[s.Name]; ok && id == s.ID {
		delete(r.byName, s.Name)
	}
}
