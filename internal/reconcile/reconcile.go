// Package reconcile keeps a materialized set of named resources convergent with
// a desired set that is recomputed from scratch on every pass.
package reconcile

import (
	"sort"
	"sync"
)

// Diff returns the keys of wants missing from known (add) and the keys of known
// missing from wants (remove), both sorted.
func Diff[M any, R any](wants map[string]M, known map[string]R) (add, remove []string) {
	for k := range wants {
		if _, ok := known[k]; !ok {
			add = append(add, k)
		}
	}
	for k := range known {
		if _, ok := wants[k]; !ok {
			remove = append(remove, k)
		}
	}
	sort.Strings(add)
	sort.Strings(remove)
	return add, remove
}

// Config parameterizes a Reconciler. S is the state the desired set is derived
// from, M the metadata needed to create a resource, R the created resource.
type Config[S any, M any, R any] struct {
	// Wants derives the full desired set from state. Called once per pass.
	Wants func(state S) map[string]M

	// Create materializes one resource. It runs inline.
	Create func(key string, meta M) R

	// Destroy tears one resource down. It runs through Dispatch.
	Destroy func(key string, res R)

	// Dispatch schedules a destroy. Defaults to a new goroutine; tests pass a
	// synchronous func.
	Dispatch func(fn func())
}

// Reconciler owns the known set for one resource family.
type Reconciler[S any, M any, R any] struct {
	cfg Config[S, M, R]

	mu    sync.Mutex
	known map[string]R
}

// New returns a Reconciler with an empty known set.
func New[S any, M any, R any](cfg Config[S, M, R]) *Reconciler[S, M, R] {
	if cfg.Dispatch == nil {
		cfg.Dispatch = func(fn func()) { go fn() }
	}
	return &Reconciler[S, M, R]{cfg: cfg, known: make(map[string]R)}
}

// Reconcile runs one pass against state and returns the keys it created and
// the keys it scheduled for destruction. A key that is already known and still
// wanted is left alone even if its metadata changed.
func (r *Reconciler[S, M, R]) Reconcile(state S) (added, removed []string) {
	wants := r.cfg.Wants(state)

	r.mu.Lock()
	defer r.mu.Unlock()

	added, removed = Diff(wants, r.known)
	for _, key := range added {
		r.known[key] = r.cfg.Create(key, wants[key])
	}
	for _, key := range removed {
		res := r.known[key]
		delete(r.known, key)
		r.scheduleDestroyLocked(key, res)
	}
	return added, removed
}

// Known returns the currently materialized keys, sorted.
func (r *Reconciler[S, M, R]) Known() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(r.known))
	for k := range r.known {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the resource materialized under key.
func (r *Reconciler[S, M, R]) Get(key string) (R, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.known[key]
	return res, ok
}

// Len returns the number of materialized resources.
func (r *Reconciler[S, M, R]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.known)
}

// Teardown destroys every known resource and empties the known set.
func (r *Reconciler[S, M, R]) Teardown() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make([]string, 0, len(r.known))
	for key, res := range r.known {
		removed = append(removed, key)
		delete(r.known, key)
		r.scheduleDestroyLocked(key, res)
	}
	sort.Strings(removed)
	return removed
}

// scheduleDestroyLocked hands the destroy to Dispatch. Caller must hold r.mu.
func (r *Reconciler[S, M, R]) scheduleDestroyLocked(key string, res R) {
	if r.cfg.Destroy == nil {
		return
	}
	r.cfg.Dispatch(func() { r.cfg.Destroy(key, res) })
}
