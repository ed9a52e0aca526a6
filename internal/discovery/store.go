package discovery

import "sync/atomic"

// Store holds the latest published Snapshot. Publication is a pointer swap;
// readers never observe a partially built snapshot.
type Store interface {
	Load() *Snapshot
	Swap(s *Snapshot) (previous *Snapshot)
}

// AtomicStore is a lock-free in-memory Store.
type AtomicStore struct {
	p atomic.Pointer[Snapshot]
}

// NewAtomicStore returns an empty store; Load returns nil until the first Swap.
func NewAtomicStore() *AtomicStore {
	return &AtomicStore{}
}

// Load implements Store.Load.
func (s *AtomicStore) Load() *Snapshot {
	return s.p.Load()
}

// Swap implements Store.Swap.
func (s *AtomicStore) Swap(snap *Snapshot) *Snapshot {
	return s.p.Swap(snap)
}
