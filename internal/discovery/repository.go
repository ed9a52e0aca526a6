package discovery

import (
	"slices"
	"sync"
)

// Ledger remembers, per room, the status seen last cycle and the alias names
// registered at the relay. Only the coordinator's cycle writes to it.
type Ledger interface {
	// Previous returns the last recorded status and aliases for room.
	// Unseen rooms report StatusUnknown and no aliases.
	Previous(room string) (Status, []string)

	// Record replaces room's entry.
	Record(room string, status Status, aliases []string)

	// AliasCount returns the number of aliases recorded across all rooms.
	AliasCount() int
}

type ledgerEntry struct {
	status  Status
	aliases []string
}

// InMemoryLedger is a concurrency-safe Ledger. Rooms are refreshed in parallel,
// each touching only its own entry.
type InMemoryLedger struct {
	mu    sync.RWMutex
	rooms map[string]ledgerEntry
}

// NewInMemoryLedger returns an empty ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{rooms: make(map[string]ledgerEntry)}
}

// Previous implements Ledger.Previous.
func (l *InMemoryLedger) Previous(room string) (Status, []string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.rooms[room]
	if !ok {
		return StatusUnknown, nil
	}
	return e.status, slices.Clone(e.aliases)
}

// Record implements Ledger.Record.
func (l *InMemoryLedger) Record(room string, status Status, aliases []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rooms[room] = ledgerEntry{status: status, aliases: slices.Clone(aliases)}
}

// AliasCount implements Ledger.AliasCount.
func (l *InMemoryLedger) AliasCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, e := range l.rooms {
		n += len(e.aliases)
	}
	return n
}
