package discovery

import "sync"

// Broadcaster fans published snapshots out to subscribers. Each subscriber has
// a one-slot mailbox holding the newest snapshot; a slow subscriber skips
// intermediate snapshots instead of blocking the publisher.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan *Snapshot
	nextID int
}

// NewBroadcaster returns a Broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan *Snapshot)}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan *Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *Snapshot, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers s to every subscriber without blocking.
func (b *Broadcaster) Publish(s *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Mailbox full: drop the stale snapshot and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// Len returns the number of live subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close unregisters every subscriber and closes their channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
