package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/craigst/cb-plug-in/internal/platform/metrics"
	"github.com/craigst/cb-plug-in/internal/reconcile"
	"github.com/craigst/cb-plug-in/internal/relay"
)

// Relay is the subset of the relay client the coordinator drives. Both calls
// are idempotent; errors are informational only.
type Relay interface {
	Upsert(ctx context.Context, name, src string) error
	Remove(ctx context.Context, name string) error
}

// Upstream fetches room status and master playlists. *Poller implements it.
type Upstream interface {
	Poll(ctx context.Context, room string) RoomSnapshot
	FetchVariants(ctx context.Context, room, masterURL string) ([]Variant, bool)
	CloseIdleConnections()
}

// Options configures a Coordinator.
type Options struct {
	Rooms          []string
	ExposeVariants bool
	Preference     Preference
	Mode           relay.Mode
	RoomPageBase   string

	// Concurrency caps simultaneous room refreshes; <= 0 means one per room.
	Concurrency int
}

// Coordinator runs discovery cycles: poll every room, register aliases for
// public rooms, remove aliases of rooms that went offline, publish a snapshot.
type Coordinator struct {
	opts     Options
	upstream Upstream
	relay    Relay
	ledger   Ledger
	store    Store
	bus      *Broadcaster
	log      *slog.Logger
	metrics  *metrics.Metrics

	// cycleMu serializes cycles so the ledger sees one cycle at a time.
	cycleMu sync.Mutex

	life   context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewCoordinator wires a Coordinator with an in-memory ledger and store.
func NewCoordinator(opts Options, upstream Upstream, rl Relay, log *slog.Logger, m *metrics.Metrics) *Coordinator {
	if opts.Mode == "" {
		opts.Mode = relay.ModePlain
	}
	if opts.Preference == (Preference{}) {
		opts.Preference = BestQuality
	}
	life, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		opts:     opts,
		upstream: upstream,
		relay:    rl,
		ledger:   NewInMemoryLedger(),
		store:    NewAtomicStore(),
		bus:      NewBroadcaster(),
		log:      log,
		metrics:  m,
		life:     life,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Rooms returns the configured room names.
func (c *Coordinator) Rooms() []string {
	return append([]string(nil), c.opts.Rooms...)
}

// Options returns the coordinator's configuration.
func (c *Coordinator) Options() Options {
	o := c.opts
	o.Rooms = c.Rooms()
	return o
}

// Snapshot returns the latest published snapshot, or nil before the first cycle.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.store.Load()
}

// Subscribe returns a channel that receives every newly published snapshot
// (latest wins) and a cancel func.
func (c *Coordinator) Subscribe() (<-chan *Snapshot, func()) {
	return c.bus.Subscribe()
}

// Refresh runs one discovery cycle and returns the snapshot it published.
// It never fails: a room that cannot be polled is reported offline. After
// Close, Refresh returns the last snapshot without running.
func (c *Coordinator) Refresh(ctx context.Context) *Snapshot {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	if c.life.Err() != nil {
		return c.store.Load()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	start := c.now()
	cycleID := uuid.NewString()
	log := c.log.With(slog.String("cycle_id", cycleID))

	results := make([]RoomSnapshot, len(c.opts.Rooms))
	g, gctx := errgroup.WithContext(ctx)
	if c.opts.Concurrency > 0 {
		g.SetLimit(c.opts.Concurrency)
	}
	for i, room := range c.opts.Rooms {
		g.Go(func() error {
			results[i] = c.refreshRoom(gctx, log, room)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		log.Info("discovery cycle abandoned", slog.String("reason", context.Cause(ctx).Error()))
		return c.store.Load()
	}

	snap := NewSnapshot(cycleID, c.now().UTC(), results)
	c.store.Swap(snap)
	c.bus.Publish(snap)

	public := len(snap.PublicRooms())
	c.metrics.SetPublicRooms(public)
	c.metrics.SetAliases(c.ledger.AliasCount())
	c.metrics.ObserveCycle(c.now().Sub(start))
	log.Debug("discovery cycle complete",
		slog.Int("rooms", snap.Len()),
		slog.Int("public", public),
		slog.Int("duration_ms", int(c.now().Sub(start).Milliseconds())))
	return snap
}

// refreshRoom is the per-room unit of work. A panic anywhere inside is
// contained here and the room reported offline.
func (c *Coordinator) refreshRoom(ctx context.Context, log *slog.Logger, room string) (snap RoomSnapshot) {
	log = log.With(slog.String("room", room))
	defer func() {
		if r := recover(); r != nil {
			c.metrics.IncPollFailure("panic")
			log.Error("room refresh panicked",
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())))
			snap = offlineSnapshot(room, c.now().UTC())
		}
	}()

	snap = c.upstream.Poll(ctx, room)
	if ctx.Err() != nil {
		// Cancelled mid-poll; the answer says nothing about the room.
		return offlineSnapshot(room, snap.ObservedAt)
	}

	prevStatus, prevAliases := c.ledger.Previous(room)

	if !snap.Public() {
		snap.Variants, snap.AliasNames = nil, nil
		if len(prevAliases) > 0 {
			if prevStatus == StatusPublic {
				log.Info("room left public, removing aliases",
					slog.String("room_status", snap.RoomStatus),
					slog.Any("aliases", prevAliases))
			}
			// Aliases the relay did not confirm removed stay recorded for the next cycle.
			prevAliases = c.removeAliases(ctx, prevAliases)
		}
		c.ledger.Record(room, snap.Status, prevAliases)
		return snap
	}

	if prevStatus != StatusPublic {
		log.Info("room is public", slog.String("title", snap.Title))
	}

	variants, fetched := c.upstream.FetchVariants(ctx, room, snap.MasterURL)
	ranked := RankVariants(variants, c.opts.Preference)
	if fetched {
		snap.Variants = ranked
		if snap.Variants == nil {
			snap.Variants = []Variant{}
		}
	}

	names := c.registerAliases(ctx, room, snap.MasterURL, ranked)

	recorded := names

	_, stale := reconcile.Diff(toSet(names), toSet(prevAliases))
	switch {
	case len(stale) == 0:
	case fetched && ctx.Err() == nil:
		// Variant aliases that disappeared while the room stayed public.
		// Failed removals stay recorded and are retried next cycle.
		log.Info("removing stale variant aliases", slog.Any("aliases", stale))
		recorded = append(slices.Clone(names), c.removeAliases(ctx, stale)...)
	default:
		// Without a playlist the previous variant aliases are kept as they are.
		names = append(names, stale...)
		recorded = names
	}

	snap.AliasNames = names
	c.ledger.Record(room, StatusPublic, recorded)
	return snap
}

// registerAliases upserts the room's default alias and, when enabled, one
// alias per distinct variant suffix. It returns the alias names in use,
// default first.
func (c *Coordinator) registerAliases(ctx context.Context, room, masterURL string, ranked []Variant) []string {
	target := masterURL
	if best, ok := CanonicalVariant(ranked, c.opts.Preference); ok {
		target = best.URL
	}
	c.upsert(ctx, room, room, target)
	names := []string{room}

	if !c.opts.ExposeVariants {
		return names
	}
	seen := map[string]struct{}{room: {}}
	for _, v := range ranked {
		name := VariantAliasName(room, v)
		// A repeated suffix is not upserted again: ranked order means the
		// first one is the better rendition and the alias keeps pointing there.
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		c.upsert(ctx, room, name, v.URL)
		names = append(names, name)
	}
	return names
}

func (c *Coordinator) upsert(ctx context.Context, room, alias, mediaURL string) {
	src := c.opts.Mode.Spec(relay.NewSource(c.opts.RoomPageBase, room, mediaURL))
	_ = c.relay.Upsert(ctx, alias, src)
}

// removeAliases removes each alias and returns the ones whose removal failed.
func (c *Coordinator) removeAliases(ctx context.Context, aliases []string) (failed []string) {
	for _, name := range aliases {
		if err := c.relay.Remove(ctx, name); err != nil {
			failed = append(failed, name)
		}
	}
	return failed
}

// Close cancels any in-flight cycle, stops further cycles, drops subscribers
// and releases idle upstream connections.
func (c *Coordinator) Close() {
	c.cancel()
	c.bus.Close()
	c.upstream.CloseIdleConnections()
}

func toSet(keys []string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}
