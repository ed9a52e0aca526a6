package recorder

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/craigst/cb-plug-in/internal/discovery"
	"github.com/craigst/cb-plug-in/internal/platform/metrics"
	"github.com/craigst/cb-plug-in/internal/relay"
)

// ErrUnknownRoom is returned for a room that is not configured.
var ErrUnknownRoom = errors.New("unknown room")

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Rooms           []string
	PublicRelayBase string
	RTSPPort        int
	BaseDir         string

	// NewCommand overrides the capture process; nil means ffmpeg.
	NewCommand CommandFunc
}

// Manager owns one recording switch per configured room.
type Manager struct {
	rooms    []string
	switches map[string]*Switch
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewManager creates a disarmed switch for every room. Each records the
// room's default relay alias over RTSP.
func NewManager(opts ManagerOptions, log *slog.Logger, m *metrics.Metrics) *Manager {
	if opts.RTSPPort <= 0 {
		opts.RTSPPort = 8554
	}
	base := ResolveBaseDir(opts.BaseDir)
	mgr := &Manager{
		rooms:    append([]string(nil), opts.Rooms...),
		switches: make(map[string]*Switch, len(opts.Rooms)),
		log:      log,
		metrics:  m,
	}
	for _, room := range opts.Rooms {
		input := relay.RTSPURL(opts.PublicRelayBase, opts.RTSPPort, room)
		rec := NewRecorder(input, base, room, opts.NewCommand, log)
		mgr.switches[room] = NewSwitch(room, rec, log)
	}
	log.Info("recorder ready", slog.String("base_dir", base), slog.Int("rooms", len(opts.Rooms)))
	return mgr
}

// Apply syncs every switch with snap. Switches run in parallel since a stop
// can take up to StopTimeout.
func (m *Manager) Apply(ctx context.Context, snap *discovery.Snapshot) {
	var g errgroup.Group
	for _, room := range m.rooms {
		sw := m.switches[room]
		live := snap.IsLive(room)
		g.Go(func() error {
			_ = sw.Sync(ctx, live)
			return nil
		})
	}
	_ = g.Wait()
	m.metrics.SetRecordings(m.Recording())
}

// Arm sets room's switch and returns its resulting state. A start failure is
// returned alongside the state; the switch stays armed.
func (m *Manager) Arm(ctx context.Context, room string, armed bool) (State, error) {
	sw, ok := m.switches[room]
	if !ok {
		return State{}, ErrUnknownRoom
	}
	err := sw.SetArmed(ctx, armed)
	m.metrics.SetRecordings(m.Recording())
	return sw.State(), err
}

// State returns room's switch state.
func (m *Manager) State(room string) (State, error) {
	sw, ok := m.switches[room]
	if !ok {
		return State{}, ErrUnknownRoom
	}
	return sw.State(), nil
}

// States returns every switch state in configured order.
func (m *Manager) States() []State {
	out := make([]State, 0, len(m.rooms))
	for _, room := range m.rooms {
		out = append(out, m.switches[room].State())
	}
	return out
}

// Recording returns how many captures are running.
func (m *Manager) Recording() int {
	n := 0
	for _, sw := range m.switches {
		if sw.rec.Running() {
			n++
		}
	}
	return n
}

// StopAll ends every capture, in parallel, leaving switches armed.
func (m *Manager) StopAll(ctx context.Context) {
	var g errgroup.Group
	for _, sw := range m.switches {
		g.Go(func() error {
			sw.Shutdown(ctx)
			return nil
		})
	}
	_ = g.Wait()
	m.metrics.SetRecordings(0)
}
