// Package entities derives the objects a home-automation frontend consumes
// from published discovery snapshots. Cameras follow the set of live relay
// aliases and are kept convergent by a reconcile.Reconciler.
package entities

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/craigst/cb-plug-in/internal/discovery"
	"github.com/craigst/cb-plug-in/internal/platform/metrics"
	"github.com/craigst/cb-plug-in/internal/reconcile"
	"github.com/craigst/cb-plug-in/internal/relay"
)

// maxFrameBytes bounds a proxied snapshot image.
const maxFrameBytes = 8 << 20

// CameraSpec is the metadata a camera is created from.
type CameraSpec struct {
	Room  string
	Alias string
	Title string
}

// DesiredCameras returns the cameras that should exist for snap: the default
// alias of every public configured room, plus its variant aliases when expose
// is set. Rooms are taken from the configured list, not from the snapshot.
// The default camera is labelled with the quality preference its alias follows.
func DesiredCameras(snap *discovery.Snapshot, rooms []string, expose bool, pref discovery.Preference) map[string]CameraSpec {
	label := " (" + pref.String() + ")"
	wants := make(map[string]CameraSpec)
	for _, room := range rooms {
		st, ok := snap.Room(room)
		if !ok || !st.Public() {
			continue
		}
		wants[room] = CameraSpec{Room: room, Alias: room, Title: room + label}
		if !expose {
			continue
		}
		for _, name := range st.AliasNames {
			if _, dup := wants[name]; dup {
				continue
			}
			suffix := strings.TrimPrefix(name, room+"_")
			wants[name] = CameraSpec{Room: room, Alias: name, Title: room + " " + suffix}
		}
	}
	return wants
}

// Camera exposes one relay alias. It stays valid after removal but reports
// itself unavailable.
type Camera struct {
	CameraSpec

	relayBase string
	rtspPort  int
	live      func(room string) bool
	removed   atomic.Bool
}

// UniqueID is stable for the alias across restarts.
func (c *Camera) UniqueID() string { return "cb_cam_" + c.Alias }

// Name is the display name.
func (c *Camera) Name() string { return "CB " + c.Title }

// Available reports whether the camera's room is public in the latest snapshot.
func (c *Camera) Available() bool {
	return !c.removed.Load() && c.live(c.Room)
}

// Removed reports whether the camera has been torn down.
func (c *Camera) Removed() bool { return c.removed.Load() }

// StreamSource is the relay's RTSP address for the alias.
func (c *Camera) StreamSource() string {
	return relay.RTSPURL(c.relayBase, c.rtspPort, c.Alias)
}

// SnapshotURL is the relay's JPEG frame endpoint for the alias.
func (c *Camera) SnapshotURL(width, height int) string {
	return relay.FrameURL(c.relayBase, c.Alias, width, height)
}

// Image fetches a still frame from the relay.
func (c *Camera) Image(ctx context.Context, client *http.Client, width, height int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SnapshotURL(width, height), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("frame %s: %w", c.Alias, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("frame %s: status %d", c.Alias, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
}

// CameraOptions configures a CameraSet.
type CameraOptions struct {
	Rooms           []string
	ExposeVariants  bool
	Preference      discovery.Preference
	PublicRelayBase string
	RTSPPort        int

	// Dispatch runs camera teardown; nil means a new goroutine.
	Dispatch func(fn func())
}

// CameraSet owns the camera family.
type CameraSet struct {
	opts    CameraOptions
	latest  atomic.Pointer[discovery.Snapshot]
	rec     *reconcile.Reconciler[*discovery.Snapshot, CameraSpec, *Camera]
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewCameraSet returns an empty CameraSet.
func NewCameraSet(opts CameraOptions, log *slog.Logger, m *metrics.Metrics) *CameraSet {
	if opts.RTSPPort <= 0 {
		opts.RTSPPort = 8554
	}
	if opts.Preference == (discovery.Preference{}) {
		opts.Preference = discovery.BestQuality
	}
	opts.PublicRelayBase = strings.TrimRight(opts.PublicRelayBase, "/")
	s := &CameraSet{opts: opts, log: log, metrics: m}
	s.rec = reconcile.New(reconcile.Config[*discovery.Snapshot, CameraSpec, *Camera]{
		Wants: func(snap *discovery.Snapshot) map[string]CameraSpec {
			return DesiredCameras(snap, s.opts.Rooms, s.opts.ExposeVariants, s.opts.Preference)
		},
		Create:   s.create,
		Destroy:  s.destroy,
		Dispatch: opts.Dispatch,
	})
	return s
}

func (s *CameraSet) create(alias string, spec CameraSpec) *Camera {
	s.log.Info("camera added", slog.String("alias", alias), slog.String("room", spec.Room))
	return &Camera{
		CameraSpec: spec,
		relayBase:  s.opts.PublicRelayBase,
		rtspPort:   s.opts.RTSPPort,
		live:       s.isLive,
	}
}

func (s *CameraSet) destroy(alias string, c *Camera) {
	c.removed.Store(true)
	s.log.Info("camera removed", slog.String("alias", alias), slog.String("room", c.Room))
}

func (s *CameraSet) isLive(room string) bool {
	return s.latest.Load().IsLive(room)
}

// Sync converges the camera family on snap.
func (s *CameraSet) Sync(snap *discovery.Snapshot) (added, removed []string) {
	s.latest.Store(snap)
	added, removed = s.rec.Reconcile(snap)
	s.metrics.SetCameras(s.rec.Len())
	return added, removed
}

// List returns the live cameras sorted by alias.
func (s *CameraSet) List() []*Camera {
	keys := s.rec.Known()
	out := make([]*Camera, 0, len(keys))
	for _, k := range keys {
		if c, ok := s.rec.Get(k); ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Get returns the camera for alias.
func (s *CameraSet) Get(alias string) (*Camera, bool) {
	return s.rec.Get(alias)
}

// Len returns the number of cameras.
func (s *CameraSet) Len() int {
	return s.rec.Len()
}

// Teardown removes every camera.
func (s *CameraSet) Teardown() {
	removed := s.rec.Teardown()
	s.metrics.SetCameras(0)
	if len(removed) > 0 {
		s.log.Info("cameras torn down", slog.Int("count", len(removed)))
	}
}
