package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/craigst/cb-plug-in/internal/platform/logger"
)

// fakeUpstream serves the status endpoint at /status and playlists at /hls/.
type fakeUpstream struct {
	t *testing.T

	mu       sync.Mutex
	status   map[string]any
	code     int
	raw      string
	playlist string
	referers []string
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/status":
		if r.Method != http.MethodPost || r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			f.t.Errorf("unexpected status request: %s %v", r.Method, r.Header)
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("room_slug") == "" {
			f.t.Errorf("missing room_slug form value")
		}
		if f.code != 0 {
			w.WriteHeader(f.code)
		}
		if f.raw != "" {
			w.Write([]byte(f.raw))
			return
		}
		json.NewEncoder(w).Encode(f.status)
	case "/hls/master.m3u8":
		f.referers = append(f.referers, r.Header.Get("Referer"))
		if f.code != 0 {
			w.WriteHeader(f.code)
		}
		w.Write([]byte(f.playlist))
	default:
		http.NotFound(w, r)
	}
}

func newTestPoller(t *testing.T, f *fakeUpstream, timeout time.Duration) (*Poller, *httptest.Server) {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	p := NewPoller(srv.Client(), PollerOptions{
		StatusURL:    srv.URL + "/status",
		RoomPageBase: srv.URL + "/",
		UserAgent:    "test-agent",
		Timeout:      timeout,
	}, logger.Discard(), nil)
	return p, srv
}

func TestPoller_Poll_public(t *testing.T) {
	f := &fakeUpstream{status: map[string]any{
		"room_status":  "public",
		"url":          "https://cdn/x/master.m3u8",
		"title":        " hello ",
		"viewer_count": 12,
	}}
	p, _ := newTestPoller(t, f, time.Second)

	snap := p.Poll(context.Background(), "alice")
	if !snap.Public() || snap.Status != StatusPublic {
		t.Fatalf("expected public, got %+v", snap)
	}
	if snap.MasterURL != "https://cdn/x/master.m3u8" || snap.Title != "hello" {
		t.Errorf("fields: %+v", snap)
	}
	if snap.ViewerCount == nil || *snap.ViewerCount != 12 {
		t.Errorf("viewer count: %v", snap.ViewerCount)
	}
}

func TestPoller_Poll_not_public(t *testing.T) {
	cases := []struct {
		name   string
		status map[string]any
		token  string
	}{
		{"private", map[string]any{"room_status": "private", "url": "https://cdn/x.m3u8"}, "private"},
		{"public without url", map[string]any{"room_status": "public", "url": ""}, "public"},
		{"offline", map[string]any{"room_status": "offline"}, "offline"},
		{"no token", map[string]any{"viewer_count": "7"}, "offline"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p, _ := newTestPoller(t, &fakeUpstream{status: c.status}, time.Second)
			snap := p.Poll(context.Background(), "alice")
			if snap.Public() || snap.Status != StatusOffline {
				t.Errorf("expected offline, got %+v", snap)
			}
			if snap.RoomStatus != c.token {
				t.Errorf("raw token %q, want %q", snap.RoomStatus, c.token)
			}
		})
	}
}

func TestPoller_Poll_viewer_count_string(t *testing.T) {
	p, _ := newTestPoller(t, &fakeUpstream{status: map[string]any{"room_status": "away", "viewer_count": "42"}}, time.Second)
	snap := p.Poll(context.Background(), "alice")
	if snap.ViewerCount == nil || *snap.ViewerCount != 42 {
		t.Errorf("viewer count: %v", snap.ViewerCount)
	}
}

func TestPoller_Poll_failures_are_offline(t *testing.T) {
	cases := map[string]*fakeUpstream{
		"non-200":  {code: http.StatusBadGateway, status: map[string]any{"room_status": "public", "url": "https://cdn/x.m3u8"}},
		"non-json": {raw: "<html>cloudflare</html>"},
		"array":    {raw: `["public"]`},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			p, _ := newTestPoller(t, f, time.Second)
			snap := p.Poll(context.Background(), "alice")
			if snap.Public() || snap.RoomStatus != "offline" {
				t.Errorf("expected offline, got %+v", snap)
			}
		})
	}
}

func TestPoller_Poll_timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewPoller(srv.Client(), PollerOptions{StatusURL: srv.URL, Timeout: 50 * time.Millisecond}, logger.Discard(), nil)
	start := time.Now()
	snap := p.Poll(context.Background(), "alice")
	if snap.Public() {
		t.Errorf("timed out poll must be offline")
	}
	if time.Since(start) > time.Second {
		t.Errorf("poll did not honour timeout: %s", time.Since(start))
	}
}

func TestPoller_Poll_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	p := NewPoller(http.DefaultClient, PollerOptions{StatusURL: addr, Timeout: time.Second}, logger.Discard(), nil)
	if snap := p.Poll(context.Background(), "alice"); snap.Public() || snap.Room != "alice" {
		t.Errorf("unexpected %+v", snap)
	}
}

func TestPoller_FetchVariants(t *testing.T) {
	f := &fakeUpstream{playlist: "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=1280x720\n720p.m3u8\n"}
	p, srv := newTestPoller(t, f, time.Second)

	got, ok := p.FetchVariants(context.Background(), "alice", srv.URL+"/hls/master.m3u8")
	if !ok {
		t.Fatal("expected fetch to succeed")
	}
	want := []Variant{{Bandwidth: 800000, Resolution: "1280x720", URL: srv.URL + "/hls/720p.m3u8"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if len(f.referers) != 1 || f.referers[0] != srv.URL+"/alice/" {
		t.Errorf("referer: %v", f.referers)
	}
}

func TestPoller_FetchVariants_failure(t *testing.T) {
	f := &fakeUpstream{code: http.StatusForbidden, playlist: "#EXTM3U\n"}
	p, srv := newTestPoller(t, f, time.Second)

	got, ok := p.FetchVariants(context.Background(), "alice", srv.URL+"/hls/master.m3u8")
	if ok || got != nil {
		t.Errorf("expected failure, got %v %v", got, ok)
	}
	if _, ok := p.FetchVariants(context.Background(), "alice", "://bad"); ok {
		t.Error("bad url should fail")
	}
}
