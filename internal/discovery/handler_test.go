package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/craigst/cb-plug-in/internal/platform/logger"
)

type staticEngine struct {
	rooms     []string
	snap      *Snapshot
	bus       *Broadcaster
	refreshes atomic.Int32
}

func newStaticEngine(snap *Snapshot, rooms ...string) *staticEngine {
	return &staticEngine{rooms: rooms, snap: snap, bus: NewBroadcaster()}
}

func (e *staticEngine) Rooms() []string     { return e.rooms }
func (e *staticEngine) Snapshot() *Snapshot { return e.snap }
func (e *staticEngine) Subscribe() (<-chan *Snapshot, func()) {
	return e.bus.Subscribe()
}

func (e *staticEngine) Refresh(ctx context.Context) *Snapshot {
	e.refreshes.Add(1)
	return e.snap
}

func testSnapshot() *Snapshot {
	views := 3
	return NewSnapshot("cycle-1", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), []RoomSnapshot{
		{
			Room: "alice", Status: StatusPublic, RoomStatus: "public",
			MasterURL: "https://cdn/x/master.m3u8", Title: "hi", ViewerCount: &views,
			Variants: []Variant{
				{Bandwidth: 800000, Resolution: "1280x720", URL: "https://cdn/x/720p.m3u8"},
				{Bandwidth: 300000, Resolution: "640x360", URL: "https://cdn/x/360p.m3u8"},
			},
			AliasNames: []string{"alice", "alice_720p", "alice_360p"},
		},
		{Room: "bob", Status: StatusOffline, RoomStatus: "away"},
	})
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/rooms", h.ListRooms)
	r.Get("/rooms/{room}", h.GetRoom)
	r.Get("/rooms/{room}/master.m3u8", h.GetMasterPlaylist)
	r.Post("/refresh", h.Refresh)
	r.Get("/ws", h.Stream)
	return r
}

func TestHandler_ListRooms(t *testing.T) {
	e := newStaticEngine(testSnapshot(), "alice", "bob", "carol")
	r := newTestRouter(NewHandler(e, logger.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got SnapshotView
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CycleID != "cycle-1" || len(got.Rooms) != 3 {
		t.Fatalf("unexpected view: %+v", got)
	}
	status := map[string]string{}
	online := map[string]bool{}
	for _, v := range got.Rooms {
		status[v.Room], online[v.Room] = v.Status, v.Online
	}
	if status["alice"] != "public" || !online["alice"] {
		t.Errorf("alice: %s %v", status["alice"], online["alice"])
	}
	if status["bob"] != "away" || online["bob"] {
		t.Errorf("bob: %s %v", status["bob"], online["bob"])
	}
	if status["carol"] != "unknown" {
		t.Errorf("unpolled room should be unknown, got %s", status["carol"])
	}
}

func TestHandler_ListRooms_before_first_cycle(t *testing.T) {
	r := newTestRouter(NewHandler(newStaticEngine(nil, "alice"), logger.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms", nil))

	var got SnapshotView
	json.NewDecoder(rec.Body).Decode(&got)
	if got.CycleID != "" || got.CompletedAt != nil || len(got.Rooms) != 1 || got.Rooms[0].Status != "unknown" {
		t.Errorf("unexpected view: %+v", got)
	}
}

func TestHandler_GetRoom(t *testing.T) {
	r := newTestRouter(NewHandler(newStaticEngine(testSnapshot(), "alice", "bob"), logger.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/Alice", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got RoomView
	json.NewDecoder(rec.Body).Decode(&got)
	if got.URL != "https://cdn/x/master.m3u8" || got.ViewerCount == nil || *got.ViewerCount != 3 {
		t.Errorf("unexpected room: %+v", got)
	}
	if len(got.VariantStreamNames) != 3 || got.LastChanged == nil {
		t.Errorf("attributes missing: %+v", got)
	}
}

func TestHandler_GetRoom_not_configured(t *testing.T) {
	r := newTestRouter(NewHandler(newStaticEngine(testSnapshot(), "alice"), logger.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/bob", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_GetMasterPlaylist(t *testing.T) {
	r := newTestRouter(NewHandler(newStaticEngine(testSnapshot(), "alice", "bob"), logger.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/alice/master.m3u8", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != playlistContentType {
		t.Errorf("content type %q", ct)
	}
	got := ParseMasterPlaylist(rec.Body.String(), "")
	if len(got) != 2 || got[0].URL != "https://cdn/x/720p.m3u8" {
		t.Errorf("playlist variants: %+v", got)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/bob/master.m3u8", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("offline room: expected 404, got %d", rec.Code)
	}
}

func TestHandler_Refresh(t *testing.T) {
	e := newStaticEngine(testSnapshot(), "alice")
	r := newTestRouter(NewHandler(e, logger.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if e.refreshes.Load() != 1 {
		t.Errorf("refreshes = %d", e.refreshes.Load())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/refresh", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /refresh: expected 405, got %d", rec.Code)
	}
}

func TestHandler_Stream(t *testing.T) {
	e := newStaticEngine(testSnapshot(), "alice", "bob")
	srv := httptest.NewServer(newTestRouter(NewHandler(e, logger.Discard())))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first SnapshotView
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial view: %v", err)
	}
	if first.CycleID != "cycle-1" {
		t.Errorf("initial view cycle %q", first.CycleID)
	}

	// Wait for the server side to subscribe before publishing.
	for i := 0; e.bus.Len() == 0 && i < 100; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	e.bus.Publish(NewSnapshot("cycle-2", time.Now(), nil))

	var next SnapshotView
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read pushed view: %v", err)
	}
	if next.CycleID != "cycle-2" || next.Rooms[0].Status != "unknown" {
		t.Errorf("pushed view: %+v", next)
	}
}

func TestHandler_Refresh_survives_client_disconnect(t *testing.T) {
	up := newScriptedUpstream()
	up.setPublic("alice", "https://cdn/x/master.m3u8",
		Variant{Bandwidth: 800000, Resolution: "1280x720", URL: "https://cdn/x/720p.m3u8"})
	c, stub := newTestCoordinator(t, Options{Rooms: []string{"alice"}, ExposeVariants: true}, up)

	ctx, cancel := context.WithCancel(context.Background())
	up.setOnFetch(func(context.Context, string) { cancel() })

	r := newTestRouter(NewHandler(c, logger.Discard()))
	req := httptest.NewRequest(http.MethodPost, "/refresh", nil).WithContext(ctx)
	r.ServeHTTP(httptest.NewRecorder(), req)

	snap := c.Snapshot()
	if snap == nil {
		t.Fatal("cycle should be published even though the request was cancelled")
	}
	alice, _ := snap.Room("alice")
	if len(alice.Variants) != 1 || !reflect.DeepEqual(alice.AliasNames, []string{"alice", "alice_720p"}) {
		t.Errorf("cycle did not complete: %+v", alice)
	}
	if _, ok := stub.Streams()["alice_720p"]; !ok {
		t.Error("variant alias should be registered")
	}
}
