package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// Engine is what the HTTP layer needs from the coordinator.
type Engine interface {
	Rooms() []string
	Snapshot() *Snapshot
	Refresh(ctx context.Context) *Snapshot
	Subscribe() (<-chan *Snapshot, func())
}

// RoomView is the externally visible state of one configured room: the status
// sensor value with its attributes, plus the online flag.
type RoomView struct {
	Room               string     `json:"room"`
	Status             string     `json:"status"`
	Online             bool       `json:"online"`
	URL                string     `json:"url,omitempty"`
	Title              string     `json:"title,omitempty"`
	ViewerCount        *int       `json:"viewer_count,omitempty"`
	LastChanged        *time.Time `json:"last_changed,omitempty"`
	Variants           []Variant  `json:"variants,omitempty"`
	VariantStreamNames []string   `json:"variant_stream_names,omitempty"`
}

// NewRoomView describes room as of snap. A room absent from snap is "unknown".
func NewRoomView(room string, snap *Snapshot) RoomView {
	st, ok := snap.Room(room)
	if !ok {
		return RoomView{Room: room, Status: string(StatusUnknown)}
	}
	observed := st.ObservedAt
	return RoomView{
		Room:               room,
		Status:             st.RoomStatus,
		Online:             st.Public(),
		URL:                st.MasterURL,
		Title:              st.Title,
		ViewerCount:        st.ViewerCount,
		LastChanged:        &observed,
		Variants:           st.Variants,
		VariantStreamNames: st.AliasNames,
	}
}

// SnapshotView is the JSON form of a whole snapshot.
type SnapshotView struct {
	CycleID     string     `json:"cycle_id,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Rooms       []RoomView `json:"rooms"`
}

// NewSnapshotView describes every configured room as of snap.
func NewSnapshotView(rooms []string, snap *Snapshot) SnapshotView {
	v := SnapshotView{Rooms: make([]RoomView, 0, len(rooms))}
	if snap != nil {
		at := snap.CompletedAt
		v.CycleID, v.CompletedAt = snap.CycleID, &at
	}
	for _, r := range rooms {
		v.Rooms = append(v.Rooms, NewRoomView(r, snap))
	}
	return v
}

// Handler exposes discovery state over HTTP using go-chi.
type Handler struct {
	engine   Engine
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler serving engine's state.
func NewHandler(engine Engine, log *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ListRooms handles GET /rooms.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewSnapshotView(h.engine.Rooms(), h.engine.Snapshot()))
}

// GetRoom handles GET /rooms/{room}.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.configuredRoom(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, NewRoomView(room, h.engine.Snapshot()))
}

// GetMasterPlaylist handles GET /rooms/{room}/master.m3u8, re-emitting the
// room's variants in ranked order.
func (h *Handler) GetMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	room, ok := h.configuredRoom(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	st, ok := h.engine.Snapshot().Room(room)
	if !ok || !st.Public() || len(st.Variants) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(BuildMasterPlaylist(st.Variants)))
}

// Refresh handles POST /refresh by running a cycle inline. The cycle is not
// tied to the request: a client hanging up must not abandon it.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	snap := h.engine.Refresh(context.WithoutCancel(r.Context()))
	h.log.Info("manual refresh", slog.Int("public", len(snap.PublicRooms())))
	writeJSON(w, http.StatusOK, NewSnapshotView(h.engine.Rooms(), snap))
}

func (h *Handler) configuredRoom(r *http.Request) (string, bool) {
	room := strings.ToLower(chi.URLParam(r, "room"))
	if room == "" || !slices.Contains(h.engine.Rooms(), room) {
		return "", false
	}
	return room, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
