package entities

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// CameraView is the JSON form of a Camera.
type CameraView struct {
	UniqueID     string `json:"unique_id"`
	Name         string `json:"name"`
	Room         string `json:"room"`
	Alias        string `json:"alias"`
	Available    bool   `json:"available"`
	StreamSource string `json:"stream_source"`
	SnapshotURL  string `json:"snapshot_url"`
}

// NewCameraView describes c.
func NewCameraView(c *Camera) CameraView {
	return CameraView{
		UniqueID:     c.UniqueID(),
		Name:         c.Name(),
		Room:         c.Room,
		Alias:        c.Alias,
		Available:    c.Available(),
		StreamSource: c.StreamSource(),
		SnapshotURL:  c.SnapshotURL(0, 0),
	}
}

// Handler serves the camera family over HTTP.
type Handler struct {
	cameras *CameraSet
	client  *http.Client
	log     *slog.Logger
}

// NewHandler returns a Handler. client is used to proxy frames from the relay.
func NewHandler(cameras *CameraSet, client *http.Client, log *slog.Logger) *Handler {
	return &Handler{cameras: cameras, client: client, log: log}
}

// ListCameras handles GET /cameras.
func (h *Handler) ListCameras(w http.ResponseWriter, r *http.Request) {
	cams := h.cameras.List()
	views := make([]CameraView, 0, len(cams))
	for _, c := range cams {
		views = append(views, NewCameraView(c))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

// GetFrame handles GET /cameras/{alias}/frame.jpeg?width=&height=.
func (h *Handler) GetFrame(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")
	cam, ok := h.cameras.Get(alias)
	if !ok || !cam.Available() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	width, _ := strconv.Atoi(r.URL.Query().Get("width"))
	height, _ := strconv.Atoi(r.URL.Query().Get("height"))
	img, err := cam.Image(r.Context(), h.client, width, height)
	if err != nil {
		h.log.Warn("snapshot fetch failed", slog.String("alias", alias), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}
