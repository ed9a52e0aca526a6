package discovery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/craigst/cb-plug-in/internal/platform/metrics"
)

// maxBody bounds how much of an upstream reply is read.
const maxBody = 2 << 20

// PollerOptions configures a Poller.
type PollerOptions struct {
	StatusURL    string
	RoomPageBase string
	UserAgent    string
	Timeout      time.Duration
}

// Poller fetches room status and master playlists from upstream. It has no
// failure mode: every problem degrades to an offline room or to no variants.
type Poller struct {
	client  *http.Client
	opts    PollerOptions
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewPoller returns a Poller sharing client across all requests.
func NewPoller(client *http.Client, opts PollerOptions, log *slog.Logger, m *metrics.Metrics) *Poller {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	opts.RoomPageBase = strings.TrimRight(opts.RoomPageBase, "/")
	return &Poller{client: client, opts: opts, log: log, metrics: m, now: time.Now}
}

// Poll asks the upstream status endpoint about room.
func (p *Poller) Poll(ctx context.Context, room string) RoomSnapshot {
	payload := p.fetchStatus(ctx, room)
	return snapshotFromPayload(room, payload, p.now().UTC())
}

func (p *Poller) fetchStatus(ctx context.Context, room string) map[string]any {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("room_slug", room)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.opts.StatusURL, strings.NewReader(form.Encode()))
	if err != nil {
		p.log.Error("build status request", slog.String("room", room), slog.String("error", err.Error()))
		return nil
	}
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", p.opts.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.IncPollFailure("transport")
		p.log.Warn("status fetch failed", slog.String("room", room), slog.String("error", err.Error()))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.metrics.IncPollFailure("status")
		p.log.Warn("status fetch returned non-200", slog.String("room", room), slog.Int("status", resp.StatusCode))
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		p.metrics.IncPollFailure("transport")
		p.log.Warn("status body read failed", slog.String("room", room), slog.String("error", err.Error()))
		return nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		p.metrics.IncPollFailure("decode")
		p.log.Debug("status body is not a JSON object",
			slog.String("room", room),
			slog.String("error", err.Error()),
			slog.String("body", truncate(string(body), 200)))
		return nil
	}
	return payload
}

// snapshotFromPayload normalizes a status payload. A nil payload is an offline room.
func snapshotFromPayload(room string, payload map[string]any, at time.Time) RoomSnapshot {
	snap := offlineSnapshot(room, at)
	if token := strings.ToLower(stringField(payload, "room_status")); token != "" {
		snap.RoomStatus = token
	}
	snap.Title = stringField(payload, "title")
	snap.ViewerCount = intField(payload, "viewer_count")

	if masterURL := stringField(payload, "url"); snap.RoomStatus == string(StatusPublic) && masterURL != "" {
		snap.Status = StatusPublic
		snap.MasterURL = masterURL
	}
	return snap
}

// FetchVariants downloads and parses room's master playlist. ok is false when
// the playlist could not be fetched; the room is still public in that case.
func (p *Poller) FetchVariants(ctx context.Context, room, masterURL string) (variants []Variant, ok bool) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, masterURL, nil)
	if err != nil {
		p.metrics.IncPollFailure("manifest")
		p.log.Warn("bad master playlist url", slog.String("room", room), slog.String("error", err.Error()))
		return nil, false
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Referer", p.opts.RoomPageBase+"/"+room+"/")

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.IncPollFailure("manifest")
		p.log.Warn("master playlist fetch failed", slog.String("room", room), slog.String("error", err.Error()))
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.metrics.IncPollFailure("manifest")
		p.log.Warn("master playlist returned non-200", slog.String("room", room), slog.Int("status", resp.StatusCode))
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		p.metrics.IncPollFailure("manifest")
		p.log.Warn("master playlist read failed", slog.String("room", room), slog.String("error", err.Error()))
		return nil, false
	}

	variants = ParseMasterPlaylist(string(body), masterURL)
	if len(variants) == 0 {
		p.log.Debug("master playlist has no stream-inf entries", slog.String("room", room))
	}
	return variants, true
}

// CloseIdleConnections releases the shared client's idle connections.
func (p *Poller) CloseIdleConnections() {
	p.client.CloseIdleConnections()
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// intField accepts JSON numbers and numeric strings.
func intField(m map[string]any, key string) *int {
	switch v := m[key].(type) {
	case float64:
		n := int(v)
		return &n
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return &n
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
