package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"
)

// State is the externally visible state of a recording switch.
type State struct {
	Room      string `json:"room"`
	Armed     bool   `json:"armed"`
	Live      bool   `json:"live"`
	Recording bool   `json:"recording"`
	FilePath  string `json:"file_path,omitempty"`
	PID       int    `json:"pid,omitempty"`

	LastLiveStart         *time.Time `json:"last_live_start,omitempty"`
	LastLiveEnd           *time.Time `json:"last_live_end,omitempty"`
	LastStreamDurationSec *int64     `json:"last_stream_duration_sec,omitempty"`
	LastStreamDurationHR  string     `json:"last_stream_duration_hr,omitempty"`

	FileSizeBytes int64  `json:"file_size_bytes,omitempty"`
	FileSizeHR    string `json:"file_size_hr,omitempty"`
}

// Switch arms automatic recording for one room. While armed, a capture runs
// exactly when the room is live.
type Switch struct {
	room string
	rec  *Recorder
	log  *slog.Logger
	now  func() time.Time

	mu          sync.Mutex
	armed       bool
	live        bool
	streamStart time.Time
	last        State
}

// NewSwitch returns a disarmed Switch driving rec.
func NewSwitch(room string, rec *Recorder, log *slog.Logger) *Switch {
	return &Switch{room: room, rec: rec, log: log.With(slog.String("room", room)), now: time.Now}
}

// SetArmed arms or disarms the switch and applies the change immediately.
func (s *Switch) SetArmed(ctx context.Context, armed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.armed != armed {
		s.log.Info("recording switch changed", slog.Bool("armed", armed))
	}
	s.armed = armed
	return s.applyLocked(ctx)
}

// Sync records the room's live state and starts or stops the capture.
func (s *Switch) Sync(ctx context.Context, live bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.live = live
	return s.applyLocked(ctx)
}

// Shutdown stops any capture without disarming.
func (s *Switch) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rec.Running() {
		s.stopLocked(ctx)
	}
}

func (s *Switch) applyLocked(ctx context.Context) error {
	running := s.rec.Running()
	switch {
	case s.armed && s.live && !running:
		if _, err := s.rec.Start(); err != nil {
			s.log.Error("recording failed to start", slog.String("error", err.Error()))
			return err
		}
		if s.streamStart.IsZero() {
			s.streamStart = s.now().UTC()
			start := s.streamStart
			s.last.LastLiveStart = &start
		}
	case (!s.armed || !s.live) && running:
		s.stopLocked(ctx)
	}
	return nil
}

func (s *Switch) stopLocked(ctx context.Context) {
	s.rec.Stop(ctx)
	if s.streamStart.IsZero() {
		return
	}
	end := s.now().UTC()
	secs := int64(end.Sub(s.streamStart) / time.Second)
	s.last.LastLiveEnd = &end
	s.last.LastStreamDurationSec = &secs
	s.last.LastStreamDurationHR = HumanDuration(secs)
	s.streamStart = time.Time{}
}

// State returns the switch's current state.
func (s *Switch) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.last
	st.Room = s.room
	st.Armed = s.armed
	st.Live = s.live
	st.Recording = s.rec.Running()
	st.PID = s.rec.PID()
	st.FilePath = s.rec.CurrentFile()
	if st.FilePath != "" {
		if fi, err := os.Stat(st.FilePath); err == nil {
			st.FileSizeBytes = fi.Size()
			st.FileSizeHR = HumanSize(fi.Size())
		}
	}
	return st
}

// HumanDuration renders seconds as "1h 2m 3s", dropping leading zero units.
func HumanDuration(secs int64) string {
	h, rem := secs/3600, secs%3600
	m, s := rem/60, rem%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// HumanSize renders a byte count in GB from 1 GiB upward, otherwise in MB.
func HumanSize(n int64) string {
	const mib, gib = 1 << 20, 1 << 30
	if n >= gib {
		return fmt.Sprintf("%g GB", round(float64(n)/gib, 3))
	}
	return fmt.Sprintf("%g MB", round(float64(n)/mib, 2))
}

func round(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
