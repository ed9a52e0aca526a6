package discovery

import (
	"slices"
	"sort"
	"time"
)

// Status is the normalized availability of a room.
type Status string

const (
	// StatusPublic means the upstream reported "public" and a playback URL.
	StatusPublic Status = "public"
	// StatusOffline covers every other upstream answer, including failures.
	StatusOffline Status = "offline"
	// StatusUnknown is reported for rooms that have not been polled yet.
	StatusUnknown Status = "unknown"
)

// Variant is one bitrate/resolution rendition listed in a master playlist.
type Variant struct {
	Bandwidth  int64  `json:"bandwidth"`
	Resolution string `json:"resolution"`
	URL        string `json:"url"`
}

// RoomSnapshot is the result of one poll of one room. It is replaced wholesale
// every cycle. Variants and AliasNames are only set when Status is public.
type RoomSnapshot struct {
	Room        string    `json:"room"`
	Status      Status    `json:"status"`
	RoomStatus  string    `json:"room_status"`
	MasterURL   string    `json:"url,omitempty"`
	Title       string    `json:"title,omitempty"`
	ViewerCount *int      `json:"viewer_count,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
	Variants    []Variant `json:"variants,omitempty"`
	AliasNames  []string  `json:"variant_stream_names,omitempty"`
}

// Public reports whether the room was public when observed.
func (r RoomSnapshot) Public() bool {
	return r.Status == StatusPublic && r.MasterURL != ""
}

func (r RoomSnapshot) clone() RoomSnapshot {
	r.Variants = slices.Clone(r.Variants)
	r.AliasNames = slices.Clone(r.AliasNames)
	return r
}

// offlineSnapshot is the default answer for a room when nothing usable came back.
func offlineSnapshot(room string, at time.Time) RoomSnapshot {
	return RoomSnapshot{Room: room, Status: StatusOffline, RoomStatus: string(StatusOffline), ObservedAt: at}
}

// Snapshot is the immutable result of one discovery cycle. Readers share it
// without locking; nothing mutates it after publication.
type Snapshot struct {
	CycleID     string
	CompletedAt time.Time

	rooms map[string]RoomSnapshot
	names []string
}

// NewSnapshot freezes rooms into a Snapshot.
func NewSnapshot(cycleID string, completedAt time.Time, rooms []RoomSnapshot) *Snapshot {
	s := &Snapshot{
		CycleID:     cycleID,
		CompletedAt: completedAt,
		rooms:       make(map[string]RoomSnapshot, len(rooms)),
		names:       make([]string, 0, len(rooms)),
	}
	for _, r := range rooms {
		if _, dup := s.rooms[r.Room]; !dup {
			s.names = append(s.names, r.Room)
		}
		s.rooms[r.Room] = r.clone()
	}
	sort.Strings(s.names)
	return s
}

// Room returns a copy of the named room's snapshot. Safe on a nil Snapshot.
func (s *Snapshot) Room(name string) (RoomSnapshot, bool) {
	if s == nil {
		return RoomSnapshot{}, false
	}
	r, ok := s.rooms[name]
	if !ok {
		return RoomSnapshot{}, false
	}
	return r.clone(), true
}

// Rooms returns copies of every room snapshot, sorted by room name.
func (s *Snapshot) Rooms() []RoomSnapshot {
	if s == nil {
		return nil
	}
	out := make([]RoomSnapshot, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, s.rooms[n].clone())
	}
	return out
}

// PublicRooms returns the public subset of Rooms.
func (s *Snapshot) PublicRooms() []RoomSnapshot {
	var out []RoomSnapshot
	for _, r := range s.Rooms() {
		if r.Public() {
			out = append(out, r)
		}
	}
	return out
}

// IsLive reports whether room was public in this snapshot.
func (s *Snapshot) IsLive(room string) bool {
	r, ok := s.Room(room)
	return ok && r.Public()
}

// Len returns the number of rooms in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}
