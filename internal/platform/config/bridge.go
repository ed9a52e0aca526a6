package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/craigst/cb-plug-in/internal/relay"
)

// Scan interval bounds, in seconds.
const (
	MinScanInterval     = 5
	MaxScanInterval     = 300
	DefaultScanInterval = 30
)

const (
	DefaultRelayURL     = "http://127.0.0.1:1984"
	DefaultStatusURL    = "https://chaturbate.com/get_edge_hls_url_ajax/"
	DefaultRoomPageBase = "https://chaturbate.com"
	DefaultUserAgent    = "HA-CB-Bridge/1.0"
	DefaultRecordBase   = "/media/chaturbate"
	DefaultQuality      = "best"
	DefaultMode         = "plain"
)

// ErrInvalidQuality is returned for a QUALITY that is neither "best" nor "<height>p".
var ErrInvalidQuality = errors.New("invalid quality preference")

// Bridge is the full runtime configuration of the bridge service.
type Bridge struct {
	Port      string
	LogLevel  string
	LogFormat string

	Rooms           []string
	ScanInterval    time.Duration
	RequestTimeout  time.Duration
	PollConcurrency int

	StatusURL    string
	RoomPageBase string
	UserAgent    string

	RelayURL        string
	PublicRelayBase string
	RelayMaxRetries int
	Mode            string
	ExposeVariants  bool
	Quality         string
	RTSPPort        int

	RecordBase string
}

// FromEnv assembles a Bridge from the process environment. Call Load first to
// pick up a .env file.
func FromEnv() (Bridge, error) {
	relayURL := strings.TrimRight(GetEnv("GO2RTC_URL", DefaultRelayURL), "/")
	cfg := Bridge{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		Rooms:           NormalizeRooms(GetEnvList("ROOMS")),
		ScanInterval:    ClampScanInterval(GetEnvInt("SCAN_INTERVAL", DefaultScanInterval)),
		RequestTimeout:  GetEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		PollConcurrency: GetEnvInt("POLL_CONCURRENCY", 0),

		StatusURL:    GetEnv("STATUS_URL", DefaultStatusURL),
		RoomPageBase: strings.TrimRight(GetEnv("ROOM_PAGE_BASE", DefaultRoomPageBase), "/"),
		UserAgent:    GetEnv("USER_AGENT", DefaultUserAgent),

		RelayURL:        relayURL,
		PublicRelayBase: strings.TrimRight(GetEnv("PUBLIC_GO2RTC_BASE", relayURL), "/"),
		RelayMaxRetries: GetEnvInt("RELAY_MAX_RETRIES", 2),
		Mode:            strings.ToLower(GetEnv("STREAM_MODE", DefaultMode)),
		ExposeVariants:  GetEnvBool("EXPOSE_VARIANTS", true),
		Quality:         strings.ToLower(GetEnv("QUALITY", DefaultQuality)),
		RTSPPort:        GetEnvInt("RTSP_PORT", 8554),

		RecordBase: GetEnv("RECORD_BASE", DefaultRecordBase),
	}
	if err := cfg.Validate(); err != nil {
		return Bridge{}, err
	}
	mode, _ := relay.ParseMode(cfg.Mode)
	cfg.Mode = string(mode)
	return cfg, nil
}

// Validate checks the settings that have no safe fallback.
func (c Bridge) Validate() error {
	if _, err := relay.ParseMode(c.Mode); err != nil {
		return err
	}
	if !ValidQuality(c.Quality) {
		return fmt.Errorf("%w: %q", ErrInvalidQuality, c.Quality)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// ClampScanInterval bounds seconds to [MinScanInterval, MaxScanInterval].
func ClampScanInterval(seconds int) time.Duration {
	if seconds < MinScanInterval {
		seconds = MinScanInterval
	}
	if seconds > MaxScanInterval {
		seconds = MaxScanInterval
	}
	return time.Duration(seconds) * time.Second
}

// NormalizeRooms lower-cases and de-duplicates room names, keeping first-seen order.
func NormalizeRooms(rooms []string) []string {
	seen := make(map[string]struct{}, len(rooms))
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// ValidQuality reports whether q is "best" or a height such as "720p".
func ValidQuality(q string) bool {
	if q == "best" {
		return true
	}
	if !strings.HasSuffix(q, "p") || len(q) < 2 {
		return false
	}
	for _, c := range q[:len(q)-1] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
