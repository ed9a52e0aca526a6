package relay

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Mode selects how the relay is told to retrieve a source.
type Mode string

const (
	// ModePlain hands the relay the playback URL with inline header directives.
	ModePlain Mode = "plain"
	// ModeFFmpeg pipes the URL through ffmpeg with the headers on its command line.
	ModeFFmpeg Mode = "ffmpeg"
)

// PinnedUserAgent is the browser User-Agent the CDN expects on media requests.
const PinnedUserAgent = "Mozilla/5.0"

// ErrUnknownMode is returned by ParseMode for anything but plain or ffmpeg.
var ErrUnknownMode = errors.New("relay: unknown mode")

// ParseMode maps a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModePlain, "":
		return ModePlain, nil
	case ModeFFmpeg, "transcode":
		return ModeFFmpeg, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Source is what the relay needs to fetch one rendition of a room.
type Source struct {
	URL       string
	Referer   string
	UserAgent string
}

// NewSource builds a Source for room whose Referer is the room's canonical page
// under pageBase (e.g. https://chaturbate.com/alice/).
func NewSource(pageBase, room, mediaURL string) Source {
	return Source{
		URL:       mediaURL,
		Referer:   strings.TrimRight(pageBase, "/") + "/" + room + "/",
		UserAgent: PinnedUserAgent,
	}
}

// Spec renders src as a relay source string for this mode.
func (m Mode) Spec(src Source) string {
	if m == ModeFFmpeg {
		return "ffmpeg:" + src.URL + "#video=copy#audio=aac" +
			"#input=-headers 'Referer: " + src.Referer + "\r\nUser-Agent: " + src.UserAgent + "' -re -i {input}"
	}
	return src.URL + "#header=Referer:" + src.Referer + "#header=User-Agent:" + src.UserAgent
}

// RTSPURL is the relay's RTSP address for alias, on the host of publicBase.
func RTSPURL(publicBase string, port int, alias string) string {
	host := "127.0.0.1"
	if u, err := url.Parse(publicBase); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	return "rtsp://" + host + ":" + strconv.Itoa(port) + "/" + url.PathEscape(alias)
}

// FrameURL is the relay's JPEG snapshot endpoint for alias. Zero dimensions are omitted.
func FrameURL(publicBase, alias string, width, height int) string {
	q := url.Values{}
	q.Set("src", alias)
	if width > 0 {
		q.Set("width", strconv.Itoa(width))
	}
	if height > 0 {
		q.Set("height", strconv.Itoa(height))
	}
	return strings.TrimRight(publicBase, "/") + "/api/frame.jpeg?" + q.Encode()
}
