package discovery

import (
	"bufio"
	"net/url"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

const streamInfTag = "#EXT-X-STREAM-INF:"

// ParseMasterPlaylist extracts the variants of an HLS master playlist in
// manifest order. Each #EXT-X-STREAM-INF line is paired with the next
// non-comment line, resolved against manifestURL. Missing or unparsable
// BANDWIDTH / RESOLUTION attributes become 0 / "". Anything else is ignored,
// so the result is empty rather than an error for malformed input.
func ParseMasterPlaylist(text, manifestURL string) []Variant {
	base, baseErr := url.Parse(manifestURL)
	if baseErr != nil {
		base = nil
	}

	variants := []Variant{}
	var pending *Variant

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, streamInfTag):
			// A stream-inf without a URI line is dropped in favour of the next one.
			v := parseStreamInf(line[len(streamInfTag):])
			pending = &v
		case strings.HasPrefix(line, "#"):
			continue
		case pending != nil:
			pending.URL = resolveURI(base, line)
			variants = append(variants, *pending)
			pending = nil
		}
	}
	return variants
}

// parseStreamInf reads BANDWIDTH and RESOLUTION from an attribute list.
func parseStreamInf(attrs string) Variant {
	var v Variant
	for key, val := range attributeList(attrs) {
		switch key {
		case "BANDWIDTH":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil && n >= 0 {
				v.Bandwidth = n
			}
		case "RESOLUTION":
			v.Resolution = val
		}
	}
	return v
}

// attributeList splits KEY=VALUE pairs on commas outside double quotes.
// Quoted values are returned without their quotes.
func attributeList(s string) map[string]string {
	out := make(map[string]string)
	var field strings.Builder
	inQuotes := false
	flush := func() {
		k, v, ok := strings.Cut(field.String(), "=")
		field.Reset()
		if !ok {
			return
		}
		k = strings.ToUpper(strings.TrimSpace(k))
		v = strings.Trim(strings.TrimSpace(v), `"`)
		if _, seen := out[k]; k != "" && !seen {
			out[k] = v
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			field.WriteRune(r)
		case r == ',' && !inQuotes:
			flush()
		default:
			field.WriteRune(r)
		}
	}
	flush()
	return out
}

func resolveURI(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// BuildMasterPlaylist renders variants, in the given order, as an HLS master playlist.
func BuildMasterPlaylist(variants []Variant) string {
	p := m3u8.NewMasterPlaylist()
	for _, v := range variants {
		bw := v.Bandwidth
		if bw > int64(^uint32(0)) {
			bw = int64(^uint32(0))
		}
		p.Append(v.URL, nil, m3u8.VariantParams{
			Bandwidth:  uint32(bw),
			Resolution: v.Resolution,
		})
	}
	return p.String()
}
