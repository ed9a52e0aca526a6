package discovery

import (
	"sort"
	"strconv"
	"strings"
)

// Preference is the quality policy used to rank variants: either Best, or the
// variant whose height is closest to Height.
type Preference struct {
	Best   bool
	Height int
}

// BestQuality ranks by bandwidth then height, both descending.
var BestQuality = Preference{Best: true}

// ParsePreference reads "best" or a target height such as "720p". Anything
// unparsable falls back to BestQuality.
func ParsePreference(s string) Preference {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "best" {
		return BestQuality
	}
	if h := firstInt(s); h > 0 {
		return Preference{Height: h}
	}
	return BestQuality
}

func (p Preference) String() string {
	if p.Best {
		return "best"
	}
	return strconv.Itoa(p.Height) + "p"
}

// ResolutionHeight returns the pixel height of a resolution. "WxH" yields H;
// anything else yields its first embedded integer, or 0.
func ResolutionHeight(res string) int {
	if w, h, ok := strings.Cut(strings.ToLower(res), "x"); ok {
		if _, err := strconv.Atoi(strings.TrimSpace(w)); err == nil {
			if n, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && n >= 0 {
				return n
			}
		}
	}
	return firstInt(res)
}

func firstInt(s string) int {
	start := -1
	for i, r := range s {
		if r >= '0' && r <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			n, _ := strconv.Atoi(s[start:i])
			return n
		}
	}
	if start < 0 {
		return 0
	}
	n, _ := strconv.Atoi(s[start:])
	return n
}

// better reports whether a ranks strictly ahead of b under p.
func (p Preference) better(a, b Variant) bool {
	ha, hb := ResolutionHeight(a.Resolution), ResolutionHeight(b.Resolution)
	if p.Best {
		if a.Bandwidth != b.Bandwidth {
			return a.Bandwidth > b.Bandwidth
		}
		return ha > hb
	}
	da, db := abs(ha-p.Height), abs(hb-p.Height)
	if da != db {
		return da < db
	}
	return a.Bandwidth > b.Bandwidth
}

// RankVariants returns a stably sorted copy of variants, preferred first.
func RankVariants(variants []Variant, p Preference) []Variant {
	if variants == nil {
		return nil
	}
	out := make([]Variant, len(variants))
	copy(out, variants)
	sort.SliceStable(out, func(i, j int) bool { return p.better(out[i], out[j]) })
	return out
}

// CanonicalVariant picks the single variant the room's default alias should
// point at, scanning rather than trusting list order. Ties keep the first seen.
func CanonicalVariant(variants []Variant, p Preference) (Variant, bool) {
	if len(variants) == 0 {
		return Variant{}, false
	}
	best := variants[0]
	for _, v := range variants[1:] {
		if p.better(v, best) {
			best = v
		}
	}
	return best, true
}

// AliasSuffix names a variant: "{H}p" from its resolution, or "{kbps}k" from
// its bandwidth when the resolution has no usable height.
func AliasSuffix(v Variant) string {
	if strings.Contains(strings.ToLower(v.Resolution), "x") {
		if h := ResolutionHeight(v.Resolution); h > 0 {
			return strconv.Itoa(h) + "p"
		}
	}
	return strconv.FormatInt(v.Bandwidth/1000, 10) + "k"
}

// VariantAliasName is the relay alias for a specific variant of room.
func VariantAliasName(room string, v Variant) string {
	return room + "_" + AliasSuffix(v)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
