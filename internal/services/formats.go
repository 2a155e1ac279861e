package services

import (
	"fmt"
	"sort"
	"strings"

	"imagepipe/internal/presets"
)

// Format is an encoded output format.
type Format string

const (
	// Primary is the universally supported raster format.
	Primary Format = "jpeg"
	// Secondary is the more efficient modern format.
	Secondary Format = "webp"
)

// ParseFormat accepts either the role name or the codec name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "jpeg", "jpg":
		return Primary, nil
	case "secondary", "webp":
		return Secondary, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// ParseFormats parses a comma separated list. An empty string yields the
// primary format only.
func ParseFormats(s string) ([]Format, error) {
	if strings.TrimSpace(s) == "" {
		return []Format{Primary}, nil
	}
	var out []Format
	for _, part := range strings.Split(s, ",") {
		f, err := ParseFormat(part)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return NormalizeFormats(out), nil
}

// NormalizeFormats dedupes formats, guarantees the primary format is present,
// and orders primary first.
func NormalizeFormats(formats []Format) []Format {
	seen := map[Format]bool{Primary: true}
	out := []Format{Primary}
	for _, f := range formats {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Extension is the file extension used by the storage naming convention.
func (f Format) Extension() string {
	if f == Primary {
		return "jpg"
	}
	return string(f)
}

// ContentType is the MIME type of the encoded bytes.
func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Clamp ranges applied to quality overrides.
const (
	minPrimaryOverride   = 10
	maxPrimaryOverride   = 100
	minSecondaryOverride = 5
	maxSecondaryOverride = 95
	secondaryOffset      = 10
)

// EffectiveQuality merges a caller override with the preset. The secondary
// format runs one tier lower since it reaches the same perceived quality at a
// lower nominal setting.
func EffectiveQuality(f Format, p presets.SizePreset, override *int) int {
	switch f {
	case Secondary:
		if override == nil {
			return p.SecondaryQuality
		}
		return clamp(*override-secondaryOffset, minSecondaryOverride, maxSecondaryOverride)
	default:
		if override == nil {
			return p.PrimaryQuality
		}
		return clamp(*override, minPrimaryOverride, maxPrimaryOverride)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Derivative is one encoded output. Local derivatives carry Data, remote ones
// carry URL.
type Derivative struct {
	Format      Format `json:"format"`
	Data        []byte `json:"-"`
	URL         string `json:"url,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Size        int64  `json:"size_bytes"`
	Quality     int    `json:"quality"`
	Progressive bool   `json:"progressive,omitempty"`
}

// DerivativeSet holds the derivatives produced for a single request.
type DerivativeSet map[Format]Derivative

// Formats returns the formats in the set, primary first.
func (s DerivativeSet) Formats() []Format {
	out := make([]Format, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i] == Primary {
			return true
		}
		if out[j] == Primary {
			return false
		}
		return out[i] < out[j]
	})
	return out
}

// Smallest returns the derivative with the fewest bytes.
func (s DerivativeSet) Smallest() (Derivative, bool) {
	var best Derivative
	found := false
	for _, f := range s.Formats() {
		d := s[f]
		if !found || d.Size < best.Size {
			best, found = d, true
		}
	}
	return best, found
}

// TotalSize sums the byte size of every derivative.
func (s DerivativeSet) TotalSize() int64 {
	var n int64
	for _, d := range s {
		n += d.Size
	}
	return n
}
