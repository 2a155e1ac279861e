package pipeline

import (
	"net/url"
	"path"

	"imagepipe/internal/presets"
	"imagepipe/internal/services"
)

// Source is where an image comes from. It is either BytesSource or
// RemoteSource.
type Source interface {
	isSource()
}

// BytesSource is an uploaded or locally read image.
type BytesSource struct {
	Data     []byte
	Filename string
}

// RemoteSource is an image addressed by URL.
type RemoteSource struct {
	URL string
}

func (BytesSource) isSource()  {}
func (RemoteSource) isSource() {}

// Request carries the per-call options shared by every source kind.
type Request struct {
	// ContextHint is free text around the image (caption, markup, alt text).
	ContextHint string
	// Preset, when set, overrides classification.
	Preset          string
	Formats         []services.Format
	QualityOverride *int
	Progressive     bool
	Focal           *services.FocalPoint
}

func (r Request) wantsSecondary() bool {
	for _, f := range r.Formats {
		if f == services.Secondary {
			return true
		}
	}
	return false
}

// OptimizeRequest is a local optimization of raw bytes.
type OptimizeRequest struct {
	Data     []byte
	Filename string
	Request
}

// PublishRequest optimizes and stores an image. SourceID names the stored
// objects; a random id is generated when it is empty.
type PublishRequest struct {
	OptimizeRequest
	SourceID string
}

// Result is the outcome of one optimization.
type Result struct {
	Remote       bool
	Preset       presets.SizePreset
	Derivatives  services.DerivativeSet
	OriginalSize int64
	CacheHit     bool
}

// Publication lists the stored objects of one published image.
type Publication struct {
	SourceID    string
	Preset      presets.SizePreset
	Derivatives map[string]services.DerivativeSet
	Locations   map[string]map[services.Format]string
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "/" || base == "." {
		return ""
	}
	return base
}
