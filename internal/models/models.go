package models

import (
	"imagepipe/internal/batch"
	"imagepipe/internal/presets"
)

// RemoteRequest asks for derivative URLs of an image on a transformable host
type RemoteRequest struct {
	URL    string `json:"url"`
	Preset string `json:"preset"`
	WebP   bool   `json:"webp"`
}

// ResponsiveRequest asks for derivative URLs at several presets
type ResponsiveRequest struct {
	URL     string   `json:"url"`
	Presets []string `json:"presets"` // empty means every preset
	WebP    bool     `json:"webp"`
}

// ImportRequest downloads an image and optimizes it locally
type ImportRequest struct {
	URL     string `json:"url"`
	Preset  string `json:"preset"`
	Context string `json:"context"`
	Formats string `json:"formats"` // comma separated, e.g. "jpeg,webp"
}

// BatchRequest starts a batch run over server-side directories
type BatchRequest struct {
	Roots []string `json:"roots"`
}

// DerivativeInfo describes one produced derivative
type DerivativeInfo struct {
	Format      string `json:"format"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	Quality     int    `json:"quality"`
	Progressive bool   `json:"progressive,omitempty"`
	URL         string `json:"url,omitempty"` // remote derivatives only
}

// OptimizeResponse is returned by the optimize, import and remote endpoints
type OptimizeResponse struct {
	Success        bool             `json:"success"`
	Preset         string           `json:"preset"`
	Remote         bool             `json:"remote"`
	CacheHit       bool             `json:"cache_hit"`
	OriginalSize   int64            `json:"original_size_bytes,omitempty"`
	Derivatives    []DerivativeInfo `json:"derivatives"`
	SavingsPercent string           `json:"savings_percent,omitempty"`
	ProcessingTime string           `json:"processing_time_ms"`
}

// RemoteResponse maps format to derivative URL
type RemoteResponse struct {
	Success bool              `json:"success"`
	Preset  string            `json:"preset"`
	URLs    map[string]string `json:"urls"`
}

// ResponsiveResponse maps preset to format to derivative URL
type ResponsiveResponse struct {
	Success bool                         `json:"success"`
	Sets    map[string]map[string]string `json:"sets"`
}

// PublishResponse lists stored objects by preset
type PublishResponse struct {
	Success        bool                         `json:"success"`
	SourceID       string                       `json:"source_id"`
	Preset         string                       `json:"preset"`
	Locations      map[string]map[string]string `json:"locations"`
	ProcessingTime string                       `json:"processing_time_ms"`
}

// PresetsResponse lists the preset registry
type PresetsResponse struct {
	Success bool                 `json:"success"`
	Presets []presets.SizePreset `json:"presets"`
}

// BatchResponse wraps a batch report
type BatchResponse struct {
	Success bool          `json:"success"`
	Report  *batch.Report `json:"report"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   string                 `json:"timestamp"`
	VipsVersion string                 `json:"vips_version"`
	Stats       map[string]interface{} `json:"stats"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
