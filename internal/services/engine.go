package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"imagepipe/internal/pool"
	"imagepipe/internal/presets"
)

// DefaultMaxInputBytes bounds the memory a single source can pull in.
const DefaultMaxInputBytes int64 = 50 * 1024 * 1024

// DefaultMaxPixels bounds the decoded size of a single source. A compressed
// file well under the byte ceiling can still declare dimensions whose pixel
// buffer would exhaust memory.
const DefaultMaxPixels int64 = 100_000_000

// TransformOptions are the per-request knobs of the engine.
type TransformOptions struct {
	Formats         []Format
	Progressive     bool
	QualityOverride *int
	Focal           *FocalPoint
}

// Engine decodes, fits and re-encodes images. It is safe for concurrent use.
type Engine struct {
	maxInputBytes int64
	maxPixels     int64
	codecs        map[Format]Codec
	buffers       *pool.BufferPool
	decode        func(io.Reader) (image.Image, error)
	background    color.Color

	mu    sync.RWMutex
	stats EngineStats
}

// EngineStats tracks transform metrics
type EngineStats struct {
	TotalTransforms  int64
	FailedTransforms int64
	AvgTransformTime time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithMaxInputBytes sets the source size ceiling.
func WithMaxInputBytes(n int64) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxInputBytes = n
		}
	}
}

// WithMaxPixels sets the width x height ceiling checked before decoding.
func WithMaxPixels(n int64) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxPixels = n
		}
	}
}

// WithBufferPool shares an encode buffer pool.
func WithBufferPool(bp *pool.BufferPool) EngineOption {
	return func(e *Engine) {
		if bp != nil {
			e.buffers = bp
		}
	}
}

// WithCodec registers or replaces the codec for its format.
func WithCodec(c Codec) EngineOption {
	return func(e *Engine) {
		e.codecs[c.Format()] = c
	}
}

// NewEngine creates an engine with the JPEG and WebP codecs.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		maxInputBytes: DefaultMaxInputBytes,
		maxPixels:     DefaultMaxPixels,
		codecs: map[Format]Codec{
			Primary:   NewJPEGCodec(),
			Secondary: NewWebPCodec(),
		},
		decode:     decodeOriented,
		background: color.White,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.buffers == nil {
		e.buffers = pool.NewBufferPool(4, 256*1024, 16*1024*1024)
	}
	return e
}

func decodeOriented(r io.Reader) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

// MaxInputBytes returns the configured source ceiling.
func (e *Engine) MaxInputBytes() int64 {
	return e.maxInputBytes
}

// CheckSize rejects sources above the ceiling without looking at their bytes.
func (e *Engine) CheckSize(n int64) error {
	if n > e.maxInputBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrOversizeInput, n, e.maxInputBytes)
	}
	return nil
}

// MaxPixels returns the configured decoded size ceiling.
func (e *Engine) MaxPixels() int64 {
	return e.maxPixels
}

// CheckDimensions reads only the image header and rejects sources whose
// declared pixel count exceeds the ceiling.
func (e *Engine) CheckDimensions(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: empty image (%dx%d)", ErrDecode, cfg.Width, cfg.Height)
	}
	if px := int64(cfg.Width) * int64(cfg.Height); px > e.maxPixels {
		return fmt.Errorf("%w: %dx%d is %d pixels (max %d)", ErrOversizeInput, cfg.Width, cfg.Height, px, e.maxPixels)
	}
	return nil
}

// Decode reads data into a pixel buffer, applying EXIF orientation. Metadata
// does not survive past this point.
func (e *Engine) Decode(data []byte) (image.Image, error) {
	if err := e.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if err := e.CheckDimensions(data); err != nil {
		return nil, err
	}

	img, err := e.decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image (%dx%d)", ErrDecode, b.Dx(), b.Dy())
	}
	return img, nil
}

// Transform produces the derivative set for data at preset.
func (e *Engine) Transform(ctx context.Context, data []byte, preset presets.SizePreset, opts TransformOptions) (DerivativeSet, error) {
	sets, err := e.TransformPresets(ctx, data, []presets.SizePreset{preset}, opts)
	if err != nil {
		return nil, err
	}
	return sets[0], nil
}

// TransformPresets decodes data once and renders it at every preset, in
// order. Each set starts from the original pixels.
func (e *Engine) TransformPresets(ctx context.Context, data []byte, sizes []presets.SizePreset, opts TransformOptions) ([]DerivativeSet, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := e.Decode(data)
	if err != nil {
		e.recordFailure()
		return nil, err
	}

	sets := make([]DerivativeSet, 0, len(sizes))
	for _, sp := range sizes {
		set, err := e.Render(ctx, src, sp, opts)
		if err != nil {
			e.recordFailure()
			return nil, err
		}
		sets = append(sets, set)
	}

	e.recordSuccess(time.Since(start))
	return sets, nil
}

// Render fits an already decoded source to preset and encodes every requested
// format. Callers producing several presets from one upload decode once and
// call Render per preset, so each derivative starts from the original pixels.
func (e *Engine) Render(ctx context.Context, src image.Image, preset presets.SizePreset, opts TransformOptions) (DerivativeSet, error) {
	fitted := Fit(src, preset.Width, preset.Height, opts.Focal)

	var flat image.Image
	set := make(DerivativeSet, len(opts.Formats)+1)
	for _, f := range NormalizeFormats(opts.Formats) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		codec, ok := e.codecs[f]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
		}

		img := image.Image(fitted)
		if !codec.SupportsAlpha() && !isOpaque(fitted) {
			if flat == nil {
				flat = Flatten(fitted, e.background)
			}
			img = flat
		}

		quality := EffectiveQuality(f, preset, opts.QualityOverride)
		progressive := opts.Progressive && f == Primary

		buf := e.buffers.Get()
		if err := codec.Encode(buf, img, quality, progressive); err != nil {
			e.buffers.Put(buf)
			return nil, fmt.Errorf("%w: %s: %w", ErrEncode, f, err)
		}
		data := e.buffers.Detach(buf)

		set[f] = Derivative{
			Format:      f,
			Data:        data,
			Width:       preset.Width,
			Height:      preset.Height,
			Size:        int64(len(data)),
			Quality:     quality,
			Progressive: progressive,
		}
	}

	return set, nil
}

func (e *Engine) recordSuccess(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.TotalTransforms++
	e.stats.AvgTransformTime = (e.stats.AvgTransformTime*time.Duration(e.stats.TotalTransforms-1) + d) / time.Duration(e.stats.TotalTransforms)
}

func (e *Engine) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.FailedTransforms++
}

// GetStats returns current statistics
func (e *Engine) GetStats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// BufferStats exposes the encode buffer pool counters.
func (e *Engine) BufferStats() pool.BufferPoolStats {
	return e.buffers.GetStats()
}
