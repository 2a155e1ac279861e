package services

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/h2non/bimg"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

// Codec encodes a fitted pixel buffer into one output format.
type Codec interface {
	Format() Format
	// SupportsAlpha reports whether the format can carry transparency.
	// Images with alpha are flattened before reaching codecs that cannot.
	SupportsAlpha() bool
	Encode(w io.Writer, img image.Image, quality int, progressive bool) error
}

// Interlacer re-encodes a lossless image as a progressive JPEG.
type Interlacer func(lossless []byte, quality int) ([]byte, error)

// JPEGCodec writes baseline JPEG with the pure Go encoder and hands
// progressive requests to libvips, which the standard encoder cannot produce.
type JPEGCodec struct {
	Interlace Interlacer
}

// NewJPEGCodec returns a JPEG codec backed by libvips for progressive scans.
func NewJPEGCodec() *JPEGCodec {
	return &JPEGCodec{Interlace: vipsInterlace}
}

func (c *JPEGCodec) Format() Format      { return Primary }
func (c *JPEGCodec) SupportsAlpha() bool { return false }

func (c *JPEGCodec) Encode(w io.Writer, img image.Image, quality int, progressive bool) error {
	if !progressive {
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
	if c.Interlace == nil {
		return fmt.Errorf("progressive jpeg requested but no interlacer configured")
	}

	// Lossless intermediate: the JPEG encode is the only quantization step.
	var lossless bytes.Buffer
	if err := imaging.Encode(&lossless, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestSpeed)); err != nil {
		return fmt.Errorf("lossless intermediate: %w", err)
	}
	out, err := c.Interlace(lossless.Bytes(), quality)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func vipsInterlace(lossless []byte, quality int) ([]byte, error) {
	out, err := bimg.NewImage(lossless).Process(bimg.Options{
		Type:          bimg.JPEG,
		Quality:       quality,
		Interlace:     true,
		StripMetadata: true,
		Background:    bimg.Color{R: 255, G: 255, B: 255},
	})
	if err != nil {
		return nil, fmt.Errorf("vips interlace: %w", err)
	}
	return out, nil
}

// WebPCodec writes lossy WebP through libwebp.
type WebPCodec struct {
	Preset encoder.EncodingPreset
}

// NewWebPCodec returns a WebP codec tuned for photographic content.
func NewWebPCodec() *WebPCodec {
	return &WebPCodec{Preset: encoder.PresetPhoto}
}

func (c *WebPCodec) Format() Format      { return Secondary }
func (c *WebPCodec) SupportsAlpha() bool { return true }

func (c *WebPCodec) Encode(w io.Writer, img image.Image, quality int, _ bool) error {
	opts, err := encoder.NewLossyEncoderOptions(c.Preset, float32(quality))
	if err != nil {
		return fmt.Errorf("webp options: %w", err)
	}
	return webp.Encode(w, img, opts)
}

// VipsVersion reports the linked libvips version for health output.
func VipsVersion() string {
	return bimg.VipsVersion
}
