package services

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// photo draws a smooth scene with mild sensor-like noise, close enough to a
// photograph for codec size comparisons.
func photo(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	phase := rng.Float64() * math.Pi
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			fx, fy := float64(x)/float64(w), float64(y)/float64(h)
			r := 128 + 100*math.Sin(3*fx+phase)
			g := 128 + 90*math.Cos(4*fy-phase)
			b := 128 + 80*math.Sin(2*(fx+fy))
			n := rng.Float64()*12 - 6
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(clampF(r + n)),
				G: uint8(clampF(g + n)),
				B: uint8(clampF(b + n)),
				A: 255,
			})
		}
	}
	return img
}

func clampF(v float64) float64 {
	return math.Max(0, math.Min(255, v))
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// stubCodec records calls and writes a fixed payload.
type stubCodec struct {
	format      Format
	alpha       bool
	calls       int
	lastQuality int
	lastImage   image.Image
}

func (s *stubCodec) Format() Format      { return s.format }
func (s *stubCodec) SupportsAlpha() bool { return s.alpha }

func (s *stubCodec) Encode(w io.Writer, img image.Image, quality int, _ bool) error {
	s.calls++
	s.lastQuality = quality
	s.lastImage = img
	_, err := w.Write([]byte("stub-" + string(s.format)))
	return err
}
