package services

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// FocalPoint is the point of interest in normalized coordinates, (0,0) top
// left and (1,1) bottom right. The crop window is centered on it as far as the
// image edges allow.
type FocalPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Center is the focal point used when the caller supplies none.
var Center = FocalPoint{X: 0.5, Y: 0.5}

// CropRect returns the largest window of the target aspect ratio that fits in
// a srcW x srcH image, positioned around focal. Excess is removed from the
// longer axis only.
func CropRect(srcW, srcH, dstW, dstH int, focal *FocalPoint) image.Rectangle {
	fp := Center
	if focal != nil {
		fp = FocalPoint{X: clampUnit(focal.X), Y: clampUnit(focal.Y)}
	}

	cw, ch := srcW, srcH
	if srcW*dstH > srcH*dstW {
		cw = int(math.Round(float64(srcH) * float64(dstW) / float64(dstH)))
	} else {
		ch = int(math.Round(float64(srcW) * float64(dstH) / float64(dstW)))
	}
	cw = clamp(cw, 1, srcW)
	ch = clamp(ch, 1, srcH)

	x0 := clamp(int(math.Round(fp.X*float64(srcW)-float64(cw)/2)), 0, srcW-cw)
	y0 := clamp(int(math.Round(fp.Y*float64(srcH)-float64(ch)/2)), 0, srcH-ch)
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

// Fit crops img to the target aspect ratio and resizes it to exactly w x h.
// Sources smaller than the target are upscaled.
func Fit(img image.Image, w, h int, focal *FocalPoint) *image.NRGBA {
	b := img.Bounds()
	r := CropRect(b.Dx(), b.Dy(), w, h, focal).Add(b.Min)
	return imaging.Resize(imaging.Crop(img, r), w, h, imaging.Lanczos)
}

// Flatten composites img over a solid background, dropping the alpha channel.
func Flatten(img image.Image, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), bg)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	return math.Max(0, math.Min(1, v))
}
