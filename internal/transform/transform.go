// Package transform turns decoded video frames into fixed-size grayscale
// pixel buffers and picks which frames of a video to keep.
package transform

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

var ErrEmptyCrop = errors.New("crop rectangle does not overlap the frame")

// Options describes the per-frame pipeline: crop, then resize, then grayscale.
type Options struct {
	// Crop is in source pixel coordinates. The zero rectangle keeps the
	// whole frame.
	Crop   image.Rectangle
	Width  int
	Height int
}

// FrameSize is the number of bytes Apply returns.
func (o Options) FrameSize() int {
	return o.Width * o.Height
}

// Apply crops, resizes and grayscales img, returning Height*Width luma
// bytes in row-major order.
func Apply(img image.Image, opts Options) ([]uint8, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", opts.Width, opts.Height)
	}

	src := img.Bounds()
	if !opts.Crop.Empty() {
		// Crop is relative to the frame origin
		crop := opts.Crop.Add(src.Min).Intersect(src)
		if crop.Empty() {
			return nil, fmt.Errorf("%w: %v not in %v", ErrEmptyCrop, opts.Crop, src)
		}
		src = crop
	}

	dst := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.BiLinear.Scale(dst, dst.Rect, img, src, draw.Src, nil)

	return Luma(dst), nil
}

// Luma converts an RGBA image to 8-bit grayscale using the ITU-R BT.601
// weights 0.299, 0.587 and 0.114.
func Luma(img *image.RGBA) []uint8 {
	b := img.Bounds()
	out := make([]uint8, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			r, g, bl := float64(row[4*x]), float64(row[4*x+1]), float64(row[4*x+2])
			gray := 0.299*r + 0.587*g + 0.114*bl
			out = append(out, uint8(gray+0.5))
		}
	}
	return out
}

// SampleIndices returns n frame indices spaced evenly over [0, total-1].
// Indices repeat when total < n; nil is returned when there is nothing
// to sample.
func SampleIndices(total, n int) []int {
	if total <= 0 || n <= 0 {
		return nil
	}
	out := make([]int, n)
	if n == 1 {
		return out
	}
	for i := range out {
		out[i] = i * (total - 1) / (n - 1)
	}
	return out
}
