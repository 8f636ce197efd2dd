// Package vision wraps the OpenCV primitives used by the quality assessor,
// the preprocessing engine and the region optimizer.
//
// Every exported function takes and returns *image.Gray so callers never own
// a gocv.Mat; the Mats created here are closed before returning.
package vision

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// dense returns the pixel buffer of g as a contiguous row-major slice.
// The slice aliases g when g is already dense with a zero origin.
func dense(g *image.Gray) (int, int, []uint8) {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if b.Min == (image.Point{}) && g.Stride == w {
		return w, h, g.Pix[:w*h]
	}
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		off := g.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out[y*w:(y+1)*w], g.Pix[off:off+w])
	}
	return w, h, out
}

// NewGray wraps a dense pixel buffer as an image.
func NewGray(w, h int, pix []uint8) *image.Gray {
	return &image.Gray{Pix: pix, Stride: w, Rect: image.Rect(0, 0, w, h)}
}

// Clone returns a dense copy of g.
func Clone(g *image.Gray) *image.Gray {
	w, h, pix := dense(g)
	out := make([]uint8, len(pix))
	copy(out, pix)
	return NewGray(w, h, out)
}

func isEmpty(g *image.Gray) bool {
	return g == nil || g.Bounds().Empty()
}

// toMat loads g into a single channel 8-bit Mat. The caller closes it.
func toMat(g *image.Gray) gocv.Mat {
	w, h, pix := dense(g)
	m, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8U, pix)
	if err != nil {
		panic(fmt.Sprintf("vision: cannot load %dx%d image: %v", w, h, err))
	}
	return m
}

// fromMat copies an 8-bit single channel Mat out of OpenCV.
func fromMat(m gocv.Mat) *image.Gray {
	return NewGray(m.Cols(), m.Rows(), m.ToBytes())
}

// apply runs op from g into a fresh Mat and returns the result. An empty
// image yields an empty image without calling op.
func apply(g *image.Gray, op func(src gocv.Mat, dst *gocv.Mat)) *image.Gray {
	if isEmpty(g) {
		return &image.Gray{}
	}
	src := toMat(g)
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()

	op(src, &dst)
	return fromMat(dst)
}

func oddBlock(block int) int {
	if block < 3 {
		block = 3
	}
	if block%2 == 0 {
		block++
	}
	return block
}
