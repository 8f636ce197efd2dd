package vision

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

func otsu(g *image.Gray, typ gocv.ThresholdType) (*image.Gray, uint8) {
	var level float32
	out := apply(g, func(src gocv.Mat, dst *gocv.Mat) {
		level = gocv.Threshold(src, dst, 0, 255, typ|gocv.ThresholdOtsu)
	})
	return out, uint8(level)
}

// OtsuThreshold returns the threshold maximizing between-class variance.
func OtsuThreshold(g *image.Gray) uint8 {
	_, level := otsu(g, gocv.ThresholdBinary)
	return level
}

// OtsuBinary thresholds g at its Otsu level. Pixels above the level become
// 255, or 0 when inverse is set.
func OtsuBinary(g *image.Gray, inverse bool) *image.Gray {
	typ := gocv.ThresholdBinary
	if inverse {
		typ = gocv.ThresholdBinaryInv
	}
	out, _ := otsu(g, typ)
	return out
}

func adaptive(g *image.Gray, method gocv.AdaptiveThresholdType, block int, c float64) *image.Gray {
	return apply(g, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.AdaptiveThreshold(src, dst, 255, method, gocv.ThresholdBinary, oddBlock(block), float32(c))
	})
}

// AdaptiveGaussian sets a pixel to 255 when it exceeds the Gaussian-weighted
// mean of its block minus c.
func AdaptiveGaussian(g *image.Gray, block int, c float64) *image.Gray {
	return adaptive(g, gocv.AdaptiveThresholdGaussian, block, c)
}

// AdaptiveMean sets a pixel to 255 when it exceeds the box mean of its block minus c.
func AdaptiveMean(g *image.Gray, block int, c float64) *image.Gray {
	return adaptive(g, gocv.AdaptiveThresholdMean, block, c)
}

// Canny detects edges with hysteresis between low and high. Edge pixels are 255.
func Canny(g *image.Gray, low, high float64) *image.Gray {
	return apply(g, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.Canny(src, dst, float32(low), float32(high))
	})
}

// Sauvola applies Sauvola local thresholding with window size block,
// sensitivity k and dynamic range r: a pixel is 255 when it exceeds
// m * (1 + k*(s/r - 1)) for the window mean m and deviation s.
func Sauvola(g *image.Gray, block int, k, r float64) *image.Gray {
	if isEmpty(g) {
		return &image.Gray{}
	}
	block = oddBlock(block)
	if r <= 0 {
		r = 128
	}
	w, h, pix := dense(g)
	in := newIntegral(w, h, pix)
	rad := block / 2
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s, sq, n := in.window(x, y, rad)
			m := s / n
			variance := max(sq/n-m*m, 0)
			t := m * (1 + k*(math.Sqrt(variance)/r-1))
			if float64(pix[y*w+x]) > t {
				out[y*w+x] = 255
			}
		}
	}
	return NewGray(w, h, out)
}

// integral holds summed-area tables of values and squared values with a
// one-pixel zero border.
type integral struct {
	w, h int
	sum  []float64
	sq   []float64
}

func newIntegral(w, h int, pix []uint8) *integral {
	stride := w + 1
	in := &integral{w: w, h: h, sum: make([]float64, stride*(h+1)), sq: make([]float64, stride*(h+1))}
	for y := 0; y < h; y++ {
		var rowSum, rowSq float64
		for x := 0; x < w; x++ {
			v := float64(pix[y*w+x])
			rowSum += v
			rowSq += v * v
			in.sum[(y+1)*stride+x+1] = in.sum[y*stride+x+1] + rowSum
			in.sq[(y+1)*stride+x+1] = in.sq[y*stride+x+1] + rowSq
		}
	}
	return in
}

// window returns the sum, squared sum and pixel count of the window of radius
// r around (x, y), clipped to the image.
func (in *integral) window(x, y, r int) (float64, float64, float64) {
	x0, y0 := max(x-r, 0), max(y-r, 0)
	x1, y1 := min(x+r+1, in.w), min(y+r+1, in.h)
	stride := in.w + 1
	a, b, c, d := y0*stride+x0, y0*stride+x1, y1*stride+x0, y1*stride+x1
	s := in.sum[d] - in.sum[b] - in.sum[c] + in.sum[a]
	sq := in.sq[d] - in.sq[b] - in.sq[c] + in.sq[a]
	return s, sq, float64((x1 - x0) * (y1 - y0))
}
