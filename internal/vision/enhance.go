package vision

import (
	"image"

	"gocv.io/x/gocv"
)

// CLAHE performs contrast limited adaptive histogram equalization over a grid
// of tilesX x tilesY tiles.
func CLAHE(g *image.Gray, clip float64, tilesX, tilesY int) *image.Gray {
	return apply(g, func(src gocv.Mat, dst *gocv.Mat) {
		clahe := gocv.NewCLAHEWithParams(clip, image.Point{X: max(tilesX, 1), Y: max(tilesY, 1)})
		defer clahe.Close()
		clahe.Apply(src, dst)
	})
}

// Bilateral applies an edge preserving bilateral filter with neighbourhood
// diameter d.
func Bilateral(g *image.Gray, d int, sigmaColor, sigmaSpace float64) *image.Gray {
	if d < 1 {
		d = 5
	}
	return apply(g, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.BilateralFilter(src, dst, d, sigmaColor, sigmaSpace)
	})
}

// NLMeans applies non-local means denoising with filter strength h, a
// template x template patch and a search x search window.
func NLMeans(g *image.Gray, strength float64, template, search int) *image.Gray {
	if strength <= 0 {
		return Clone(g)
	}
	return apply(g, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.FastNlMeansDenoisingWithParams(src, dst, float32(strength), oddBlock(template), oddBlock(search))
	})
}
