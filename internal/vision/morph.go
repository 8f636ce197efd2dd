package vision

import (
	"image"

	"gocv.io/x/gocv"
)

func morph(g *image.Gray, kw, kh, iterations int, op gocv.MorphType) *image.Gray {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: max(kw, 1), Y: max(kh, 1)})
	defer kernel.Close()

	return apply(g, func(src gocv.Mat, dst *gocv.Mat) {
		gocv.MorphologyEx(src, dst, op, kernel)
		for i := 1; i < iterations; i++ {
			gocv.MorphologyEx(*dst, dst, op, kernel)
		}
	})
}

// Dilate applies a rectangular max filter of kw x kh, iterations times.
func Dilate(g *image.Gray, kw, kh, iterations int) *image.Gray {
	return morph(g, kw, kh, iterations, gocv.MorphDilate)
}

// Erode applies a rectangular min filter of kw x kh, iterations times.
func Erode(g *image.Gray, kw, kh, iterations int) *image.Gray {
	return morph(g, kw, kh, iterations, gocv.MorphErode)
}

// Close is dilation followed by erosion, each repeated iterations times.
func Close(g *image.Gray, kw, kh, iterations int) *image.Gray {
	if iterations <= 1 {
		return morph(g, kw, kh, 1, gocv.MorphClose)
	}
	return Erode(Dilate(g, kw, kh, iterations), kw, kh, iterations)
}
