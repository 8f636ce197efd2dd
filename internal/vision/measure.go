package vision

import (
	"image"

	"gocv.io/x/gocv"
)

func meanStdMat(m gocv.Mat) (float64, float64) {
	mean := gocv.NewMat()
	defer mean.Close()
	std := gocv.NewMat()
	defer std.Close()

	gocv.MeanStdDev(m, &mean, &std)
	return mean.GetDoubleAt(0, 0), std.GetDoubleAt(0, 0)
}

// MeanStd returns the mean and population standard deviation of the pixels.
func MeanStd(g *image.Gray) (float64, float64) {
	if isEmpty(g) {
		return 0, 0
	}
	src := toMat(g)
	defer src.Close()
	return meanStdMat(src)
}

// LaplacianVariance is the focus measure used for blur scoring: the variance
// of the 4-neighbour Laplacian response.
func LaplacianVariance(g *image.Gray) float64 {
	if isEmpty(g) {
		return 0
	}
	src := toMat(g)
	defer src.Close()
	lap := gocv.NewMat()
	defer lap.Close()

	gocv.Laplacian(src, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderReplicate)
	_, std := meanStdMat(lap)
	return std * std
}

// GradientMeanStd returns the mean and standard deviation of the 3x3 Sobel
// gradient magnitude.
func GradientMeanStd(g *image.Gray) (float64, float64) {
	if isEmpty(g) {
		return 0, 0
	}
	src := toMat(g)
	defer src.Close()
	gx := gocv.NewMat()
	defer gx.Close()
	gy := gocv.NewMat()
	defer gy.Close()
	mag := gocv.NewMat()
	defer mag.Close()

	gocv.Sobel(src, &gx, gocv.MatTypeCV64F, 1, 0, 3, 1, 0, gocv.BorderReplicate)
	gocv.Sobel(src, &gy, gocv.MatTypeCV64F, 0, 1, 3, 1, 0, gocv.BorderReplicate)
	gocv.Magnitude(gx, gy, &mag)
	return meanStdMat(mag)
}

// ForegroundRatio returns the fraction of non-zero pixels.
func ForegroundRatio(g *image.Gray) float64 {
	if isEmpty(g) {
		return 0
	}
	src := toMat(g)
	defer src.Close()
	return float64(gocv.CountNonZero(src)) / float64(src.Total())
}

// Histogram returns the 256-bin luminance histogram.
func Histogram(g *image.Gray) [256]int {
	var hist [256]int
	if isEmpty(g) {
		return hist
	}
	_, _, pix := dense(g)
	for _, p := range pix {
		hist[p]++
	}
	return hist
}

// HistogramPeak returns the most populated bin; ties resolve to the darker bin.
func HistogramPeak(hist [256]int) int {
	peak := 0
	for i := 1; i < 256; i++ {
		if hist[i] > hist[peak] {
			peak = i
		}
	}
	return peak
}
