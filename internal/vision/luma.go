package vision

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ApplyLuma runs op on the luma plane of img and recombines it with the
// original chroma. Alpha is preserved.
func ApplyLuma(img image.Image, op func(*image.Gray) *image.Gray) *image.NRGBA {
	src := imaging.Clone(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	luma := make([]uint8, w*h)
	cb := make([]uint8, w*h)
	cr := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := src.PixOffset(x, y)
			yy, b, r := color.RGBToYCbCr(src.Pix[i], src.Pix[i+1], src.Pix[i+2])
			luma[y*w+x], cb[y*w+x], cr[y*w+x] = yy, b, r
		}
	}

	_, _, out := dense(op(NewGray(w, h, luma)))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := src.PixOffset(x, y)
			r, g, b := color.YCbCrToRGB(out[y*w+x], cb[y*w+x], cr[y*w+x])
			src.Pix[i], src.Pix[i+1], src.Pix[i+2] = r, g, b
		}
	}
	return src
}

// Downscale returns g resized so that its longer side is at most maxSide,
// along with the applied scale factor. Smaller images are returned unchanged.
func Downscale(img image.Image, maxSide int) (image.Image, float64) {
	b := img.Bounds()
	long := max(b.Dx(), b.Dy())
	if maxSide <= 0 || long <= maxSide {
		return img, 1
	}
	scale := float64(maxSide) / float64(long)
	nw := max(int(float64(b.Dx())*scale+0.5), 1)
	nh := max(int(float64(b.Dy())*scale+0.5), 1)
	return imaging.Resize(img, nw, nh, imaging.Box), scale
}
