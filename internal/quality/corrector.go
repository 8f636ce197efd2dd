package quality

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/vision"
	"ocrpipe/pkg/models"
)

// Correction thresholds
const (
	denoiseNoise       = 1.5
	brightenBelow      = 70.0
	darkBrightness     = 40.0
	darkenAbove        = 190.0
	veryBrightAbove    = 220.0
	claheContrastBelow = 35.0
	lowContrastBelow   = 20.0
	sharpenBlurBelow   = 150.0
	laplacianBlurBelow = 80.0
	finalPassBlurBelow = 100.0
	finalPassNoise     = 1.0
)

// Corrector repairs images according to their quality report.
type Corrector struct {
	log zerolog.Logger
}

// NewCorrector returns a corrector.
func NewCorrector() *Corrector {
	return &Corrector{log: logger.WithComponent("autocorrect")}
}

// Correct applies the steps that the report calls for and lists them. On any
// failure the input is returned unchanged with no steps.
func (c *Corrector) Correct(img image.Image, r *models.QualityReport) (out image.Image, steps []string) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Warn().Str("panic", fmt.Sprint(rec)).Msg("Auto-correction failed, using original image")
			out, steps = img, nil
		}
	}()

	if img == nil || r == nil {
		return img, nil
	}

	cur := imaging.Clone(img)

	if r.NoiseLevel > denoiseNoise {
		cur = vision.ApplyLuma(cur, func(g *image.Gray) *image.Gray { return vision.Bilateral(g, 9, 75, 75) })
		steps = append(steps, "bilateral_denoise")
	}

	switch {
	case r.Brightness < brightenBelow:
		gamma := 0.8
		if r.Brightness < darkBrightness {
			gamma = 0.6
		}
		cur = applyGamma(cur, gamma)
		steps = append(steps, fmt.Sprintf("gamma_%.2f", gamma))
	case r.Brightness > darkenAbove:
		gamma := 1.15
		if r.Brightness > veryBrightAbove {
			gamma = 1.3
		}
		cur = applyGamma(cur, gamma)
		steps = append(steps, fmt.Sprintf("gamma_%.2f", gamma))
	}

	if r.Contrast < claheContrastBelow {
		clip := 3.0
		if r.Contrast < lowContrastBelow {
			clip = 4.0
		}
		cur = vision.ApplyLuma(cur, func(g *image.Gray) *image.Gray { return vision.CLAHE(g, clip, 8, 8) })
		steps = append(steps, fmt.Sprintf("clahe_%.1f", clip))
	}

	if r.BlurScore < sharpenBlurBelow {
		if r.BlurScore < laplacianBlurBelow {
			cur = imaging.Convolve3x3(cur, [9]float64{0, -1, 0, -1, 5, -1, 0, -1, 0}, nil)
			steps = append(steps, "laplacian_sharpen")
		} else {
			cur = unsharp(cur, 3, 1.5, -0.5)
			steps = append(steps, "unsharp_mask")
		}
	}

	if r.BlurScore < finalPassBlurBelow && r.NoiseLevel > finalPassNoise {
		cur = vision.ApplyLuma(cur, func(g *image.Gray) *image.Gray { return vision.Bilateral(g, 5, 50, 50) })
		steps = append(steps, "final_bilateral")
	}

	if len(steps) > 0 {
		c.log.Debug().Strs("steps", steps).Msg("Applied auto-corrections")
	}
	return cur, steps
}

// applyGamma maps v to 255*(v/255)^gamma; gamma below 1 brightens.
func applyGamma(img *image.NRGBA, gamma float64) *image.NRGBA {
	return imaging.AdjustGamma(img, 1/gamma)
}

// unsharp blends the image with its Gaussian blur: wImg*img + wBlur*blur.
func unsharp(img *image.NRGBA, sigma, wImg, wBlur float64) *image.NRGBA {
	blurred := imaging.Blur(img, sigma)
	out := imaging.Clone(img)
	for i := 0; i < len(out.Pix); i += 4 {
		for ch := 0; ch < 3; ch++ {
			v := wImg*float64(img.Pix[i+ch]) + wBlur*float64(blurred.Pix[i+ch])
			switch {
			case v < 0:
				v = 0
			case v > 255:
				v = 255
			}
			out.Pix[i+ch] = uint8(v + 0.5)
		}
	}
	return out
}
