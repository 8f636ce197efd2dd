package preprocess

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"ocrpipe/internal/vision"
)

// Orientations examined by the estimator, in degrees counter-clockwise.
var Orientations = []int{0, 90, 180, 270}

// ScoreFunc returns a cheap OCR confidence (0-100) for img.
type ScoreFunc func(ctx context.Context, img image.Image) (float64, error)

// Orienter picks the rotation under which the OCR engine is most confident.
type Orienter struct {
	Score ScoreFunc

	// MaxSide bounds the proxy used for the coarse scoring passes.
	MaxSide int

	// MinGain is how much a rotation must beat the unrotated score by.
	MinGain float64
}

// NewOrienter returns an orienter scoring on a 1000 px proxy.
func NewOrienter(score ScoreFunc) *Orienter {
	return &Orienter{Score: score, MaxSide: 1000, MinGain: 5}
}

// Estimate returns the rotation that maximizes the score, or 0 when no
// rotation beats the original, together with every score measured.
func (o *Orienter) Estimate(ctx context.Context, img image.Image) (int, map[int]float64) {
	scores := make(map[int]float64, len(Orientations))
	if o.Score == nil {
		return 0, scores
	}
	proxy, _ := vision.Downscale(img, o.MaxSide)

	for _, deg := range Orientations {
		if ctx.Err() != nil {
			break
		}
		s, err := o.Score(ctx, Rotate(proxy, deg))
		if err != nil {
			s = -1
		}
		scores[deg] = s
	}

	best := 0
	for _, deg := range Orientations[1:] {
		s, ok := scores[deg]
		if ok && s > scores[best]+o.MinGain {
			best = deg
		}
	}
	return best, scores
}

// RotateToCorrect rotates img by the estimated orientation.
func (o *Orienter) RotateToCorrect(ctx context.Context, img image.Image) (image.Image, int) {
	deg, _ := o.Estimate(ctx, img)
	if deg == 0 {
		return img, 0
	}
	return Rotate(img, deg), deg
}

// Rotate turns img counter-clockwise by a multiple of 90 degrees; dimensions
// swap for 90 and 270.
func Rotate(img image.Image, degrees int) image.Image {
	switch ((degrees % 360) + 360) % 360 {
	case 90:
		return imaging.Rotate90(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate270(img)
	default:
		return img
	}
}
