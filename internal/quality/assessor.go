// Package quality scores how suitable an image is for OCR and repairs the
// common photographic defects the score reveals.
package quality

import (
	"fmt"
	"image"
	"math"

	"github.com/rs/zerolog"
	"ocrpipe/internal/imageio"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/internal/vision"
	"ocrpipe/pkg/models"
)

// Acceptability thresholds
const (
	MinBlurScore     = 80.0
	MinBrightness    = 40.0
	MaxBrightness    = 210.0
	MinContrast      = 25.0
	MinResolution    = 300
	MaxNoiseLevel    = 2.5
	MinTextDensity   = 0.01
	MaxTextDensity   = 0.5
	severeBlurCutoff = 50.0
)

// Assessor computes quality reports. Metrics are measured on a proxy whose
// longer side is at most MaxSide pixels.
type Assessor struct {
	MaxSide int
	log     zerolog.Logger
}

// NewAssessor returns an assessor with the default proxy size.
func NewAssessor() *Assessor {
	return &Assessor{MaxSide: 2000, log: logger.WithComponent("quality")}
}

// AssessPath loads the image at path and assesses it.
func (a *Assessor) AssessPath(path string) (*models.QualityReport, image.Image) {
	img, err := imageio.Load(path)
	if err != nil {
		return a.failed(err), nil
	}
	return a.Assess(img), img
}

// Assess never fails: any internal error yields a zeroed report graded F.
func (a *Assessor) Assess(img image.Image) (report *models.QualityReport) {
	defer func() {
		if r := recover(); r != nil {
			report = a.failed(fmt.Errorf("%v", r))
		}
	}()

	if img == nil || img.Bounds().Empty() {
		return a.failed(fmt.Errorf("empty image"))
	}

	b := img.Bounds()
	proxy, _ := vision.Downscale(img, a.MaxSide)
	gray := imageio.ToGrayscale(proxy)

	brightness, contrast := vision.MeanStd(gray)
	blur := vision.LaplacianVariance(gray)
	magMean, magStd := vision.GradientMeanStd(gray)
	noise := 0.0
	if magMean > 0 {
		noise = magStd / magMean
	}
	density := vision.ForegroundRatio(vision.Dilate(vision.OtsuBinary(gray, true), 3, 3, 1))
	edges := vision.ForegroundRatio(vision.Canny(gray, 50, 150))

	report = &models.QualityReport{
		BlurScore:     round2(blur),
		Brightness:    round2(brightness),
		Contrast:      round2(contrast),
		NoiseLevel:    round3(noise),
		TextDensity:   round3(density),
		EdgeDensity:   round3(edges),
		Resolution:    models.Size{Width: b.Dx(), Height: b.Dy()},
		HistogramPeak: vision.HistogramPeak(vision.Histogram(gray)),
	}
	report.IsAcceptable = IsAcceptable(report)
	report.QualityScore = round2(Score(report))
	report.Grade = GradeFor(report.QualityScore)
	report.Recommendations = Recommend(report)

	a.log.Debug().
		Float64("blur", report.BlurScore).
		Float64("brightness", report.Brightness).
		Float64("contrast", report.Contrast).
		Float64("noise", report.NoiseLevel).
		Str("grade", report.Grade).
		Bool("acceptable", report.IsAcceptable).
		Msg("Assessed image quality")

	return report
}

func (a *Assessor) failed(err error) *models.QualityReport {
	err = ocrerr.Wrap("Assess", fmt.Errorf("%w: %v", ocrerr.ErrQualityAssessmentFailed, err), "")
	a.log.Warn().Err(err).Msg("Quality assessment failed")
	return &models.QualityReport{
		IsAcceptable:    false,
		Grade:           models.GradeF,
		Recommendations: []string{fmt.Sprintf("Quality assessment failed: %v", err)},
	}
}

// IsAcceptable applies the fixed acceptability thresholds.
func IsAcceptable(r *models.QualityReport) bool {
	return r.BlurScore > MinBlurScore &&
		r.Brightness > MinBrightness && r.Brightness < MaxBrightness &&
		r.Contrast > MinContrast &&
		min(r.Resolution.Width, r.Resolution.Height) >= MinResolution &&
		r.NoiseLevel < MaxNoiseLevel
}

// Score is the weighted sum behind the grade: blur up to 30, brightness up to
// 25, contrast up to 25 and noise up to 20 points.
func Score(r *models.QualityReport) float64 {
	blur := 30 * math.Min(1, r.BlurScore/300)

	var brightness float64
	switch {
	case r.Brightness >= 80 && r.Brightness <= 180:
		brightness = 25
	case r.Brightness < 80:
		brightness = 25 * math.Max(0, r.Brightness/80)
	default:
		brightness = 25 * math.Max(0, (255-r.Brightness)/75)
	}

	contrast := 25 * math.Min(1, r.Contrast/60)

	noise := 20.0
	if r.NoiseLevel > 1 {
		noise = 20 * math.Max(0, (3-r.NoiseLevel)/2)
	}

	return blur + brightness + contrast + noise
}

// GradeFor maps a score to A/B/C/D/F at 90/75/60/40.
func GradeFor(score float64) string {
	switch {
	case score >= 90:
		return models.GradeA
	case score >= 75:
		return models.GradeB
	case score >= 60:
		return models.GradeC
	case score >= 40:
		return models.GradeD
	default:
		return models.GradeF
	}
}

// Recommend evaluates the fixed rule table in order.
func Recommend(r *models.QualityReport) []string {
	var recs []string

	if r.BlurScore <= MinBlurScore {
		severity := "moderately"
		if r.BlurScore < severeBlurCutoff {
			severity = "severely"
		}
		recs = append(recs, fmt.Sprintf("Image is %s blurry; hold the camera steady or refocus", severity))
	}
	if r.Brightness <= MinBrightness {
		recs = append(recs, "Image is too dark; add light or avoid shadows")
	} else if r.Brightness >= MaxBrightness {
		recs = append(recs, "Image is too bright; reduce glare or exposure")
	}
	if r.Contrast <= MinContrast {
		recs = append(recs, "Contrast is low; photograph against a contrasting background")
	}
	if r.NoiseLevel >= MaxNoiseLevel {
		recs = append(recs, "Image is noisy; use better lighting or a lower ISO")
	}
	if min(r.Resolution.Width, r.Resolution.Height) < MinResolution {
		recs = append(recs, fmt.Sprintf("Resolution %dx%d is low; capture at least %d px on the short side",
			r.Resolution.Width, r.Resolution.Height, MinResolution))
	}
	if r.TextDensity < MinTextDensity {
		recs = append(recs, "Very little text detected; move closer to the document")
	} else if r.TextDensity > MaxTextDensity {
		recs = append(recs, "Text density is unusually high; the image may be cluttered or inverted")
	}

	if len(recs) == 0 {
		recs = append(recs, "Image quality is good for OCR")
	}
	return recs
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
