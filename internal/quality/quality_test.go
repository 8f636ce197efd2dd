package quality

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"ocrpipe/pkg/models"
)

// renderPage draws lines of text in fg on bg, scaled up by factor.
func renderPage(w, h int, bg, fg uint8, factor int, lines ...string) *image.Gray {
	return renderNoisyPage(w, h, bg, fg, factor, 0, lines...)
}

// renderNoisyPage is renderPage plus seeded Gaussian sensor noise.
func renderNoisyPage(w, h int, bg, fg uint8, factor int, sigma float64, lines ...string) *image.Gray {
	small := image.NewGray(image.Rect(0, 0, w/factor, h/factor))
	for i := range small.Pix {
		small.Pix[i] = bg
	}
	d := &font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(color.Gray{Y: fg}),
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		d.Dot = fixed.P(6, 18+i*16)
		d.DrawString(line)
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*w+x] = small.GrayAt(x/factor, y/factor).Y
		}
	}
	if sigma > 0 {
		rng := rand.New(rand.NewSource(42))
		for i, p := range out.Pix {
			v := float64(p) + rng.NormFloat64()*sigma
			out.Pix[i] = uint8(math.Max(0, math.Min(255, v+0.5)))
		}
	}
	return out
}

func TestAssessCleanPage(t *testing.T) {
	img := renderPage(480, 360, 235, 10, 3, "TOTAL 12.50", "IVA 2.00", "CAMBIO 0.50", "GRACIAS")
	r := NewAssessor().Assess(img)

	if r.Resolution != (models.Size{Width: 480, Height: 360}) {
		t.Errorf("Resolution = %+v", r.Resolution)
	}
	if r.Brightness < 150 || r.Brightness > 235 {
		t.Errorf("Brightness = %v, want a light page", r.Brightness)
	}
	if r.BlurScore <= MinBlurScore {
		t.Errorf("BlurScore = %v, want sharp text", r.BlurScore)
	}
	if r.TextDensity <= 0 || r.TextDensity >= 0.5 {
		t.Errorf("TextDensity = %v", r.TextDensity)
	}
	if r.HistogramPeak != 235 {
		t.Errorf("HistogramPeak = %d, want background level 235", r.HistogramPeak)
	}
	if r.Grade == "" || len(r.Recommendations) == 0 {
		t.Errorf("grade and recommendations must always be set: %+v", r)
	}
	if r.IsAcceptable != IsAcceptable(r) {
		t.Errorf("IsAcceptable must equal the threshold conjunction")
	}
}

func TestAssessDarkImageIsNotAcceptable(t *testing.T) {
	img := renderPage(480, 360, 30, 5, 3, "FECHA 01/02/2024")
	r := NewAssessor().Assess(img)

	if r.IsAcceptable {
		t.Fatalf("dark image should not be acceptable: %+v", r)
	}
	found := false
	for _, rec := range r.Recommendations {
		if strings.Contains(rec, "too dark") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a darkness recommendation, got %v", r.Recommendations)
	}
}

func TestAssessFailsSoft(t *testing.T) {
	r := NewAssessor().Assess(image.NewGray(image.Rect(0, 0, 0, 0)))
	if r.IsAcceptable || r.Grade != models.GradeF || len(r.Recommendations) != 1 {
		t.Errorf("unexpected fail-soft report %+v", r)
	}
	if r.BlurScore != 0 || r.Brightness != 0 {
		t.Errorf("fail-soft report must be zeroed")
	}

	r, img := NewAssessor().AssessPath("/definitely/not/here.png")
	if img != nil || r.Grade != models.GradeF {
		t.Errorf("missing path should fail soft")
	}
}

func TestScoreAndGrade(t *testing.T) {
	perfect := &models.QualityReport{BlurScore: 500, Brightness: 128, Contrast: 70, NoiseLevel: 0.5}
	if s := Score(perfect); s != 100 {
		t.Errorf("Score(perfect) = %v, want 100", s)
	}

	tests := []struct {
		score float64
		want  string
	}{
		{95, "A"}, {90, "A"}, {89.99, "B"}, {75, "B"}, {60, "C"}, {40, "D"}, {39.9, "F"}, {0, "F"},
	}
	for _, tt := range tests {
		if got := GradeFor(tt.score); got != tt.want {
			t.Errorf("GradeFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestAcceptabilityThresholds(t *testing.T) {
	base := models.QualityReport{
		BlurScore: 120, Brightness: 150, Contrast: 40, NoiseLevel: 1,
		Resolution: models.Size{Width: 800, Height: 600},
	}
	if !IsAcceptable(&base) {
		t.Fatalf("base report should be acceptable")
	}

	mutations := map[string]func(*models.QualityReport){
		"blur at threshold":  func(r *models.QualityReport) { r.BlurScore = 80 },
		"too dark":           func(r *models.QualityReport) { r.Brightness = 40 },
		"too bright":         func(r *models.QualityReport) { r.Brightness = 210 },
		"flat":               func(r *models.QualityReport) { r.Contrast = 25 },
		"small":              func(r *models.QualityReport) { r.Resolution.Height = 299 },
		"noisy at threshold": func(r *models.QualityReport) { r.NoiseLevel = 2.5 },
	}
	for name, mutate := range mutations {
		r := base
		mutate(&r)
		if IsAcceptable(&r) {
			t.Errorf("%s: expected unacceptable", name)
		}
	}
}

func TestRecommendBlurSeverity(t *testing.T) {
	r := &models.QualityReport{BlurScore: 30, Brightness: 128, Contrast: 50, Resolution: models.Size{Width: 1000, Height: 1000}, TextDensity: 0.1}
	if recs := Recommend(r); !strings.Contains(recs[0], "severely") {
		t.Errorf("blur 30 should be severe: %v", recs)
	}
	r.BlurScore = 65
	if recs := Recommend(r); !strings.Contains(recs[0], "moderately") {
		t.Errorf("blur 65 should be moderate: %v", recs)
	}
	r.BlurScore = 200
	if recs := Recommend(r); len(recs) != 1 || !strings.Contains(recs[0], "good") {
		t.Errorf("clean report should recommend nothing: %v", recs)
	}
}

// At most one of brightness-in-range distance, contrast and blur may get
// worse when an unacceptable image is auto-corrected.
func TestCorrectionDoesNotDegradeMoreThanOneMetric(t *testing.T) {
	corpus := map[string]*image.Gray{
		"dark":         renderNoisyPage(480, 360, 30, 5, 3, 4, "TOTAL 45.00", "EFECTIVO 50.00"),
		"low contrast": renderNoisyPage(480, 360, 120, 100, 3, 4, "SUBTOTAL 10.00", "IVA 1.90"),
	}

	assessor := NewAssessor()
	corrector := NewCorrector()
	for name, img := range corpus {
		before := assessor.Assess(img)
		if before.IsAcceptable {
			t.Fatalf("%s: corpus image should be unacceptable", name)
		}
		out, steps := corrector.Correct(img, before)
		if len(steps) == 0 {
			t.Errorf("%s: expected corrections", name)
			continue
		}
		after := assessor.Assess(out)

		worse := 0
		if rangeDistance(after.Brightness) > rangeDistance(before.Brightness) {
			worse++
		}
		if after.Contrast < before.Contrast {
			worse++
		}
		if after.BlurScore < before.BlurScore {
			worse++
		}
		if worse > 1 {
			t.Errorf("%s: %d metrics degraded (before %+v, after %+v)", name, worse, before, after)
		}
	}
}

func TestCorrectBrightensDarkImage(t *testing.T) {
	img := renderNoisyPage(300, 300, 30, 5, 3, 4, "CAMBIO 5.00")
	before := NewAssessor().Assess(img)
	out, steps := NewCorrector().Correct(img, before)
	if !containsPrefix(steps, "gamma_0.60") {
		t.Errorf("expected gamma 0.6 for a very dark image, got %v", steps)
	}
	after := NewAssessor().Assess(out)
	if after.Brightness <= before.Brightness {
		t.Errorf("brightness %v not above %v", after.Brightness, before.Brightness)
	}
}

func TestCorrectLargeImage(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates a 16.4 megapixel image")
	}
	img := imaging.New(4100, 4000, color.NRGBA{R: 20, G: 20, B: 20, A: 255})
	out, steps := NewCorrector().Correct(img, &models.QualityReport{Brightness: 20, Contrast: 60, BlurScore: 500})
	if !containsPrefix(steps, "gamma_0.60") {
		t.Fatalf("large unacceptable image was not corrected, steps %v", steps)
	}
	if out.Bounds() != img.Bounds() {
		t.Errorf("corrected bounds = %v, want %v", out.Bounds(), img.Bounds())
	}
	if c := color.NRGBAModel.Convert(out.At(10, 10)).(color.NRGBA); c.R <= 20 {
		t.Errorf("pixel %v not brightened", c)
	}
}

func rangeDistance(b float64) float64 {
	return math.Max(0, math.Max(MinBrightness-b, b-MaxBrightness))
}

func containsPrefix(steps []string, prefix string) bool {
	for _, s := range steps {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
