// Package preprocess turns a photographed or scanned page into a clean binary
// image ready for OCR, following the settings of a document profile.
package preprocess

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"ocrpipe/internal/imageio"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/internal/vision"
)

// Tunables shared by every profile
const (
	DeskewMinAngle   = 0.5
	NLMTemplate      = 7
	NLMSearch        = 21
	CLAHETiles       = 8
	backgroundSample = 256
)

// maxScaledPixels bounds the size of an upscaled page.
var maxScaledPixels = 40_000_000

// Result is a preprocessed image with the steps that produced it.
type Result struct {
	Image *image.Gray
	Steps []string
	Angle float64
}

// Variant is one binarized rendition written to disk.
type Variant struct {
	Method string
	Path   string
}

// Binarized is one binarized rendition in memory.
type Binarized struct {
	Method string
	Image  *image.Gray
}

// Engine runs the preprocessing pipeline.
type Engine struct {
	log zerolog.Logger
}

// NewEngine returns a preprocessing engine.
func NewEngine() *Engine {
	return &Engine{log: logger.WithComponent("preprocess")}
}

// Preprocess loads path, runs the full pipeline and writes the binary result
// into the session. It returns the written path.
func (e *Engine) Preprocess(ctx context.Context, path string, cfg Config, sess *imageio.Session) (string, error) {
	img, err := imageio.Load(path)
	if err != nil {
		return "", err
	}
	return e.PreprocessImage(ctx, img, cfg, sess, "pre")
}

// PreprocessImage runs the full pipeline on img and writes the result into the
// session under label.
func (e *Engine) PreprocessImage(ctx context.Context, img image.Image, cfg Config, sess *imageio.Session, label string) (string, error) {
	res, err := e.Process(ctx, img, cfg)
	if err != nil {
		return "", err
	}
	out, err := sess.Save(res.Image, label)
	if err != nil {
		return "", ocrerr.New("Preprocess", ocrerr.ErrPreprocessingFailed, err.Error())
	}
	return out, nil
}

// Process runs the full pipeline in memory: the deterministic prefix, adaptive
// Gaussian thresholding and the optional closing.
func (e *Engine) Process(ctx context.Context, img image.Image, cfg Config) (*Result, error) {
	prepared, err := e.Prepare(ctx, img, cfg)
	if err != nil {
		return nil, err
	}
	return e.Binarize(prepared, cfg)
}

// Binarize applies adaptive Gaussian thresholding and the optional closing to
// the output of Prepare. prepared is not modified.
func (e *Engine) Binarize(prepared *Result, cfg Config) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, ocrerr.New("Preprocess", ocrerr.ErrPreprocessingFailed, fmt.Sprint(r))
		}
	}()

	cfg = cfg.Normalized()
	res = &Result{Angle: prepared.Angle, Steps: append([]string(nil), prepared.Steps...)}

	bin := vision.AdaptiveGaussian(prepared.Image, cfg.ThresholdBlockSize, float64(cfg.ThresholdC))
	res.Steps = append(res.Steps, fmt.Sprintf("adaptive_threshold_%d_%d", cfg.ThresholdBlockSize, cfg.ThresholdC))

	if cfg.EnableMorphology {
		k := cfg.MorphologyKernel
		bin = vision.Close(bin, k[0], k[1], cfg.MorphologyIterations)
		res.Steps = append(res.Steps, fmt.Sprintf("morph_close_%dx%d_x%d", k[0], k[1], cfg.MorphologyIterations))
	}
	res.Image = bin

	e.log.Debug().Strs("steps", res.Steps).Float64("angle", res.Angle).Msg("Preprocessed image")
	return res, nil
}

// Prepare runs the deterministic prefix shared by every binarization:
// background removal, scaling, deskew, grayscale, denoise and CLAHE.
func (e *Engine) Prepare(ctx context.Context, img image.Image, cfg Config) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, ocrerr.New("Prepare", ocrerr.ErrPreprocessingFailed, fmt.Sprint(r))
		}
	}()

	if img == nil || img.Bounds().Empty() {
		return nil, ocrerr.New("Prepare", ocrerr.ErrPreprocessingFailed, "empty image")
	}
	cfg = cfg.Normalized()
	res = &Result{}

	if cfg.EnableBackgroundRemove {
		img = RemoveBackground(img)
		res.Steps = append(res.Steps, "background_removal")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if scaled, height, ok := ScaleToMinHeight(img, cfg.ScaleMinHeight); ok {
		img = scaled
		res.Steps = append(res.Steps, fmt.Sprintf("scale_%d", height))
		if height < cfg.ScaleMinHeight {
			e.log.Warn().Int("height", height).Int("min_height", cfg.ScaleMinHeight).Msg("Upscale bounded by pixel limit")
		}
	}

	if cfg.EnableDeskew {
		var rotated bool
		img, res.Angle, rotated = Deskew(img)
		if rotated {
			res.Steps = append(res.Steps, fmt.Sprintf("deskew_%.2f", res.Angle))
		}
	}

	gray := imageio.ToGrayscale(img)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.DenoiseStrength > 0 {
		gray = vision.NLMeans(gray, float64(cfg.DenoiseStrength), NLMTemplate, NLMSearch)
		res.Steps = append(res.Steps, fmt.Sprintf("nlmeans_%d", cfg.DenoiseStrength))
	}

	if cfg.EnableCLAHE {
		gray = vision.CLAHE(gray, cfg.CLAHEClipLimit, CLAHETiles, CLAHETiles)
		res.Steps = append(res.Steps, fmt.Sprintf("clahe_%.1f", cfg.CLAHEClipLimit))
	}

	res.Image = gray
	return res, nil
}

// MultiBinarization returns binarized renditions of gray in a fixed order:
// adaptive Gaussian, Otsu, adaptive mean, Sauvola.
func MultiBinarization(gray *image.Gray, cfg Config) []Binarized {
	cfg = cfg.Normalized()
	c := float64(cfg.ThresholdC)
	return []Binarized{
		{Method: "adaptive_gaussian", Image: vision.AdaptiveGaussian(gray, cfg.ThresholdBlockSize, c)},
		{Method: "otsu", Image: vision.OtsuBinary(gray, false)},
		{Method: "adaptive_mean", Image: vision.AdaptiveMean(gray, cfg.ThresholdBlockSize, c)},
		{Method: "sauvola", Image: vision.Sauvola(gray, max(cfg.ThresholdBlockSize, 25), 0.2, 128)},
	}
}

// PreprocessMulti applies the deterministic prefix once and writes every
// binarized rendition into the session, in MultiBinarization order.
func (e *Engine) PreprocessMulti(ctx context.Context, path string, cfg Config, sess *imageio.Session) (variants []Variant, err error) {
	defer func() {
		if r := recover(); r != nil {
			variants, err = nil, ocrerr.New("PreprocessMulti", ocrerr.ErrPreprocessingFailed, fmt.Sprint(r))
		}
	}()

	img, err := imageio.Load(path)
	if err != nil {
		return nil, err
	}
	prepared, err := e.Prepare(ctx, img, cfg)
	if err != nil {
		return nil, err
	}

	for _, b := range MultiBinarization(prepared.Image, cfg) {
		out, err := sess.Save(b.Image, "bin_"+b.Method)
		if err != nil {
			return nil, ocrerr.New("PreprocessMulti", ocrerr.ErrPreprocessingFailed, err.Error())
		}
		variants = append(variants, Variant{Method: b.Method, Path: out})
	}
	return variants, nil
}

// RemoveBackground divides each channel by a smooth estimate of the page
// background so that the foreground ends up composited over white.
func RemoveBackground(img image.Image) *image.NRGBA {
	src := imaging.Clone(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()

	small, _ := vision.Downscale(src, backgroundSample)
	sigma := math.Max(2, float64(max(small.Bounds().Dx(), small.Bounds().Dy()))/16)
	bg := imaging.Resize(imaging.Blur(small, sigma), w, h, imaging.Linear)

	for i := 0; i < len(src.Pix); i += 4 {
		for ch := 0; ch < 3; ch++ {
			b := math.Max(1, float64(bg.Pix[i+ch]))
			v := float64(src.Pix[i+ch]) * 255 / b
			if v > 255 {
				v = 255
			}
			src.Pix[i+ch] = uint8(v + 0.5)
		}
	}
	return src
}

// ScaleToMinHeight upscales img with Catmull-Rom interpolation when it is
// shorter than minHeight. The target height shrinks so that the result stays
// within maxScaledPixels; the image is never made smaller.
func ScaleToMinHeight(img image.Image, minHeight int) (image.Image, int, bool) {
	b := img.Bounds()
	if minHeight <= 0 || b.Dy() >= minHeight {
		return img, b.Dy(), false
	}
	target := minHeight
	if limit := int(math.Sqrt(float64(maxScaledPixels) * float64(b.Dy()) / float64(b.Dx()))); limit < target {
		target = limit
	}
	if target <= b.Dy() {
		return img, b.Dy(), false
	}
	return imaging.Resize(img, 0, target, imaging.CatmullRom), target, true
}

// Deskew measures the skew of the dark foreground and rotates the image
// upright when the angle exceeds DeskewMinAngle.
func Deskew(img image.Image) (image.Image, float64, bool) {
	gray := imageio.ToGrayscale(img)
	angle, ok := vision.SkewAngle(vision.OtsuBinary(gray, true))
	if !ok || math.Abs(angle) <= DeskewMinAngle {
		return img, angle, false
	}
	return imaging.Rotate(img, angle, color.White), angle, true
}
