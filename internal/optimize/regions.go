package optimize

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"ocrpipe/internal/imageio"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocr"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/internal/vision"
)

// Region detection defaults
const (
	RegionIoU        = 0.3
	RegionMaxSide    = 1500
	RegionPadding    = 8
	RegionMaxCount   = 64
	RegionRawMax     = 4096
	regionMinHeight  = 6
	contourMinArea   = 40
	lineOverlapRatio = 0.5
)

// RegionResult is the concatenated output of a region run.
type RegionResult struct {
	Text             string
	Confidence       float64
	Estimated        bool
	Regions          []image.Rectangle
	RegionsProcessed int
	Detector         string
}

// RegionExtractor finds text regions and reads them one by one.
type RegionExtractor struct {
	engine  ocr.Engine
	MaxSide int
	IoU     float64
	Padding int
	log     zerolog.Logger
}

// NewRegionExtractor returns an extractor with the default settings.
func NewRegionExtractor(engine ocr.Engine) *RegionExtractor {
	return &RegionExtractor{
		engine:  engine,
		MaxSide: RegionMaxSide,
		IoU:     RegionIoU,
		Padding: RegionPadding,
		log:     logger.WithComponent("regions"),
	}
}

// Detect returns candidate text boxes in image coordinates and reading order,
// with the name of the detector that produced them. MSER runs on a downscaled
// proxy; when it finds nothing, connected components of the dilated Otsu
// foreground are used instead.
func (r *RegionExtractor) Detect(img image.Image) ([]image.Rectangle, string) {
	proxy, scale := vision.Downscale(img, r.MaxSide)
	gray := imageio.ToGrayscale(imageio.ToNRGBA(proxy))

	detector := "mser"
	boxes := vision.MSER(gray, vision.DefaultMSEROptions())
	if len(boxes) == 0 {
		detector = "contour"
		binary := vision.Dilate(vision.OtsuBinary(gray, true), 5, 3, 1)
		for _, c := range vision.Components(binary, contourMinArea) {
			boxes = append(boxes, c.Box)
		}
	}

	kept := boxes[:0]
	for _, b := range boxes {
		if b.Dy() >= regionMinHeight {
			kept = append(kept, b)
		}
	}
	boxes = joinLines(vision.MergeOverlapping(largest(kept, RegionRawMax), r.IoU))
	boxes = largest(boxes, RegionMaxCount)

	bounds := img.Bounds()
	out := make([]image.Rectangle, 0, len(boxes))
	for _, b := range boxes {
		if scale != 1 {
			b = image.Rect(
				int(float64(b.Min.X)/scale), int(float64(b.Min.Y)/scale),
				int(float64(b.Max.X)/scale+0.5), int(float64(b.Max.Y)/scale+0.5),
			)
		}
		b = b.Add(bounds.Min).Intersect(bounds)
		if !b.Empty() {
			out = append(out, b)
		}
	}
	return vision.ReadingOrder(out), detector
}

// largest keeps the n biggest boxes by area, in their original order.
func largest(boxes []image.Rectangle, n int) []image.Rectangle {
	if len(boxes) <= n {
		return boxes
	}
	idx := make([]int, len(boxes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return boxes[idx[a]].Dx()*boxes[idx[a]].Dy() > boxes[idx[b]].Dx()*boxes[idx[b]].Dy()
	})
	idx = idx[:n]
	sort.Ints(idx)
	out := make([]image.Rectangle, n)
	for i, k := range idx {
		out[i] = boxes[k]
	}
	return out
}

// joinLines unions boxes that share a text line and sit closer than one line
// height apart, until no pair qualifies.
func joinLines(boxes []image.Rectangle) []image.Rectangle {
	out := boxes
	for {
		tallest := 0
		for _, b := range out {
			tallest = max(tallest, b.Dy())
		}
		next := vision.Cluster(out, tallest, sameLine)
		if len(next) == len(out) {
			return next
		}
		out = next
	}
}

func sameLine(a, b image.Rectangle) bool {
	overlap := min(a.Max.Y, b.Max.Y) - max(a.Min.Y, b.Min.Y)
	minH := min(a.Dy(), b.Dy())
	if minH <= 0 || float64(overlap) < lineOverlapRatio*float64(minH) {
		return false
	}
	gap := max(a.Min.X, b.Min.X) - min(a.Max.X, b.Max.X)
	return gap <= max(a.Dy(), b.Dy())
}

// Process detects regions and OCRs a padded crop of each in reading order.
func (r *RegionExtractor) Process(ctx context.Context, img image.Image, cfg ocr.Config, sess *imageio.Session) (*RegionResult, error) {
	regions, detector := r.Detect(img)
	if len(regions) == 0 {
		return nil, ocrerr.New("Regions", ocrerr.ErrStrategyFailed, "no text regions detected")
	}

	src := imageio.ToNRGBA(img)
	res := &RegionResult{Regions: regions, Detector: detector}
	var texts []string
	var sum float64
	for i, box := range regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		padded := box.Sub(img.Bounds().Min).Inset(-r.Padding).Intersect(src.Rect)
		path, err := sess.Save(imaging.Crop(src, padded), fmt.Sprintf("region_%d", i))
		if err != nil {
			r.log.Warn().Err(err).Int("region", i).Msg("Failed to save region crop")
			continue
		}
		out, err := r.engine.Recognize(ctx, path, cfg)
		if err != nil || !out.OK {
			r.log.Debug().Err(err).Int("region", i).Msg("Region OCR failed")
			continue
		}
		res.RegionsProcessed++
		if text := strings.TrimSpace(out.Text); text != "" {
			texts = append(texts, text)
			sum += out.Confidence
			res.Estimated = res.Estimated || out.Estimated
		}
	}

	if len(texts) == 0 {
		return nil, ocrerr.New("Regions", ocrerr.ErrStrategyFailed, fmt.Sprintf("%d regions produced no text", len(regions)))
	}
	res.Text = strings.Join(texts, "\n")
	res.Confidence = sum / float64(len(texts))

	r.log.Debug().Str("detector", detector).Int("regions", len(regions)).
		Int("regions_processed", res.RegionsProcessed).Msg("Region extraction finished")
	return res, nil
}
