package strategy

import (
	"context"
	"fmt"
	"image"
	"sync"

	"ocrpipe/internal/imageio"
	"ocrpipe/internal/ocr"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/internal/preprocess"
)

// Strategy names in attempt order
const (
	Standard              = "standard"
	Orientation           = "orientation"
	QualityCorrected      = "quality_corrected"
	MultiBinarization     = "multi_binarization"
	AlternateSegmentation = "alternate_segmentation"
)

// Order is the fixed attempt order.
var Order = []string{Standard, Orientation, QualityCorrected, MultiBinarization, AlternateSegmentation}

// Confidence adjustments
const (
	OrientationBoost   = 1.05
	QualityBoost       = 1.10
	SegmentationFactor = 0.95

	// BinarizationVariants is how many binarized renditions are OCRed.
	BinarizationVariants = 2
)

var segmentations = []struct {
	name string
	psm  int
}{
	{"sparse_text", ocr.PSMSparseText},
	{"single_block", ocr.PSMSingleBlock},
}

// state memoizes work shared between the tasks of one call.
type state struct {
	o  *Orchestrator
	in *Input

	imgOnce sync.Once
	img     image.Image
	imgErr  error

	grayOnce sync.Once
	gray     *preprocess.Result
	grayErr  error

	prepOnce sync.Once
	prepPath string

	stdOnce sync.Once
	stdRes  *ocr.Result
	stdErr  error
}

// Plan binds every strategy to a fresh shared state, in attempt order.
func (o *Orchestrator) Plan(in *Input) []Task {
	s := &state{o: o, in: in}
	return []Task{
		{Name: Standard, Index: 0, Run: s.standard},
		{Name: Orientation, Index: 1, Run: s.orientation},
		{Name: QualityCorrected, Index: 2, Run: s.qualityCorrected},
		{Name: MultiBinarization, Index: 3, Run: s.multiBinarization},
		{Name: AlternateSegmentation, Index: 4, Run: s.alternateSegmentation},
	}
}

func (s *state) image() (image.Image, error) {
	s.imgOnce.Do(func() {
		if s.in.Image != nil {
			s.img = s.in.Image
			return
		}
		s.img, s.imgErr = imageio.Load(s.in.Path)
	})
	return s.img, s.imgErr
}

// prepared returns the deterministic preprocessing prefix of the input,
// computed once per call.
func (s *state) prepared(ctx context.Context) (*preprocess.Result, error) {
	s.grayOnce.Do(func() {
		img, err := s.image()
		if err != nil {
			s.grayErr = err
			return
		}
		s.gray, s.grayErr = s.o.pre.Prepare(ctx, img, s.in.Profile.Preprocessing)
	})
	return s.gray, s.grayErr
}

// preprocessed returns the standard preprocessed path, or the input path when
// preprocessing fails.
func (s *state) preprocessed(ctx context.Context) string {
	s.prepOnce.Do(func() {
		s.prepPath = s.in.Path
		prepared, err := s.prepared(ctx)
		if err != nil {
			s.o.log.Warn().Err(err).Msg("Preprocessing failed, using original image")
			return
		}
		bin, err := s.o.pre.Binarize(prepared, s.in.Profile.Preprocessing)
		if err != nil {
			s.o.log.Warn().Err(err).Msg("Binarization failed, using original image")
			return
		}
		p, err := s.save(bin.Image, "pre")
		if err != nil {
			s.o.log.Warn().Err(err).Msg("Cannot save preprocessed image, using original")
			return
		}
		s.prepPath = p
	})
	return s.prepPath
}

func (s *state) recognize(ctx context.Context, path string, cfg ocr.Config) (*ocr.Result, error) {
	res, err := s.o.engine.Recognize(ctx, path, cfg)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, ocrerr.New("Recognize", ocrerr.ErrStrategyFailed, "engine produced no result")
	}
	return res, nil
}

func (s *state) standardResult(ctx context.Context) (*ocr.Result, error) {
	s.stdOnce.Do(func() {
		s.stdRes, s.stdErr = s.recognize(ctx, s.preprocessed(ctx), s.in.Profile.OCR)
	})
	return s.stdRes, s.stdErr
}

func (s *state) save(img image.Image, label string) (string, error) {
	p, err := s.in.Session.Save(img, label)
	if err != nil {
		return "", ocrerr.New("SaveTemp", ocrerr.ErrStrategyFailed, err.Error())
	}
	return p, nil
}

func (s *state) standard(ctx context.Context) ([]Candidate, error) {
	res, err := s.standardResult(ctx)
	if err != nil {
		return nil, err
	}
	return []Candidate{{
		Strategy:   Standard,
		Text:       res.Text,
		Confidence: res.Confidence,
		Estimated:  res.Estimated,
		Index:      0,
		Metadata:   map[string]any{"backend": res.Backend, "preprocessed": s.preprocessed(ctx) != s.in.Path},
	}}, nil
}

func (s *state) orientation(ctx context.Context) ([]Candidate, error) {
	img, err := s.image()
	if err != nil {
		return nil, err
	}
	cfg := s.in.Profile.OCR
	orienter := preprocess.NewOrienter(func(ctx context.Context, probe image.Image) (float64, error) {
		p, err := s.save(probe, "orient_probe")
		if err != nil {
			return 0, err
		}
		res, err := s.o.engine.Recognize(ctx, p, cfg)
		if err != nil {
			return 0, err
		}
		return res.Confidence, nil
	})
	deg, scores := orienter.Estimate(ctx, img)

	var res *ocr.Result
	if deg == 0 {
		res, err = s.standardResult(ctx)
	} else {
		rotated := preprocess.Rotate(img, deg)
		path, perr := s.o.pre.PreprocessImage(ctx, rotated, s.in.Profile.Preprocessing, s.in.Session, "orient")
		if perr != nil {
			if path, err = s.save(rotated, "orient"); err != nil {
				return nil, err
			}
		}
		res, err = s.recognize(ctx, path, cfg)
	}
	if err != nil {
		return nil, err
	}
	return []Candidate{{
		Strategy:   Orientation,
		Text:       res.Text,
		Confidence: min(100, res.Confidence*OrientationBoost),
		Estimated:  res.Estimated,
		Index:      1,
		Metadata:   map[string]any{"rotation": deg, "orientation_scores": scoreMap(scores)},
	}}, nil
}

func (s *state) qualityCorrected(ctx context.Context) ([]Candidate, error) {
	if s.in.Quality == nil || s.in.Quality.IsAcceptable {
		return nil, ErrSkipped
	}
	corrected := s.in.Corrected
	var steps []string
	if corrected == nil {
		img, err := s.image()
		if err != nil {
			return nil, err
		}
		corrected, steps = s.o.corrector.Correct(img, s.in.Quality)
	}
	path, err := s.save(corrected, "qc")
	if err != nil {
		return nil, err
	}
	res, err := s.recognize(ctx, path, s.in.Profile.OCR)
	if err != nil {
		return nil, err
	}
	md := map[string]any{}
	if len(steps) > 0 {
		md["corrections"] = steps
	}
	return []Candidate{{
		Strategy:   QualityCorrected,
		Text:       res.Text,
		Confidence: min(100, res.Confidence*QualityBoost),
		Estimated:  res.Estimated,
		Index:      2,
		Metadata:   md,
	}}, nil
}

func (s *state) multiBinarization(ctx context.Context) ([]Candidate, error) {
	prepared, err := s.prepared(ctx)
	if err != nil {
		return nil, err
	}
	variants := preprocess.MultiBinarization(prepared.Image, s.in.Profile.Preprocessing)
	if len(variants) > BinarizationVariants {
		variants = variants[:BinarizationVariants]
	}

	cands := make([]Candidate, 0, len(variants))
	for _, v := range variants {
		c := Candidate{Strategy: MultiBinarization + "_" + v.Method, Index: 3, Estimated: true,
			Metadata: map[string]any{"binarization": v.Method}}
		path, err := s.save(v.Image, "bin_"+v.Method)
		if err == nil {
			var res *ocr.Result
			if res, err = s.recognize(ctx, path, s.in.Profile.OCR); err == nil {
				c.Text = res.Text
				c.Confidence = EstimateConfidence(res.Text)
			}
		}
		c.Err = err
		cands = append(cands, c)
	}
	return cands, nil
}

func (s *state) alternateSegmentation(ctx context.Context) ([]Candidate, error) {
	path := s.preprocessed(ctx)
	cands := make([]Candidate, 0, len(segmentations))
	for _, seg := range segmentations {
		c := Candidate{Strategy: AlternateSegmentation + "_" + seg.name, Index: 4, Estimated: true,
			Metadata: map[string]any{"psm": seg.psm}}
		res, err := s.recognize(ctx, path, s.in.Profile.OCR.WithPSM(seg.psm))
		if err == nil {
			c.Text = res.Text
			c.Confidence = EstimateConfidence(res.Text) * SegmentationFactor
		}
		c.Err = err
		cands = append(cands, c)
	}
	return cands, nil
}

func scoreMap(scores map[int]float64) map[string]float64 {
	out := make(map[string]float64, len(scores))
	for deg, s := range scores {
		out[fmt.Sprint(deg)] = round2(s)
	}
	return out
}
