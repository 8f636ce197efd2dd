package strategy

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"ocrpipe/internal/imageio"
	"ocrpipe/internal/ocr"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/internal/preprocess"
	"ocrpipe/internal/profile"
	"ocrpipe/pkg/models"
)

// fakeEngine answers by the label of the session file it is given.
type fakeEngine struct {
	std, orient, qc float64
	text            string
	err             error

	mu    sync.Mutex
	calls []string
}

func newFake(std float64) *fakeEngine {
	return &fakeEngine{std: std, orient: std, qc: std, text: "TOTAL 12.50"}
}

func (f *fakeEngine) Recognize(ctx context.Context, path string, cfg ocr.Config) (*ocr.Result, error) {
	name := filepath.Base(path)
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	res := &ocr.Result{Text: f.text, OK: true, Backend: "fake"}
	switch {
	case strings.HasPrefix(name, "orient_probe_"):
		w, h, err := imageio.DecodeSize(path)
		if err != nil {
			return nil, err
		}
		res.Confidence = 10
		if h > w {
			res.Confidence = 80
		}
	case strings.HasPrefix(name, "orient_"):
		res.Confidence = f.orient
	case strings.HasPrefix(name, "qc_"):
		res.Confidence = f.qc
	default:
		res.Confidence = f.std
	}
	return res, nil
}

func testProfile() profile.Profile {
	return profile.Profile{
		Kind:          profile.General,
		Preprocessing: preprocess.Config{ThresholdBlockSize: 15, ThresholdC: 5},
		OCR:           ocr.Config{PSM: ocr.PSMAuto, OEM: ocr.OEMDefault, Languages: "eng"},
	}
}

func newInput(t *testing.T, w, h int) *Input {
	t.Helper()
	sess, err := imageio.NewSession(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sess.Close)

	img := imageio.Blank(w, h, color.White)
	path, err := sess.Save(img, "src")
	if err != nil {
		t.Fatal(err)
	}
	return &Input{Path: path, OriginalPath: path, Image: img, Profile: testProfile(), Session: sess}
}

func TestRunEarlyStop(t *testing.T) {
	eng := newFake(95)
	out, err := New(eng, DefaultSettings()).Run(context.Background(), newInput(t, 120, 120))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Best.Strategy != Standard || !out.EarlyStopped || out.StrategiesTried != 1 {
		t.Errorf("got best=%s early=%v tried=%d", out.Best.Strategy, out.EarlyStopped, out.StrategiesTried)
	}
	if out.Voting != nil {
		t.Errorf("early stop must not vote")
	}
	if len(eng.calls) != 1 {
		t.Errorf("engine called %d times, want 1", len(eng.calls))
	}
}

func TestRunAcceptsConfidentStandard(t *testing.T) {
	out, err := New(newFake(80), DefaultSettings()).Run(context.Background(), newInput(t, 120, 120))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Best.Strategy != Standard || out.EarlyStopped || out.StrategiesTried != 1 || out.Voting != nil {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestRunVotesWhenNothingIsConfident(t *testing.T) {
	out, err := New(newFake(60), DefaultSettings()).Run(context.Background(), newInput(t, 120, 120))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.EarlyStopped {
		t.Errorf("no candidate reaches 90, must not stop early")
	}
	// quality_corrected is skipped without a report
	if out.StrategiesTried != 4 {
		t.Errorf("StrategiesTried = %d, want 4", out.StrategiesTried)
	}
	if len(out.Records) != 6 || len(out.Candidates) != 6 {
		t.Errorf("got %d records and %d candidates, want 6", len(out.Records), len(out.Candidates))
	}
	if out.Voting == nil || out.Voting.Winner != out.Best.Strategy {
		t.Fatalf("voting analysis missing or inconsistent: %+v", out.Voting)
	}
	if out.Voting.CommonWords["total"] != 6 {
		t.Errorf("common words = %v", out.Voting.CommonWords)
	}

	names := map[string]bool{}
	for _, r := range out.Records {
		names[r.Name] = true
	}
	for _, want := range []string{
		Standard, Orientation,
		MultiBinarization + "_adaptive_gaussian", MultiBinarization + "_otsu",
		AlternateSegmentation + "_sparse_text", AlternateSegmentation + "_single_block",
	} {
		if !names[want] {
			t.Errorf("missing record %s in %v", want, names)
		}
	}

	var md models.Metadata
	out.Apply(&md)
	if !md.HasCapability(models.CapabilityVoting) || !md.HasCapability(models.CapabilityMultiStrategy) {
		t.Errorf("capabilities = %v", md.Capabilities)
	}
	if md.MaxConfidence < md.AverageConfidence || md.AverageConfidence < md.MinConfidence {
		t.Errorf("confidence stats out of order: %+v", md)
	}
}

func TestRunEarlyStopsOnOrientation(t *testing.T) {
	eng := newFake(60)
	eng.orient = 90
	out, err := New(eng, DefaultSettings()).Run(context.Background(), newInput(t, 300, 100))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Best.Strategy != Orientation || !out.EarlyStopped || out.StrategiesTried != 2 {
		t.Fatalf("got best=%s early=%v tried=%d", out.Best.Strategy, out.EarlyStopped, out.StrategiesTried)
	}
	if out.Best.Metadata["rotation"] != 90 {
		t.Errorf("rotation = %v, want 90", out.Best.Metadata["rotation"])
	}
	if math.Abs(out.Best.Confidence-94.5) > 1e-9 {
		t.Errorf("confidence = %v, want boosted 94.5", out.Best.Confidence)
	}
}

func TestRunQualityCorrected(t *testing.T) {
	eng := newFake(60)
	eng.qc = 85
	in := newInput(t, 120, 120)
	in.Quality = &models.QualityReport{Brightness: 30, Contrast: 10, BlurScore: 20, IsAcceptable: false}

	out, err := New(eng, DefaultSettings()).Run(context.Background(), in)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Best.Strategy != QualityCorrected || out.StrategiesTried != 3 {
		t.Errorf("got best=%s tried=%d", out.Best.Strategy, out.StrategiesTried)
	}
	if math.Abs(out.Best.Confidence-93.5) > 1e-9 {
		t.Errorf("confidence = %v, want 93.5", out.Best.Confidence)
	}
}

func TestRunRespectsMaxStrategies(t *testing.T) {
	o := New(newFake(60), Settings{ConfidenceThreshold: 90, EscalationThreshold: 75, MaxStrategies: 2})
	out, err := o.Run(context.Background(), newInput(t, 120, 120))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.StrategiesTried != 2 {
		t.Errorf("StrategiesTried = %d, want 2", out.StrategiesTried)
	}
	// Same text, boosted confidence
	if out.Best.Strategy != Orientation {
		t.Errorf("Best = %s, want %s", out.Best.Strategy, Orientation)
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name string
		eng  *fakeEngine
		want error
	}{
		{
			name: "engine unavailable everywhere",
			eng:  &fakeEngine{err: ocrerr.New("Recognize", ocrerr.ErrEngineUnavailable, "both backends failed")},
			want: ocrerr.ErrEngineUnavailable,
		},
		{
			name: "empty text everywhere",
			eng:  &fakeEngine{std: 50, orient: 50, qc: 50},
			want: ocrerr.ErrNoStrategySucceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := New(tt.eng, DefaultSettings()).Run(context.Background(), newInput(t, 120, 120))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Run() error = %v, want %v", err, tt.want)
			}
			if out == nil || len(out.Records) == 0 {
				t.Fatalf("failed attempts must still be recorded")
			}
			for _, r := range out.Records {
				if r.OK || r.Error == "" {
					t.Errorf("record %+v should be a failure", r)
				}
			}
		})
	}
}

func TestRunStandard(t *testing.T) {
	eng := newFake(40)
	out, err := New(eng, DefaultSettings()).RunStandard(context.Background(), newInput(t, 120, 120))
	if err != nil {
		t.Fatalf("RunStandard() error = %v", err)
	}
	if out.Best.Strategy != Standard || out.StrategiesTried != 1 || len(eng.calls) != 1 {
		t.Errorf("unexpected outcome %+v, calls %v", out, eng.calls)
	}
}

// countingPre counts how often the deterministic prefix is computed.
type countingPre struct {
	*preprocess.Engine

	mu       sync.Mutex
	prepares int
}

func (c *countingPre) Prepare(ctx context.Context, img image.Image, cfg preprocess.Config) (*preprocess.Result, error) {
	c.mu.Lock()
	c.prepares++
	c.mu.Unlock()
	return c.Engine.Prepare(ctx, img, cfg)
}

func TestPreparedPrefixIsShared(t *testing.T) {
	eng := newFake(10)
	o := New(eng, DefaultSettings())
	pre := &countingPre{Engine: preprocess.NewEngine()}
	o.pre = pre

	for _, task := range o.Plan(newInput(t, 120, 80)) {
		switch task.Name {
		case Standard, MultiBinarization, AlternateSegmentation:
			if _, err := task.Run(context.Background()); err != nil {
				t.Fatalf("%s error = %v", task.Name, err)
			}
		}
	}
	if pre.prepares != 1 {
		t.Errorf("prefix computed %d times, want 1", pre.prepares)
	}

	var bins int
	for _, c := range eng.calls {
		if strings.HasPrefix(c, "bin_") {
			bins++
		}
	}
	if bins != BinarizationVariants {
		t.Errorf("binarized variants recognized = %d, want %d (calls %v)", bins, BinarizationVariants, eng.calls)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(newFake(60), DefaultSettings()).Run(ctx, newInput(t, 120, 120)); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestVoteTieGoesToEarlierAttempt(t *testing.T) {
	cands := []Candidate{
		{Strategy: "late", Text: "same words here", Confidence: 70, Index: 3},
		{Strategy: "early", Text: "same words here", Confidence: 70, Index: 1},
	}
	best, analysis := Vote(cands)
	if best.Strategy != "early" || analysis.Winner != "early" {
		t.Errorf("tie winner = %s, want early", best.Strategy)
	}
	if analysis.Scores[0].Total != analysis.Scores[1].Total {
		t.Errorf("scores should tie: %+v", analysis.Scores)
	}
	if analysis.Scores[0].AgreementScore != 100 {
		t.Errorf("identical texts must fully agree, got %v", analysis.Scores[0].AgreementScore)
	}
}

func TestVoteScores(t *testing.T) {
	cands := []Candidate{
		{Strategy: "a", Text: "total due", Confidence: 50, Index: 0},
		{Strategy: "b", Text: "total paid", Confidence: 50, Index: 1},
	}
	_, analysis := Vote(cands)
	// jaccard({total,due},{total,paid}) = 1/3
	if got := analysis.Scores[0].AgreementScore; got != 33.33 {
		t.Errorf("agreement = %v, want 33.33", got)
	}
	// 9 runes of 200
	if got := analysis.Scores[0].LengthScore; got != 4.5 {
		t.Errorf("length score = %v, want 4.5", got)
	}

	if _, single := Vote(cands[:1]); single.Scores[0].AgreementScore != 0 {
		t.Errorf("a single candidate has no agreement")
	}
}

func TestEstimateConfidence(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"", 0},
		{"   ", 0},
		{"TOTAL 12.50", 60},
		{"a b c d e f g", 50},
		{"$$$ ### !!! ???", 40},
		{"The quick brown fox jumps over the lazy dog. The quick brown fox jumps over the lazy dog again and again!", 85},
	}

	for _, tt := range tests {
		if got := EstimateConfidence(tt.text); got != tt.want {
			t.Errorf("EstimateConfidence(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
