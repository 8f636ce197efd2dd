package optimize

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"testing"

	"ocrpipe/internal/imageio"
	"ocrpipe/internal/ocr"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/internal/preprocess"
	"ocrpipe/internal/profile"
	"ocrpipe/internal/strategy"
)

// words maps the gray levels painted by the tests to the text they stand for.
var words = []struct {
	level uint8
	word  string
}{
	{50, "ALPHA"},
	{100, "BRAVO"},
	{150, "CHARLIE"},
	{200, "DELTA"},
}

// grayEngine reads the painted gray levels back as words.
var grayEngine = ocr.EngineFunc(func(ctx context.Context, path string, cfg ocr.Config) (*ocr.Result, error) {
	img, err := imageio.Load(path)
	if err != nil {
		return nil, err
	}
	seen := map[uint8]bool{}
	for _, v := range imageio.ToGrayscale(img).Pix {
		seen[v] = true
	}
	var lines []string
	for _, w := range words {
		if seen[w.level] {
			lines = append(lines, w.word)
		}
	}
	return &ocr.Result{Text: strings.Join(lines, "\n"), Confidence: 80, OK: true}, nil
})

func page(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: 255}), image.Point{}, draw.Src)
	return img
}

func paint(img *image.Gray, r image.Rectangle, level uint8) {
	draw.Draw(img, r, image.NewUniform(color.Gray{Y: level}), image.Point{}, draw.Src)
}

func newSession(t *testing.T) *imageio.Session {
	t.Helper()
	sess, err := imageio.NewSession(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sess.Close)
	return sess
}

func TestGrid(t *testing.T) {
	tests := []struct {
		w, h, size, overlap int
		rows, cols          int
		last                image.Rectangle
	}{
		{5000, 5000, 2000, 100, 3, 3, image.Rect(3800, 3800, 5000, 5000)},
		{2000, 2000, 2000, 100, 1, 1, image.Rect(0, 0, 2000, 2000)},
		{4100, 1000, 2000, 100, 1, 3, image.Rect(3800, 0, 4100, 1000)},
		{500, 500, 200, 20, 3, 3, image.Rect(360, 360, 500, 500)},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dx%d", tt.w, tt.h), func(t *testing.T) {
			grid := Grid(tt.w, tt.h, tt.size, tt.overlap)
			if len(grid) != tt.rows || len(grid[0]) != tt.cols {
				t.Fatalf("grid is %dx%d, want %dx%d", len(grid), len(grid[0]), tt.rows, tt.cols)
			}
			if got := grid[tt.rows-1][tt.cols-1]; got != tt.last {
				t.Errorf("last tile = %v, want %v", got, tt.last)
			}
			if tt.cols > 1 {
				if overlap := grid[0][0].Max.X - grid[0][1].Min.X; overlap != tt.overlap {
					t.Errorf("overlap = %d, want %d", overlap, tt.overlap)
				}
			}
		})
	}
}

func TestMergeTilesDropsNeighbourDuplicates(t *testing.T) {
	tiles := []Tile{
		{Row: 0, Col: 0, Text: "TOTAL 10.00\nshared edge"},
		{Row: 0, Col: 1, Text: "shared edge\nright column"},
		{Row: 1, Col: 0, Text: "TOTAL 10.00\nbottom"},
		{Row: 1, Col: 1, Text: "right column\nshared edge"},
		{Row: 0, Col: 2, Skipped: true},
	}
	got := MergeTiles(tiles)
	want := "TOTAL 10.00\nshared edge\nright column\nbottom"
	if got != want {
		t.Errorf("MergeTiles() = %q, want %q", got, want)
	}

	// Far apart tiles may legitimately repeat a line
	far := []Tile{
		{Row: 0, Col: 0, Text: "page 1"},
		{Row: 0, Col: 1, Text: ""},
		{Row: 0, Col: 2, Text: "page 1"},
	}
	if got := MergeTiles(far); got != "page 1\npage 1" {
		t.Errorf("MergeTiles(far) = %q", got)
	}
}

func tiledPage() *image.Gray {
	img := page(500, 500)
	paint(img, image.Rect(20, 20, 80, 80), 50)     // tile 0,0
	paint(img, image.Rect(250, 250, 320, 320), 100) // tile 1,1
	paint(img, image.Rect(400, 400, 480, 480), 150) // tile 2,2
	paint(img, image.Rect(185, 100, 195, 140), 200) // overlap of tiles 0,0 and 0,1
	return img
}

func TestTilerProcess(t *testing.T) {
	tiler := NewTiler(grayEngine, 200, 20)
	res, err := tiler.Process(context.Background(), tiledPage(), ocr.Config{}, newSession(t), false)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Method != MethodTiled || res.TilesProcessed != 9 || res.TilesSkipped != 0 {
		t.Errorf("method=%s processed=%d skipped=%d", res.Method, res.TilesProcessed, res.TilesSkipped)
	}
	for _, w := range []string{"ALPHA", "BRAVO", "CHARLIE"} {
		if !strings.Contains(res.Text, w) {
			t.Errorf("merged text %q is missing %s", res.Text, w)
		}
	}
	if n := strings.Count(res.Text, "DELTA"); n != 1 {
		t.Errorf("overlap line merged %d times, want once", n)
	}
	if res.Confidence != 80 {
		t.Errorf("Confidence = %v, want 80", res.Confidence)
	}
}

func TestTilerIncrementalSkipsBlankTiles(t *testing.T) {
	tiler := NewTiler(grayEngine, 200, 20)
	res, err := tiler.Process(context.Background(), tiledPage(), ocr.Config{}, newSession(t), true)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Method != MethodTiledIncremental {
		t.Errorf("Method = %s", res.Method)
	}
	if res.TilesProcessed != 4 || res.TilesSkipped != 5 {
		t.Errorf("processed=%d skipped=%d, want 4 and 5", res.TilesProcessed, res.TilesSkipped)
	}
	if !strings.Contains(res.Text, "CHARLIE") {
		t.Errorf("text = %q", res.Text)
	}
}

func TestTilerSmallImageIsDirect(t *testing.T) {
	img := page(150, 100)
	paint(img, image.Rect(10, 10, 40, 40), 100)
	res, err := NewTiler(grayEngine, 200, 20).Process(context.Background(), img, ocr.Config{}, newSession(t), false)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Method != MethodDirect || res.TilesProcessed != 1 || res.Text != "BRAVO" {
		t.Errorf("got %+v", res)
	}
}

func TestTilerEngineFailure(t *testing.T) {
	down := ocr.EngineFunc(func(ctx context.Context, path string, cfg ocr.Config) (*ocr.Result, error) {
		return nil, ocrerr.New("Recognize", ocrerr.ErrEngineUnavailable, "")
	})
	_, err := NewTiler(down, 200, 20).Process(context.Background(), tiledPage(), ocr.Config{}, newSession(t), false)
	if !errors.Is(err, ocrerr.ErrEngineUnavailable) {
		t.Errorf("Process() error = %v, want ErrEngineUnavailable", err)
	}
}

// widthEngine answers with the width of the crop it was given.
var widthEngine = ocr.EngineFunc(func(ctx context.Context, path string, cfg ocr.Config) (*ocr.Result, error) {
	w, _, err := imageio.DecodeSize(path)
	if err != nil {
		return nil, err
	}
	return &ocr.Result{Text: fmt.Sprintf("W%d", w), Confidence: 70, OK: true}, nil
})

func regionPage() *image.Gray {
	img := page(600, 400)
	paint(img, image.Rect(50, 200, 300, 240), 0)
	paint(img, image.Rect(50, 50, 250, 90), 0)
	return img
}

func TestRegionDetect(t *testing.T) {
	boxes, detector := NewRegionExtractor(widthEngine).Detect(regionPage())
	if detector != "mser" {
		t.Errorf("detector = %s, want mser", detector)
	}
	want := []image.Rectangle{image.Rect(50, 50, 250, 90), image.Rect(50, 200, 300, 240)}
	if len(boxes) != len(want) {
		t.Fatalf("Detect() = %v, want %v", boxes, want)
	}
	for i := range want {
		if boxes[i] != want[i] {
			t.Errorf("box %d = %v, want %v", i, boxes[i], want[i])
		}
	}
}

func TestRegionProcessReadingOrder(t *testing.T) {
	r := NewRegionExtractor(widthEngine)
	res, err := r.Process(context.Background(), regionPage(), ocr.Config{}, newSession(t))
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	want := fmt.Sprintf("W%d\nW%d", 200+2*RegionPadding, 250+2*RegionPadding)
	if res.Text != want || res.RegionsProcessed != 2 {
		t.Errorf("got %q (%d regions), want %q", res.Text, res.RegionsProcessed, want)
	}
}

func TestRegionProcessBlankPage(t *testing.T) {
	_, err := NewRegionExtractor(widthEngine).Process(context.Background(), page(300, 300), ocr.Config{}, newSession(t))
	if !errors.Is(err, ocrerr.ErrStrategyFailed) {
		t.Errorf("Process() error = %v, want ErrStrategyFailed", err)
	}
}

func TestJoinLines(t *testing.T) {
	tests := []struct {
		name  string
		boxes []image.Rectangle
		want  int
	}{
		{"same line close", []image.Rectangle{image.Rect(0, 0, 40, 20), image.Rect(50, 2, 90, 22)}, 1},
		{"same line far", []image.Rectangle{image.Rect(0, 0, 40, 20), image.Rect(100, 0, 140, 20)}, 2},
		{"stacked", []image.Rectangle{image.Rect(0, 0, 40, 20), image.Rect(0, 30, 40, 50)}, 2},
		{"chain", []image.Rectangle{image.Rect(0, 0, 20, 20), image.Rect(30, 0, 50, 20), image.Rect(60, 0, 80, 20)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinLines(tt.boxes); len(got) != tt.want {
				t.Errorf("joinLines() = %v, want %d boxes", got, tt.want)
			}
		})
	}
}

func TestJoinLinesManyGlyphs(t *testing.T) {
	const lines, glyphs = 200, 60
	var boxes []image.Rectangle
	for l := 0; l < lines; l++ {
		for g := 0; g < glyphs; g++ {
			boxes = append(boxes, image.Rect(g*14, l*30, g*14+10, l*30+20))
		}
	}

	got := joinLines(boxes)
	if len(got) != lines {
		t.Fatalf("joinLines() returned %d boxes, want %d", len(got), lines)
	}
	for l, b := range got {
		if want := image.Rect(0, l*30, (glyphs-1)*14+10, l*30+20); b != want {
			t.Fatalf("line %d = %v, want %v", l, b, want)
		}
	}
}

func TestLargest(t *testing.T) {
	boxes := []image.Rectangle{
		image.Rect(0, 0, 5, 5),
		image.Rect(0, 0, 20, 20),
		image.Rect(0, 0, 2, 2),
		image.Rect(0, 0, 10, 10),
	}
	got := largest(boxes, 2)
	want := []image.Rectangle{image.Rect(0, 0, 20, 20), image.Rect(0, 0, 10, 10)}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("largest() = %v, want %v", got, want)
	}
	if got := largest(boxes, 8); len(got) != len(boxes) {
		t.Errorf("largest() under the limit = %d boxes, want %d", len(got), len(boxes))
	}
}

func parallelInput(t *testing.T) *strategy.Input {
	t.Helper()
	sess := newSession(t)
	img := imageio.Blank(120, 120, color.White)
	path, err := sess.Save(img, "src")
	if err != nil {
		t.Fatal(err)
	}
	return &strategy.Input{
		Path:         path,
		OriginalPath: path,
		Image:        img,
		Session:      sess,
		Profile: profile.Profile{
			Kind:          profile.General,
			Preprocessing: preprocess.Config{ThresholdBlockSize: 15, ThresholdC: 5},
			OCR:           ocr.Config{PSM: ocr.PSMAuto, Languages: "eng"},
		},
	}
}

func TestParallelRun(t *testing.T) {
	eng := ocr.EngineFunc(func(ctx context.Context, path string, cfg ocr.Config) (*ocr.Result, error) {
		return &ocr.Result{Text: "TOTAL 12.50", Confidence: 60, OK: true}, nil
	})
	orch := strategy.New(eng, strategy.DefaultSettings())
	out, err := NewParallel(orch, 3).Run(context.Background(), parallelInput(t))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Workers != 3 || out.StrategiesTried != 4 || out.Successful != 4 {
		t.Errorf("workers=%d tried=%d successful=%d", out.Workers, out.StrategiesTried, out.Successful)
	}
	if out.Voting == nil || out.Best.Strategy == "" {
		t.Fatalf("expected a voted winner, got %+v", out.Outcome)
	}
	for i := 1; i < len(out.Records); i++ {
		if out.Records[i].Attempt < out.Records[i-1].Attempt {
			t.Errorf("records out of attempt order: %+v", out.Records)
		}
	}
}

func TestParallelRunAllFail(t *testing.T) {
	eng := ocr.EngineFunc(func(ctx context.Context, path string, cfg ocr.Config) (*ocr.Result, error) {
		return nil, ocrerr.New("Recognize", ocrerr.ErrEngineUnavailable, "")
	})
	orch := strategy.New(eng, strategy.DefaultSettings())
	_, err := NewParallel(orch, 2).Run(context.Background(), parallelInput(t))
	if !errors.Is(err, ocrerr.ErrEngineUnavailable) {
		t.Errorf("Run() error = %v, want ErrEngineUnavailable", err)
	}
}
