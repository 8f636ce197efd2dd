package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"ocrpipe/internal/cache"
	"ocrpipe/internal/imageio"
	"ocrpipe/internal/ocr"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/internal/pdftext"
	"ocrpipe/internal/postprocess"
	"ocrpipe/internal/profile"
	"ocrpipe/pkg/models"
)

// fixedEngine answers every image with the same text and confidence.
type fixedEngine struct {
	text string
	conf float64
	err  error

	mu    sync.Mutex
	calls int
}

func (f *fixedEngine) Recognize(ctx context.Context, imagePath string, cfg ocr.Config) (*ocr.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &ocr.Result{Text: f.text, Confidence: f.conf, OK: true}, nil
}

func (f *fixedEngine) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// levelEngine reads one word per marker gray level present in the image.
type levelEngine struct{}

var levelWords = []struct {
	level uint8
	word  string
}{{50, "ALPHA"}, {100, "BRAVO"}, {150, "CHARLIE"}}

func (levelEngine) Recognize(ctx context.Context, imagePath string, cfg ocr.Config) (*ocr.Result, error) {
	img, err := imageio.Load(imagePath)
	if err != nil {
		return nil, err
	}
	g := imageio.ToGrayscale(img)
	seen := map[uint8]bool{}
	for _, p := range g.Pix {
		seen[p] = true
	}
	var lines []string
	for _, lw := range levelWords {
		if seen[lw.level] {
			lines = append(lines, lw.word)
		}
	}
	if len(lines) == 0 {
		return &ocr.Result{OK: true}, nil
	}
	return &ocr.Result{Text: strings.Join(lines, "\n"), Confidence: 80, OK: true}, nil
}

func renderPage(w, h int, bg, fg uint8, factor int, lines ...string) *image.Gray {
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
	return out
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func writePDF(t *testing.T, dir, name, text string) string {
	t.Helper()
	content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type fixture struct {
	ex      *Extractor
	tmpRoot string
	dir     string
}

func newFixture(t *testing.T, engine ocr.Engine, withCache bool) *fixture {
	t.Helper()
	f := &fixture{tmpRoot: t.TempDir(), dir: t.TempDir()}
	deps := Deps{Engine: engine}
	if withCache {
		c, err := cache.New(t.TempDir(), time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		deps.Cache = c
	}
	f.ex = New(deps, Settings{TempDir: f.tmpRoot})
	return f
}

// assertClean fails when a session directory survived the call.
func (f *fixture) assertClean(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tmpRoot)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), imageio.DefaultPrefix) {
			t.Errorf("temporary artifact left behind: %s", e.Name())
		}
	}
}

func TestExtractCacheHit(t *testing.T) {
	engine := &fixedEngine{text: "TOTAL 12.50", conf: 95}
	f := newFixture(t, engine, true)
	path := writePNG(t, f.dir, "receipt.png", renderPage(480, 360, 235, 10, 3, "TOTAL 12.50"))
	opts := models.DefaultExtractOptions()

	first, err := f.ex.Extract(context.Background(), path, "receipt", opts)
	if err != nil {
		t.Fatalf("first Extract() error = %v", err)
	}
	if first.Metadata.CacheHit {
		t.Errorf("first call must miss the cache")
	}
	calls := engine.Calls()

	second, err := f.ex.Extract(context.Background(), path, "receipt", opts)
	if err != nil {
		t.Fatalf("second Extract() error = %v", err)
	}
	if !second.Metadata.CacheHit || second.Text != first.Text {
		t.Errorf("second call: hit=%v text=%q, want hit and %q", second.Metadata.CacheHit, second.Text, first.Text)
	}
	if !second.Metadata.HasCapability(models.CapabilityCached) {
		t.Errorf("capabilities = %v", second.Metadata.Capabilities)
	}
	if engine.Calls() != calls {
		t.Errorf("cache hit ran the engine %d more times", engine.Calls()-calls)
	}
	if second.Metadata.RequestID == first.Metadata.RequestID {
		t.Errorf("each call needs its own request id")
	}

	opts.UseCache = false
	third, err := f.ex.Extract(context.Background(), path, "receipt", opts)
	if err != nil || third.Metadata.CacheHit {
		t.Errorf("use_cache=false must bypass the cache: %v", err)
	}
	f.assertClean(t)
}

func TestExtractPDFPassthrough(t *testing.T) {
	engine := &fixedEngine{text: "unused", conf: 99}
	f := newFixture(t, engine, false)
	path := writePDF(t, f.dir, "invoice.pdf", "TOTAL 12.50")

	env, err := f.ex.Extract(context.Background(), path, "invoice", models.DefaultExtractOptions())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	raw, err := pdftext.NewDirect().Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}

	if env.FileType != models.FileTypePDF || env.Metadata.MethodUsed != pdftext.MethodDirect {
		t.Errorf("file_type=%s method_used=%s", env.FileType, env.Metadata.MethodUsed)
	}
	if want := postprocess.Process(raw.Text, profile.Invoice); env.Text != want {
		t.Errorf("Text = %q, want %q", env.Text, want)
	}
	if engine.Calls() != 0 {
		t.Errorf("PDF text layer must not reach the OCR engine")
	}
	if !env.Metadata.HasCapability(models.CapabilityPDFText) {
		t.Errorf("capabilities = %v", env.Metadata.Capabilities)
	}
}

func TestExtractCorrectsDarkImage(t *testing.T) {
	f := newFixture(t, &fixedEngine{text: "FECHA 01/02/2024", conf: 95}, false)
	path := writePNG(t, f.dir, "dark.png", renderPage(480, 360, 30, 5, 3, "FECHA 01/02/2024"))

	env, err := f.ex.Extract(context.Background(), path, "receipt", models.DefaultExtractOptions())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	md := env.Metadata
	if md.QualityAssessment == nil || md.QualityAssessment.IsAcceptable {
		t.Fatalf("dark image must be assessed as not acceptable: %+v", md.QualityAssessment)
	}
	if !md.Corrected || !md.HasCapability(models.CapabilityQualityCorrected) {
		t.Errorf("corrected=%v capabilities=%v", md.Corrected, md.Capabilities)
	}
	if strings.TrimSpace(env.Text) == "" {
		t.Errorf("text is empty")
	}
	f.assertClean(t)
}

func TestExtractEarlyStop(t *testing.T) {
	engine := &fixedEngine{text: "TOTAL 12.50", conf: 95}
	f := newFixture(t, engine, false)
	path := writePNG(t, f.dir, "receipt.png", renderPage(480, 360, 235, 10, 3, "TOTAL 12.50"))

	env, err := f.ex.Extract(context.Background(), path, "general", models.DefaultExtractOptions())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	md := env.Metadata
	if md.BestStrategy != "standard" || !md.EarlyStopped || md.StrategiesTried != 1 {
		t.Errorf("best=%s early=%v tried=%d", md.BestStrategy, md.EarlyStopped, md.StrategiesTried)
	}
	if md.Method != MethodStandard || env.Text != "TOTAL 12.50" {
		t.Errorf("method=%s text=%q", md.Method, env.Text)
	}
	if md.ImageSize == nil || md.ImageSize.Width != 480 {
		t.Errorf("image size = %+v", md.ImageSize)
	}
}

func TestExtractVoting(t *testing.T) {
	f := newFixture(t, &fixedEngine{text: "TOTAL 12.50", conf: 60}, false)
	path := writePNG(t, f.dir, "receipt.png", renderPage(480, 360, 235, 10, 3, "TOTAL 12.50"))

	env, err := f.ex.Extract(context.Background(), path, "general", models.DefaultExtractOptions())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	md := env.Metadata
	if md.StrategiesTried < 4 || md.EarlyStopped {
		t.Errorf("tried=%d early=%v, want at least 4 attempts", md.StrategiesTried, md.EarlyStopped)
	}
	if md.VotingAnalysis == nil || md.VotingAnalysis.Winner != md.BestStrategy {
		t.Errorf("voting analysis = %+v, best = %s", md.VotingAnalysis, md.BestStrategy)
	}
	if len(md.Strategies) < md.StrategiesTried {
		t.Errorf("%d strategy records for %d attempts", len(md.Strategies), md.StrategiesTried)
	}
	if md.Method != MethodMultiStrategy || !md.HasCapability(models.CapabilityVoting) {
		t.Errorf("method=%s capabilities=%v", md.Method, md.Capabilities)
	}
	f.assertClean(t)
}

func TestExtractTiledLargeImage(t *testing.T) {
	if testing.Short() {
		t.Skip("large image")
	}
	f := newFixture(t, levelEngine{}, false)

	img := image.NewGray(image.Rect(0, 0, 5000, 5000))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	paint := func(x0, y0, level int) {
		for y := y0; y < y0+200; y++ {
			for x := x0; x < x0+200; x++ {
				img.Pix[y*img.Stride+x] = uint8(level)
			}
		}
	}
	paint(100, 100, 50)
	paint(2400, 2400, 100)
	paint(4300, 4300, 150)
	path := writePNG(t, f.dir, "poster.png", img)

	env, err := f.ex.Extract(context.Background(), path, "document", models.DefaultExtractOptions())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	md := env.Metadata
	if md.Method != "tiled" || md.TilesProcessed < 4 {
		t.Errorf("method=%s tiles=%d", md.Method, md.TilesProcessed)
	}
	for _, word := range []string{"ALPHA", "BRAVO", "CHARLIE"} {
		if !strings.Contains(env.Text, word) {
			t.Errorf("text %q misses %s", env.Text, word)
		}
	}
	if !md.HasCapability(models.CapabilityTiled) {
		t.Errorf("capabilities = %v", md.Capabilities)
	}
	f.assertClean(t)
}

func TestExtractParallelMode(t *testing.T) {
	f := newFixture(t, &fixedEngine{text: "TOTAL 12.50", conf: 60}, false)
	path := writePNG(t, f.dir, "receipt.png", renderPage(480, 360, 235, 10, 3, "TOTAL 12.50"))

	opts := models.DefaultExtractOptions()
	opts.Mode = models.ModeParallel
	env, err := f.ex.Extract(context.Background(), path, "general", opts)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	md := env.Metadata
	if !md.ParallelExecution || md.Method != MethodParallel || md.SuccessfulStrategies < 1 {
		t.Errorf("parallel=%v method=%s successful=%d", md.ParallelExecution, md.Method, md.SuccessfulStrategies)
	}
	f.assertClean(t)
}

func TestExtractInputErrors(t *testing.T) {
	f := newFixture(t, &fixedEngine{text: "x", conf: 99}, false)
	notes := filepath.Join(f.dir, "notes.txt")
	os.WriteFile(notes, []byte("hello"), 0o644)
	broken := filepath.Join(f.dir, "broken.png")
	os.WriteFile(broken, []byte("not an image"), 0o644)

	tests := []struct {
		name string
		path string
		want error
	}{
		{"unsupported extension", notes, ocrerr.ErrUnsupportedFormat},
		{"missing image", filepath.Join(f.dir, "absent.png"), ocrerr.ErrFileMissing},
		{"missing pdf", filepath.Join(f.dir, "absent.pdf"), ocrerr.ErrFileMissing},
		{"undecodable image", broken, ocrerr.ErrFileUnreadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := f.ex.Extract(context.Background(), tt.path, "general", models.DefaultExtractOptions())
			if !errors.Is(err, tt.want) || env != nil {
				t.Errorf("Extract() = %v, %v; want nil, %v", env, err, tt.want)
			}
		})
	}
	f.assertClean(t)
}

func TestExtractEngineUnavailable(t *testing.T) {
	down := ocrerr.New("Recognize", ocrerr.ErrEngineUnavailable, "tesseract not installed")
	f := newFixture(t, &fixedEngine{err: down}, true)
	path := writePNG(t, f.dir, "receipt.png", renderPage(480, 360, 235, 10, 3, "TOTAL 12.50"))

	env, err := f.ex.Extract(context.Background(), path, "receipt", models.DefaultExtractOptions())
	if !errors.Is(err, ocrerr.ErrEngineUnavailable) {
		t.Fatalf("Extract() error = %v, want engine unavailable", err)
	}
	if env == nil || env.Metadata.Error == "" || len(env.Metadata.Diagnostics) == 0 {
		t.Errorf("expected a diagnostic envelope, got %+v", env)
	}
	if st := f.ex.Cache().Stats(); st.TotalFiles != 0 {
		t.Errorf("failures must not be cached, found %d entries", st.TotalFiles)
	}
	f.assertClean(t)
}

func TestCacheConfig(t *testing.T) {
	auto := CacheConfig(profile.Receipt, models.DefaultExtractOptions())
	if len(auto) != 3 || auto["version"] != CacheVersion || auto["profile_name"] != "receipt" {
		t.Errorf("auto config = %v", auto)
	}
	regions := CacheConfig(profile.Receipt, models.ExtractOptions{Mode: models.ModeRegions})
	if cache.ConfigHash(auto) == cache.ConfigHash(regions) {
		t.Errorf("region results must not share cache entries with auto results")
	}
}

func TestIsSupported(t *testing.T) {
	tests := map[string]bool{
		"a.pdf": true, "a.JPG": true, "a.jpeg": true, "a.png": true, "a.gif": true,
		"a.bmp": true, "a.tiff": true, "a.TIF": true, "a.webp": false, "a.txt": false, "noext": false,
	}
	for path, want := range tests {
		if got := IsSupported(path); got != want {
			t.Errorf("IsSupported(%q) = %v, want %v", path, got, want)
		}
	}
}

func ExampleExtractor_Extract() {
	dir, _ := os.MkdirTemp("", "extract-example")
	defer os.RemoveAll(dir)

	page := image.NewGray(image.Rect(0, 0, 320, 120))
	for i := range page.Pix {
		page.Pix[i] = 240
	}
	path := filepath.Join(dir, "receipt.png")
	out, _ := os.Create(path)
	png.Encode(out, page)
	out.Close()

	engine := ocr.EngineFunc(func(ctx context.Context, imagePath string, cfg ocr.Config) (*ocr.Result, error) {
		return &ocr.Result{Text: "TOTAL 12.50", Confidence: 96, OK: true}, nil
	})
	ex := New(Deps{Engine: engine}, Settings{TempDir: dir})

	env, err := ex.Extract(context.Background(), path, "general", models.DefaultExtractOptions())
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(env.Metadata.BestStrategy, env.Metadata.EarlyStopped)
	fmt.Println(env.Text)
	// Output:
	// standard true
	// TOTAL 12.50
}
