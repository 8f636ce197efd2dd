package imageio

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ocrpipe/internal/ocrerr"
)

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.png"))
	if !errors.Is(err, ocrerr.ErrFileMissing) {
		t.Errorf("missing file: got %v, want ErrFileMissing", err)
	}

	garbage := filepath.Join(dir, "garbage.png")
	if err := os.WriteFile(garbage, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Load(garbage)
	if !errors.Is(err, ocrerr.ErrFileUnreadable) {
		t.Errorf("garbage file: got %v, want ErrFileUnreadable", err)
	}
}

func TestSaveTempRoundTrip(t *testing.T) {
	dir := t.TempDir()
	img := Blank(40, 20, color.White)

	path, err := SaveTemp(img, dir, "roundtrip_", ".png")
	if err != nil {
		t.Fatalf("SaveTemp() error = %v", err)
	}
	if !strings.HasPrefix(filepath.Base(path), "roundtrip_") {
		t.Errorf("unexpected name %s", path)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Bounds().Dx() != 40 || loaded.Bounds().Dy() != 20 {
		t.Errorf("size = %v, want 40x20", loaded.Bounds())
	}

	w, h, err := DecodeSize(path)
	if err != nil || w != 40 || h != 20 {
		t.Errorf("DecodeSize() = %d, %d, %v", w, h, err)
	}

	Cleanup(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed", path)
	}
}

func TestToGrayscale(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.NRGBA{255, 255, 255, 255})
	img.Set(1, 0, color.NRGBA{0, 0, 0, 255})

	gray := ToGrayscale(img)
	if gray.GrayAt(0, 0).Y != 255 || gray.GrayAt(1, 0).Y != 0 {
		t.Errorf("unexpected gray values %v %v", gray.GrayAt(0, 0), gray.GrayAt(1, 0))
	}
	if ToGrayscale(gray) != gray {
		t.Errorf("expected *image.Gray input to be returned unchanged")
	}
}

func TestSessionCloseRemovesEverything(t *testing.T) {
	root := t.TempDir()
	sess, err := NewSession(root, "ocrtest_")
	if err != nil {
		t.Fatal(err)
	}

	for _, label := range []string{"standard", "otsu", "tile"} {
		if _, err := sess.Save(Blank(8, 8, color.Black), label); err != nil {
			t.Fatalf("Save(%s) error = %v", label, err)
		}
	}
	loose, err := SaveTemp(Blank(4, 4, color.White), root, "ocrtest_loose_", ".png")
	if err != nil {
		t.Fatal(err)
	}
	sess.Track(loose)

	sess.Close()
	sess.Close()

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "ocrtest_") {
			t.Errorf("leftover artifact %s", e.Name())
		}
	}

	if _, err := sess.Save(Blank(2, 2, color.White), "late"); err == nil {
		t.Errorf("expected Save after Close to fail")
	}
}

func TestIsImageExt(t *testing.T) {
	for _, ext := range []string{".png", ".JPG", ".tif", ".bmp", ".gif"} {
		if !IsImageExt(ext) {
			t.Errorf("IsImageExt(%q) = false", ext)
		}
	}
	for _, ext := range []string{".pdf", ".docx", ""} {
		if IsImageExt(ext) {
			t.Errorf("IsImageExt(%q) = true", ext)
		}
	}
}
