// Package optimize holds the extraction paths for inputs the orchestrator does
// not handle well on its own: very large images are cut into overlapping
// tiles, sparse layouts are read region by region, and the strategies can be
// run on a bounded worker pool.
package optimize

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"ocrpipe/internal/imageio"
	"ocrpipe/internal/logger"
	"ocrpipe/internal/ocr"
	"ocrpipe/internal/ocrerr"
	"ocrpipe/internal/vision"
)

// Tiling defaults
const (
	DefaultTileSize    = 2000
	DefaultTileOverlap = 100

	// BlankStdDev is the luminance deviation under which an incremental run
	// treats a tile as empty.
	BlankStdDev = 4.0
)

// Methods reported by the tiler
const (
	MethodTiled            = "tiled"
	MethodTiledIncremental = "tiled_incremental"
	MethodDirect           = "direct"
)

// Tile is one cell of the grid.
type Tile struct {
	Row, Col   int
	Rect       image.Rectangle
	Text       string
	Confidence float64
	Estimated  bool
	Skipped    bool
	Err        error
}

// TiledResult is the merged output of a tiled run.
type TiledResult struct {
	Text           string
	Method         string
	Confidence     float64
	Estimated      bool
	TilesProcessed int
	TilesSkipped   int
	Tiles          []Tile
}

// Tiler OCRs large images tile by tile.
type Tiler struct {
	engine  ocr.Engine
	size    int
	overlap int
	log     zerolog.Logger
}

// NewTiler returns a tiler with the given tile size and overlap. Invalid
// values fall back to the defaults.
func NewTiler(engine ocr.Engine, size, overlap int) *Tiler {
	if size <= 0 {
		size = DefaultTileSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(DefaultTileOverlap, size/2)
	}
	return &Tiler{engine: engine, size: size, overlap: overlap, log: logger.WithComponent("tiler")}
}

// Grid returns the tile rectangles covering a w x h image, row-major. Tiles
// advance by size-overlap; the last tile of a row or column is clipped.
func Grid(w, h, size, overlap int) [][]image.Rectangle {
	xs := starts(w, size, size-overlap)
	ys := starts(h, size, size-overlap)
	grid := make([][]image.Rectangle, len(ys))
	for r, y := range ys {
		grid[r] = make([]image.Rectangle, len(xs))
		for c, x := range xs {
			grid[r][c] = image.Rect(x, y, min(x+size, w), min(y+size, h))
		}
	}
	return grid
}

func starts(length, size, step int) []int {
	if step <= 0 {
		step = size
	}
	out := []int{0}
	for x := 0; x+size < length; {
		x += step
		out = append(out, x)
	}
	return out
}

// Process OCRs img. Images no larger than one tile are read directly. With
// incremental set, tiles are read in order and blank tiles are skipped.
func (t *Tiler) Process(ctx context.Context, img image.Image, cfg ocr.Config, sess *imageio.Session, incremental bool) (*TiledResult, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if w <= t.size && h <= t.size {
		tile := t.read(ctx, img, image.Rect(0, 0, w, h), cfg, sess, "tile_direct")
		if tile.Err != nil {
			return nil, tile.Err
		}
		return &TiledResult{
			Text:           tile.Text,
			Method:         MethodDirect,
			Confidence:     tile.Confidence,
			Estimated:      tile.Estimated,
			TilesProcessed: 1,
			Tiles:          []Tile{tile},
		}, nil
	}

	src := img
	if b.Min != (image.Point{}) {
		src = imageio.ToNRGBA(img)
	}

	grid := Grid(w, h, t.size, t.overlap)
	res := &TiledResult{Method: MethodTiled}
	if incremental {
		res.Method = MethodTiledIncremental
	}

	var failures []error
	for r, row := range grid {
		for c, rect := range row {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			crop := imaging.Crop(src, rect)
			if incremental {
				if _, std := vision.MeanStd(imageio.ToGrayscale(crop)); std < BlankStdDev {
					res.Tiles = append(res.Tiles, Tile{Row: r, Col: c, Rect: rect, Skipped: true})
					res.TilesSkipped++
					continue
				}
			}
			tile := t.read(ctx, crop, rect, cfg, sess, fmt.Sprintf("tile_%d_%d", r, c))
			tile.Row, tile.Col = r, c
			res.Tiles = append(res.Tiles, tile)
			if tile.Err != nil {
				failures = append(failures, tile.Err)
				continue
			}
			res.TilesProcessed++
		}
	}

	if res.TilesProcessed == 0 && len(failures) > 0 {
		return nil, failures[0]
	}

	res.Text = MergeTiles(res.Tiles)
	var sum float64
	var n int
	for _, tile := range res.Tiles {
		if tile.Skipped || tile.Err != nil || strings.TrimSpace(tile.Text) == "" {
			continue
		}
		sum += tile.Confidence
		n++
		res.Estimated = res.Estimated || tile.Estimated
	}
	if n > 0 {
		res.Confidence = sum / float64(n)
	}

	t.log.Debug().
		Str("method", res.Method).
		Int("tiles_processed", res.TilesProcessed).
		Int("tiles_skipped", res.TilesSkipped).
		Int("tile_failures", len(failures)).
		Msg("Tiled extraction finished")
	return res, nil
}

func (t *Tiler) read(ctx context.Context, img image.Image, rect image.Rectangle, cfg ocr.Config, sess *imageio.Session, label string) Tile {
	tile := Tile{Rect: rect}
	path, err := sess.Save(imageio.ToGrayscale(img), label)
	if err != nil {
		tile.Err = ocrerr.New("Tile", ocrerr.ErrStrategyFailed, err.Error())
		return tile
	}
	res, err := t.engine.Recognize(ctx, path, cfg)
	switch {
	case err != nil:
		tile.Err = err
	case !res.OK:
		tile.Err = ocrerr.New("Tile", ocrerr.ErrStrategyFailed, label+" produced no result")
	default:
		tile.Text, tile.Confidence, tile.Estimated = res.Text, res.Confidence, res.Estimated
	}
	return tile
}

// MergeTiles joins tile texts in row-major order. A line is dropped when an
// already merged neighbouring tile (left, above-left, above or above-right)
// contained the same line, which removes text read twice in the overlap.
func MergeTiles(tiles []Tile) string {
	lines := make(map[[2]int]map[string]struct{}, len(tiles))
	var out []string
	for _, tile := range tiles {
		seen := make(map[string]struct{})
		lines[[2]int{tile.Row, tile.Col}] = seen
		if tile.Skipped || tile.Err != nil {
			continue
		}
		for _, line := range strings.Split(tile.Text, "\n") {
			key := strings.TrimSpace(line)
			if key == "" {
				continue
			}
			dup := inNeighbour(lines, tile.Row, tile.Col, key)
			seen[key] = struct{}{}
			if !dup {
				out = append(out, key)
			}
		}
	}
	return strings.Join(out, "\n")
}

func inNeighbour(lines map[[2]int]map[string]struct{}, r, c int, key string) bool {
	for _, n := range [][2]int{{r, c - 1}, {r - 1, c - 1}, {r - 1, c}, {r - 1, c + 1}} {
		if set, ok := lines[n]; ok {
			if _, dup := set[key]; dup {
				return true
			}
		}
	}
	return false
}
