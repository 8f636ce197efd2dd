package vision

import (
	"image"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

// Component is an 8-connected foreground blob.
type Component struct {
	Box  image.Rectangle
	Area int
}

// Column layout of the connected component stats matrix
const (
	statLeft = iota
	statTop
	statWidth
	statHeight
	statArea
)

// labeling holds the 8-connected labels of a binary Mat and their stats.
type labeling struct {
	labels    gocv.Mat
	stats     gocv.Mat
	centroids gocv.Mat
	n         int
}

func labelComponents(binary gocv.Mat) *labeling {
	l := &labeling{labels: gocv.NewMat(), stats: gocv.NewMat(), centroids: gocv.NewMat()}
	l.n = gocv.ConnectedComponentsWithStats(binary, &l.labels, &l.stats, &l.centroids)
	return l
}

func (l *labeling) Close() {
	l.labels.Close()
	l.stats.Close()
	l.centroids.Close()
}

// at returns the label of pixel (x, y); 0 is background.
func (l *labeling) at(x, y int) int {
	return int(l.labels.GetIntAt(y, x))
}

func (l *labeling) component(id int) Component {
	x, y := int(l.stats.GetIntAt(id, statLeft)), int(l.stats.GetIntAt(id, statTop))
	w, h := int(l.stats.GetIntAt(id, statWidth)), int(l.stats.GetIntAt(id, statHeight))
	return Component{Box: image.Rect(x, y, x+w, y+h), Area: int(l.stats.GetIntAt(id, statArea))}
}

// Components returns the connected non-zero blobs of a binary image with at
// least minArea pixels, ordered top-to-bottom then left-to-right.
func Components(binary *image.Gray, minArea int) []Component {
	if isEmpty(binary) {
		return nil
	}
	src := toMat(binary)
	defer src.Close()
	l := labelComponents(src)
	defer l.Close()

	var out []Component
	for id := 1; id < l.n; id++ {
		if c := l.component(id); c.Area >= minArea {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Box.Min.Y != out[j].Box.Min.Y {
			return out[i].Box.Min.Y < out[j].Box.Min.Y
		}
		return out[i].Box.Min.X < out[j].Box.Min.X
	})
	return out
}

// MSEROptions filters the stable regions by size.
type MSEROptions struct {
	MinArea      int     // Smallest box kept, in pixels
	MaxAreaRatio float64 // Largest box kept, as a fraction of the image
}

// DefaultMSEROptions returns options suited to text on a light background.
func DefaultMSEROptions() MSEROptions {
	return MSEROptions{MinArea: 30, MaxAreaRatio: 0.1}
}

// MSER returns the distinct boxes of the maximally stable extremal regions of
// g that pass the size filter. OpenCV reports each region as a keypoint; a
// keypoint centred on dark foreground takes the box of that connected
// component, any other keeps the square its diameter spans.
func MSER(g *image.Gray, opts MSEROptions) []image.Rectangle {
	if isEmpty(g) {
		return nil
	}
	src := toMat(g)
	defer src.Close()
	mser := gocv.NewMSER()
	defer mser.Close()
	keypoints := mser.Detect(src)
	if len(keypoints) == 0 {
		return nil
	}

	dark := gocv.NewMat()
	defer dark.Close()
	gocv.Threshold(src, &dark, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)
	l := labelComponents(dark)
	defer l.Close()

	bounds := image.Rect(0, 0, src.Cols(), src.Rows())
	maxArea := opts.MaxAreaRatio * float64(bounds.Dx()*bounds.Dy())
	seen := make(map[image.Rectangle]bool)
	var boxes []image.Rectangle
	for _, kp := range keypoints {
		cx := min(max(int(kp.X), 0), bounds.Max.X-1)
		cy := min(max(int(kp.Y), 0), bounds.Max.Y-1)

		var box image.Rectangle
		if id := l.at(cx, cy); id > 0 {
			box = l.component(id).Box
		} else {
			r := kp.Size / 2
			box = image.Rect(
				int(math.Floor(kp.X-r)), int(math.Floor(kp.Y-r)),
				int(math.Ceil(kp.X+r)), int(math.Ceil(kp.Y+r)),
			).Intersect(bounds)
		}

		area := box.Dx() * box.Dy()
		if box.Empty() || area < opts.MinArea || (maxArea > 0 && float64(area) > maxArea) || seen[box] {
			continue
		}
		seen[box] = true
		boxes = append(boxes, box)
	}
	return boxes
}

// IoU returns the intersection over union of two rectangles.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := inter.Dx() * inter.Dy()
	union := a.Dx()*a.Dy() + b.Dx()*b.Dy() - ia
	if union <= 0 {
		return 0
	}
	return float64(ia) / float64(union)
}

// Cluster groups boxes for which join reports true, transitively, and returns
// the union of each group ordered by the group's first box. Pairs are swept in
// x order and only tested while their x ranges lie within slack of each other,
// so join must be false for boxes further apart than that.
func Cluster(boxes []image.Rectangle, slack int, join func(a, b image.Rectangle) bool) []image.Rectangle {
	n := len(boxes)
	if n < 2 {
		return append([]image.Rectangle(nil), boxes...)
	}

	order := make([]int, n)
	parent := make([]int, n)
	for i := range order {
		order[i], parent[i] = i, i
	}
	sort.Slice(order, func(a, b int) bool { return boxes[order[a]].Min.X < boxes[order[b]].Min.X })

	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for a := 0; a < n; a++ {
		i := order[a]
		reach := boxes[i].Max.X + slack
		for b := a + 1; b < n; b++ {
			j := order[b]
			if boxes[j].Min.X > reach {
				break
			}
			ri, rj := find(i), find(j)
			if ri != rj && join(boxes[i], boxes[j]) {
				parent[max(ri, rj)] = min(ri, rj)
			}
		}
	}

	// Roots are the smallest index of their group, so a forward scan emits
	// groups in first-box order.
	slot := make(map[int]int, n)
	var out []image.Rectangle
	for i, box := range boxes {
		r := find(i)
		k, ok := slot[r]
		if !ok {
			slot[r] = len(out)
			out = append(out, box)
			continue
		}
		out[k] = out[k].Union(box)
	}
	return out
}

// MergeOverlapping unions boxes whose IoU exceeds threshold, or where one box
// contains the other, until no pair qualifies.
func MergeOverlapping(boxes []image.Rectangle, threshold float64) []image.Rectangle {
	overlaps := func(a, b image.Rectangle) bool {
		return IoU(a, b) > threshold || a.In(b) || b.In(a)
	}
	out := boxes
	for {
		next := Cluster(out, 0, overlaps)
		if len(next) == len(out) {
			return next
		}
		out = next
	}
}

// ReadingOrder sorts boxes top-to-bottom then left-to-right. A box joins the
// current line when its vertical center falls inside the line's first box.
func ReadingOrder(boxes []image.Rectangle) []image.Rectangle {
	byTop := append([]image.Rectangle(nil), boxes...)
	sort.SliceStable(byTop, func(i, j int) bool {
		if byTop[i].Min.Y != byTop[j].Min.Y {
			return byTop[i].Min.Y < byTop[j].Min.Y
		}
		return byTop[i].Min.X < byTop[j].Min.X
	})

	out := make([]image.Rectangle, 0, len(byTop))
	for start := 0; start < len(byTop); {
		head := byTop[start]
		end := start + 1
		for end < len(byTop) {
			c := (byTop[end].Min.Y + byTop[end].Max.Y) / 2
			if c < head.Min.Y || c >= head.Max.Y {
				break
			}
			end++
		}
		line := byTop[start:end]
		sort.SliceStable(line, func(i, j int) bool { return line[i].Min.X < line[j].Min.X })
		out = append(out, line...)
		start = end
	}
	return out
}
