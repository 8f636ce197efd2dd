package vision

import (
	"image"
	"math"

	"gocv.io/x/gocv"
)

// SkewAngle estimates the rotation of the foreground of a binary image from its
// minimum area bounding rectangle. The angle is in degrees within (-45, 45];
// positive values mean the content is rotated clockwise on screen. ok is false
// when there are too few foreground pixels to measure.
func SkewAngle(binary *image.Gray) (float64, bool) {
	if isEmpty(binary) {
		return 0, false
	}
	// The leftmost and rightmost pixel of each row span the same hull as the
	// full foreground.
	w, h, pix := dense(binary)
	pts := make([]image.Point, 0, 2*h)
	for y := 0; y < h; y++ {
		row := pix[y*w : (y+1)*w]
		left, right := -1, -1
		for x, p := range row {
			if p != 0 {
				if left < 0 {
					left = x
				}
				right = x
			}
		}
		if left >= 0 {
			pts = append(pts, image.Point{X: left, Y: y})
			if right != left {
				pts = append(pts, image.Point{X: right, Y: y})
			}
		}
	}
	if len(pts) < 3 {
		return 0, false
	}

	pv := gocv.NewPointVectorFromPoints(pts)
	defer pv.Close()
	rect := gocv.MinAreaRect(pv)
	if len(rect.Points) < 3 {
		return 0, false
	}

	// Either side of the rectangle gives the angle modulo 90; the longer one
	// suffers least from the integer corners.
	edge := rect.Points[1].Sub(rect.Points[0])
	if other := rect.Points[2].Sub(rect.Points[1]); norm2(other) > norm2(edge) {
		edge = other
	}
	if edge == (image.Point{}) {
		return 0, false
	}
	return normalizeAngle(math.Atan2(float64(edge.Y), float64(edge.X)) * 180 / math.Pi), true
}

func norm2(p image.Point) int {
	return p.X*p.X + p.Y*p.Y
}

func normalizeAngle(a float64) float64 {
	for a > 45 {
		a -= 90
	}
	for a <= -45 {
		a += 90
	}
	return a
}
