package imaging

import (
	"errors"
	"image"
	"math"
	"sort"
)

var errNoTextMask = errors.New("text mask too small to estimate skew")

// estimateSkew returns the rotation in degrees, normalized to (-45, 45], of the
// minimum-area rectangle around the dark (ink) pixels. Positive angles mean
// text lines descend to the right.
func estimateSkew(img *image.Gray) (float64, error) {
	blurred := gaussianBlur5(img)
	threshold := otsuThreshold(blurred)

	points := inkExtremes(blurred, threshold)
	hull := convexHull(points)
	if len(hull) < 3 {
		return 0, errNoTextMask
	}

	angle, ok := minAreaRectAngle(hull)
	if !ok {
		return 0, errNoTextMask
	}
	for angle > 45 {
		angle -= 90
	}
	for angle <= -45 {
		angle += 90
	}
	return angle, nil
}

var gaussian5 = func() [5]float64 {
	// sigma derived from the kernel size the way OpenCV does for sigma=0.
	sigma := 0.3*((5-1)*0.5-1) + 0.8
	var k [5]float64
	sum := 0.0
	for i := range k {
		x := float64(i - 2)
		k[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}()

func gaussianBlur5(src *image.Gray) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0.0
			for i, kv := range gaussian5 {
				sx := clampInt(x+i-2, 0, w-1)
				acc += kv * float64(src.Pix[y*src.Stride+sx])
			}
			tmp[y*w+x] = acc
		}
	}
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			acc := 0.0
			for i, kv := range gaussian5 {
				sy := clampInt(y+i-2, 0, h-1)
				acc += kv * tmp[sy*w+x]
			}
			dst.Pix[y*dst.Stride+x] = clampUint8(acc)
		}
	}
	return dst
}

// otsuThreshold picks the level that maximizes between-class variance.
func otsuThreshold(img *image.Gray) uint8 {
	var hist [256]int
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		for _, v := range img.Pix[y*img.Stride : y*img.Stride+w] {
			hist[v]++
		}
	}
	total := float64(w * h)
	sumAll := 0.0
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var best uint8
	bestVar := -1.0
	weightBg, sumBg := 0.0, 0.0
	for t := 0; t < 256; t++ {
		weightBg += float64(hist[t])
		if weightBg == 0 {
			continue
		}
		weightFg := total - weightBg
		if weightFg == 0 {
			break
		}
		sumBg += float64(t * hist[t])
		meanBg := sumBg / weightBg
		meanFg := (sumAll - sumBg) / weightFg
		between := weightBg * weightFg * (meanBg - meanFg) * (meanBg - meanFg)
		if between > bestVar {
			bestVar = between
			best = uint8(t)
		}
	}
	return best
}

type point struct {
	x, y float64
}

// inkExtremes keeps the leftmost and rightmost ink pixel of every row; their
// convex hull equals the hull of the full ink mask.
func inkExtremes(img *image.Gray, threshold uint8) []point {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	points := make([]point, 0, 2*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		left, right := -1, -1
		for x, v := range row {
			if v <= threshold {
				if left < 0 {
					left = x
				}
				right = x
			}
		}
		if left < 0 {
			continue
		}
		points = append(points, point{float64(left), float64(y)})
		if right != left {
			points = append(points, point{float64(right), float64(y)})
		}
	}
	return points
}

func convexHull(points []point) []point {
	if len(points) < 3 {
		return nil
	}
	pts := append([]point(nil), points...)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].x == pts[j].x {
			return pts[i].y < pts[j].y
		}
		return pts[i].x < pts[j].x
	})

	cross := func(o, a, b point) float64 {
		return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
	}
	hull := make([]point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// minAreaRectAngle runs rotating calipers over the hull edges and returns the
// direction in degrees of the edge that bounds the smallest rectangle.
func minAreaRectAngle(hull []point) (float64, bool) {
	bestArea := math.Inf(1)
	bestAngle := 0.0
	found := false
	n := len(hull)
	for i := 0; i < n; i++ {
		a, b := hull[i], hull[(i+1)%n]
		dx, dy := b.x-a.x, b.y-a.y
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		ux, uy := dx/length, dy/length
		minU, maxU := math.Inf(1), math.Inf(-1)
		minV, maxV := math.Inf(1), math.Inf(-1)
		for _, p := range hull {
			u := p.x*ux + p.y*uy
			v := -p.x*uy + p.y*ux
			minU, maxU = math.Min(minU, u), math.Max(maxU, u)
			minV, maxV = math.Min(minV, v), math.Max(maxV, v)
		}
		area := (maxU - minU) * (maxV - minV)
		if area < bestArea {
			bestArea = area
			bestAngle = math.Atan2(dy, dx) * 180 / math.Pi
			found = true
		}
	}
	if !found || bestArea <= 0 {
		return 0, false
	}
	return bestAngle, true
}

// rotate turns img by -deg around its center, keeping the canvas size and
// replicating border pixels into uncovered corners.
func rotate(img *image.Gray, deg float64) *image.Gray {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	cx, cy := float64(w/2), float64(h/2)
	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		dy := float64(y) - cy
		for x := 0; x < w; x++ {
			dx := float64(x) - cx
			sx := cos*dx - sin*dy + cx
			sy := sin*dx + cos*dy + cy
			dst.Pix[y*dst.Stride+x] = sampleBicubic(img, sx, sy)
		}
	}
	return dst
}

func sampleBicubic(img *image.Gray, fx, fy float64) uint8 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	x0, y0 := int(math.Floor(fx)), int(math.Floor(fy))
	tx, ty := fx-float64(x0), fy-float64(y0)

	var wx, wy [4]float64
	for i := 0; i < 4; i++ {
		wx[i] = cubicWeight(tx - float64(i-1))
		wy[i] = cubicWeight(ty - float64(i-1))
	}

	acc := 0.0
	for j := 0; j < 4; j++ {
		sy := clampInt(y0+j-1, 0, h-1)
		row := img.Pix[sy*img.Stride:]
		rowAcc := 0.0
		for i := 0; i < 4; i++ {
			sx := clampInt(x0+i-1, 0, w-1)
			rowAcc += wx[i] * float64(row[sx])
		}
		acc += wy[j] * rowAcc
	}
	return clampUint8(acc)
}

// cubicWeight is the bicubic convolution kernel with a = -0.75.
func cubicWeight(x float64) float64 {
	const a = -0.75
	x = math.Abs(x)
	switch {
	case x <= 1:
		return ((a+2)*x-(a+3))*x*x + 1
	case x < 2:
		return ((a*x-5*a)*x+8*a)*x - 4*a
	default:
		return 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
