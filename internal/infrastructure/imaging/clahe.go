package imaging

import (
	"image"
	"math"
)

// clahe applies contrast limited adaptive histogram equalization with a
// grid x grid tile layout and bilinear blending between tile mappings.
func clahe(src *image.Gray, clipLimit float64, grid int) *image.Gray {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	gx, gy := min(grid, w), min(grid, h)
	if gx <= 0 || gy <= 0 {
		return src
	}

	xs := tileEdges(w, gx)
	ys := tileEdges(h, gy)

	luts := make([][256]uint8, gx*gy)
	for ty := 0; ty < gy; ty++ {
		for tx := 0; tx < gx; tx++ {
			luts[ty*gx+tx] = tileLUT(src, xs[tx], xs[tx+1], ys[ty], ys[ty+1], clipLimit)
		}
	}

	colL, colR, colW := interpolationAxis(xs)
	rowT, rowB, rowW := interpolationAxis(ys)

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		t, b, wy := rowT[y], rowB[y], rowW[y]
		srcRow := src.Pix[y*src.Stride : y*src.Stride+w]
		dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := 0; x < w; x++ {
			l, r, wx := colL[x], colR[x], colW[x]
			v := srcRow[x]
			top := (1-wx)*float64(luts[t*gx+l][v]) + wx*float64(luts[t*gx+r][v])
			bottom := (1-wx)*float64(luts[b*gx+l][v]) + wx*float64(luts[b*gx+r][v])
			dstRow[x] = clampUint8((1-wy)*top + wy*bottom)
		}
	}
	return dst
}

func tileEdges(size, tiles int) []int {
	edges := make([]int, tiles+1)
	for i := 0; i <= tiles; i++ {
		edges[i] = i * size / tiles
	}
	return edges
}

func tileLUT(src *image.Gray, x0, x1, y0, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	for y := y0; y < y1; y++ {
		row := src.Pix[y*src.Stride+x0 : y*src.Stride+x1]
		for _, v := range row {
			hist[v]++
		}
	}
	area := (x1 - x0) * (y1 - y0)

	limit := max(int(clipLimit*float64(area)/256), 1)
	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	incr, residual := excess/256, excess%256
	for i := range hist {
		hist[i] += incr
	}
	if residual > 0 {
		step := max(256/residual, 1)
		for i := 0; i < 256 && residual > 0; i += step {
			hist[i]++
			residual--
		}
	}

	var lut [256]uint8
	scale := 255.0 / float64(area)
	cdf := 0
	for i := range hist {
		cdf += hist[i]
		lut[i] = clampUint8(float64(cdf) * scale)
	}
	return lut
}

// interpolationAxis returns, per pixel along one axis, the two neighbouring
// tile indexes and the weight of the second one.
func interpolationAxis(edges []int) ([]int, []int, []float64) {
	tiles := len(edges) - 1
	size := edges[tiles]
	centers := make([]float64, tiles)
	for i := 0; i < tiles; i++ {
		centers[i] = float64(edges[i]+edges[i+1]-1) / 2
	}

	lo := make([]int, size)
	hi := make([]int, size)
	weight := make([]float64, size)
	idx := 0
	for p := 0; p < size; p++ {
		fp := float64(p)
		switch {
		case fp <= centers[0]:
			lo[p], hi[p] = 0, 0
		case fp >= centers[tiles-1]:
			lo[p], hi[p] = tiles-1, tiles-1
		default:
			for idx < tiles-2 && fp >= centers[idx+1] {
				idx++
			}
			lo[p], hi[p] = idx, idx+1
			weight[p] = (fp - centers[idx]) / (centers[idx+1] - centers[idx])
		}
	}
	return lo, hi, weight
}

func clampUint8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
