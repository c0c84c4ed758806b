package tiling

import "math"

// SmoothFade eases x in [0,1] from 0 to 1 with a squared raised cosine:
// (0.5*(1-cos(πx)))². Squaring steepens the middle of the transition and
// flattens both ends.
func SmoothFade(x float64) float64 {
	c := 0.5 * (1 - math.Cos(math.Pi*x))
	return c * c
}

// Ramp returns the fade-in over an extension of length n: entry t is
// SmoothFade(t/n), starting at 0 on the outer edge and approaching 1 where
// the core begins. A fade-out is the same ramp read from the other end.
func Ramp(n int) []float64 {
	r := make([]float64, n)
	for t := range r {
		r[t] = SmoothFade(float64(t) / float64(n))
	}
	return r
}

// Mask is a single channel weight buffer covering one tile's full rect.
type Mask struct {
	Height int
	Width  int
	W      []float64
}

// At returns the weight at (y, x) of the tile.
func (m *Mask) At(y, x int) float64 {
	return m.W[y*m.Width+x]
}

// NewMask builds the blend weights for t.
//
// The mask starts at 1. Every side where Full extends past Core gets a
// ramp across the extension: fading in on the top and left, fading out on
// the bottom and right. Ramps on the two axes multiply, except in the
// corner blocks where both a vertical and a horizontal ramp apply; there
// the weight is the larger of the two fades instead of their product, which
// would otherwise darken the corners.
func NewMask(t TileSpec) *Mask {
	h, w := t.Full.Height(), t.Full.Width()
	top, bottom, left, right := t.Extensions()

	rows := axisFade(h, top, bottom)
	cols := axisFade(w, left, right)

	m := &Mask{Height: h, Width: w, W: make([]float64, h*w)}
	for y := 0; y < h; y++ {
		row := m.W[y*w : (y+1)*w]
		for x := range row {
			row[x] = rows[y] * cols[x]
		}
	}

	m.maxCorner(0, top, 0, left, rows, cols)
	m.maxCorner(0, top, w-right, w, rows, cols)
	m.maxCorner(h-bottom, h, 0, left, rows, cols)
	m.maxCorner(h-bottom, h, w-right, w, rows, cols)

	return m
}

// axisFade returns the per-position weights along one axis of length n with
// a fade-in of length lead and a fade-out of length trail.
func axisFade(n, lead, trail int) []float64 {
	f := make([]float64, n)
	for i := range f {
		f[i] = 1
	}
	for t, v := range Ramp(lead) {
		f[t] *= v
	}
	for t := 0; t < trail; t++ {
		f[n-trail+t] *= SmoothFade(1 - float64(t)/float64(trail))
	}
	return f
}

// maxCorner overwrites [y0,y1)×[x0,x1) with max(vertical, horizontal) fade.
// Empty ranges are a no-op.
func (m *Mask) maxCorner(y0, y1, x0, x1 int, rows, cols []float64) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			m.W[y*m.Width+x] = math.Max(rows[y], cols[x])
		}
	}
}
