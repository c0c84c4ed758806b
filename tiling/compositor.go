package tiling

import (
	"fmt"
	"sync"

	"github.com/richinsley/comfytile/imagebuf"
)

// Epsilon keeps normalization finite. With a full partition every pixel has
// weight ≥ 1, so it never changes a result measurably.
const Epsilon = 1e-10

// Compositor accumulates weighted tiles into a canvas and a matching weight
// buffer. Accumulate is safe for concurrent use; every write to the shared
// buffers happens under one lock.
//
// A Compositor serves a single invocation: create it, accumulate every
// tile, call Normalize and drop it.
type Compositor struct {
	height   int
	width    int
	channels int

	mu      sync.Mutex
	canvas  []float64
	weights []float64
}

// NewCompositor returns a zeroed compositor for a height×width×channels output.
func NewCompositor(height, width, channels int) *Compositor {
	return &Compositor{
		height:   height,
		width:    width,
		channels: channels,
		canvas:   make([]float64, height*width*channels),
		weights:  make([]float64, height*width),
	}
}

// Check verifies that refined matches the shape of tile t's full rect.
func (c *Compositor) Check(t TileSpec, refined *imagebuf.Image) error {
	h, w := t.Full.Height(), t.Full.Width()
	if refined.Height != h || refined.Width != w || refined.Channels != c.channels {
		return &DimensionMismatchError{
			Index:        t.Index,
			WantHeight:   h,
			WantWidth:    w,
			WantChannels: c.channels,
			GotHeight:    refined.Height,
			GotWidth:     refined.Width,
			GotChannels:  refined.Channels,
		}
	}
	return nil
}

// Accumulate adds refined, weighted by t's mask, into the canvas.
// refined must have exactly the shape of t.Full.
func (c *Compositor) Accumulate(t TileSpec, refined *imagebuf.Image) error {
	if err := c.Check(t, refined); err != nil {
		return err
	}
	if t.Full.Y1 > c.height || t.Full.X1 > c.width || t.Full.Y0 < 0 || t.Full.X0 < 0 {
		return fmt.Errorf("tiling: tile %d rect %s outside %dx%d canvas", t.Index, t.Full, c.width, c.height)
	}

	// the mask is tile-local, only the writes below need the lock
	mask := NewMask(t)

	c.mu.Lock()
	defer c.mu.Unlock()

	for y := 0; y < mask.Height; y++ {
		cy := t.Full.Y0 + y
		for x := 0; x < mask.Width; x++ {
			cx := t.Full.X0 + x
			m := mask.W[y*mask.Width+x]
			c.weights[cy*c.width+cx] += m

			src := refined.Offset(y, x)
			dst := (cy*c.width + cx) * c.channels
			for ch := 0; ch < c.channels; ch++ {
				c.canvas[dst+ch] += float64(refined.Pix[src+ch]) * m
			}
		}
	}
	return nil
}

// Weight returns the accumulated weight at canvas pixel (y, x).
func (c *Compositor) Weight(y, x int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weights[y*c.width+x]
}

// Normalize divides the weighted sum by the accumulated weight and returns
// the blended image.
func (c *Compositor) Normalize() *imagebuf.Image {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := imagebuf.New(c.height, c.width, c.channels)
	for i, w := range c.weights {
		d := w + Epsilon
		for ch := 0; ch < c.channels; ch++ {
			k := i*c.channels + ch
			out.Pix[k] = float32(c.canvas[k] / d)
		}
	}
	return out
}
