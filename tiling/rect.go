// Package tiling splits an image into overlapping tiles and recombines
// refined tiles into one seamless image.
//
// A Plan partitions the canvas into core rectangles, one per tile. Each
// tile's full rectangle extends its core by the overlap on every side that
// borders another tile. The Compositor weights each refined tile with a
// cosine-squared fade across those extensions and normalizes the weighted
// sum, so neighbouring tiles cross-fade instead of meeting at a hard seam.
package tiling

import "fmt"

// Rect is a half-open pixel rectangle [Y0,Y1)×[X0,X1).
type Rect struct {
	Y0, Y1 int
	X0, X1 int
}

// Height of the rectangle in pixels.
func (r Rect) Height() int { return r.Y1 - r.Y0 }

// Width of the rectangle in pixels.
func (r Rect) Width() int { return r.X1 - r.X0 }

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool { return r.Y1 <= r.Y0 || r.X1 <= r.X0 }

// Contains reports whether o lies entirely within r.
func (r Rect) Contains(o Rect) bool {
	return o.Y0 >= r.Y0 && o.Y1 <= r.Y1 && o.X0 >= r.X0 && o.X1 <= r.X1
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d:%d, %d:%d)", r.Y0, r.Y1, r.X0, r.X1)
}

// TileSpec describes one tile of a Plan.
type TileSpec struct {
	// Index is the row-major position of the tile in the plan.
	Index int
	Row   int
	Col   int

	// Core is the tile's exclusive share of the canvas.
	Core Rect

	// Full is Core extended by the overlap toward neighbouring tiles. This is
	// the region cropped, refined and blended back.
	Full Rect
}

// Extensions returns how far Full reaches past Core on each side.
func (t TileSpec) Extensions() (top, bottom, left, right int) {
	return t.Core.Y0 - t.Full.Y0, t.Full.Y1 - t.Core.Y1, t.Core.X0 - t.Full.X0, t.Full.X1 - t.Core.X1
}
