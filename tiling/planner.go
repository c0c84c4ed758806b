package tiling

import (
	"errors"
	"fmt"

	"github.com/richinsley/comfytile"
)

var (
	// ErrEmptyImage is returned when planning a grid over an image without pixels.
	ErrEmptyImage = errors.New("tiling: image has no pixels")

	// ErrNegativeOverlap is returned for an overlap below zero.
	ErrNegativeOverlap = errors.New("tiling: overlap must not be negative")
)

// Constraints bound how small a tile may get. The refiner works in a latent
// space downsampled by DownsampleFactor, and tiles narrower than
// MinLatentTile latent pixels are not worth refining.
type Constraints struct {
	DownsampleFactor int
	MinLatentTile    int
}

// DefaultConstraints matches a VAE with an 8× downsample and a 16 latent
// pixel (128 px) minimum tile edge.
var DefaultConstraints = Constraints{DownsampleFactor: 8, MinLatentTile: 16}

// MinTilePixels is the minimum tile edge in image pixels.
func (c Constraints) MinTilePixels() int {
	return max(c.DownsampleFactor, 1) * max(c.MinLatentTile, 1)
}

// MaxParts returns how many tiles of at least MinTilePixels fit an image of
// the given size. It is never less than one.
func (c Constraints) MaxParts(height, width int) int {
	f := max(c.DownsampleFactor, 1)
	m := max(c.MinLatentTile, 1)
	rows := max(1, (height/f)/m)
	cols := max(1, (width/f)/m)
	return rows * cols
}

// Plan is the tile layout for one image. It is computed once and never
// modified afterwards.
type Plan struct {
	Height  int
	Width   int
	Rows    int
	Cols    int
	Overlap int

	// Requested is the tile count asked for, Parts the count actually used.
	Requested int
	Parts     int

	// Reduced is set when Parts was lowered to honor the constraints.
	Reduced bool

	// Tiles are in row-major order. Their core rects partition the canvas.
	Tiles []TileSpec
}

// NewPlan lays out parts tiles over a height×width image with overlap pixels
// of shared margin between neighbours.
//
// parts below one is treated as one. A parts count above what the
// constraints allow is lowered with a warning; it is never an error.
// The grid is ceil(sqrt(parts)) rows by ceil(parts/rows) columns, filled
// row-major. The last row and column absorb any remainder of the integer
// division, and when the last row is short its final tile stretches to the
// right edge so the core rects always cover the whole canvas.
func NewPlan(height, width, parts, overlap int, c Constraints) (*Plan, error) {
	if height <= 0 || width <= 0 {
		return nil, ErrEmptyImage
	}
	if overlap < 0 {
		return nil, ErrNegativeOverlap
	}

	log := comfytile.Logger()

	p := &Plan{
		Height:    height,
		Width:     width,
		Overlap:   overlap,
		Requested: parts,
	}

	parts = max(parts, 1)
	if maxParts := c.MaxParts(height, width); parts > maxParts {
		log.Warn("reduced tile count to maintain minimum tile size",
			"requested", parts,
			"parts", maxParts,
			"min_tile_px", c.MinTilePixels(),
		)
		parts = maxParts
		p.Reduced = true
	}

	rows, cols := gridShape(parts)
	for parts > 1 && (height/rows == 0 || width/cols == 0) {
		parts--
		rows, cols = gridShape(parts)
		p.Reduced = true
	}

	p.Rows, p.Cols, p.Parts = rows, cols, parts
	partH := height / rows
	partW := width / cols

	log.Debug("planned tile grid",
		"width", width, "height", height,
		"rows", rows, "cols", cols,
		"parts", parts, "overlap", overlap,
		"part_width", partW, "part_height", partH,
	)

	p.Tiles = make([]TileSpec, 0, parts)
	for r := 0; r < rows && len(p.Tiles) < parts; r++ {
		for col := 0; col < cols && len(p.Tiles) < parts; col++ {
			last := len(p.Tiles) == parts-1

			core := Rect{
				Y0: r * partH,
				Y1: min((r+1)*partH, height),
				X0: col * partW,
				X1: min((col+1)*partW, width),
			}
			if r == rows-1 {
				core.Y1 = height
			}
			if col == cols-1 || last {
				core.X1 = width
			}

			full := core
			if r > 0 {
				full.Y0 = max(0, core.Y0-overlap)
			}
			if r < rows-1 {
				full.Y1 = min(height, core.Y1+overlap)
			}
			if col > 0 {
				full.X0 = max(0, core.X0-overlap)
			}
			if col < cols-1 {
				full.X1 = min(width, core.X1+overlap)
			}

			t := TileSpec{Index: len(p.Tiles), Row: r, Col: col, Core: core, Full: full}
			log.Debug("tile", "index", t.Index, "row", r, "col", col, "core", core.String(), "full", full.String())
			p.Tiles = append(p.Tiles, t)
		}
	}

	return p, nil
}

// gridShape returns rows = ceil(sqrt(parts)) and cols = ceil(parts/rows).
func gridShape(parts int) (int, int) {
	rows := 1
	for rows*rows < parts {
		rows++
	}
	cols := (parts + rows - 1) / rows
	return rows, cols
}

func (p *Plan) String() string {
	return fmt.Sprintf("%dx%d grid, %d tiles over %dx%d, overlap %dpx", p.Rows, p.Cols, p.Parts, p.Width, p.Height, p.Overlap)
}
