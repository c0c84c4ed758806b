package tiling

import (
	"bytes"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/comfytile"
)

// noConstraints lets every tile count through so layouts can be tested
// without the minimum tile size kicking in.
var noConstraints = Constraints{DownsampleFactor: 1, MinLatentTile: 1}

// assertPartition checks that the core rects cover every pixel exactly once
// and that full rects only extend across interior boundaries.
func assertPartition(t *testing.T, p *Plan) {
	t.Helper()

	cover := make([]int, p.Height*p.Width)
	for _, tile := range p.Tiles {
		require.False(t, tile.Core.Empty(), "tile %d has an empty core", tile.Index)
		require.True(t, tile.Full.Contains(tile.Core), "tile %d full %s does not contain core %s", tile.Index, tile.Full, tile.Core)
		require.True(t, Rect{0, p.Height, 0, p.Width}.Contains(tile.Full), "tile %d full %s leaves the image", tile.Index, tile.Full)

		for y := tile.Core.Y0; y < tile.Core.Y1; y++ {
			for x := tile.Core.X0; x < tile.Core.X1; x++ {
				cover[y*p.Width+x]++
			}
		}

		top, bottom, left, right := tile.Extensions()
		if tile.Core.Y0 == 0 {
			assert.Zero(t, top, "tile %d extends past the top edge", tile.Index)
		}
		if tile.Core.Y1 == p.Height {
			assert.Zero(t, bottom, "tile %d extends past the bottom edge", tile.Index)
		}
		if tile.Core.X0 == 0 {
			assert.Zero(t, left, "tile %d extends past the left edge", tile.Index)
		}
		if tile.Core.X1 == p.Width {
			assert.Zero(t, right, "tile %d extends past the right edge", tile.Index)
		}
	}

	for i, n := range cover {
		if n != 1 {
			t.Fatalf("pixel (%d,%d) covered %d times", i/p.Width, i%p.Width, n)
		}
	}
}

func TestPlanPartitionProperty(t *testing.T) {
	sizes := [][2]int{{1, 1}, {7, 13}, {100, 100}, {257, 300}, {64, 1025}}
	for _, hw := range sizes {
		for parts := 1; parts <= 20; parts++ {
			for _, overlap := range []int{0, 5, 64} {
				name := fmt.Sprintf("%dx%d/p%d/o%d", hw[0], hw[1], parts, overlap)
				t.Run(name, func(t *testing.T) {
					p, err := NewPlan(hw[0], hw[1], parts, overlap, noConstraints)
					require.NoError(t, err)
					assert.Len(t, p.Tiles, p.Parts)
					assertPartition(t, p)
				})
			}
		}
	}
}

func TestPlanSingleTileIsWholeImage(t *testing.T) {
	for _, parts := range []int{1, 0, -3} {
		p, err := NewPlan(300, 200, parts, 64, DefaultConstraints)
		require.NoError(t, err)
		require.Len(t, p.Tiles, 1)
		assert.Equal(t, 1, p.Parts)
		assert.Equal(t, Rect{0, 300, 0, 200}, p.Tiles[0].Core)
		assert.Equal(t, p.Tiles[0].Core, p.Tiles[0].Full)
		assert.False(t, p.Reduced)
	}
}

func TestPlanZeroOverlapIsJigsaw(t *testing.T) {
	p, err := NewPlan(1000, 700, 6, 0, DefaultConstraints)
	require.NoError(t, err)
	for _, tile := range p.Tiles {
		assert.Equal(t, tile.Core, tile.Full)
	}
}

func TestPlan1024FourTiles(t *testing.T) {
	p, err := NewPlan(1024, 1024, 4, 64, DefaultConstraints)
	require.NoError(t, err)

	assert.Equal(t, 2, p.Rows)
	assert.Equal(t, 2, p.Cols)
	assert.False(t, p.Reduced)

	want := []TileSpec{
		{Index: 0, Row: 0, Col: 0, Core: Rect{0, 512, 0, 512}, Full: Rect{0, 576, 0, 576}},
		{Index: 1, Row: 0, Col: 1, Core: Rect{0, 512, 512, 1024}, Full: Rect{0, 576, 448, 1024}},
		{Index: 2, Row: 1, Col: 0, Core: Rect{512, 1024, 0, 512}, Full: Rect{448, 1024, 0, 576}},
		{Index: 3, Row: 1, Col: 1, Core: Rect{512, 1024, 512, 1024}, Full: Rect{448, 1024, 448, 1024}},
	}
	assert.Equal(t, want, p.Tiles)
}

func TestPlanClampsToMinimumTileSize(t *testing.T) {
	var buf bytes.Buffer
	comfytile.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	defer comfytile.SetLogger(nil)

	c := Constraints{DownsampleFactor: 8, MinLatentTile: 16}
	assert.Equal(t, 128, c.MinTilePixels())
	assert.Equal(t, 4, c.MaxParts(256, 256))

	p, err := NewPlan(256, 256, 9, 32, c)
	require.NoError(t, err)

	assert.Equal(t, 9, p.Requested)
	assert.Equal(t, 4, p.Parts)
	assert.True(t, p.Reduced)
	assert.Equal(t, 2, p.Rows)
	assert.Equal(t, 2, p.Cols)
	assertPartition(t, p)

	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "requested=9")
	assert.Contains(t, buf.String(), "parts=4")
}

func TestPlanSmallImageAlwaysAllowsOneTile(t *testing.T) {
	p, err := NewPlan(64, 64, 4, 8, DefaultConstraints)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Parts)
	assert.True(t, p.Reduced)
}

func TestPlanRemainderAbsorbedByLastRowAndColumn(t *testing.T) {
	p, err := NewPlan(1025, 1027, 4, 16, DefaultConstraints)
	require.NoError(t, err)

	last := p.Tiles[3]
	assert.Equal(t, 1025, last.Core.Y1)
	assert.Equal(t, 1027, last.Core.X1)
	assertPartition(t, p)
}

func TestPlanShortLastRowStretches(t *testing.T) {
	// five tiles on a 3x2 grid leave the last cell empty
	p, err := NewPlan(900, 600, 5, 20, DefaultConstraints)
	require.NoError(t, err)
	require.Equal(t, 3, p.Rows)
	require.Equal(t, 2, p.Cols)
	require.Len(t, p.Tiles, 5)

	last := p.Tiles[4]
	assert.Equal(t, 2, last.Row)
	assert.Equal(t, 0, last.Col)
	assert.Equal(t, Rect{600, 900, 0, 600}, last.Core)
	assert.Equal(t, Rect{580, 900, 0, 600}, last.Full)
	assertPartition(t, p)
}

func TestPlanOverlapClampedToImage(t *testing.T) {
	p, err := NewPlan(256, 256, 4, 1000, DefaultConstraints)
	require.NoError(t, err)
	for _, tile := range p.Tiles {
		assert.Equal(t, Rect{0, 256, 0, 256}, tile.Full)
	}
	assertPartition(t, p)
}

func TestPlanErrors(t *testing.T) {
	_, err := NewPlan(0, 10, 1, 0, DefaultConstraints)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = NewPlan(10, 10, 1, -1, DefaultConstraints)
	assert.ErrorIs(t, err, ErrNegativeOverlap)
}

func TestGridShape(t *testing.T) {
	cases := []struct{ parts, rows, cols int }{
		{1, 1, 1}, {2, 2, 1}, {3, 2, 2}, {4, 2, 2}, {5, 3, 2},
		{6, 3, 2}, {7, 3, 3}, {9, 3, 3}, {10, 4, 3}, {16, 4, 4},
	}
	for _, c := range cases {
		rows, cols := gridShape(c.parts)
		assert.Equal(t, c.rows, rows, "rows for %d", c.parts)
		assert.Equal(t, c.cols, cols, "cols for %d", c.parts)
	}
}

func TestPlanString(t *testing.T) {
	p, err := NewPlan(1024, 1024, 4, 64, DefaultConstraints)
	require.NoError(t, err)
	assert.Equal(t, "2x2 grid, 4 tiles over 1024x1024, overlap 64px", p.String())
}
