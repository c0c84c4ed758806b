package tiling

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/comfytile/imagebuf"
)

func noise(h, w int, seed int64) *imagebuf.Image {
	rng := rand.New(rand.NewSource(seed))
	m := imagebuf.New(h, w, imagebuf.RGB)
	for i := range m.Pix {
		m.Pix[i] = rng.Float32()
	}
	return m
}

func uniform(h, w int, v ...float32) *imagebuf.Image {
	m := imagebuf.New(h, w, imagebuf.RGB)
	m.Fill(v...)
	return m
}

// composite runs every tile of p through refine and blends the results.
func composite(t *testing.T, p *Plan, src *imagebuf.Image, refine func(TileSpec, *imagebuf.Image) *imagebuf.Image) (*imagebuf.Image, *Compositor) {
	t.Helper()
	c := NewCompositor(p.Height, p.Width, imagebuf.RGB)
	for _, tile := range p.Tiles {
		crop := src.Crop(tile.Full.Y0, tile.Full.Y1, tile.Full.X0, tile.Full.X1)
		require.NoError(t, c.Accumulate(tile, refine(tile, crop)))
	}
	return c.Normalize(), c
}

func identity(_ TileSpec, m *imagebuf.Image) *imagebuf.Image { return m }

func TestIdentityRoundTrip(t *testing.T) {
	src := noise(257, 311, 1)
	for _, parts := range []int{1, 2, 3, 4, 5, 6, 9, 12} {
		for _, overlap := range []int{0, 1, 8, 33, 100} {
			t.Run(fmt.Sprintf("p%d/o%d", parts, overlap), func(t *testing.T) {
				p, err := NewPlan(src.Height, src.Width, parts, overlap, noConstraints)
				require.NoError(t, err)

				out, c := composite(t, p, src, identity)
				require.True(t, out.SameShape(src))
				for i := range src.Pix {
					if math.Abs(float64(out.Pix[i]-src.Pix[i])) > 1e-5 {
						t.Fatalf("sample %d: got %v want %v", i, out.Pix[i], src.Pix[i])
					}
				}
				for y := 0; y < p.Height; y++ {
					for x := 0; x < p.Width; x++ {
						require.GreaterOrEqual(t, c.Weight(y, x), 1.0)
					}
				}
			})
		}
	}
}

func TestIdentityRoundTrip1024(t *testing.T) {
	src := noise(1024, 1024, 7)
	p, err := NewPlan(1024, 1024, 4, 64, DefaultConstraints)
	require.NoError(t, err)

	out, _ := composite(t, p, src, identity)
	for i := range src.Pix {
		if math.Abs(float64(out.Pix[i]-src.Pix[i])) > 1e-5 {
			t.Fatalf("sample %d: got %v want %v", i, out.Pix[i], src.Pix[i])
		}
	}
}

func TestZeroOverlapJigsaw(t *testing.T) {
	p, err := NewPlan(300, 400, 6, 0, noConstraints)
	require.NoError(t, err)

	color := func(i int) float32 { return float32(i+1) / 10 }
	out, _ := composite(t, p, uniform(300, 400, 0, 0, 0), func(tile TileSpec, m *imagebuf.Image) *imagebuf.Image {
		return uniform(m.Height, m.Width, color(tile.Index), 0.5, 1)
	})

	for _, tile := range p.Tiles {
		for y := tile.Core.Y0; y < tile.Core.Y1; y++ {
			for x := tile.Core.X0; x < tile.Core.X1; x++ {
				require.InDelta(t, color(tile.Index), out.At(y, x, 0), 1e-6)
				require.InDelta(t, 0.5, out.At(y, x, 1), 1e-6)
			}
		}
	}
}

func TestCornerMaxBlend(t *testing.T) {
	p, err := NewPlan(1024, 1024, 4, 64, DefaultConstraints)
	require.NoError(t, err)

	// only the top-left tile carries signal in channel 0
	out, _ := composite(t, p, uniform(1024, 1024, 0, 0, 0), func(tile TileSpec, m *imagebuf.Image) *imagebuf.Image {
		if tile.Index == 0 {
			return uniform(m.Height, m.Width, 1, 0, 0)
		}
		return uniform(m.Height, m.Width, 0, 0, 0)
	})

	// (540,560) lies in every tile: the top-left tile's bottom-right corner
	// block, the top-right tile's bottom ramp, the bottom-left tile's right
	// ramp and the bottom-right tile's core
	vertical := SmoothFade(1 - 28.0/64)
	horizontal := SmoothFade(1 - 48.0/64)

	corner := math.Max(vertical, horizontal)
	want := corner / (1 + vertical + horizontal + corner)
	product := vertical * horizontal / (1 + vertical + horizontal + vertical*horizontal)

	got := float64(out.At(540, 560, 0))
	assert.InDelta(t, want, got, 1e-6)
	assert.Greater(t, got-product, 0.1)
}

func TestAccumulateDimensionMismatch(t *testing.T) {
	p, err := NewPlan(256, 256, 4, 16, DefaultConstraints)
	require.NoError(t, err)
	c := NewCompositor(256, 256, imagebuf.RGB)

	tile := p.Tiles[1]
	bad := uniform(tile.Full.Height()-8, tile.Full.Width(), 0, 0, 0)
	err = c.Accumulate(tile, bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.True(t, IsDimensionMismatch(fmt.Errorf("wrapped: %w", err)))

	var de *DimensionMismatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 1, de.Index)
	assert.Equal(t, tile.Full.Height(), de.WantHeight)
	assert.Equal(t, tile.Full.Height()-8, de.GotHeight)

	// nothing was written
	for y := 0; y < 256; y++ {
		assert.Zero(t, c.Weight(y, 200))
	}

	gray := imagebuf.New(tile.Full.Height(), tile.Full.Width(), 1)
	assert.ErrorIs(t, c.Accumulate(tile, gray), ErrDimensionMismatch)
}

func TestConcurrentAccumulateMatchesSequential(t *testing.T) {
	src := noise(400, 400, 3)
	p, err := NewPlan(400, 400, 9, 24, DefaultConstraints)
	require.NoError(t, err)

	sequential, _ := composite(t, p, src, identity)

	c := NewCompositor(400, 400, imagebuf.RGB)
	var wg sync.WaitGroup
	errs := make([]error, len(p.Tiles))
	for i, tile := range p.Tiles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			crop := src.Crop(tile.Full.Y0, tile.Full.Y1, tile.Full.X0, tile.Full.X1)
			errs[i] = c.Accumulate(tile, crop)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	concurrent := c.Normalize()
	for i := range sequential.Pix {
		require.InDelta(t, sequential.Pix[i], concurrent.Pix[i], 1e-6)
	}
}
