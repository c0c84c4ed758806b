package imagebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResampleMethod(t *testing.T) {
	cases := map[string]ResampleMethod{
		"nearest":         Nearest,
		"nearest-exact":   Nearest,
		"approx-bilinear": ApproxBiLinear,
		"bilinear":        BiLinear,
		"bicubic":         CatmullRom,
		"CatmullRom":      CatmullRom,
		"":                CatmullRom,
	}
	for in, want := range cases {
		got, err := ParseResampleMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseResampleMethod("lanczos9")
	assert.Error(t, err)
}

func TestResampleMethodString(t *testing.T) {
	for _, m := range []ResampleMethod{Nearest, ApproxBiLinear, BiLinear, CatmullRom} {
		back, err := ParseResampleMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, back)
	}
	assert.Equal(t, "unknown", ResampleMethod(99).String())
}

func TestResizeSameSizeCopies(t *testing.T) {
	m := gradient(8, 8)
	r := Resize(m, 8, 8, CatmullRom)
	assert.Equal(t, m.Pix, r.Pix)
	r.Pix[0] = 9
	assert.NotEqual(t, float32(9), m.Pix[0])
}

func TestResizeDimensions(t *testing.T) {
	m := gradient(10, 20)
	for _, method := range []ResampleMethod{Nearest, ApproxBiLinear, BiLinear, CatmullRom} {
		r := Resize(m, 15, 30, method)
		assert.Equal(t, 15, r.Height, method.String())
		assert.Equal(t, 30, r.Width, method.String())
		assert.Equal(t, RGB, r.Channels, method.String())
	}
}

func TestResizeUniformStaysUniform(t *testing.T) {
	m := New(12, 12, RGB)
	m.Fill(0.25, 0.5, 0.75)
	r := Resize(m, 7, 19, CatmullRom)
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			assert.InDelta(t, 0.25, r.At(y, x, 0), 1e-4)
			assert.InDelta(t, 0.5, r.At(y, x, 1), 1e-4)
			assert.InDelta(t, 0.75, r.At(y, x, 2), 1e-4)
		}
	}
}
