// Package imagebuf provides the floating point image buffer shared by the
// compositor, the rescaler and the ComfyUI adapters.
package imagebuf

import (
	"fmt"
	"image"
	"image/color"
)

// RGB is the channel count of every image produced by this module.
const RGB = 3

// Image is an H×W×C buffer of normalized samples in 0..1.
// Samples are stored row-major with channels interleaved:
// index = (y*Width + x)*Channels + c.
//
// Images are treated as immutable once a pipeline stage has produced them.
// Operations such as Crop and Pad return new buffers.
type Image struct {
	Height   int
	Width    int
	Channels int
	Pix      []float32
}

// New allocates a zeroed image.
func New(height, width, channels int) *Image {
	if height < 0 || width < 0 || channels < 0 {
		panic(fmt.Sprintf("imagebuf: negative dimensions %dx%dx%d", height, width, channels))
	}
	return &Image{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pix:      make([]float32, height*width*channels),
	}
}

// Shape returns (height, width, channels).
func (m *Image) Shape() (int, int, int) {
	return m.Height, m.Width, m.Channels
}

// SameShape reports whether m and o have identical dimensions.
func (m *Image) SameShape(o *Image) bool {
	return m.Height == o.Height && m.Width == o.Width && m.Channels == o.Channels
}

// Offset returns the index of channel 0 of pixel (y, x) in Pix.
func (m *Image) Offset(y, x int) int {
	return (y*m.Width + x) * m.Channels
}

// At returns channel c of pixel (y, x).
func (m *Image) At(y, x, c int) float32 {
	return m.Pix[m.Offset(y, x)+c]
}

// Set stores v into channel c of pixel (y, x).
func (m *Image) Set(y, x, c int, v float32) {
	m.Pix[m.Offset(y, x)+c] = v
}

// Fill sets every channel of every pixel to the matching entry of px.
func (m *Image) Fill(px ...float32) {
	for i := range m.Pix {
		m.Pix[i] = px[i%m.Channels]
	}
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	out := &Image{Height: m.Height, Width: m.Width, Channels: m.Channels, Pix: make([]float32, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// Crop copies the half-open region [y0,y1)×[x0,x1) into a new image.
func (m *Image) Crop(y0, y1, x0, x1 int) *Image {
	if y0 < 0 || x0 < 0 || y1 > m.Height || x1 > m.Width || y0 > y1 || x0 > x1 {
		panic(fmt.Sprintf("imagebuf: crop (%d,%d,%d,%d) outside %dx%d", y0, y1, x0, x1, m.Height, m.Width))
	}
	out := New(y1-y0, x1-x0, m.Channels)
	rowLen := out.Width * m.Channels
	for y := y0; y < y1; y++ {
		src := m.Offset(y, x0)
		dst := out.Offset(y-y0, 0)
		copy(out.Pix[dst:dst+rowLen], m.Pix[src:src+rowLen])
	}
	return out
}

// PadEdge grows the image to height×width by replicating the last row and
// column. It is used to round tile sizes up to what a VAE can encode.
func (m *Image) PadEdge(height, width int) *Image {
	if height < m.Height || width < m.Width {
		panic(fmt.Sprintf("imagebuf: pad %dx%d smaller than %dx%d", height, width, m.Height, m.Width))
	}
	out := New(height, width, m.Channels)
	for y := 0; y < height; y++ {
		sy := min(y, m.Height-1)
		for x := 0; x < width; x++ {
			sx := min(x, m.Width-1)
			copy(out.Pix[out.Offset(y, x):out.Offset(y, x)+m.Channels], m.Pix[m.Offset(sy, sx):m.Offset(sy, sx)+m.Channels])
		}
	}
	return out
}

// FromImage converts any image.Image into an RGB float buffer.
// Alpha is discarded after un-premultiplying.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	out := New(b.Dy(), b.Dx(), RGB)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBA64Model.Convert(src.At(x, y)).(color.NRGBA64)
			i := out.Offset(y-b.Min.Y, x-b.Min.X)
			out.Pix[i+0] = float32(c.R) / 0xffff
			out.Pix[i+1] = float32(c.G) / 0xffff
			out.Pix[i+2] = float32(c.B) / 0xffff
		}
	}
	return out
}

// ToNRGBA quantizes the image to 8 bits per channel, clamping out of range
// samples. Images with fewer than three channels are treated as gray.
func (m *Image) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			r, g, b := m.rgb(y, x)
			out.SetNRGBA(x, y, color.NRGBA{R: quant8(r), G: quant8(g), B: quant8(b), A: 0xff})
		}
	}
	return out
}

// ToNRGBA64 quantizes the image to 16 bits per channel.
func (m *Image) ToNRGBA64() *image.NRGBA64 {
	out := image.NewNRGBA64(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			r, g, b := m.rgb(y, x)
			out.SetNRGBA64(x, y, color.NRGBA64{R: quant16(r), G: quant16(g), B: quant16(b), A: 0xffff})
		}
	}
	return out
}

func (m *Image) rgb(y, x int) (float32, float32, float32) {
	i := m.Offset(y, x)
	if m.Channels >= 3 {
		return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
	}
	return m.Pix[i], m.Pix[i], m.Pix[i]
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func quant8(v float32) uint8 {
	return uint8(clamp01(v)*0xff + 0.5)
}

func quant16(v float32) uint16 {
	return uint16(clamp01(v)*0xffff + 0.5)
}
