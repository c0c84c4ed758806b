// Package upscale runs the tiled upscale-and-refine pipeline: a fixed-factor
// model upscale, a residual resample to the requested scale, then per-tile
// captioning and refinement recombined by the tiling compositor.
//
// The heavy steps are interfaces so the pipeline can be driven by ComfyUI
// (see package comfy), by a local implementation, or by test doubles.
package upscale

import (
	"context"
	"errors"

	"github.com/richinsley/comfytile/imagebuf"
)

var (
	// ErrInvalidScale is returned for a requested scale factor that is not positive.
	ErrInvalidScale = errors.New("upscale: scale factor must be positive")

	// ErrNoRefiner is returned when tiling is requested without a Refiner.
	ErrNoRefiner = errors.New("upscale: tiled refinement requires a refiner")
)

// UpscaleModel applies a model-fixed scale factor (2×, 4×, ...) to an image.
type UpscaleModel interface {
	Upscale(ctx context.Context, img *imagebuf.Image) (*imagebuf.Image, error)
}

// Captioner describes a tile as a comma separated tag string.
type Captioner interface {
	Caption(ctx context.Context, img *imagebuf.Image) (string, error)
}

// Refiner transforms one tile. The result must have exactly the shape of
// the input. Implementations may be slow and stateful; the pipeline calls
// them one tile at a time unless Options.Workers says otherwise.
type Refiner interface {
	Refine(ctx context.Context, tile *imagebuf.Image, conditioning string, params SamplingParams) (*imagebuf.Image, error)
}

// UpscaleModelFunc adapts a function to UpscaleModel.
type UpscaleModelFunc func(ctx context.Context, img *imagebuf.Image) (*imagebuf.Image, error)

func (f UpscaleModelFunc) Upscale(ctx context.Context, img *imagebuf.Image) (*imagebuf.Image, error) {
	return f(ctx, img)
}

// CaptionerFunc adapts a function to Captioner.
type CaptionerFunc func(ctx context.Context, img *imagebuf.Image) (string, error)

func (f CaptionerFunc) Caption(ctx context.Context, img *imagebuf.Image) (string, error) {
	return f(ctx, img)
}

// RefinerFunc adapts a function to Refiner.
type RefinerFunc func(ctx context.Context, tile *imagebuf.Image, conditioning string, params SamplingParams) (*imagebuf.Image, error)

func (f RefinerFunc) Refine(ctx context.Context, tile *imagebuf.Image, conditioning string, params SamplingParams) (*imagebuf.Image, error) {
	return f(ctx, tile, conditioning, params)
}

// IdentityRefiner returns every tile unchanged. Useful to check the blend
// in isolation.
var IdentityRefiner = RefinerFunc(func(_ context.Context, tile *imagebuf.Image, _ string, _ SamplingParams) (*imagebuf.Image, error) {
	return tile, nil
})

// FixedFactorModel is a local stand-in for an upscale model: it resamples
// by an integer factor with the given kernel.
type FixedFactorModel struct {
	Factor int
	Method imagebuf.ResampleMethod
}

func (m FixedFactorModel) Upscale(_ context.Context, img *imagebuf.Image) (*imagebuf.Image, error) {
	f := max(m.Factor, 1)
	return imagebuf.Resize(img, img.Height*f, img.Width*f, m.Method), nil
}
