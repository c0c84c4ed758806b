package upscale

import (
	"math"

	"github.com/richinsley/comfytile"
	"github.com/richinsley/comfytile/imagebuf"
)

// ResidualFactor is the resample still needed after a model upscaled an
// image of originalWidth to upscaledWidth, when scale was requested.
func ResidualFactor(originalWidth, upscaledWidth int, scale float64) float64 {
	actual := float64(upscaledWidth) / float64(originalWidth)
	return scale / actual
}

// Rescale corrects a model upscale to exactly scale × the original size.
// Upscale models apply a fixed factor that rarely matches the requested
// one; the residual is made up with a resample. When the model already hit
// the target (residual of exactly 1) the upscaled image is returned as is.
func Rescale(originalHeight, originalWidth int, upscaled *imagebuf.Image, scale float64, method imagebuf.ResampleMethod) *imagebuf.Image {
	residual := ResidualFactor(originalWidth, upscaled.Width, scale)
	if residual == 1 {
		return upscaled
	}

	height := int(math.Round(float64(originalHeight) * scale))
	width := int(math.Round(float64(originalWidth) * scale))

	comfytile.Logger().Debug("resampling model output",
		"model_factor", float64(upscaled.Width)/float64(originalWidth),
		"residual", residual,
		"width", width, "height", height,
		"method", method.String(),
	)
	return imagebuf.Resize(upscaled, height, width, method)
}
