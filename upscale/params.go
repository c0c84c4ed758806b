package upscale

import (
	"fmt"
	"strings"

	"github.com/richinsley/comfytile/tiling"
)

// ModelFamily identifies the diffusion model family driving the refiner.
// Families differ in latent layout, which is what bounds the smallest tile
// worth refining.
type ModelFamily uint8

const (
	SD15 ModelFamily = iota
	SDXL
	SD3
	Flux
)

func (f ModelFamily) String() string {
	switch f {
	case SD15:
		return "sd15"
	case SDXL:
		return "sdxl"
	case SD3:
		return "sd3"
	case Flux:
		return "flux"
	default:
		return fmt.Sprintf("ModelFamily(%d)", uint8(f))
	}
}

// ParseModelFamily maps a configuration name onto a ModelFamily.
func ParseModelFamily(s string) (ModelFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sd15", "sd1.5", "sd1":
		return SD15, nil
	case "sdxl":
		return SDXL, nil
	case "sd3", "sd3.5":
		return SD3, nil
	case "flux":
		return Flux, nil
	default:
		return 0, fmt.Errorf("unknown model family %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f ModelFamily) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *ModelFamily) UnmarshalText(b []byte) error {
	v, err := ParseModelFamily(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Constraints returns the minimum tile size for the family. All supported
// families use an 8× VAE and a 16 latent pixel minimum tile edge.
func (f ModelFamily) Constraints() tiling.Constraints {
	switch f {
	case SD15, SDXL, SD3, Flux:
		return tiling.DefaultConstraints
	}
	panic(fmt.Sprintf("upscale: unhandled model family %d", uint8(f)))
}

// SamplingParams are forwarded untouched to the Refiner.
type SamplingParams struct {
	Checkpoint  string  `yaml:"checkpoint"`
	Seed        uint64  `yaml:"seed"`
	Steps       int     `yaml:"steps"`
	CFG         float64 `yaml:"cfg"`
	SamplerName string  `yaml:"sampler_name"`
	Scheduler   string  `yaml:"scheduler"`
	Denoise     float64 `yaml:"denoise"`
	Negative    string  `yaml:"negative"`
}

// DefaultSamplingParams is a light img2img pass: enough denoise to add
// detail, little enough to keep tiles consistent with their neighbours.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{
		Steps:       10,
		CFG:         8.0,
		SamplerName: "euler",
		Scheduler:   "normal",
		Denoise:     0.4,
	}
}
