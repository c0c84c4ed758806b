package upscale

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/richinsley/comfytile"
	"github.com/richinsley/comfytile/imagebuf"
	"github.com/richinsley/comfytile/tiling"
)

// Options control one pipeline invocation.
type Options struct {
	// Scale is the requested output size relative to the input.
	Scale float64

	// Parts is the requested tile count. One or less skips refinement.
	Parts int

	// Overlap is the shared margin between neighbouring tiles, in pixels.
	Overlap int

	// Family picks the minimum tile size constraints.
	Family ModelFamily

	// Workers bounds how many tiles are refined at once. One (the default)
	// refines strictly in sequence; only raise it for refiners known to be
	// reentrant.
	Workers int

	// Resample is the kernel used for the residual rescale.
	Resample imagebuf.ResampleMethod

	// Positive is appended to each tile's auto-generated tags.
	Positive string

	Sampling SamplingParams
}

// DefaultOptions mirrors the defaults of the tiled upscaler node.
func DefaultOptions() Options {
	return Options{
		Scale:    2.0,
		Parts:    4,
		Overlap:  64,
		Family:   SD15,
		Workers:  1,
		Resample: imagebuf.CatmullRom,
		Sampling: DefaultSamplingParams(),
	}
}

// Callbacks observe a run. With Workers above one, TileStarted and
// TileFinished may be called from several goroutines at once.
type Callbacks struct {
	PlanReady    func(*tiling.Plan)
	TileStarted  func(tiling.TileSpec)
	TileFinished func(tiling.TileSpec)
}

// Pipeline wires the external steps together. Model and Captioner are
// optional: without a model the input is resampled straight to Scale, and
// without a captioner tiles are conditioned on Options.Positive alone.
// Cache is only consulted when a Captioner is set.
type Pipeline struct {
	Model     UpscaleModel
	Captioner Captioner
	Refiner   Refiner
	Cache     CaptionCache
	Callbacks *Callbacks
	Options   Options
}

// Run upscales img to Options.Scale and, when more than one tile is
// requested, refines it tile by tile. Any error aborts the whole run; no
// partial image is ever returned.
func (p *Pipeline) Run(ctx context.Context, img *imagebuf.Image) (*imagebuf.Image, error) {
	upscaled, err := p.Upscale(ctx, img)
	if err != nil {
		return nil, err
	}
	if p.Options.Parts <= 1 {
		return upscaled, nil
	}
	return p.RefineTiles(ctx, upscaled)
}

// Upscale runs the upscale model, if any, and corrects its output to the
// requested scale.
func (p *Pipeline) Upscale(ctx context.Context, img *imagebuf.Image) (*imagebuf.Image, error) {
	if !(p.Options.Scale > 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, p.Options.Scale)
	}

	upscaled := img
	if p.Model != nil {
		start := time.Now()
		var err error
		upscaled, err = p.Model.Upscale(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("upscale model: %w", err)
		}
		comfytile.Logger().Info("model upscale finished",
			"from", fmt.Sprintf("%dx%d", img.Width, img.Height),
			"to", fmt.Sprintf("%dx%d", upscaled.Width, upscaled.Height),
			"elapsed", time.Since(start),
		)
	}

	return Rescale(img.Height, img.Width, upscaled, p.Options.Scale, p.Options.Resample), nil
}

// RefineTiles splits img into tiles, refines each one and blends the
// results back into an image of the same size.
func (p *Pipeline) RefineTiles(ctx context.Context, img *imagebuf.Image) (*imagebuf.Image, error) {
	if p.Refiner == nil {
		return nil, ErrNoRefiner
	}

	plan, err := tiling.NewPlan(img.Height, img.Width, p.Options.Parts, p.Options.Overlap, p.Options.Family.Constraints())
	if err != nil {
		return nil, err
	}
	comfytile.Logger().Info("refining tiles", "plan", plan.String())
	if p.Callbacks != nil && p.Callbacks.PlanReady != nil {
		p.Callbacks.PlanReady(plan)
	}

	comp := tiling.NewCompositor(img.Height, img.Width, img.Channels)

	if p.Options.Workers <= 1 {
		for _, tile := range plan.Tiles {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := p.processTile(ctx, comp, img, tile); err != nil {
				return nil, err
			}
		}
		return comp.Normalize(), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Options.Workers)
	for _, tile := range plan.Tiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return p.processTile(gctx, comp, img, tile)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return comp.Normalize(), nil
}

func (p *Pipeline) processTile(ctx context.Context, comp *tiling.Compositor, img *imagebuf.Image, tile tiling.TileSpec) error {
	if p.Callbacks != nil && p.Callbacks.TileStarted != nil {
		p.Callbacks.TileStarted(tile)
	}
	start := time.Now()

	crop := img.Crop(tile.Full.Y0, tile.Full.Y1, tile.Full.X0, tile.Full.X1)

	conditioning, err := p.conditioning(ctx, crop)
	if err != nil {
		return fmt.Errorf("captioning tile %d: %w", tile.Index, err)
	}

	refined, err := p.Refiner.Refine(ctx, crop, conditioning, p.Options.Sampling)
	if err != nil {
		return fmt.Errorf("refining tile %d: %w", tile.Index, err)
	}
	if err := comp.Accumulate(tile, refined); err != nil {
		return err
	}

	comfytile.Logger().Debug("tile refined",
		"index", tile.Index,
		"size", fmt.Sprintf("%dx%d", crop.Width, crop.Height),
		"elapsed", time.Since(start),
	)
	if p.Callbacks != nil && p.Callbacks.TileFinished != nil {
		p.Callbacks.TileFinished(tile)
	}
	return nil
}

// conditioning builds the positive prompt for one tile.
func (p *Pipeline) conditioning(ctx context.Context, crop *imagebuf.Image) (string, error) {
	if p.Captioner == nil {
		return CombinePrompt("", p.Options.Positive), nil
	}

	var key string
	if p.Cache != nil {
		fp := ""
		if f, ok := p.Captioner.(Fingerprinter); ok {
			fp = f.Fingerprint()
		}
		key = CaptionKey(crop, fp)
		tags, ok, err := p.Cache.Get(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			return CombinePrompt(tags, p.Options.Positive), nil
		}
	}

	tags, err := p.Captioner.Caption(ctx, crop)
	if err != nil {
		return "", err
	}
	if p.Cache != nil {
		if err := p.Cache.Put(ctx, key, tags); err != nil {
			return "", err
		}
	}
	return CombinePrompt(tags, p.Options.Positive), nil
}
