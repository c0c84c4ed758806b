package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/richinsley/comfytile"
	"github.com/richinsley/comfytile/cache"
	"github.com/richinsley/comfytile/client"
	"github.com/richinsley/comfytile/comfy"
	"github.com/richinsley/comfytile/config"
	"github.com/richinsley/comfytile/imagebuf"
	"github.com/richinsley/comfytile/tiling"
	"github.com/richinsley/comfytile/upscale"
)

// UpscaleOptions holds flags for the upscale command. Flags left unset keep
// the configured value.
type UpscaleOptions struct {
	Output     string
	Scale      float64
	Parts      int
	Overlap    int
	Workers    int
	Checkpoint string
	Model      string
	Positive   string
	Denoise    float64
	Seed       uint64
	NoTagger   bool
	NoProgress bool
}

// NewUpscaleCommand creates the upscale command.
func NewUpscaleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpscaleOptions{}

	cmd := &cobra.Command{
		Use:   "upscale <image>",
		Short: "Upscale an image and refine it tile by tile on ComfyUI",
		Long: `Upscale an image with the configured upscale model, correct the result to
the requested scale, then refine each tile with an img2img pass conditioned on
the tile's own tags and blend the refined tiles back together.

The result is written as a PNG next to the input unless --output is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *rootOpts.Config
			opts.apply(cmd, &cfg)
			return runUpscale(cmd, &cfg, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output PNG path (default <image>_upscaled.png)")
	cmd.Flags().Float64VarP(&opts.Scale, "scale", "s", 0, "output size relative to the input")
	cmd.Flags().IntVarP(&opts.Parts, "parts", "p", 0, "number of tiles to refine")
	cmd.Flags().IntVar(&opts.Overlap, "overlap", 0, "overlap between tiles in pixels")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "tiles refined concurrently")
	cmd.Flags().StringVar(&opts.Checkpoint, "checkpoint", "", "checkpoint used to refine tiles")
	cmd.Flags().StringVar(&opts.Model, "model", "", "upscale model; empty resamples only")
	cmd.Flags().StringVar(&opts.Positive, "positive", "", "text appended to every tile's tags")
	cmd.Flags().Float64Var(&opts.Denoise, "denoise", 0, "refinement denoise strength")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "sampler seed")
	cmd.Flags().BoolVar(&opts.NoTagger, "no-tagger", false, "do not tag tiles")
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "hide the progress bar")

	return cmd
}

func (o *UpscaleOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("scale") {
		cfg.Tiling.Scale = o.Scale
	}
	if flags.Changed("parts") {
		cfg.Tiling.Parts = o.Parts
	}
	if flags.Changed("overlap") {
		cfg.Tiling.Overlap = o.Overlap
	}
	if flags.Changed("workers") {
		cfg.Tiling.Workers = o.Workers
	}
	if flags.Changed("checkpoint") {
		cfg.Sampling.Checkpoint = o.Checkpoint
	}
	if flags.Changed("model") {
		cfg.Upscale.Model = o.Model
	}
	if flags.Changed("positive") {
		cfg.Tiling.Positive = o.Positive
	}
	if flags.Changed("denoise") {
		cfg.Sampling.Denoise = o.Denoise
	}
	if flags.Changed("seed") {
		cfg.Sampling.Seed = o.Seed
	}
	if o.NoTagger {
		cfg.Tagger.Enabled = false
	}
}

func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_upscaled.png"
}

func runUpscale(cmd *cobra.Command, cfg *config.Config, opts *UpscaleOptions, input string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Tiling.Parts > 1 && cfg.Sampling.Checkpoint == "" {
		return errors.New("sampling.checkpoint (or --checkpoint) is required to refine tiles")
	}

	src, err := imagebuf.Load(input)
	if err != nil {
		return err
	}

	srv := cfg.Server
	c := client.NewComfyClientWithTimeout(srv.Host, srv.Port, nil, srv.Timeout, srv.Retry)
	defer c.Close()

	p, closeCache, err := newPipeline(cfg, c)
	if err != nil {
		return err
	}
	defer closeCache()

	var bar *progressbar.ProgressBar
	if !opts.NoProgress {
		p.Callbacks = &upscale.Callbacks{
			PlanReady: func(plan *tiling.Plan) {
				bar = progressbar.NewOptions(plan.Parts,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionSetDescription("refining tiles"),
					progressbar.OptionShowCount(),
					progressbar.OptionClearOnFinish(),
				)
			},
			TileFinished: func(tiling.TileSpec) {
				_ = bar.Add(1)
			},
		}
	}

	ctx := cmd.Context()
	start := time.Now()
	out, err := p.Run(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			// stop whatever the server is still working on for us
			ictx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if ierr := c.Interrupt(ictx); ierr != nil {
				comfytile.Logger().Warn("interrupting comfyui", "error", ierr)
			}
		}
		return err
	}
	if bar != nil {
		_ = bar.Finish()
	}

	output := opts.Output
	if output == "" {
		output = defaultOutput(input)
	}
	if err := imagebuf.Save(output, out); err != nil {
		return err
	}
	comfytile.Logger().Info("upscale finished",
		"output", output,
		"size", fmt.Sprintf("%dx%d", out.Width, out.Height),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// newPipeline wires the ComfyUI adapters and the caption cache described
// by cfg. The returned func releases the cache.
func newPipeline(cfg *config.Config, c *client.ComfyClient) (*upscale.Pipeline, func(), error) {
	r := &comfy.Runner{
		Client:      c,
		Subfolder:   cfg.Server.Subfolder,
		KeepHistory: cfg.Server.KeepHistory,
	}

	p := &upscale.Pipeline{
		Refiner: &comfy.TileRefiner{Runner: r},
		Options: cfg.Options(),
	}
	if cfg.Upscale.Model != "" {
		p.Model = &comfy.ModelUpscaler{Runner: r, Model: cfg.Upscale.Model}
	}

	closeCache := func() {}
	if cfg.Tagger.Enabled {
		p.Captioner = &comfy.Tagger{
			Runner:             r,
			Model:              cfg.Tagger.Model,
			Threshold:          cfg.Tagger.Threshold,
			CharacterThreshold: cfg.Tagger.CharacterThreshold,
			ReplaceUnderscore:  cfg.Tagger.ReplaceUnderscore,
			Exclude:            cfg.Tagger.Exclude,
		}
		if cfg.Cache.Path != "" {
			db, err := cache.OpenSQLite(cfg.Cache.Path)
			if err != nil {
				return nil, nil, err
			}
			p.Cache = db
			closeCache = func() {
				if err := db.Close(); err != nil {
					comfytile.Logger().Warn("closing caption cache", "error", err)
				}
			}
		} else {
			p.Cache = cache.NewMemory()
		}
	}
	return p, closeCache, nil
}
