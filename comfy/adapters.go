package comfy

import (
	"context"
	"fmt"

	"github.com/richinsley/comfytile/imagebuf"
	"github.com/richinsley/comfytile/upscale"
	"github.com/richinsley/comfytile/workflow"
)

var (
	_ upscale.UpscaleModel  = (*ModelUpscaler)(nil)
	_ upscale.Captioner     = (*Tagger)(nil)
	_ upscale.Fingerprinter = (*Tagger)(nil)
	_ upscale.Refiner       = (*TileRefiner)(nil)
)

// ModelUpscaler runs an upscale model such as 4x-UltraSharp.
type ModelUpscaler struct {
	*Runner
	Model string
}

func (m *ModelUpscaler) Upscale(ctx context.Context, img *imagebuf.Image) (*imagebuf.Image, error) {
	path, err := m.upload(ctx, img, "upscale")
	if err != nil {
		return nil, err
	}
	outputs, err := m.execute(ctx, workflow.Upscale(workflow.UpscaleInputs{
		Image:  path,
		Model:  m.Model,
		Prefix: m.subfolder() + "/upscale",
	}))
	if err != nil {
		return nil, err
	}
	return m.fetchImage(ctx, outputs)
}

// Tagger captions tiles with the WD14 tagger custom node.
type Tagger struct {
	*Runner
	Model              string
	Threshold          float64
	CharacterThreshold float64
	ReplaceUnderscore  bool

	// Exclude is a comma separated list of tags to drop. It is passed to
	// the node and applied again locally, case-insensitively.
	Exclude string
}

// DefaultTagger returns a tagger with the node's usual defaults.
func DefaultTagger(r *Runner) *Tagger {
	return &Tagger{
		Runner:             r,
		Model:              "wd-v1-4-moat-tagger-v2",
		Threshold:          0.35,
		CharacterThreshold: 0.85,
	}
}

func (t *Tagger) Caption(ctx context.Context, img *imagebuf.Image) (string, error) {
	path, err := t.upload(ctx, img, "tag")
	if err != nil {
		return "", err
	}
	outputs, err := t.execute(ctx, workflow.Tag(workflow.TagInputs{
		Image:              path,
		Model:              t.Model,
		Threshold:          t.Threshold,
		CharacterThreshold: t.CharacterThreshold,
		ReplaceUnderscore:  t.ReplaceUnderscore,
		Exclude:            t.Exclude,
	}))
	if err != nil {
		return "", err
	}
	tags, ok := texts(outputs, "tags")
	if !ok {
		return "", fmt.Errorf("%w: tagger returned no tags", ErrNoOutput)
	}
	return upscale.NormalizeTags(tags, t.Exclude), nil
}

// Fingerprint identifies the settings that shape the tagger's output.
func (t *Tagger) Fingerprint() string {
	return fmt.Sprintf("wd14|%s|%g|%g|%t|%s", t.Model, t.Threshold, t.CharacterThreshold, t.ReplaceUnderscore, t.Exclude)
}

// TileRefiner re-samples tiles img2img with a checkpoint.
type TileRefiner struct {
	*Runner

	// Multiple is the edge granularity the VAE accepts. Tiles are padded
	// by edge replication up to it and the result is cropped back.
	// Zero means 8.
	Multiple int
}

func (r *TileRefiner) multiple() int {
	if r.Multiple <= 0 {
		return 8
	}
	return r.Multiple
}

func roundUp(n, m int) int {
	return (n + m - 1) / m * m
}

func (r *TileRefiner) Refine(ctx context.Context, tile *imagebuf.Image, conditioning string, params upscale.SamplingParams) (*imagebuf.Image, error) {
	m := r.multiple()
	padded := tile
	if tile.Height%m != 0 || tile.Width%m != 0 {
		padded = tile.PadEdge(roundUp(tile.Height, m), roundUp(tile.Width, m))
	}

	path, err := r.upload(ctx, padded, "tile")
	if err != nil {
		return nil, err
	}
	outputs, err := r.execute(ctx, workflow.Refine(workflow.RefineInputs{
		Image:    path,
		Positive: conditioning,
		Sampling: params,
		Prefix:   r.subfolder() + "/refine",
	}))
	if err != nil {
		return nil, err
	}
	out, err := r.fetchImage(ctx, outputs)
	if err != nil {
		return nil, err
	}

	// only undo our own padding; any other size is left for the compositor
	// to reject
	if padded != tile && out.SameShape(padded) {
		out = out.Crop(0, tile.Height, 0, tile.Width)
	}
	return out, nil
}
