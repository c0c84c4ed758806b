package workflow

import "github.com/richinsley/comfytile/upscale"

// UpscaleInputs parameterize the model upscale prompt.
type UpscaleInputs struct {
	// Image is the uploaded input file name.
	Image  string
	Model  string
	Prefix string
}

// Upscale runs an upscale model over one uploaded image:
// LoadImage → UpscaleModelLoader → ImageUpscaleWithModel → SaveImage.
func Upscale(in UpscaleInputs) *Prompt {
	p := New()
	load := p.Add("LoadImage", map[string]any{"image": in.Image})
	loader := p.Add("UpscaleModelLoader", map[string]any{"model_name": in.Model})
	up := p.Add("ImageUpscaleWithModel", map[string]any{
		"upscale_model": Out(loader, 0),
		"image":         Out(load, 0),
	})
	p.Output = p.Add("SaveImage", map[string]any{
		"images":          Out(up, 0),
		"filename_prefix": in.Prefix,
	})
	return p
}

// TagInputs parameterize the WD14 tagger prompt.
type TagInputs struct {
	Image              string
	Model              string
	Threshold          float64
	CharacterThreshold float64
	ReplaceUnderscore  bool
	Exclude            string
}

// TaggerClass is the class type of the WD14 tagger custom node.
const TaggerClass = "WD14Tagger|pysssss"

// Tag captions one uploaded image. The tagger is itself the output node;
// it reports the tag string as a "tags" text output.
func Tag(in TagInputs) *Prompt {
	p := New()
	load := p.Add("LoadImage", map[string]any{"image": in.Image})
	p.Output = p.Add(TaggerClass, map[string]any{
		"image":               Out(load, 0),
		"model":               in.Model,
		"threshold":           in.Threshold,
		"character_threshold": in.CharacterThreshold,
		"replace_underscore":  in.ReplaceUnderscore,
		"trailing_comma":      false,
		"exclude_tags":        in.Exclude,
	})
	return p
}

// RefineInputs parameterize the img2img refinement prompt.
type RefineInputs struct {
	Image    string
	Positive string
	Sampling upscale.SamplingParams
	Prefix   string
}

// Checkpoint loader output slots.
const (
	slotModel = 0
	slotCLIP  = 1
	slotVAE   = 2
)

// Refine re-samples one uploaded tile at partial denoise:
// CheckpointLoaderSimple and LoadImage → VAEEncode, two CLIPTextEncode
// → KSampler → VAEDecode → SaveImage.
func Refine(in RefineInputs) *Prompt {
	s := in.Sampling
	p := New()
	ckpt := p.Add("CheckpointLoaderSimple", map[string]any{"ckpt_name": s.Checkpoint})
	load := p.Add("LoadImage", map[string]any{"image": in.Image})
	latent := p.Add("VAEEncode", map[string]any{
		"pixels": Out(load, 0),
		"vae":    Out(ckpt, slotVAE),
	})
	pos := p.Add("CLIPTextEncode", map[string]any{
		"text": in.Positive,
		"clip": Out(ckpt, slotCLIP),
	})
	neg := p.Add("CLIPTextEncode", map[string]any{
		"text": s.Negative,
		"clip": Out(ckpt, slotCLIP),
	})
	sampled := p.Add("KSampler", map[string]any{
		"model":        Out(ckpt, slotModel),
		"positive":     Out(pos, 0),
		"negative":     Out(neg, 0),
		"latent_image": Out(latent, 0),
		"seed":         s.Seed,
		"steps":        s.Steps,
		"cfg":          s.CFG,
		"sampler_name": s.SamplerName,
		"scheduler":    s.Scheduler,
		"denoise":      s.Denoise,
	})
	decoded := p.Add("VAEDecode", map[string]any{
		"samples": Out(sampled, 0),
		"vae":     Out(ckpt, slotVAE),
	})
	p.Output = p.Add("SaveImage", map[string]any{
		"images":          Out(decoded, 0),
		"filename_prefix": in.Prefix,
	})
	return p
}
