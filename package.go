// Comfytile is a tiled upscale-and-refine compositor for ComfyUI. An oversized image
// is split into overlapping tiles, each tile is refined by an external img2img step
// (usually a ComfyUI workflow), and the refined tiles are recombined into a single
// seamless image with cosine-squared weighted blending across the overlaps.
//
// The compositor itself lives in the tiling package, orchestration in upscale, and
// the ComfyUI transport in client, workflow and comfy.
package comfytile
