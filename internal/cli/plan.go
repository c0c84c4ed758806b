package cli

import (
	"fmt"
	"image"
	"math"
	"os"

	"github.com/spf13/cobra"

	// registers the decoders image.DecodeConfig needs
	_ "github.com/richinsley/comfytile/imagebuf"
	"github.com/richinsley/comfytile/tiling"
)

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		width  int
		height int
	)

	cmd := &cobra.Command{
		Use:   "plan [image]",
		Short: "Print the tile layout for an image without contacting ComfyUI",
		Long: `Print the tile grid the upscale command would refine.

The size is read from the image header, or given with --width and --height.
Either way it is the size before upscaling; the configured scale is applied.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				w, h, err := imageSize(args[0])
				if err != nil {
					return err
				}
				width, height = w, h
			}
			if width <= 0 || height <= 0 {
				return fmt.Errorf("an image or both --width and --height are required")
			}
			return runPlan(rootOpts, cmd, height, width)
		},
	}

	cmd.Flags().IntVar(&width, "width", 0, "source width in pixels")
	cmd.Flags().IntVar(&height, "height", 0, "source height in pixels")

	return cmd
}

func runPlan(opts *RootOptions, cmd *cobra.Command, height, width int) error {
	cfg := opts.Config
	h := int(math.Round(float64(height) * cfg.Tiling.Scale))
	w := int(math.Round(float64(width) * cfg.Tiling.Scale))

	plan, err := tiling.NewPlan(h, w, cfg.Tiling.Parts, cfg.Tiling.Overlap, cfg.Tiling.Family.Constraints())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, plan.String())
	if plan.Reduced {
		fmt.Fprintf(out, "requested %d tiles, reduced to %d for %s\n", plan.Requested, plan.Parts, cfg.Tiling.Family)
	}
	for _, t := range plan.Tiles {
		fmt.Fprintf(out, "  tile %d (row %d, col %d): core %s full %s\n", t.Index, t.Row, t.Col, t.Core, t.Full)
	}
	return nil
}

func imageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	c, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return c.Width, c.Height, nil
}
