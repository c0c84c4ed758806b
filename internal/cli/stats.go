package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/richinsley/comfytile/client"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the ComfyUI server's system and device information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	srv := opts.Config.Server
	c := client.NewComfyClientWithTimeout(srv.Host, srv.Port, nil, srv.Timeout, srv.Retry)
	defer c.Close()

	ctx := cmd.Context()
	stats, err := c.GetSystemStats(ctx)
	if err != nil {
		return err
	}
	queue, err := c.GetQueueExecutionInfo(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	s := stats.System
	fmt.Fprintf(out, "server:  %s\n", c.BaseURL())
	fmt.Fprintf(out, "comfyui: %s\n", s.ComfyUIVersion)
	fmt.Fprintf(out, "python:  %s\n", s.PythonVersion)
	fmt.Fprintf(out, "pytorch: %s\n", s.PytorchVersion)
	fmt.Fprintf(out, "os:      %s\n", s.OS)
	fmt.Fprintf(out, "ram:     %s free of %s\n", formatBytes(s.RAMFree), formatBytes(s.RAMTotal))
	for _, d := range stats.Devices {
		fmt.Fprintf(out, "device %d: %s (%s) vram %s free of %s\n", d.Index, d.Name, d.Type, formatBytes(d.VRAMFree), formatBytes(d.VRAMTotal))
	}
	fmt.Fprintf(out, "queue:   %d remaining\n", queue.ExecInfo.QueueRemaining)
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
