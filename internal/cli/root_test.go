package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/comfytile"
	"github.com/richinsley/comfytile/config"
	"github.com/richinsley/comfytile/imagebuf"
	"github.com/richinsley/comfytile/internal/comfytest"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Cleanup(func() { comfytile.SetLogger(nil) })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "comfytile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "comfytile", cmd.Use)
	assert.Contains(t, cmd.Long, "tile by tile")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"upscale", "plan", "stats", "config"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "c", cfg.Shorthand)
	assert.Equal(t, "", cfg.DefValue)
}

func TestUpscaleCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	up, _, err := cmd.Find([]string{"upscale"})
	require.NoError(t, err)

	for _, name := range []string{"output", "scale", "parts", "overlap", "workers", "checkpoint", "model", "positive", "denoise", "seed", "no-tagger", "no-progress"} {
		assert.NotNil(t, up.Flags().Lookup(name), name)
	}
	assert.Equal(t, "o", up.Flags().Lookup("output").Shorthand)
}

func TestConfigCommandPrintsDefaults(t *testing.T) {
	out, _, err := execute(t, "config")
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestConfigCommandAppliesFile(t *testing.T) {
	path := writeConfig(t, "tiling:\n  parts: 9\n")
	out, _, err := execute(t, "--config", path, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "parts: 9")
}

func TestInvalidConfigFails(t *testing.T) {
	path := writeConfig(t, "tiling:\n  workers: 0\n")
	_, _, err := execute(t, "--config", path, "config")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tiling.workers")
}

func TestPlanCommand(t *testing.T) {
	out, _, err := execute(t, "plan", "--width", "512", "--height", "512")
	require.NoError(t, err)

	// 1024x1024 after the default 2x scale, four tiles
	assert.Contains(t, out, "2x2 grid, 4 tiles over 1024x1024, overlap 64px")
	assert.Contains(t, out, "tile 0 (row 0, col 0): core (0:512, 0:512) full (0:576, 0:576)")
	assert.Contains(t, out, "tile 3 (row 1, col 1)")
}

func TestPlanCommandReadsImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, imagebuf.Save(path, imagebuf.New(64, 96, imagebuf.RGB)))

	out, _, err := execute(t, "plan", path)
	require.NoError(t, err)
	assert.Contains(t, out, "over 192x128")
	assert.Contains(t, out, "reduced to 1")
}

func TestPlanCommandNeedsSize(t *testing.T) {
	_, _, err := execute(t, "plan")
	require.Error(t, err)
}

func TestStatsCommand(t *testing.T) {
	srv := comfytest.NewServer(t)
	host, port := srv.HostPort(t)
	path := writeConfig(t, fmt.Sprintf("server:\n  host: %s\n  port: %d\n", host, port))

	out, _, err := execute(t, "--config", path, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "comfyui: 0.3.40")
	assert.Contains(t, out, "NVIDIA GeForce RTX 4090")
	assert.Contains(t, out, "queue:   0 remaining")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
	assert.Equal(t, "1.5 MiB", formatBytes(1536*1024))
	assert.Equal(t, "23.6 GiB", formatBytes(25386352640))
}

func TestDefaultOutput(t *testing.T) {
	assert.Equal(t, "dir/photo_upscaled.png", defaultOutput("dir/photo.jpg"))
	assert.Equal(t, "photo_upscaled.png", defaultOutput("photo"))
}

func TestUpscaleRequiresCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.png")
	require.NoError(t, imagebuf.Save(path, imagebuf.New(32, 32, imagebuf.RGB)))

	_, _, err := execute(t, "upscale", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint")
}

func TestUpscaleCommand(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.Executor = func(r *comfytest.Run) {
		r.Start()
		data, ok := srv.LoadImage(r.Nodes[r.NodeOfClass("LoadImage")].String("image"))
		if !ok {
			r.Fail(r.NodeOfClass("LoadImage"), "FileNotFoundError", "missing input")
			return
		}
		save := r.NodeOfClass("SaveImage")
		r.Executed(save, map[string]any{"images": []any{r.SaveOutput("out_"+r.ID+".png", data)}})
		r.Finish()
	}
	host, port := srv.HostPort(t)
	cfgPath := writeConfig(t, fmt.Sprintf("server:\n  host: %s\n  port: %d\n", host, port))

	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	src := imagebuf.New(128, 128, imagebuf.RGB)
	src.Fill(0.5, 0.5, 0.5)
	require.NoError(t, imagebuf.Save(in, src))
	out := filepath.Join(dir, "out.png")

	_, _, err := execute(t, "--config", cfgPath, "upscale", in,
		"-o", out,
		"--parts", "4",
		"--overlap", "16",
		"--checkpoint", "sd15.safetensors",
		"--no-tagger",
	)
	require.NoError(t, err)

	img, err := imagebuf.Load(out)
	require.NoError(t, err)
	assert.Equal(t, 256, img.Width)
	assert.Equal(t, 256, img.Height)
	assert.InDelta(t, 0.5, img.At(100, 200, 1), 1.0/255)

	prompts := srv.Prompts()
	require.Len(t, prompts, 4)
	for _, p := range prompts {
		ckpt := p.NodeOfClass("CheckpointLoaderSimple")
		require.NotEmpty(t, ckpt)
		assert.Equal(t, "sd15.safetensors", p.Nodes[ckpt].String("ckpt_name"))
	}
}

func TestUpscaleWithZeroPartsSkipsRefinement(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	require.NoError(t, imagebuf.Save(in, imagebuf.New(32, 48, imagebuf.RGB)))
	out := filepath.Join(dir, "out.png")

	// no model and no tiles, so the server is never contacted
	_, _, err := execute(t, "upscale", in, "-o", out, "--parts", "0", "--no-progress")
	require.NoError(t, err)

	img, err := imagebuf.Load(out)
	require.NoError(t, err)
	assert.Equal(t, 96, img.Width)
	assert.Equal(t, 64, img.Height)
}
