// Package comfy implements the upscale pipeline's external steps on a
// ComfyUI server: model upscaling, WD14 tagging and img2img tile
// refinement. Each call uploads its input under a unique name, queues an
// API-format prompt and downloads the output node's result.
package comfy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/richinsley/comfytile"
	"github.com/richinsley/comfytile/client"
	"github.com/richinsley/comfytile/imagebuf"
	"github.com/richinsley/comfytile/workflow"
)

// ErrNoOutput is returned when a prompt finished without the expected
// image or text output.
var ErrNoOutput = errors.New("comfy: workflow produced no output")

// DefaultSubfolder is where inputs are uploaded unless configured otherwise.
const DefaultSubfolder = "comfytile"

// Runner holds what every adapter needs to execute a prompt.
type Runner struct {
	Client *client.ComfyClient

	// Subfolder of the server's input directory used for uploads.
	Subfolder string

	// KeepHistory leaves finished prompts in the server's history. By
	// default each one is erased once its output has been read.
	KeepHistory bool

	// Handlers, if set, also receive each prompt's messages.
	Handlers *client.MessageHandlers
}

func (r *Runner) subfolder() string {
	if r.Subfolder == "" {
		return DefaultSubfolder
	}
	return r.Subfolder
}

// upload stores img as an 8-bit PNG under a unique name and returns the
// path a LoadImage node expects.
func (r *Runner) upload(ctx context.Context, img *imagebuf.Image, prefix string) (string, error) {
	var buf bytes.Buffer
	if err := imagebuf.EncodePNG(&buf, img); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s.png", prefix, uuid.NewString())
	up, err := r.Client.UploadFileFromReader(ctx, &buf, name, true, client.InputImageType, r.subfolder())
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", name, err)
	}
	return up.Path(), nil
}

// execute queues p and returns the outputs of its output node.
func (r *Runner) execute(ctx context.Context, p *workflow.Prompt) (map[string][]client.DataOutput, error) {
	item, err := r.Client.QueuePrompt(ctx, p)
	if err != nil {
		return nil, err
	}

	var outputs map[string][]client.DataOutput
	handlers := &client.MessageHandlers{
		OnData: func(m *client.PromptMessageData) {
			if m.NodeID == p.Output {
				outputs = m.Data
			}
			if r.Handlers != nil && r.Handlers.OnData != nil {
				r.Handlers.OnData(m)
			}
		},
	}
	if r.Handlers != nil {
		handlers.OnStarted = r.Handlers.OnStarted
		handlers.OnExecuting = r.Handlers.OnExecuting
		handlers.OnProgress = r.Handlers.OnProgress
		handlers.OnError = r.Handlers.OnError
		handlers.OnStopped = r.Handlers.OnStopped
	}
	if err := item.ProcessMessages(ctx, handlers); err != nil {
		return nil, err
	}

	if outputs == nil {
		// cached prompts may finish without an executed message
		history, err := r.Client.GetHistoryOutputs(ctx, item.PromptID)
		if err != nil {
			comfytile.Logger().Warn("reading prompt history", "prompt_id", item.PromptID, "error", err)
		} else {
			outputs = history[p.Output]
		}
	}

	if !r.KeepHistory {
		if err := r.Client.EraseHistoryItem(ctx, item.PromptID); err != nil {
			comfytile.Logger().Warn("erasing prompt history", "prompt_id", item.PromptID, "error", err)
		}
	}

	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: node %s (%s)", ErrNoOutput, p.Output, p.Nodes[p.Output].ClassType)
	}
	return outputs, nil
}

// fetchImage downloads the first image of outputs.
func (r *Runner) fetchImage(ctx context.Context, outputs map[string][]client.DataOutput) (*imagebuf.Image, error) {
	for _, out := range outputs["images"] {
		if out.IsText() {
			continue
		}
		data, err := r.Client.GetImage(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", out.Filename, err)
		}
		img, err := imagebuf.DecodeBytes(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", out.Filename, err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: no image in outputs", ErrNoOutput)
}

// texts joins the text values of outputs[key].
func texts(outputs map[string][]client.DataOutput, key string) (string, bool) {
	var parts []string
	for _, out := range outputs[key] {
		if out.IsText() {
			parts = append(parts, out.Text)
		}
	}
	return strings.Join(parts, ", "), len(parts) > 0
}
