package client

import (
	"fmt"
	"path"

	"github.com/richinsley/comfytile"
)

// DataOutput is one entry of a node's output. Image outputs carry a file
// reference; text outputs (taggers, string nodes) carry Text with Type set
// to "text".
type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Text      string `json:"-"`
}

// IsText reports whether the output is a text value rather than a file.
func (d DataOutput) IsText() bool {
	return d.Type == "text"
}

// parseOutputs converts a raw node output object into DataOutputs. Lists of
// file objects and lists of strings are both understood; anything else is
// kept as text of type "unknown".
func parseOutputs(raw map[string]any) map[string][]DataOutput {
	out := make(map[string][]DataOutput, len(raw))
	for k, v := range raw {
		list, ok := v.([]any)
		if !ok {
			continue
		}
		entries := make([]DataOutput, 0, len(list))
		for _, item := range list {
			switch item := item.(type) {
			case map[string]any:
				filename, ok1 := item["filename"].(string)
				typ, ok2 := item["type"].(string)
				if !ok1 || !ok2 {
					comfytile.Logger().Warn("output entry has unknown shape", "key", k, "entry", item)
					continue
				}
				sub, _ := item["subfolder"].(string)
				entries = append(entries, DataOutput{Filename: filename, Subfolder: sub, Type: typ})
			case string:
				entries = append(entries, DataOutput{Type: "text", Text: item})
			default:
				entries = append(entries, DataOutput{Type: "unknown", Text: fmt.Sprint(item)})
			}
		}
		out[k] = entries
	}
	return out
}

// UploadedFile is the server's answer to an upload.
type UploadedFile struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Path is the value a LoadImage node expects for this file.
func (u UploadedFile) Path() string {
	if u.Subfolder == "" {
		return u.Name
	}
	return path.Join(u.Subfolder, u.Name)
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string   `json:"os"`
	PythonVersion  string   `json:"python_version"`
	EmbeddedPython bool     `json:"embedded_python"`
	ComfyUIVersion string   `json:"comfyui_version"`
	PytorchVersion string   `json:"pytorch_version"`
	RAMTotal       int64    `json:"ram_total"`
	RAMFree        int64    `json:"ram_free"`
	Argv           []string `json:"argv"`
}

type GPU struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Index          int    `json:"index"`
	VRAMTotal      int64  `json:"vram_total"`
	VRAMFree       int64  `json:"vram_free"`
	TorchVRAMTotal int64  `json:"torch_vram_total"`
	TorchVRAMFree  int64  `json:"torch_vram_free"`
}

type QueueExecInfo struct {
	ExecInfo struct {
		QueueRemaining int `json:"queue_remaining"`
	} `json:"exec_info"`
}
