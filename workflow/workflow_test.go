package workflow

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/comfytile/upscale"
)

func assertGolden(t *testing.T, name string, p *Prompt) {
	t.Helper()
	require.NoError(t, p.Validate())

	data, err := p.JSON()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, append(data, '\n'))
}

func TestUpscalePrompt(t *testing.T) {
	p := Upscale(UpscaleInputs{
		Image:  "tile.png",
		Model:  "4x-UltraSharp.pth",
		Prefix: "comfytile/upscale",
	})
	assert.Equal(t, "4", p.Output)
	assertGolden(t, "upscale", p)
}

func TestTagPrompt(t *testing.T) {
	p := Tag(TagInputs{
		Image:              "tile_0.png",
		Model:              "wd-v1-4-moat-tagger-v2",
		Threshold:          0.35,
		CharacterThreshold: 0.85,
	})
	assert.Equal(t, "2", p.Output)
	assert.Equal(t, TaggerClass, p.Nodes[p.Output].ClassType)
	assertGolden(t, "tag", p)
}

func TestRefinePrompt(t *testing.T) {
	p := Refine(RefineInputs{
		Image:    "tile_0.png",
		Positive: "tree, sky, masterpiece",
		Prefix:   "comfytile/refine",
		Sampling: upscale.SamplingParams{
			Checkpoint:  "v1-5-pruned-emaonly.safetensors",
			Seed:        42,
			Steps:       10,
			CFG:         8,
			SamplerName: "euler",
			Scheduler:   "normal",
			Denoise:     0.4,
			Negative:    "blurry",
		},
	})
	assert.Equal(t, "8", p.Output)
	assertGolden(t, "refine", p)
}

func TestLinkJSON(t *testing.T) {
	b, err := json.Marshal(Out("3", 2))
	require.NoError(t, err)
	assert.JSONEq(t, `["3", 2]`, string(b))

	var l Link
	require.NoError(t, json.Unmarshal([]byte(`["12", 1]`), &l))
	assert.Equal(t, Link{Node: "12", Slot: 1}, l)

	assert.Error(t, json.Unmarshal([]byte(`["12"]`), &l))
}

func TestPromptClientID(t *testing.T) {
	p := New()
	p.Output = p.Add("LoadImage", map[string]any{"image": "a.png"})
	p.ClientID = "abc"

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"client_id":"abc","prompt":{"1":{"class_type":"LoadImage","inputs":{"image":"a.png"}}}}`, string(b))
}

func TestValidate(t *testing.T) {
	assert.Error(t, New().Validate())

	p := New()
	a := p.Add("LoadImage", nil)
	p.Output = p.Add("SaveImage", map[string]any{"images": Out("99", 0)})
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing node "99"`)

	p.Nodes[p.Output].Inputs["images"] = Out(a, 0)
	assert.NoError(t, p.Validate())

	p.Output = "7"
	assert.Error(t, p.Validate())
}
