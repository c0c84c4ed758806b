package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/richinsley/comfytile"
	"github.com/richinsley/comfytile/workflow"
)

/*
@routes.get("/view")
@routes.get("/system_stats")
@routes.get("/prompt")
@routes.get("/history/{prompt_id}")
@routes.get("/embeddings")
@routes.get("/extensions")

@routes.post("/prompt")
@routes.post("/interrupt")
@routes.post("/history")
@routes.post("/upload/image")
*/

func (c *ComfyClient) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do performs a request and returns the body of a 2xx response.
func (c *ComfyClient) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return data, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

func (c *ComfyClient) getJSON(ctx context.Context, path string, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, nil, "", nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (c *ComfyClient) postJSON(ctx context.Context, path string, in any) ([]byte, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, http.MethodPost, path, nil, "application/json", bytes.NewReader(data))
}

func (c *ComfyClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	retv := &SystemStats{}
	if err := c.getJSON(ctx, "/system_stats", retv); err != nil {
		return nil, err
	}
	return retv, nil
}

func (c *ComfyClient) GetQueueExecutionInfo(ctx context.Context) (*QueueExecInfo, error) {
	retv := &QueueExecInfo{}
	if err := c.getJSON(ctx, "/prompt", retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetEmbeddings retrieves the list of embedding models installed on the server.
func (c *ComfyClient) GetEmbeddings(ctx context.Context) ([]string, error) {
	var retv []string
	if err := c.getJSON(ctx, "/embeddings", &retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetExtensions retrieves the list of frontend extensions installed on the server.
func (c *ComfyClient) GetExtensions(ctx context.Context) ([]string, error) {
	var retv []string
	if err := c.getJSON(ctx, "/extensions", &retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetImage downloads an image output.
func (c *ComfyClient) GetImage(ctx context.Context, image DataOutput) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", image.Filename)
	params.Add("subfolder", image.Subfolder)
	params.Add("type", image.Type)
	return c.do(ctx, http.MethodGet, "/view", params, "", nil)
}

// GetHistoryOutputs returns the outputs recorded for a finished prompt,
// keyed by node id. It serves as a fallback when executed messages were
// missed, for example after a reconnect.
func (c *ComfyClient) GetHistoryOutputs(ctx context.Context, promptID string) (map[string]map[string][]DataOutput, error) {
	var history map[string]struct {
		Outputs map[string]map[string]any `json:"outputs"`
	}
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), &history); err != nil {
		return nil, err
	}

	item, ok := history[promptID]
	if !ok {
		return nil, fmt.Errorf("comfyui: prompt %s not in history", promptID)
	}
	ret := make(map[string]map[string][]DataOutput, len(item.Outputs))
	for node, raw := range item.Outputs {
		ret[node] = parseOutputs(raw)
	}
	return ret, nil
}

// QueuePrompt submits p under this client's id. The websocket is connected
// first if needed so that no status message for the prompt is missed.
func (c *ComfyClient) QueuePrompt(ctx context.Context, p *workflow.Prompt) (*QueueItem, error) {
	if err := c.CheckConnection(ctx); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	req := *p
	req.ClientID = c.clientID
	data, err := json.Marshal(&req)
	if err != nil {
		return nil, err
	}

	// hold the routing lock across the POST so messages about the new prompt
	// wait until it is registered
	c.mu.Lock()
	defer c.mu.Unlock()

	body, err := c.do(ctx, http.MethodPost, "/prompt", nil, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, promptError(body, err)
	}

	item := newQueueItem(p)
	if err := json.Unmarshal(body, item); err != nil {
		return nil, fmt.Errorf("decoding /prompt response: %w", err)
	}
	if item.PromptID == "" {
		return nil, fmt.Errorf("comfyui: /prompt response has no prompt_id: %s", strings.TrimSpace(string(body)))
	}
	c.queued[item.PromptID] = item
	comfytile.Logger().Debug("queued prompt", "prompt_id", item.PromptID, "number", item.Number)
	return item, nil
}

// promptError turns a rejected /prompt response into a *PromptError when
// the body has the usual shape:
//
//	{"error": {"type": "prompt_no_outputs", "message": "Prompt has no outputs", "details": "", "extra_info": {}}, "node_errors": {}}
func promptError(body []byte, err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return err
	}
	var perr struct {
		Error      *PromptError   `json:"error"`
		NodeErrors map[string]any `json:"node_errors"`
	}
	if json.Unmarshal(body, &perr) != nil || perr.Error == nil {
		comfytile.Logger().Error("unrecognized prompt error", "status", se.StatusCode, "body", string(body))
		return err
	}
	perr.Error.StatusCode = se.StatusCode
	perr.Error.NodeErrors = perr.NodeErrors
	return perr.Error
}

// Interrupt stops whatever the server is currently executing.
func (c *ComfyClient) Interrupt(ctx context.Context) error {
	_, err := c.postJSON(ctx, "/interrupt", struct{}{})
	return err
}

// EraseHistory clears the server's whole prompt history.
func (c *ComfyClient) EraseHistory(ctx context.Context) error {
	_, err := c.postJSON(ctx, "/history", map[string]any{"clear": true})
	return err
}

// EraseHistoryItem removes one prompt from the server's history.
func (c *ComfyClient) EraseHistoryItem(ctx context.Context, promptID string) error {
	_, err := c.postJSON(ctx, "/history", map[string]any{"delete": []string{promptID}})
	return err
}
