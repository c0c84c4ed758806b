package client

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInterrupted is returned when a queued prompt was interrupted on
	// the server before it finished.
	ErrInterrupted = errors.New("comfyui: execution interrupted")

	// ErrConnectionLost is returned for prompts still in flight when the
	// websocket drops.
	ErrConnectionLost = errors.New("comfyui: websocket connection lost")
)

// ExecutionError is a node failure reported by ComfyUI through an
// execution_error message.
type ExecutionError struct {
	PromptID         string
	NodeID           string
	NodeType         string
	ExceptionType    string
	ExceptionMessage string
	Traceback        []string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("comfyui: node %s (%s) failed: %s: %s",
		e.NodeID, e.NodeType, e.ExceptionType, strings.TrimSpace(e.ExceptionMessage))
}

// PromptError is returned when ComfyUI rejects a prompt at queue time, for
// example because a model file does not exist.
type PromptError struct {
	StatusCode int
	Type       string         `json:"type"`
	Message    string         `json:"message"`
	Details    string         `json:"details"`
	ExtraInfo  map[string]any `json:"extra_info"`
	NodeErrors map[string]any `json:"-"`
}

func (e *PromptError) Error() string {
	msg := "comfyui: prompt rejected: " + e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

// StatusError is returned for any other non-2xx HTTP response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("comfyui: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}
