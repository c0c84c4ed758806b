// Package workflow builds ComfyUI prompts in the API format: a flat map of
// node id to class type and inputs, where an input is either a literal or a
// link to another node's output slot.
package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Prompt is the data that is enqueued to an instance of ComfyUI.
type Prompt struct {
	ClientID string          `json:"client_id,omitempty"`
	Nodes    map[string]Node `json:"prompt"`

	// Output is the id of the node whose results the caller reads back.
	Output string `json:"-"`

	next int
}

// Node is one entry of the prompt map.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Link references output slot Slot of node Node. It serializes as the
// two-element array ComfyUI expects: ["3", 0].
type Link struct {
	Node string
	Slot int
}

func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{l.Node, l.Slot})
}

func (l *Link) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("workflow: link must have 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &l.Node); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &l.Slot)
}

// New returns an empty prompt.
func New() *Prompt {
	return &Prompt{Nodes: make(map[string]Node)}
}

// Add appends a node and returns its id. Ids are assigned sequentially
// from "1".
func (p *Prompt) Add(classType string, inputs map[string]any) string {
	if p.Nodes == nil {
		p.Nodes = make(map[string]Node)
	}
	p.next++
	id := strconv.Itoa(p.next)
	if inputs == nil {
		inputs = make(map[string]any)
	}
	p.Nodes[id] = Node{ClassType: classType, Inputs: inputs}
	return id
}

// Out links to output slot of node id.
func Out(id string, slot int) Link {
	return Link{Node: id, Slot: slot}
}

// Validate checks that every link points at a node of the prompt and that
// the output node exists.
func (p *Prompt) Validate() error {
	if len(p.Nodes) == 0 {
		return fmt.Errorf("workflow: prompt has no nodes")
	}
	if _, ok := p.Nodes[p.Output]; !ok {
		return fmt.Errorf("workflow: output node %q not in prompt", p.Output)
	}

	ids := make([]string, 0, len(p.Nodes))
	for id := range p.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		n := p.Nodes[id]
		for name, v := range n.Inputs {
			l, ok := v.(Link)
			if !ok {
				continue
			}
			if _, ok := p.Nodes[l.Node]; !ok {
				return fmt.Errorf("workflow: node %s (%s) input %q links to missing node %q", id, n.ClassType, name, l.Node)
			}
			if l.Slot < 0 {
				return fmt.Errorf("workflow: node %s (%s) input %q has negative slot", id, n.ClassType, name)
			}
		}
	}
	return nil
}

// JSON renders the prompt indented, as sent to /prompt.
func (p *Prompt) JSON() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}
