package client

import (
	"sync"

	"github.com/richinsley/comfytile/workflow"
)

// QueueItem tracks one queued prompt until its stopped message.
type QueueItem struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`

	Messages chan PromptMessage `json:"-"`
	Prompt   *workflow.Prompt   `json:"-"`

	abandoned chan struct{}
	once      sync.Once
}

func newQueueItem(p *workflow.Prompt) *QueueItem {
	return &QueueItem{
		Prompt:    p,
		Messages:  make(chan PromptMessage, 16),
		abandoned: make(chan struct{}),
	}
}

// deliver hands m to the consumer. It gives up once the consumer has
// abandoned the item so the websocket reader never blocks on it.
func (qi *QueueItem) deliver(m PromptMessage) {
	select {
	case qi.Messages <- m:
	case <-qi.abandoned:
	}
}

// Abandon tells the client that nobody reads Messages any more.
func (qi *QueueItem) Abandon() {
	qi.once.Do(func() { close(qi.abandoned) })
}

// classType returns the class of node id in the queued prompt, or "" if
// unknown. Compound ids of expanded subgraphs ("57:8") resolve to their
// outer node.
func (qi *QueueItem) classType(id string) string {
	if qi.Prompt == nil {
		return ""
	}
	if n, ok := qi.Prompt.Nodes[id]; ok {
		return n.ClassType
	}
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			if n, ok := qi.Prompt.Nodes[id[:i]]; ok {
				return n.ClassType
			}
			break
		}
	}
	return ""
}
