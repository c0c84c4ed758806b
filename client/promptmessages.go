package client

// PromptMessage is what a QueueItem receives on its Messages channel.
//
// Types, in the order they usually arrive:
//
//	started
//	executing
//	progress
//	data
//	stopped
type PromptMessage struct {
	Type    string
	Message any
}

type PromptMessageStarted struct {
	PromptID string
}

func (p *PromptMessage) ToPromptMessageStarted() *PromptMessageStarted {
	return p.Message.(*PromptMessageStarted)
}

type PromptMessageExecuting struct {
	NodeID    string
	ClassType string
}

func (p *PromptMessage) ToPromptMessageExecuting() *PromptMessageExecuting {
	return p.Message.(*PromptMessageExecuting)
}

type PromptMessageProgress struct {
	NodeID string
	Max    int
	Value  int
}

func (p *PromptMessage) ToPromptMessageProgress() *PromptMessageProgress {
	return p.Message.(*PromptMessageProgress)
}

type PromptMessageData struct {
	NodeID string
	Data   map[string][]DataOutput
}

func (p *PromptMessage) ToPromptMessageData() *PromptMessageData {
	return p.Message.(*PromptMessageData)
}

// PromptMessageStopped is always the last message of a QueueItem. Exception
// is set when a node failed, Err for interruption or a lost connection.
type PromptMessageStopped struct {
	QueueItem *QueueItem
	Exception *ExecutionError
	Err       error
}

func (p *PromptMessage) ToPromptMessageStopped() *PromptMessageStopped {
	return p.Message.(*PromptMessageStopped)
}
