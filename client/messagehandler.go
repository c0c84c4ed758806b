package client

import (
	"context"
	"fmt"

	"github.com/richinsley/comfytile"
	"github.com/richinsley/comfytile/workflow"
)

// MessageHandlers defines optional callback functions for the messages of a
// QueueItem. Only provide handlers for the messages you care about.
type MessageHandlers struct {
	OnStarted   func(*PromptMessageStarted)
	OnExecuting func(*PromptMessageExecuting)
	OnProgress  func(*PromptMessageProgress)
	OnData      func(*PromptMessageData)

	// OnStopped is called when execution stops for any reason.
	OnStopped func(*PromptMessageStopped)

	// OnError is called before OnStopped when a node failed.
	OnError func(*ExecutionError)

	// OnComplete is called after the message loop exits, regardless of
	// success or failure.
	OnComplete func()
}

// DefaultMessageHandlers logs started, executing, error and stopped
// messages at debug level.
func DefaultMessageHandlers() *MessageHandlers {
	log := comfytile.Logger()
	return &MessageHandlers{
		OnStarted: func(msg *PromptMessageStarted) {
			log.Debug("execution started", "prompt_id", msg.PromptID)
		},
		OnExecuting: func(msg *PromptMessageExecuting) {
			log.Debug("executing node", "node_id", msg.NodeID, "class_type", msg.ClassType)
		},
		OnError: func(err *ExecutionError) {
			log.Error("execution error",
				"node_id", err.NodeID,
				"node_type", err.NodeType,
				"error", err.ExceptionMessage,
			)
		},
		OnStopped: func(msg *PromptMessageStopped) {
			if msg.Exception == nil && msg.Err == nil {
				log.Debug("execution completed", "prompt_id", msg.QueueItem.PromptID)
			}
		},
	}
}

func (h *MessageHandlers) WithStartedHandler(fn func(*PromptMessageStarted)) *MessageHandlers {
	h.OnStarted = fn
	return h
}

func (h *MessageHandlers) WithExecutingHandler(fn func(*PromptMessageExecuting)) *MessageHandlers {
	h.OnExecuting = fn
	return h
}

func (h *MessageHandlers) WithProgressHandler(fn func(*PromptMessageProgress)) *MessageHandlers {
	h.OnProgress = fn
	return h
}

func (h *MessageHandlers) WithDataHandler(fn func(*PromptMessageData)) *MessageHandlers {
	h.OnData = fn
	return h
}

func (h *MessageHandlers) WithStoppedHandler(fn func(*PromptMessageStopped)) *MessageHandlers {
	h.OnStopped = fn
	return h
}

func (h *MessageHandlers) WithErrorHandler(fn func(*ExecutionError)) *MessageHandlers {
	h.OnError = fn
	return h
}

func (h *MessageHandlers) WithCompleteHandler(fn func()) *MessageHandlers {
	h.OnComplete = fn
	return h
}

// ProcessMessages dispatches the QueueItem's messages to handlers until
// execution stops or ctx is done. It returns the *ExecutionError of a
// failed node, ErrInterrupted, ErrConnectionLost, ctx.Err() or nil.
func (qi *QueueItem) ProcessMessages(ctx context.Context, handlers *MessageHandlers) error {
	if handlers == nil {
		handlers = &MessageHandlers{}
	}
	if handlers.OnComplete != nil {
		defer handlers.OnComplete()
	}

	for {
		var msg PromptMessage
		select {
		case <-ctx.Done():
			qi.Abandon()
			return ctx.Err()
		case msg = <-qi.Messages:
		}

		switch msg.Type {
		case "started":
			if handlers.OnStarted != nil {
				handlers.OnStarted(msg.ToPromptMessageStarted())
			}
		case "executing":
			if handlers.OnExecuting != nil {
				handlers.OnExecuting(msg.ToPromptMessageExecuting())
			}
		case "progress":
			if handlers.OnProgress != nil {
				handlers.OnProgress(msg.ToPromptMessageProgress())
			}
		case "data":
			if handlers.OnData != nil {
				handlers.OnData(msg.ToPromptMessageData())
			}
		case "stopped":
			stopped := msg.ToPromptMessageStopped()
			var err error
			if stopped.Exception != nil {
				if handlers.OnError != nil {
					handlers.OnError(stopped.Exception)
				}
				err = stopped.Exception
			} else if stopped.Err != nil {
				err = stopped.Err
			}
			if handlers.OnStopped != nil {
				handlers.OnStopped(stopped)
			}
			return err
		default:
			comfytile.Logger().Warn("unknown prompt message", "type", msg.Type)
		}
	}
}

// QueuePromptAndProcess queues p and processes its messages until it stops.
//
//	err := c.QueuePromptAndProcess(ctx, p,
//	    client.DefaultMessageHandlers().
//	        WithDataHandler(func(msg *client.PromptMessageData) {
//	            // handle output data
//	        }),
//	)
func (c *ComfyClient) QueuePromptAndProcess(ctx context.Context, p *workflow.Prompt, handlers *MessageHandlers) error {
	item, err := c.QueuePrompt(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to queue prompt: %w", err)
	}
	return item.ProcessMessages(ctx, handlers)
}
