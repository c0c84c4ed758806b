// Package client talks to a ComfyUI server: it queues API-format prompts,
// follows their execution over the /ws status stream and moves images in
// and out through /upload/image and /view.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/richinsley/comfytile"
)

type QueuedItemStoppedReason string

const (
	QueuedItemStoppedReasonFinished    QueuedItemStoppedReason = "finished"
	QueuedItemStoppedReasonInterrupted QueuedItemStoppedReason = "interrupted"
	QueuedItemStoppedReasonError       QueuedItemStoppedReason = "error"
)

type ComfyClientCallbacks struct {
	ClientQueueCountChanged func(*ComfyClient, int)
	QueuedItemStarted       func(*ComfyClient, *QueueItem)
	QueuedItemStopped       func(*ComfyClient, *QueueItem, QueuedItemStoppedReason)
	QueuedItemDataAvailable func(*ComfyClient, *QueueItem, *PromptMessageData)
}

// ComfyClient is the top level object that allows for interaction with the
// ComfyUI backend. It is safe for concurrent use.
type ComfyClient struct {
	baseURL    *url.URL
	clientID   string
	callbacks  *ComfyClientCallbacks
	httpClient *http.Client
	retry      int

	mu           sync.Mutex
	ws           *WebSocketConnection
	initialized  bool
	queued       map[string]*QueueItem
	queueCount   int
	lastPromptID string
}

// NewComfyClient creates a client for the server at address:port.
func NewComfyClient(serverAddress string, serverPort int, callbacks *ComfyClientCallbacks) *ComfyClient {
	return NewComfyClientWithTimeout(serverAddress, serverPort, callbacks, 0, 3)
}

// NewComfyClientWithTimeout is NewComfyClient with an HTTP request timeout
// (zero for none) and the number of websocket connection retries.
func NewComfyClientWithTimeout(serverAddress string, serverPort int, callbacks *ComfyClientCallbacks, timeout time.Duration, retry int) *ComfyClient {
	return &ComfyClient{
		baseURL: &url.URL{
			Scheme: "http",
			Host:   serverAddress + ":" + strconv.Itoa(serverPort),
		},
		clientID:   uuid.New().String(),
		callbacks:  callbacks,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		queued:     make(map[string]*QueueItem),
	}
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend.
func (c *ComfyClient) ClientID() string {
	return c.clientID
}

// BaseURL returns the server's HTTP root.
func (c *ComfyClient) BaseURL() string {
	return c.baseURL.String()
}

// HttpClient returns the underlying http client.
func (c *ComfyClient) HttpClient() *http.Client {
	return c.httpClient
}

// SetHttpClient replaces the underlying http client.
func (c *ComfyClient) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

// IsInitialized returns true if the client's websocket is connected.
func (c *ComfyClient) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// QueueCount is the server's remaining queue length as last reported.
func (c *ComfyClient) QueueCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queueCount
}

func (c *ComfyClient) websocketURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"clientId": {c.clientID}}.Encode()
	return u.String()
}

// Init connects the status websocket if it is not already connected.
func (c *ComfyClient) Init(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ws := &WebSocketConnection{
		WebSocketURL: c.websocketURL(),
		MaxRetry:     c.retry,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Callback:     c,
	}
	if err := ws.ConnectWithManager(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", c.baseURL.Host, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.initialized = true
	c.mu.Unlock()
	comfytile.Logger().Debug("connected to comfyui", "server", c.baseURL.Host, "client_id", c.clientID)
	return nil
}

// CheckConnection reconnects the websocket if it has dropped.
func (c *ComfyClient) CheckConnection(ctx context.Context) error {
	return c.Init(ctx)
}

// Close disconnects the websocket. Prompts still in flight are stopped
// with ErrConnectionLost.
func (c *ComfyClient) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.initialized = false
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	err := ws.Close()
	c.failAll(ErrConnectionLost)
	return err
}

// GetQueuedItem returns a QueueItem that was queued with the ComfyClient
// and has not stopped yet.
func (c *ComfyClient) GetQueuedItem(promptID string) *QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queued[promptID]
}

// OnDisconnect implements WebSocketCallback.
func (c *ComfyClient) OnDisconnect(err error) {
	c.mu.Lock()
	c.initialized = false
	c.ws = nil
	c.mu.Unlock()
	comfytile.Logger().Warn("comfyui websocket disconnected", "error", err)
	c.failAll(ErrConnectionLost)
}

func (c *ComfyClient) failAll(err error) {
	c.mu.Lock()
	items := make([]*QueueItem, 0, len(c.queued))
	for id, qi := range c.queued {
		items = append(items, qi)
		delete(c.queued, id)
	}
	c.mu.Unlock()

	for _, qi := range items {
		qi.deliver(PromptMessage{
			Type:    "stopped",
			Message: &PromptMessageStopped{QueueItem: qi, Err: err},
		})
	}
}

// take removes a queue item once it has stopped. No further messages are
// routed to it afterwards.
func (c *ComfyClient) take(promptID string) *QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	qi := c.queued[promptID]
	delete(c.queued, promptID)
	return qi
}

func (c *ComfyClient) stopped(qi *QueueItem, reason QueuedItemStoppedReason, m *PromptMessageStopped) {
	if c.callbacks != nil && c.callbacks.QueuedItemStopped != nil {
		c.callbacks.QueuedItemStopped(c, qi, reason)
	}
	qi.deliver(PromptMessage{Type: "stopped", Message: m})
}

// OnMessage processes each message received from the websocket connection
// to ComfyUI. Messages are translated into PromptMessages and placed on the
// matching QueueItem's channel.
func (c *ComfyClient) OnMessage(msg string) {
	message := &WSStatusMessage{}
	if err := json.Unmarshal([]byte(msg), message); err != nil {
		comfytile.Logger().Error("deserializing status message", "error", err)
		return
	}

	if s, ok := message.Data.(*WSMessageDataStatus); ok {
		c.mu.Lock()
		c.queueCount = s.Status.ExecInfo.QueueRemaining
		c.mu.Unlock()
		if c.callbacks != nil && c.callbacks.ClientQueueCountChanged != nil {
			c.callbacks.ClientQueueCountChanged(c, s.Status.ExecInfo.QueueRemaining)
		}
		return
	}
	if message.Data == nil {
		comfytile.Logger().Debug("unhandled message type", "type", message.Type)
		return
	}

	// older servers omit prompt_id on progress messages
	c.mu.Lock()
	promptID := message.PromptID()
	if promptID == "" {
		promptID = c.lastPromptID
	}
	if message.Type == "execution_start" {
		c.lastPromptID = promptID
	}
	qi := c.queued[promptID]
	c.mu.Unlock()
	if qi == nil {
		return
	}

	switch s := message.Data.(type) {
	case *WSMessageDataExecutionStart:
		if c.callbacks != nil && c.callbacks.QueuedItemStarted != nil {
			c.callbacks.QueuedItemStarted(c, qi)
		}
		qi.deliver(PromptMessage{
			Type:    "started",
			Message: &PromptMessageStarted{PromptID: qi.PromptID},
		})

	case *WSMessageDataExecutionCached:

	case *WSMessageDataExecuting:
		if s.Node == nil {
			// final node was processed
			if c.take(promptID) != nil {
				c.stopped(qi, QueuedItemStoppedReasonFinished, &PromptMessageStopped{QueueItem: qi})
			}
			return
		}
		qi.deliver(PromptMessage{
			Type: "executing",
			Message: &PromptMessageExecuting{
				NodeID:    *s.Node,
				ClassType: qi.classType(*s.Node),
			},
		})

	case *WSMessageDataProgress:
		qi.deliver(PromptMessage{
			Type:    "progress",
			Message: &PromptMessageProgress{NodeID: s.Node, Value: s.Value, Max: s.Max},
		})

	case *WSMessageDataExecuted:
		mdata := &PromptMessageData{NodeID: s.Node, Data: s.Output}
		if c.callbacks != nil && c.callbacks.QueuedItemDataAvailable != nil {
			c.callbacks.QueuedItemDataAvailable(c, qi, mdata)
		}
		qi.deliver(PromptMessage{Type: "data", Message: mdata})

	case *WSMessageExecutionSuccess:
		if c.take(promptID) != nil {
			c.stopped(qi, QueuedItemStoppedReasonFinished, &PromptMessageStopped{QueueItem: qi})
		}

	case *WSMessageExecutionInterrupted:
		if c.take(promptID) != nil {
			c.stopped(qi, QueuedItemStoppedReasonInterrupted, &PromptMessageStopped{QueueItem: qi, Err: ErrInterrupted})
		}

	case *WSMessageExecutionError:
		if c.take(promptID) == nil {
			return
		}
		nodeType := s.NodeType
		if nodeType == "" {
			nodeType = qi.classType(s.Node)
		}
		c.stopped(qi, QueuedItemStoppedReasonError, &PromptMessageStopped{
			QueueItem: qi,
			Exception: &ExecutionError{
				PromptID:         qi.PromptID,
				NodeID:           s.Node,
				NodeType:         nodeType,
				ExceptionType:    s.ExceptionType,
				ExceptionMessage: s.ExceptionMessage,
				Traceback:        s.Traceback,
			},
		})
	}
}
