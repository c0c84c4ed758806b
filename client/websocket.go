package client

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/richinsley/comfytile"
)

// WebSocketCallback receives the text frames of a connection.
type WebSocketCallback interface {
	OnMessage(message string)
	OnDisconnect(err error)
}

type WebSocketConnection struct {
	WebSocketURL string
	Conn         *websocket.Conn
	MaxRetry     int
	RetryCount   int
	Callback     WebSocketCallback

	// Exponential backoff between connection attempts.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Dialer    websocket.Dialer

	connected atomic.Bool
	closing   atomic.Bool
	done      chan struct{}
	mu        sync.Mutex
}

// IsConnected reports whether the read loop is running.
func (w *WebSocketConnection) IsConnected() bool {
	return w.connected.Load()
}

// ConnectWithManager dials until a connection succeeds, MaxRetry retries
// have failed or ctx is done. On success the read loop runs in its own
// goroutine until the connection drops or Close is called.
func (w *WebSocketConnection) ConnectWithManager(ctx context.Context) error {
	w.RetryCount = 0
	for {
		err := w.connect(ctx)
		if err == nil {
			w.connected.Store(true)
			w.done = make(chan struct{})
			go w.handleMessages()
			return nil
		}
		comfytile.Logger().Warn("websocket connection attempt failed", "url", w.WebSocketURL, "error", err)

		if w.RetryCount >= w.MaxRetry {
			return fmt.Errorf("maximum number of retries reached (%d): %w", w.MaxRetry, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.getReconnectDelay()):
		}
	}
}

func (w *WebSocketConnection) connect(ctx context.Context) error {
	conn, _, err := w.Dialer.DialContext(ctx, w.WebSocketURL, nil)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.Conn = conn
	w.mu.Unlock()
	return nil
}

func (w *WebSocketConnection) handleMessages() {
	defer close(w.done)
	for {
		kind, message, err := w.Conn.ReadMessage()
		if err != nil {
			w.connected.Store(false)
			w.Conn.Close()
			if !w.closing.Load() {
				comfytile.Logger().Warn("websocket read failed", "error", err)
				if w.Callback != nil {
					w.Callback.OnDisconnect(err)
				}
			}
			return
		}
		// binary frames are live previews
		if kind != websocket.TextMessage {
			continue
		}
		if w.Callback != nil {
			w.Callback.OnMessage(string(message))
		}
	}
}

// Close shuts the connection down and waits for the read loop to exit.
func (w *WebSocketConnection) Close() error {
	if !w.connected.Load() {
		return nil
	}
	w.closing.Store(true)

	w.mu.Lock()
	_ = w.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := w.Conn.Close()
	w.mu.Unlock()

	<-w.done
	return err
}

// getReconnectDelay is BaseDelay * 2^RetryCount, capped at MaxDelay.
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.RetryCount)))
	if delay > w.MaxDelay {
		delay = w.MaxDelay
	}
	w.RetryCount++
	return delay
}
