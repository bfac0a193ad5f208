// Package client 是房间服务的 Go 客户端：收发 ws.Envelope，并在 Session 里维护本地名单。
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codeColab/backend/internal/ws"
)

var ErrClosed = errors.New("client: connection closed")

const writeWait = 10 * time.Second

type Handler func(data json.RawMessage)

// Client 的 handler 在读 goroutine 里按到达顺序串行调用。
type Client struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers map[string][]Handler

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{
		conn:     conn,
		handlers: make(map[string][]Handler),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *Client) Emit(event string, payload any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	env := ws.Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Data = data
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		c.shutdown(err)
		return err
	}
	return nil
}

// Done 在连接关闭（主动或异常）后关闭
func (c *Client) Done() <-chan struct{} { return c.done }

// Err 返回连接结束的原因，主动 Close 时为 ErrClosed
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.err = err
		c.conn.Close()
		close(c.done)
	})
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("drop malformed frame", "err", err)
			continue
		}
		c.mu.RLock()
		hs := c.handlers[env.Event]
		c.mu.RUnlock()
		for _, h := range hs {
			h(env.Data)
		}
	}
}
