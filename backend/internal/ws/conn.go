package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"codeColab/backend/internal/room"
)

const (
	// 写超时
	writeWait = 10 * time.Second
	// 等待下一个 pong 的时间，超时视为连接已断
	pongWait = 60 * time.Second
	// ping 周期，必须小于 pongWait
	pingPeriod = (pongWait * 9) / 10
	// 单条消息上限，SDP 一般在几 KB
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Conn 是一个 websocket 连接。读写各一个 goroutine，业务状态只由 Hub 的事件循环修改。
type Conn struct {
	ws  *websocket.Conn
	hub *Hub
	id  room.ConnID
	// defaultName 来自鉴权中间件写入的 username，join 没带名字时使用
	defaultName string

	// 以下字段只在 Hub 事件循环里读写
	username  string
	voiceName string

	send chan *websocket.PreparedMessage
}

func NewConn(ws *websocket.Conn, hub *Hub, id room.ConnID, defaultName string) *Conn {
	return &Conn{
		ws:          ws,
		hub:         hub,
		id:          id,
		defaultName: defaultName,
		send:        make(chan *websocket.PreparedMessage, sendBuffer),
	}
}

func (c *Conn) ID() room.ConnID { return c.id }

func (c *Conn) displayName() string {
	switch {
	case c.username != "":
		return c.username
	case c.voiceName != "":
		return c.voiceName
	}
	return c.defaultName
}

// enqueue 非阻塞写入发送队列，队列满了就丢弃这条消息
func (c *Conn) enqueue(msg *websocket.PreparedMessage) {
	select {
	case c.send <- msg:
	default:
		slog.Warn("send queue full, drop message", "conn", c.id)
	}
}

// readLoop 把收到的帧交给 Hub，退出时通知 Hub 注销连接。
// 一个连接只有这一个读 goroutine。
func (c *Conn) readLoop() {
	defer func() {
		c.hub.unregisterConn(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Info("websocket closed unexpectedly", "conn", c.id, "err", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			slog.Debug("drop malformed frame", "conn", c.id, "err", err)
			continue
		}
		if !c.hub.dispatch(c, env) {
			return
		}
	}
}

// writeLoop 持续消费发送队列并定时 ping。一个连接只有这一个写 goroutine。
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了发送队列
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WritePreparedMessage(msg); err != nil {
				slog.Debug("write failed", "conn", c.id, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
