package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codeColab/backend/internal/room"
)

// 默认允许本地开发环境的来源
var defaultOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
	"https://localhost",
	"https://127.0.0.1",
}

type Manager struct {
	h        *Hub
	upgrader websocket.Upgrader
}

// NewManager allowedOrigins 为空时使用本地开发来源，包含 "*" 时放行所有来源。
func NewManager(h *Hub, allowedOrigins []string) *Manager {
	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultOrigins
	}
	m := &Manager{h: h}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || origin == "null" { // 非浏览器客户端可能不发送 Origin，或为 "null"
				return true
			}
			for _, p := range allowedOrigins {
				if p == "*" || strings.HasPrefix(origin, p) {
					return true
				}
			}
			return false
		},
	}
	return m
}

func (m *Manager) WebSocketConnect(c *gin.Context) {
	username := c.GetString("username")

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "origin", c.Request.Header.Get("Origin"), "err", err)
		return
	}

	wsConn := NewConn(conn, m.h, room.ConnID(uuid.NewString()), username)
	if !m.h.registerConn(wsConn) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	// 最后再进入读循环（阻塞至连接关闭）
	wsConn.readLoop()
}
