// Package httpapi 组装 gin 路由：websocket 升级、健康检查和房间查询接口。
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"codeColab/backend/internal/cache"
	"codeColab/backend/internal/httpapi/handlers"
	"codeColab/backend/internal/httpapi/middleware"
)

type Deps struct {
	// WebSocket 是 ws.Manager.WebSocketConnect
	WebSocket gin.HandlerFunc
	Live      handlers.LiveRoster
	Stats     handlers.StatsReader // 可为 nil
	Presence  cache.RosterCache    // 可为 nil

	AuthSecret   string
	AuthRequired bool
	AllowOrigins []string
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(d.AllowOrigins) == 0 || (len(d.AllowOrigins) == 1 && d.AllowOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = d.AllowOrigins
	}
	r.Use(cors.New(corsCfg))

	collab := r.Group("/collab")
	collab.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "ok",
		})
	})

	// 从 Authorization 或 ?token= 提取 token，写入 userId/username
	authed := collab.Group("")
	authed.Use(middleware.AuthMiddleware(d.AuthSecret, d.AuthRequired))
	authed.GET("/ws", d.WebSocket)
	authed.GET("/rooms/:roomId/roster", handlers.GetRoster(d.Live))
	authed.GET("/rooms/:roomId/voice", handlers.GetVoice(d.Live))
	authed.GET("/rooms/:roomId/stats", handlers.GetStats(d.Stats))
	authed.GET("/presence/rooms", handlers.ListPresenceRooms(d.Presence))
	authed.GET("/presence/rooms/:roomId", handlers.GetPresenceRoom(d.Presence))

	return r
}
