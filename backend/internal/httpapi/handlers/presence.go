package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"codeColab/backend/internal/cache"
)

// 以下接口读取 Redis 里的名单镜像，能看到所有节点上的在线成员。

func ListPresenceRooms(rc cache.RosterCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rc == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence mirror disabled"})
			return
		}
		rooms, err := rc.GetRooms(c.Request.Context())
		if err != nil {
			slog.Error("list presence rooms failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rooms})
	}
}

func GetPresenceRoom(rc cache.RosterCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rc == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence mirror disabled"})
			return
		}
		roomID := c.Param("roomId")
		ctx := c.Request.Context()
		members, err := rc.GetAliveMembers(ctx, roomID)
		if err != nil {
			slog.Error("get presence members failed", "room", roomID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		voice, err := rc.GetVoiceMembers(ctx, roomID)
		if err != nil {
			slog.Error("get voice members failed", "room", roomID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"roomId": roomID, "members": members, "voice": voice})
	}
}
