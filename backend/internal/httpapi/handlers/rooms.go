package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"codeColab/backend/internal/room"
	"codeColab/backend/internal/store"
)

// LiveRoster 由 ws.Hub 实现，查询会进入 Hub 的事件循环。
type LiveRoster interface {
	Roster(ctx context.Context, roomID string) ([]room.Member, error)
	VoiceParticipants(ctx context.Context, roomID string) ([]room.Member, error)
}

type StatsReader interface {
	GetRoomStats(ctx context.Context, roomID string) (*store.RoomStats, error)
}

func GetRoster(live LiveRoster) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		clients, err := live.Roster(c.Request.Context(), roomID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"roomId": roomID, "clients": clients})
	}
}

func GetVoice(live LiveRoster) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID := c.Param("roomId")
		participants, err := live.VoiceParticipants(c.Request.Context(), roomID)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"roomId": roomID, "participants": participants})
	}
}

// GetStats stats 为 nil 表示没有配置 MySQL
func GetStats(stats StatsReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if stats == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stats store disabled"})
			return
		}
		roomID := c.Param("roomId")
		s, err := stats.GetRoomStats(c.Request.Context(), roomID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		if err != nil {
			slog.Error("get room stats failed", "room", roomID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, s)
	}
}
