package activity

import (
	"time"

	"codeColab/backend/internal/room"
)

type EventType string

const (
	RoomJoined    EventType = "ROOM_JOINED"
	RoomLeft      EventType = "ROOM_LEFT"
	VoiceJoined   EventType = "VOICE_JOINED"
	VoiceLeft     EventType = "VOICE_LEFT"
	RosterRefresh EventType = "ROSTER_REFRESH"
)

// RoomEvent 是房间名单/语音名单的一次变化，发往 Kafka、Redis 名单镜像和统计库。
type RoomEvent struct {
	// EventID 每个事件唯一，下游重投时据此去重
	EventID      string        `json:"eventId"`
	EventType    EventType     `json:"eventType"`
	RoomID       string        `json:"roomId"`
	ConnID       room.ConnID   `json:"socketId,omitempty"`
	Username     string        `json:"username,omitempty"`
	RosterSize   int           `json:"rosterSize"`
	Members      []room.Member `json:"members,omitempty"`      // 仅 ROSTER_REFRESH 携带
	VoiceMembers []room.Member `json:"voiceMembers,omitempty"` // 同上，用于续约语音名单
	OccurredAt   time.Time     `json:"occurredAt"`
}

// Publisher 不阻塞调用方，Hub 的事件循环里直接调用。
type Publisher interface {
	Publish(evt RoomEvent)
}

// Fanout 把事件投递给多个 Publisher。
type Fanout []Publisher

func (f Fanout) Publish(evt RoomEvent) {
	for _, p := range f {
		p.Publish(evt)
	}
}

// Discard 丢弃所有事件，未配置任何下游时使用。
type Discard struct{}

func (Discard) Publish(RoomEvent) {}
