package cache

import (
	"context"
	"time"

	"codeColab/backend/internal/activity"
	"codeColab/backend/internal/room"
)

// RosterMirror 把房间活动事件同步到 RosterCache，作为 activity.Dispatcher 的下游。
type RosterMirror struct {
	cache RosterCache
	ttl   time.Duration
}

func NewRosterMirror(c RosterCache, ttl time.Duration) *RosterMirror {
	return &RosterMirror{cache: c, ttl: ttl}
}

func (m *RosterMirror) Name() string { return "redis-roster" }

func (m *RosterMirror) Deliver(ctx context.Context, evt activity.RoomEvent) error {
	member := room.Member{ConnID: evt.ConnID, Username: evt.Username}
	switch evt.EventType {
	case activity.RoomJoined:
		return m.cache.AddMember(ctx, evt.RoomID, member, m.ttl)
	case activity.RoomLeft:
		return m.cache.RemoveMember(ctx, evt.RoomID, evt.ConnID)
	case activity.VoiceJoined:
		return m.cache.AddVoice(ctx, evt.RoomID, member, m.ttl)
	case activity.VoiceLeft:
		return m.cache.RemoveVoice(ctx, evt.RoomID, evt.ConnID)
	case activity.RosterRefresh:
		for _, mem := range evt.Members {
			if err := m.cache.AddMember(ctx, evt.RoomID, mem, m.ttl); err != nil {
				return err
			}
		}
		// AddVoice 会顺带续约整张语音 hash 的过期时间
		for _, mem := range evt.VoiceMembers {
			if err := m.cache.AddVoice(ctx, evt.RoomID, mem, m.ttl); err != nil {
				return err
			}
		}
	}
	return nil
}
