package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// AwarenessChannel 用 Redis pub/sub 在同一房间的客户端之间广播临时状态帧，
// 实现 awareness.Transport。自己发出的帧也会收到，由 Store 按 clientID 过滤。
type AwarenessChannel struct {
	rdb     redis.UniversalClient
	channel string
}

func NewAwarenessChannel(rdb redis.UniversalClient, roomID string) *AwarenessChannel {
	return &AwarenessChannel{rdb: rdb, channel: awarenessChannel(roomID)}
}

func (a *AwarenessChannel) Broadcast(frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return a.rdb.Publish(ctx, a.channel, frame).Err()
}

// Subscribe 订阅确认后返回，之后在后台把收到的帧交给 apply，ctx 结束时退订。
func (a *AwarenessChannel) Subscribe(ctx context.Context, apply func([]byte) error) error {
	sub := a.rdb.Subscribe(ctx, a.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := apply([]byte(msg.Payload)); err != nil {
					slog.Warn("awareness frame dropped", "channel", a.channel, "err", err)
				}
			}
		}
	}()
	return nil
}
