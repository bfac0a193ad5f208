package main

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"codeColab/backend/internal/awareness"
	"codeColab/backend/internal/cache"
	"codeColab/backend/internal/render"
)

// presence 是命令行客户端的协作感知部分：本地状态经 Redis channel 广播，
// 远端的光标和选区通过 LogDecorations 打到日志里。
type presence struct {
	store    *awareness.Store
	reporter *awareness.Reporter
	renderer *render.Renderer
	cancel   context.CancelFunc
}

func startPresence(ctx context.Context, rdb redis.UniversalClient, roomID, name string) (*presence, error) {
	ctx, cancel := context.WithCancel(ctx)
	ch := cache.NewAwarenessChannel(rdb, roomID)
	store := awareness.NewStore(awareness.ClientID(rand.Uint32()), ch, nil)
	if err := ch.Subscribe(ctx, store.ApplyUpdate); err != nil {
		cancel()
		return nil, err
	}
	go store.Run(ctx.Done())

	renderer := render.New(store, render.LogDecorations{}, nil, render.WithActiveUsers(func(users []render.ActiveUser) {
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, u.Name)
		}
		slog.Info("active users", "room", roomID, "users", names)
	}))
	reporter, err := awareness.NewReporter(store, name, nil)
	if err != nil {
		renderer.Close()
		cancel()
		return nil, err
	}
	return &presence{store: store, reporter: reporter, renderer: renderer, cancel: cancel}, nil
}

// simulate 每隔 every 把光标下移一行并报告一次编辑，偶尔选中整行。
func (p *presence) simulate(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	line := 1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			line++
			p.reporter.CursorMoved(awareness.Cursor{LineNumber: line, Column: 1})
			p.reporter.ContentChanged()
			if line%5 == 0 {
				p.reporter.SelectionChanged(awareness.Range{StartLine: line, StartCol: 1, EndLine: line + 1, EndCol: 1})
			}
		}
	}
}

// Close 广播离开并停止渲染和订阅。
func (p *presence) Close() {
	p.reporter.Close()
	p.renderer.Close()
	p.cancel()
}
