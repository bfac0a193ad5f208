package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeColab/backend/internal/activity"
	"codeColab/backend/internal/store"
)

type fakeRepo struct {
	mu      sync.Mutex
	gets    atomic.Int32
	release chan struct{}
	rows    map[string]*store.RoomStats
	seen    map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: map[string]*store.RoomStats{}, seen: map[string]bool{}}
}

// applied 和 RoomStatsStore 一样按 eventID 去重。
func (r *fakeRepo) applied(eventID string) bool {
	if eventID == "" {
		return false
	}
	if r.seen[eventID] {
		return true
	}
	r.seen[eventID] = true
	return false
}

func (r *fakeRepo) Get(_ context.Context, roomID string) (*store.RoomStats, error) {
	r.gets.Add(1)
	if r.release != nil {
		<-r.release
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[roomID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) row(roomID string) *store.RoomStats {
	if r.rows[roomID] == nil {
		r.rows[roomID] = &store.RoomStats{RoomID: roomID}
	}
	return r.rows[roomID]
}

func (r *fakeRepo) RecordJoin(_ context.Context, eventID, roomID string, size int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied(eventID) {
		return nil
	}
	s := r.row(roomID)
	s.TotalJoins++
	s.PeakMembers = max(s.PeakMembers, size)
	s.LastActiveAt = at
	return nil
}

func (r *fakeRepo) RecordVoiceJoin(_ context.Context, eventID, roomID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied(eventID) {
		return nil
	}
	r.row(roomID).VoiceJoins++
	return nil
}

func (r *fakeRepo) Touch(context.Context, string, time.Time) error { return nil }

func TestStatsCacheSingleflight(t *testing.T) {
	repo := newFakeRepo()
	repo.rows["r1"] = &store.RoomStats{RoomID: "r1", TotalJoins: 7}
	repo.release = make(chan struct{})
	c := NewStatsCache(nil, repo)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.GetRoomStats(context.Background(), "r1")
			if err == nil && s.TotalJoins != 7 {
				err = fmt.Errorf("total joins = %d", s.TotalJoins)
			}
			errs <- err
		}()
	}
	// 等所有 goroutine 都进入 singleflight
	time.Sleep(50 * time.Millisecond)
	close(repo.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("GetRoomStats: %v", err)
		}
	}
	if n := repo.gets.Load(); n != 1 {
		t.Fatalf("repo hit %d times, want 1", n)
	}
}

func TestStatsCacheNotFound(t *testing.T) {
	c := NewStatsCache(nil, newFakeRepo())
	if _, err := c.GetRoomStats(context.Background(), "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestStatsCacheWithRedis(t *testing.T) {
	rdb := newTestRedis(t)
	roomID := fmt.Sprintf("stats-%d", time.Now().UnixNano())
	cleanupRoom(t, rdb, roomID)
	repo := newFakeRepo()
	c := NewStatsCache(rdb, repo)
	sink := NewStatsSink(repo, c)
	ctx := context.Background()

	// 空值缓存挡住第二次回源
	if _, err := c.GetRoomStats(ctx, roomID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("first get = %v", err)
	}
	if _, err := c.GetRoomStats(ctx, roomID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second get = %v", err)
	}
	if n := repo.gets.Load(); n != 1 {
		t.Fatalf("repo hit %d times, want 1", n)
	}

	// 写入后缓存失效，读到新值
	if err := sink.Deliver(ctx, activity.RoomEvent{EventType: activity.RoomJoined, RoomID: roomID, RosterSize: 2, OccurredAt: time.Now()}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	s, err := c.GetRoomStats(ctx, roomID)
	if err != nil {
		t.Fatalf("get after join: %v", err)
	}
	if s.TotalJoins != 1 || s.PeakMembers != 2 {
		t.Fatalf("stats = %+v", s)
	}
	if _, err := c.GetRoomStats(ctx, roomID); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if n := repo.gets.Load(); n != 2 {
		t.Fatalf("repo hit %d times, want 2", n)
	}
}

func TestStatsSinkRecords(t *testing.T) {
	repo := newFakeRepo()
	sink := NewStatsSink(repo, NewStatsCache(nil, repo))
	ctx := context.Background()
	for _, evt := range []activity.RoomEvent{
		{EventType: activity.RoomJoined, RoomID: "r1", RosterSize: 1},
		{EventType: activity.RoomJoined, RoomID: "r1", RosterSize: 3},
		{EventType: activity.VoiceJoined, RoomID: "r1"},
		{EventType: activity.RosterRefresh, RoomID: "r1"},
	} {
		if err := sink.Deliver(ctx, evt); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	s := repo.rows["r1"]
	if s.TotalJoins != 2 || s.PeakMembers != 3 || s.VoiceJoins != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestStatsSinkRedeliveryCountsOnce(t *testing.T) {
	repo := newFakeRepo()
	sink := NewStatsSink(repo, nil)
	ctx := context.Background()
	join := activity.RoomEvent{EventID: "e1", EventType: activity.RoomJoined, RoomID: "r1", RosterSize: 2}
	voice := activity.RoomEvent{EventID: "e2", EventType: activity.VoiceJoined, RoomID: "r1"}
	// Dispatcher 重试时同一事件会投递多次
	for _, evt := range []activity.RoomEvent{join, join, voice, voice, join} {
		if err := sink.Deliver(ctx, evt); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}
	s := repo.rows["r1"]
	if s.TotalJoins != 1 || s.VoiceJoins != 1 {
		t.Fatalf("stats = %+v", s)
	}
}
