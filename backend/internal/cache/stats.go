package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"codeColab/backend/internal/activity"
	"codeColab/backend/internal/store"
)

const (
	BaseTTL          = 10 * time.Minute // 基础过期时间
	Jitter           = 2 * time.Minute  // 随机抖动范围
	NullTTL          = 1 * time.Minute
	EmptyCacheMarker = "-1" // 空值标记
)

// StatsRepo 是统计库的读写接口，由 store.RoomStatsStore 实现。
type StatsRepo interface {
	Get(ctx context.Context, roomID string) (*store.RoomStats, error)
	RecordJoin(ctx context.Context, eventID, roomID string, rosterSize int, at time.Time) error
	RecordVoiceJoin(ctx context.Context, eventID, roomID string, at time.Time) error
	Touch(ctx context.Context, roomID string, at time.Time) error
}

// StatsCache 旁路缓存房间统计：Redis 命中直接返回，未命中经 singleflight 合并后回源 MySQL。
// rdb 为 nil 时只做 singleflight 合并。
type StatsCache struct {
	rdb  redis.UniversalClient
	repo StatsRepo
	sf   singleflight.Group
}

func NewStatsCache(rdb redis.UniversalClient, repo StatsRepo) *StatsCache {
	return &StatsCache{rdb: rdb, repo: repo}
}

// 获取随机TTL，防止缓存雪崩
func getRandomTTL() time.Duration {
	return BaseTTL + time.Duration(rand.Int63n(int64(Jitter)))
}

// readCache 返回 (值, 是否命中, 是否空值标记, 错误)
func (s *StatsCache) readCache(ctx context.Context, key string) (*store.RoomStats, bool, bool, error) {
	res, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, false, nil
		}
		return nil, false, false, err
	}
	if res == EmptyCacheMarker {
		return nil, true, true, nil
	}
	var stats store.RoomStats
	if err := json.Unmarshal([]byte(res), &stats); err != nil {
		return nil, false, false, err
	}
	return &stats, true, false, nil
}

func (s *StatsCache) writeCache(ctx context.Context, key string, stats *store.RoomStats) {
	b, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, b, getRandomTTL()).Err(); err != nil {
		slog.Warn("write stats cache failed", "key", key, "err", err)
	}
}

// 标记空值缓存，防止缓存穿透
func (s *StatsCache) writeNullCache(ctx context.Context, key string) {
	if err := s.rdb.Set(ctx, key, EmptyCacheMarker, NullTTL).Err(); err != nil {
		slog.Warn("write null cache failed", "key", key, "err", err)
	}
}

// GetRoomStats 房间没有统计时返回 store.ErrNotFound。
func (s *StatsCache) GetRoomStats(ctx context.Context, roomID string) (*store.RoomStats, error) {
	key := statsKey(roomID)
	// 使用 Singleflight 包裹整个流程
	val, err, _ := s.sf.Do(key, func() (interface{}, error) {
		if s.rdb != nil {
			stats, hit, null, err := s.readCache(ctx, key)
			if err != nil {
				slog.Warn("read stats cache failed, fall back to db", "key", key, "err", err)
			}
			if hit {
				if null {
					return nil, store.ErrNotFound
				}
				return stats, nil
			}
		}

		// 回源 (Redis Miss)，查数据库
		stats, err := s.repo.Get(ctx, roomID)
		if errors.Is(err, store.ErrNotFound) {
			if s.rdb != nil {
				s.writeNullCache(ctx, key)
			}
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		if s.rdb != nil {
			s.writeCache(ctx, key, stats)
		}
		return stats, nil
	})
	if err != nil {
		return nil, err
	}
	// 使用断言确保不会panic
	if v, ok := val.(*store.RoomStats); ok {
		return v, nil
	}
	return nil, errors.New("internal type error")
}

func (s *StatsCache) Invalidate(ctx context.Context, roomID string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, statsKey(roomID)).Err(); err != nil {
		slog.Warn("invalidate stats cache failed", "room", roomID, "err", err)
	}
}

// StatsSink 根据房间活动事件更新统计库，并让缓存失效。
type StatsSink struct {
	repo  StatsRepo
	cache *StatsCache
}

func NewStatsSink(repo StatsRepo, cache *StatsCache) *StatsSink {
	return &StatsSink{repo: repo, cache: cache}
}

func (s *StatsSink) Name() string { return "mysql-stats" }

func (s *StatsSink) Deliver(ctx context.Context, evt activity.RoomEvent) error {
	var err error
	switch evt.EventType {
	case activity.RoomJoined:
		err = s.repo.RecordJoin(ctx, evt.EventID, evt.RoomID, evt.RosterSize, evt.OccurredAt)
	case activity.VoiceJoined:
		err = s.repo.RecordVoiceJoin(ctx, evt.EventID, evt.RoomID, evt.OccurredAt)
	case activity.RoomLeft, activity.VoiceLeft:
		err = s.repo.Touch(ctx, evt.RoomID, evt.OccurredAt)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, evt.RoomID)
	}
	return nil
}
