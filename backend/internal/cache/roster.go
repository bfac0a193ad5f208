package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"codeColab/backend/internal/room"
)

// RosterCache 是房间名单在 Redis 里的镜像，供 HTTP 查询和其它节点读取。
// 权威名单始终在 Hub 的内存里，这里允许短暂落后。
type RosterCache interface {
	AddMember(ctx context.Context, roomID string, m room.Member, ttl time.Duration) error
	RemoveMember(ctx context.Context, roomID string, id room.ConnID) error
	GetRooms(ctx context.Context) ([]string, error)
	GetAliveMembers(ctx context.Context, roomID string) ([]room.Member, error)
	AddVoice(ctx context.Context, roomID string, m room.Member, ttl time.Duration) error
	RemoveVoice(ctx context.Context, roomID string, id room.ConnID) error
	GetVoiceMembers(ctx context.Context, roomID string) ([]room.Member, error)
}

// 具体实现：基于 redis 的 RosterCache，单机和集群都用 UniversalClient
type redisRoster struct {
	rdb redis.UniversalClient
}

func NewRedisRoster(rdb redis.UniversalClient) RosterCache {
	return &redisRoster{rdb: rdb}
}

// 清理过期成员
// KEYS[1] = roomKey(roomID)
// KEYS[2] = namesKey(roomID)
// ARGV[1] = now (unix seconds)
var expireScript = redis.NewScript(`
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisRoster) AddMember(ctx context.Context, roomID string, m room.Member, ttl time.Duration) error {
	// 刷新TTL也直接调用AddMember即可
	tx := p.rdb.TxPipeline()
	// ZSET score 使用 expireAt（Unix 秒），用于表达“逻辑 TTL”
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(roomID), redis.Z{Score: float64(expireAt), Member: string(m.ConnID)})
	tx.HSet(ctx, namesKey(roomID), string(m.ConnID), m.Username)
	if _, err := tx.Exec(ctx); err != nil {
		return err
	}
	// 房间索引不在同一个 slot，不能放进上面的事务
	return p.rdb.SAdd(ctx, roomsKey(), roomID).Err()
}

func (p *redisRoster) RemoveMember(ctx context.Context, roomID string, id room.ConnID) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(roomID), string(id))
	tx.HDel(ctx, namesKey(roomID), string(id))
	card := tx.ZCard(ctx, roomKey(roomID))
	if _, err := tx.Exec(ctx); err != nil {
		return err
	}
	if card.Val() == 0 {
		return p.rdb.SRem(ctx, roomsKey(), roomID).Err()
	}
	return nil
}

// GetRooms 返回仍有在线成员的房间，顺手把已经空了的房间移出索引。
func (p *redisRoster) GetRooms(ctx context.Context) ([]string, error) {
	ids, err := p.rdb.SMembers(ctx, roomsKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	rooms := make([]string, 0, len(ids))
	for _, id := range ids {
		members, err := p.GetAliveMembers(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			_ = p.rdb.SRem(ctx, roomsKey(), id).Err()
			continue
		}
		rooms = append(rooms, id)
	}
	return rooms, nil
}

func (p *redisRoster) GetAliveMembers(ctx context.Context, roomID string) ([]room.Member, error) {
	// step1: 清理过期成员
	// 约定：score=expireAt（Unix 秒），expireAt <= now 视为过期
	now := time.Now().Unix()
	if err := expireScript.Run(ctx, p.rdb, []string{roomKey(roomID), namesKey(roomID)}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	// step2: 查询在线成员，按过期时间排序
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(roomID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10), // > now
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: 批量获取名字
	names, err := p.rdb.HMGet(ctx, namesKey(roomID), aliveIDs...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	members := make([]room.Member, 0, len(aliveIDs))
	for i, v := range names {
		name, _ := v.(string)
		members = append(members, room.Member{ConnID: room.ConnID(aliveIDs[i]), Username: name})
	}
	return members, nil
}

func (p *redisRoster) AddVoice(ctx context.Context, roomID string, m room.Member, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	tx.HSet(ctx, voiceKey(roomID), string(m.ConnID), m.Username)
	tx.Expire(ctx, voiceKey(roomID), ttl)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisRoster) RemoveVoice(ctx context.Context, roomID string, id room.ConnID) error {
	return p.rdb.HDel(ctx, voiceKey(roomID), string(id)).Err()
}

func (p *redisRoster) GetVoiceMembers(ctx context.Context, roomID string) ([]room.Member, error) {
	all, err := p.rdb.HGetAll(ctx, voiceKey(roomID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	members := make([]room.Member, 0, len(all))
	for id, name := range all {
		members = append(members, room.Member{ConnID: room.ConnID(id), Username: name})
	}
	return members, nil
}
