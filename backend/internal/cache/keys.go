package cache

import "fmt"

// 键语义：
// - roomKey(roomID):   房间在线成员（ZSet<socketId, expireAtUnix>，score=expireAt）
// - namesKey(roomID):  房间内 socketId→username 映射（Hash）
// - voiceKey(roomID):  语音参与者 socketId→username（Hash）
// - roomsKey():        房间索引集合（Set<roomID>）
// - statsKey(roomID):  房间统计的缓存（String，JSON）
// - awarenessChannel(roomID): 临时状态帧的 pub/sub channel
// 同一房间的键用 {roomID:...} 作 hash tag，保证在集群里落到同一个 slot，可以放进一个事务。

const (
	keyRoomFmt  = "presence:room:{roomID:%s}"
	keyNamesFmt = "presence:room:names:{roomID:%s}"
	keyVoiceFmt = "presence:voice:{roomID:%s}"
	keyRoomsSet = "presence:rooms"
	keyStatsFmt = "stats:room:{roomID:%s}"

	channelAwarenessFmt = "awareness:{roomID:%s}"
)

func roomKey(roomID string) string  { return fmt.Sprintf(keyRoomFmt, roomID) }
func namesKey(roomID string) string { return fmt.Sprintf(keyNamesFmt, roomID) }
func voiceKey(roomID string) string { return fmt.Sprintf(keyVoiceFmt, roomID) }
func roomsKey() string              { return keyRoomsSet }
func statsKey(roomID string) string { return fmt.Sprintf(keyStatsFmt, roomID) }

func awarenessChannel(roomID string) string { return fmt.Sprintf(channelAwarenessFmt, roomID) }
