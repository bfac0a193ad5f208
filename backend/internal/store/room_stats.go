package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("room stats not found")

// RoomStats 每个房间的累计统计，由房间活动事件驱动更新。
type RoomStats struct {
	RoomID       string    `gorm:"primaryKey;type:varchar(128)" json:"roomId"`
	TotalJoins   uint64    `gorm:"default:0" json:"totalJoins"`
	VoiceJoins   uint64    `gorm:"default:0" json:"voiceJoins"`
	PeakMembers  int       `gorm:"default:0" json:"peakMembers"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// RoomStatEvent 记录已经计入统计的活动事件，事件重投时靠主键冲突识别。
type RoomStatEvent struct {
	EventID   string    `gorm:"primaryKey;type:varchar(64)"`
	RoomID    string    `gorm:"type:varchar(128);index"`
	CreatedAt time.Time
}

type RoomStatsStore struct{ db *gorm.DB }

func NewRoomStatsStore(db *gorm.DB) *RoomStatsStore {
	return &RoomStatsStore{db: db}
}

// RecordJoin 先尝试插入，主键冲突（1062）时改为原子累加。
// 同一个 eventID 只计一次，eventID 为空时不去重。
func (s *RoomStatsStore) RecordJoin(ctx context.Context, eventID, roomID string, rosterSize int, at time.Time) error {
	return s.once(ctx, eventID, roomID, func(tx *gorm.DB) error {
		row := RoomStats{RoomID: roomID, TotalJoins: 1, PeakMembers: rosterSize, LastActiveAt: at}
		err := tx.Create(&row).Error
		if err == nil || !isDuplicate(err) {
			return err
		}
		return tx.Model(&RoomStats{}).
			Where("room_id = ?", roomID).
			Updates(map[string]any{
				"total_joins":    gorm.Expr("total_joins + 1"),
				"peak_members":   gorm.Expr("GREATEST(peak_members, ?)", rosterSize),
				"last_active_at": at,
			}).Error
	})
}

func (s *RoomStatsStore) RecordVoiceJoin(ctx context.Context, eventID, roomID string, at time.Time) error {
	return s.once(ctx, eventID, roomID, func(tx *gorm.DB) error {
		row := RoomStats{RoomID: roomID, VoiceJoins: 1, LastActiveAt: at}
		err := tx.Create(&row).Error
		if err == nil || !isDuplicate(err) {
			return err
		}
		return tx.Model(&RoomStats{}).
			Where("room_id = ?", roomID).
			Updates(map[string]any{
				"voice_joins":    gorm.Expr("voice_joins + 1"),
				"last_active_at": at,
			}).Error
	})
}

// once 在同一个事务里登记 eventID 并执行 apply；eventID 已登记过时什么都不做。
func (s *RoomStatsStore) once(ctx context.Context, eventID, roomID string, apply func(tx *gorm.DB) error) error {
	if eventID == "" {
		return apply(s.db.WithContext(ctx))
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Create(&RoomStatEvent{EventID: eventID, RoomID: roomID}).Error
		if isDuplicate(err) {
			return nil
		}
		if err != nil {
			return err
		}
		return apply(tx)
	})
}

func (s *RoomStatsStore) Touch(ctx context.Context, roomID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&RoomStats{}).
		Where("room_id = ?", roomID).
		Update("last_active_at", at).Error
}

// Get 没找到时返回 ErrNotFound。
func (s *RoomStatsStore) Get(ctx context.Context, roomID string) (*RoomStats, error) {
	var stats RoomStats
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).First(&stats).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &stats, nil
}

func isDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
