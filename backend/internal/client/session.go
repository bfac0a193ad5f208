package client

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"codeColab/backend/internal/room"
	"codeColab/backend/internal/ws"
)

// Session 是一次编辑会话：加入房间、维护本地名单。
// 连接失败只通知一次 OnFailure，之后会话失效，不会自动重连。
type Session struct {
	c *Client

	mu       sync.Mutex
	username string
	roomID   string
	selfID   room.ConnID
	roster   []room.Member
	valid    bool
	closing  bool

	onRoster  func([]room.Member)
	onFailure func(error)
	failOnce  sync.Once
}

func NewSession(c *Client) *Session {
	s := &Session{c: c, valid: true}
	c.On(ws.EventJoined, s.handleJoined)
	c.On(ws.EventDisconnected, s.handleDisconnected)
	go func() {
		<-c.Done()
		s.mu.Lock()
		closing := s.closing
		s.mu.Unlock()
		if !closing {
			s.fail(c.Err())
		}
	}()
	return s
}

// OnRosterChange 回调在读 goroutine 中执行，参数是名单副本
func (s *Session) OnRosterChange(fn func([]room.Member)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRoster = fn
}

func (s *Session) OnFailure(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = fn
}

func (s *Session) Join(roomID, username string) error {
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return ErrClosed
	}
	s.roomID = roomID
	s.username = username
	s.mu.Unlock()

	if err := s.c.Emit(ws.EventJoin, ws.JoinMessage{RoomID: roomID, Username: username}); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

func (s *Session) Roster() []room.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.roster)
}

func (s *Session) SelfID() room.ConnID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// Close 主动结束会话，不触发 OnFailure
func (s *Session) Close() error {
	s.mu.Lock()
	s.closing = true
	s.valid = false
	s.roster = nil
	s.mu.Unlock()
	return s.c.Close()
}

func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		s.mu.Lock()
		s.valid = false
		s.roster = nil
		fn := s.onFailure
		s.mu.Unlock()
		slog.Warn("session failed", "err", err)
		if fn != nil {
			fn(err)
		}
	})
}

func (s *Session) handleJoined(data json.RawMessage) {
	var msg ws.JoinedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("bad joined payload", "err", err)
		return
	}
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return
	}
	// 加入前不在任何房间，收到的第一条 joined 一定是自己的
	if s.selfID == "" {
		s.selfID = msg.SocketID
	}
	s.roster = slices.Clone(msg.Clients)
	s.notifyLocked()
}

func (s *Session) handleDisconnected(data json.RawMessage) {
	var msg ws.DisconnectedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("bad disconnected payload", "err", err)
		return
	}
	s.mu.Lock()
	if !s.valid {
		s.mu.Unlock()
		return
	}
	s.roster = slices.DeleteFunc(s.roster, func(m room.Member) bool { return m.ConnID == msg.SocketID })
	s.notifyLocked()
}

// notifyLocked 调用时持有 s.mu，返回前释放
func (s *Session) notifyLocked() {
	fn := s.onRoster
	snapshot := slices.Clone(s.roster)
	s.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}
