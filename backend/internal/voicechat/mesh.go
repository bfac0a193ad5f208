// Package voicechat 在客户端维护语音 mesh：每个远端参与者一条 PeerConnection。
// 新加入者负责向已有参与者逐个发 offer，已有参与者只应答，保证每对之间只有一次协商。
package voicechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"codeColab/backend/internal/client"
	"codeColab/backend/internal/room"
	"codeColab/backend/internal/ws"
)

var (
	ErrMicrophone     = errors.New("voicechat: microphone unavailable")
	ErrAlreadyInVoice = errors.New("voicechat: already in voice")
)

// Signaler 通常是 *client.Client
type Signaler interface {
	Emit(event string, payload any) error
}

type LocalAudio interface {
	SetEnabled(enabled bool)
	Close() error
}

type Microphone interface {
	Open(ctx context.Context) (LocalAudio, error)
}

// AudioSink 是播放某个远端音轨的输出，对端离开时关闭。
type AudioSink interface {
	Close() error
}

// PeerEvents 的回调可能来自任意 goroutine，OnRemoteAudio 不能在 Peer 的方法内同步调用。
type PeerEvents struct {
	OnICECandidate func(candidate json.RawMessage)
	OnRemoteAudio  func(sink AudioSink)
}

// Peer 的 SDP 和 candidate 都是浏览器格式的 JSON，原样经过中继。
type Peer interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(sdp json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(sdp json.RawMessage) error
	AddICECandidate(candidate json.RawMessage) error
	Close() error
}

type PeerFactory interface {
	NewPeer(remote room.ConnID, local LocalAudio, ev PeerEvents) (Peer, error)
}

type peerState struct {
	peer      Peer
	sink      AudioSink
	remoteSet bool
	pending   []json.RawMessage
}

type Mesh struct {
	sig     Signaler
	factory PeerFactory
	mic     Microphone

	mu     sync.Mutex
	roomID string
	local  LocalAudio
	muted  bool
	peers  map[room.ConnID]*peerState
	// 还没有对应 peer 时先到的 candidate
	early map[room.ConnID][]json.RawMessage
}

func NewMesh(sig Signaler, factory PeerFactory, mic Microphone) *Mesh {
	return &Mesh{
		sig:     sig,
		factory: factory,
		mic:     mic,
		peers:   make(map[room.ConnID]*peerState),
		early:   make(map[room.ConnID][]json.RawMessage),
	}
}

// Bind 把语音信令事件注册到客户端
func (m *Mesh) Bind(c interface {
	On(event string, h client.Handler)
}) {
	c.On(ws.EventVoiceUsers, m.handleUsers)
	c.On(ws.EventVoiceJoined, m.handleJoined)
	c.On(ws.EventVoiceOffer, m.handleOffer)
	c.On(ws.EventVoiceAnswer, m.handleAnswer)
	c.On(ws.EventVoiceICE, m.handleICE)
	c.On(ws.EventVoiceLeft, m.handleLeft)
}

// Join 先拿到麦克风再通知服务端；麦克风失败时返回 ErrMicrophone，状态不变。
func (m *Mesh) Join(ctx context.Context, roomID, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local != nil {
		return ErrAlreadyInVoice
	}
	local, err := m.mic.Open(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMicrophone, err)
	}
	local.SetEnabled(!m.muted)
	if err := m.sig.Emit(ws.EventVoiceJoin, ws.JoinMessage{RoomID: roomID, Username: username}); err != nil {
		local.Close()
		return err
	}
	m.local = local
	m.roomID = roomID
	return nil
}

// Leave 不在语音中时什么也不做
func (m *Mesh) Leave() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return nil
	}
	err := m.sig.Emit(ws.EventVoiceLeave, nil)
	for id := range m.peers {
		m.closePeerLocked(id)
	}
	clear(m.early)
	m.local.Close()
	m.local = nil
	m.roomID = ""
	return err
}

func (m *Mesh) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	if m.local != nil {
		m.local.SetEnabled(!muted)
	}
}

func (m *Mesh) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *Mesh) InVoice() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local != nil
}

// Peers 返回当前已建立 PeerConnection 的远端 socketId
func (m *Mesh) Peers() []room.ConnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]room.ConnID, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Mesh) newPeerLocked(remote room.ConnID) (*peerState, error) {
	if _, ok := m.peers[remote]; ok {
		m.closePeerLocked(remote)
	}
	st := &peerState{}
	peer, err := m.factory.NewPeer(remote, m.local, PeerEvents{
		OnICECandidate: func(candidate json.RawMessage) {
			if err := m.sig.Emit(ws.EventVoiceICE, ws.ICERequest{TargetSocketID: remote, Candidate: candidate}); err != nil {
				slog.Debug("send ice failed", "target", remote, "err", err)
			}
		},
		OnRemoteAudio: func(sink AudioSink) {
			m.mu.Lock()
			defer m.mu.Unlock()
			if cur, ok := m.peers[remote]; ok && cur == st {
				st.sink = sink
				return
			}
			// 对端已经离开
			sink.Close()
		},
	})
	if err != nil {
		return nil, err
	}
	st.peer = peer
	m.peers[remote] = st
	// 协商开始前就到达的 candidate 并入待处理队列
	st.pending = append(st.pending, m.early[remote]...)
	delete(m.early, remote)
	return st, nil
}

func (m *Mesh) closePeerLocked(remote room.ConnID) {
	st, ok := m.peers[remote]
	if !ok {
		return
	}
	delete(m.peers, remote)
	if st.sink != nil {
		st.sink.Close()
	}
	if err := st.peer.Close(); err != nil {
		slog.Debug("close peer failed", "remote", remote, "err", err)
	}
}

// remoteReadyLocked 远端描述已设置，可以应用排队的 candidate
func (m *Mesh) remoteReadyLocked(remote room.ConnID, st *peerState) {
	st.remoteSet = true
	for _, c := range st.pending {
		if err := st.peer.AddICECandidate(c); err != nil {
			slog.Debug("add queued ice failed", "remote", remote, "err", err)
		}
	}
	st.pending = nil
}

func (m *Mesh) handleUsers(data json.RawMessage) {
	var users []room.Member
	if err := json.Unmarshal(data, &users); err != nil {
		slog.Debug("bad voice:users payload", "err", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return
	}
	for _, u := range users {
		st, err := m.newPeerLocked(u.ConnID)
		if err != nil {
			slog.Warn("create peer failed", "remote", u.ConnID, "err", err)
			continue
		}
		offer, err := st.peer.CreateOffer()
		if err != nil {
			slog.Warn("create offer failed", "remote", u.ConnID, "err", err)
			m.closePeerLocked(u.ConnID)
			continue
		}
		if err := m.sig.Emit(ws.EventVoiceOffer, ws.OfferRequest{TargetSocketID: u.ConnID, SDP: offer}); err != nil {
			slog.Warn("send offer failed", "remote", u.ConnID, "err", err)
		}
	}
}

// 新加入者会主动发 offer，这里只记录
func (m *Mesh) handleJoined(data json.RawMessage) {
	var who room.Member
	if err := json.Unmarshal(data, &who); err != nil {
		return
	}
	slog.Debug("voice peer joined", "remote", who.ConnID, "user", who.Username)
}

func (m *Mesh) handleOffer(data json.RawMessage) {
	var msg ws.OfferDelivery
	if err := json.Unmarshal(data, &msg); err != nil || msg.CallerSocketID == "" {
		slog.Debug("bad voice:offer payload", "err", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return
	}
	st, err := m.newPeerLocked(msg.CallerSocketID)
	if err != nil {
		slog.Warn("create peer failed", "remote", msg.CallerSocketID, "err", err)
		return
	}
	answer, err := st.peer.AcceptOffer(msg.SDP)
	if err != nil {
		slog.Warn("accept offer failed", "remote", msg.CallerSocketID, "err", err)
		m.closePeerLocked(msg.CallerSocketID)
		return
	}
	m.remoteReadyLocked(msg.CallerSocketID, st)
	if err := m.sig.Emit(ws.EventVoiceAnswer, ws.AnswerRequest{TargetSocketID: msg.CallerSocketID, SDP: answer}); err != nil {
		slog.Warn("send answer failed", "remote", msg.CallerSocketID, "err", err)
	}
}

func (m *Mesh) handleAnswer(data json.RawMessage) {
	var msg ws.AnswerDelivery
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Debug("bad voice:answer payload", "err", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.peers[msg.ResponderSocketID]
	if !ok {
		return
	}
	if err := st.peer.AcceptAnswer(msg.SDP); err != nil {
		slog.Warn("accept answer failed", "remote", msg.ResponderSocketID, "err", err)
		return
	}
	m.remoteReadyLocked(msg.ResponderSocketID, st)
}

func (m *Mesh) handleICE(data json.RawMessage) {
	var msg ws.ICEDelivery
	if err := json.Unmarshal(data, &msg); err != nil || msg.SenderSocketID == "" {
		slog.Debug("bad voice:ice payload", "err", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.local == nil {
		return
	}
	st, ok := m.peers[msg.SenderSocketID]
	switch {
	case !ok:
		m.early[msg.SenderSocketID] = append(m.early[msg.SenderSocketID], msg.Candidate)
	case !st.remoteSet:
		st.pending = append(st.pending, msg.Candidate)
	default:
		if err := st.peer.AddICECandidate(msg.Candidate); err != nil {
			slog.Debug("add ice failed", "remote", msg.SenderSocketID, "err", err)
		}
	}
}

func (m *Mesh) handleLeft(data json.RawMessage) {
	var msg ws.VoiceLeftMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closePeerLocked(msg.SocketID)
	delete(m.early, msg.SocketID)
}
