package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codeColab/backend/internal/activity"
	"codeColab/backend/internal/room"
	"codeColab/backend/internal/voice"
)

var ErrHubClosed = errors.New("ws: hub closed")

type HubOptions struct {
	// RefreshInterval 大于 0 时，按此周期为每个在线房间发出 ROSTER_REFRESH
	RefreshInterval time.Duration
}

type inbound struct {
	c   *Conn
	env Envelope
}

type query struct {
	fn   func()
	done chan struct{}
}

// Hub 独占房间名单和语音名单，所有修改都在 Run 的事件循环里串行完成，
// 因此 room.Registry 和 voice.Registry 不需要加锁。
type Hub struct {
	conns  map[room.ConnID]*Conn
	rooms  *room.Registry
	voice  *voice.Registry
	events activity.Publisher
	opt    HubOptions

	register   chan *Conn
	unregister chan *Conn
	inbound    chan inbound
	queries    chan query
	done       chan struct{}
}

func NewHub(events activity.Publisher, opt HubOptions) *Hub {
	if events == nil {
		events = activity.Discard{}
	}
	return &Hub{
		conns:      make(map[room.ConnID]*Conn),
		rooms:      room.NewRegistry(),
		voice:      voice.NewRegistry(),
		events:     events,
		opt:        opt,
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		inbound:    make(chan inbound, 256),
		queries:    make(chan query),
		done:       make(chan struct{}),
	}
}

// Run 阻塞直到 ctx 结束。结束时关闭所有连接的发送队列，写循环随之发送 close 帧退出。
func (h *Hub) Run(ctx context.Context) {
	var refresh <-chan time.Time
	if h.opt.RefreshInterval > 0 {
		t := time.NewTicker(h.opt.RefreshInterval)
		defer t.Stop()
		refresh = t.C
	}
	defer func() {
		close(h.done)
		for id, c := range h.conns {
			close(c.send)
			delete(h.conns, id)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.conns[c.id] = c
			slog.Debug("conn registered", "conn", c.id, "user", c.defaultName)
		case c := <-h.unregister:
			h.cleanup(c)
		case in := <-h.inbound:
			h.handle(in.c, in.env)
		case q := <-h.queries:
			q.fn()
			close(q.done)
		case <-refresh:
			h.publishRefresh()
		}
	}
}

func (h *Hub) registerConn(c *Conn) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterConn(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(c *Conn, env Envelope) bool {
	select {
	case h.inbound <- inbound{c: c, env: env}:
		return true
	case <-h.done:
		return false
	}
}

// cleanup 可以对同一个连接执行多次：显式 voice:leave 和断线可能先后到达。
func (h *Hub) cleanup(c *Conn) {
	if cur, ok := h.conns[c.id]; !ok || cur != c {
		return
	}
	h.leaveVoice(c)
	if d, ok := h.rooms.Leave(c.id); ok {
		h.notifyDeparture(d)
	}
	delete(h.conns, c.id)
	close(c.send)
	slog.Debug("conn unregistered", "conn", c.id)
}

func (h *Hub) handle(c *Conn, env Envelope) {
	if cur, ok := h.conns[c.id]; !ok || cur != c {
		return
	}
	switch env.Event {
	case EventJoin:
		h.handleJoin(c, env.Data)
	case EventVoiceJoin:
		h.handleVoiceJoin(c, env.Data)
	case EventVoiceOffer:
		var req OfferRequest
		if !decode(c, env, &req) {
			return
		}
		h.relay(req.TargetSocketID, EventVoiceOffer, OfferDelivery{
			SDP:            req.SDP,
			CallerSocketID: c.id,
			CallerUsername: c.displayName(),
		})
	case EventVoiceAnswer:
		var req AnswerRequest
		if !decode(c, env, &req) {
			return
		}
		h.relay(req.TargetSocketID, EventVoiceAnswer, AnswerDelivery{SDP: req.SDP, ResponderSocketID: c.id})
	case EventVoiceICE:
		var req ICERequest
		if !decode(c, env, &req) {
			return
		}
		h.relay(req.TargetSocketID, EventVoiceICE, ICEDelivery{Candidate: req.Candidate, SenderSocketID: c.id})
	case EventVoiceLeave:
		h.leaveVoice(c)
	default:
		slog.Debug("unknown event", "conn", c.id, "event", env.Event)
	}
}

func decode(c *Conn, env Envelope, out any) bool {
	if len(env.Data) == 0 {
		slog.Debug("missing payload", "conn", c.id, "event", env.Event)
		return false
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		slog.Debug("bad payload", "conn", c.id, "event", env.Event, "err", err)
		return false
	}
	return true
}

func (h *Hub) handleJoin(c *Conn, data json.RawMessage) {
	var msg JoinMessage
	if !decode(c, Envelope{Event: EventJoin, Data: data}, &msg) {
		return
	}
	name := msg.Username
	if name == "" {
		name = c.defaultName
	}
	if msg.RoomID == "" || name == "" {
		slog.Debug("join without room or name", "conn", c.id)
		return
	}
	c.username = name

	res := h.rooms.Join(c.id, msg.RoomID, name)
	if res.Previous != nil {
		h.notifyDeparture(*res.Previous)
	}
	// 名单一次性发给房间内所有人（包括新成员）
	h.broadcast(res.Roster, EventJoined, JoinedMessage{Clients: res.Roster, Username: name, SocketID: c.id})
	h.publish(activity.RoomEvent{
		EventType:  activity.RoomJoined,
		RoomID:     msg.RoomID,
		ConnID:     c.id,
		Username:   name,
		RosterSize: len(res.Roster),
	})
}

func (h *Hub) notifyDeparture(d room.Departure) {
	h.broadcast(d.Remaining, EventDisconnected, DisconnectedMessage{SocketID: d.Member.ConnID, Username: d.Member.Username})
	h.publish(activity.RoomEvent{
		EventType:  activity.RoomLeft,
		RoomID:     d.RoomID,
		ConnID:     d.Member.ConnID,
		Username:   d.Member.Username,
		RosterSize: len(d.Remaining),
	})
}

func (h *Hub) handleVoiceJoin(c *Conn, data json.RawMessage) {
	var msg JoinMessage
	if !decode(c, Envelope{Event: EventVoiceJoin, Data: data}, &msg) {
		return
	}
	name := msg.Username
	if name == "" {
		name = c.displayName()
	}
	if msg.RoomID == "" || name == "" {
		slog.Debug("voice:join without room or name", "conn", c.id)
		return
	}
	c.voiceName = name

	res := h.voice.Join(c.id, msg.RoomID, name)
	if res.Previous != nil {
		h.notifyVoiceDeparture(*res.Previous)
	}
	// 新加入者拿到其他人的列表并负责逐个发 offer，其他人只收到通知
	h.sendTo(c, EventVoiceUsers, res.Others)
	h.broadcast(res.Others, EventVoiceJoined, room.Member{ConnID: c.id, Username: name})
	h.publish(activity.RoomEvent{
		EventType:  activity.VoiceJoined,
		RoomID:     msg.RoomID,
		ConnID:     c.id,
		Username:   name,
		RosterSize: len(res.Others) + 1,
	})
}

func (h *Hub) leaveVoice(c *Conn) {
	d, ok := h.voice.Leave(c.id)
	if !ok {
		return
	}
	h.notifyVoiceDeparture(d)
}

func (h *Hub) notifyVoiceDeparture(d voice.Departure) {
	if !d.Destroyed {
		h.broadcast(d.Remaining, EventVoiceLeft, VoiceLeftMessage{SocketID: d.Member.ConnID})
	}
	h.publish(activity.RoomEvent{
		EventType:  activity.VoiceLeft,
		RoomID:     d.RoomID,
		ConnID:     d.Member.ConnID,
		Username:   d.Member.Username,
		RosterSize: len(d.Remaining),
	})
}

// relay 目标已经不在线时静默丢弃，目标自己的断线通知会告诉发送方
func (h *Hub) relay(target room.ConnID, event string, payload any) {
	c, ok := h.conns[target]
	if !ok {
		slog.Debug("relay target gone", "event", event, "target", target)
		return
	}
	h.sendTo(c, event, payload)
}

func prepare(event string, payload any) *websocket.PreparedMessage {
	data, err := encode(event, payload)
	if err != nil {
		slog.Error("encode failed", "event", event, "err", err)
		return nil
	}
	msg, err := websocket.NewPreparedMessage(websocket.TextMessage, data)
	if err != nil {
		slog.Error("prepare failed", "event", event, "err", err)
		return nil
	}
	return msg
}

func (h *Hub) sendTo(c *Conn, event string, payload any) {
	if msg := prepare(event, payload); msg != nil {
		c.enqueue(msg)
	}
}

// broadcast 只编码一次，再投递给每个在线成员
func (h *Hub) broadcast(members []room.Member, event string, payload any) {
	if len(members) == 0 {
		return
	}
	msg := prepare(event, payload)
	if msg == nil {
		return
	}
	for _, m := range members {
		if c, ok := h.conns[m.ConnID]; ok {
			c.enqueue(msg)
		}
	}
}

func (h *Hub) publish(evt activity.RoomEvent) {
	evt.EventID = uuid.NewString()
	evt.OccurredAt = time.Now()
	h.events.Publish(evt)
}

// publishRefresh 为每个有编辑成员或语音参与者的房间发一条续约事件。
func (h *Hub) publishRefresh() {
	ids := h.rooms.Rooms()
	for _, id := range h.voice.Rooms() {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		members := h.rooms.Snapshot(id)
		h.publish(activity.RoomEvent{
			EventType:    activity.RosterRefresh,
			RoomID:       id,
			RosterSize:   len(members),
			Members:      members,
			VoiceMembers: h.voice.Participants(id),
		})
	}
}

func (h *Hub) query(ctx context.Context, fn func()) error {
	q := query{fn: fn, done: make(chan struct{})}
	select {
	case h.queries <- q:
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Roster 返回房间当前名单，房间不存在时返回空切片。
func (h *Hub) Roster(ctx context.Context, roomID string) ([]room.Member, error) {
	var out []room.Member
	err := h.query(ctx, func() { out = h.rooms.Snapshot(roomID) })
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []room.Member{}
	}
	return out, nil
}

func (h *Hub) VoiceParticipants(ctx context.Context, roomID string) ([]room.Member, error) {
	var out []room.Member
	err := h.query(ctx, func() { out = h.voice.Participants(roomID) })
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []room.Member{}
	}
	return out, nil
}

// Rooms 返回当前有人在线的编辑房间
func (h *Hub) Rooms(ctx context.Context) ([]string, error) {
	var out []string
	err := h.query(ctx, func() { out = h.rooms.Rooms() })
	return out, err
}
