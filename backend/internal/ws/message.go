package ws

import (
	"encoding/json"

	"codeColab/backend/internal/room"
)

// 事件名
const (
	EventJoin         = "join"
	EventJoined       = "joined"
	EventDisconnected = "disconnected"

	EventVoiceJoin   = "voice:join"
	EventVoiceUsers  = "voice:users"
	EventVoiceJoined = "voice:joined"
	EventVoiceOffer  = "voice:offer"
	EventVoiceAnswer = "voice:answer"
	EventVoiceICE    = "voice:ice"
	EventVoiceLeave  = "voice:leave"
	EventVoiceLeft   = "voice:left"
)

// Envelope 是双向通用的帧：{"event": "...", "data": {...}}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinMessage 同时用于 join 和 voice:join
type JoinMessage struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type JoinedMessage struct {
	Clients  []room.Member `json:"clients"`
	Username string        `json:"username"`
	SocketID room.ConnID   `json:"socketId"`
}

type DisconnectedMessage struct {
	SocketID room.ConnID `json:"socketId"`
	Username string      `json:"username"`
}

type VoiceLeftMessage struct {
	SocketID room.ConnID `json:"socketId"`
}

// 客户端发来的中继请求；sdp/candidate 原样转发，服务端不解析
type OfferRequest struct {
	TargetSocketID room.ConnID     `json:"targetSocketId"`
	SDP            json.RawMessage `json:"sdp"`
}

type AnswerRequest struct {
	TargetSocketID room.ConnID     `json:"targetSocketId"`
	SDP            json.RawMessage `json:"sdp"`
}

type ICERequest struct {
	TargetSocketID room.ConnID     `json:"targetSocketId"`
	Candidate      json.RawMessage `json:"candidate"`
}

// 转发给目标的消息，带上发送方的 socketId
type OfferDelivery struct {
	SDP            json.RawMessage `json:"sdp"`
	CallerSocketID room.ConnID     `json:"callerSocketId"`
	CallerUsername string          `json:"callerUsername"`
}

type AnswerDelivery struct {
	SDP               json.RawMessage `json:"sdp"`
	ResponderSocketID room.ConnID     `json:"responderSocketId"`
}

type ICEDelivery struct {
	Candidate      json.RawMessage `json:"candidate"`
	SenderSocketID room.ConnID     `json:"senderSocketId"`
}

func encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
