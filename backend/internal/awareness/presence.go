package awareness

import (
	"github.com/vmihailenco/msgpack/v5"
)

// 约定的 awareness 字段名，和浏览器端共享同一套键。
const (
	FieldUser      = "user"
	FieldCursor    = "cursor"
	FieldHighlight = "highlightRange"
	FieldTyping    = "typing"
)

// ClientID 由文档传输层分配，每个连接唯一。
type ClientID uint64

// State 是一个客户端的全部 awareness 字段，值保持 msgpack 编码后的原样，
// 收到远端状态时整体替换，不做字段合并。
type State map[string]msgpack.RawMessage

// Decode 把字段解到 out；字段缺失或类型不符返回 false。
func (s State) Decode(key string, out any) bool {
	raw, ok := s[key]
	if !ok || len(raw) == 0 {
		return false
	}
	return msgpack.Unmarshal(raw, out) == nil
}

func (s State) clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = append(msgpack.RawMessage(nil), v...)
	}
	return out
}

type User struct {
	Name  string `msgpack:"name"`
	Color string `msgpack:"color"`
}

type Cursor struct {
	LineNumber int `msgpack:"lineNumber"`
	Column     int `msgpack:"column"`
}

type Range struct {
	StartLine int `msgpack:"startLine"`
	StartCol  int `msgpack:"startCol"`
	EndLine   int `msgpack:"endLine"`
	EndCol    int `msgpack:"endCol"`
}

// Empty 零长度选区等价于没有选区。
func (r Range) Empty() bool {
	return r.StartLine == r.EndLine && r.StartCol == r.EndCol
}

// ClientPresence 是渲染层使用的强类型视图。
type ClientPresence struct {
	ClientID    ClientID
	DisplayName string
	Color       string
	Cursor      *Cursor
	Selection   *Range
	Typing      bool
	IsLocal     bool
}

// PresenceOf 从原始状态解析出 ClientPresence。
// 没有合法 user 字段的状态返回 false；坐标类型不对的 cursor/highlightRange 当作不存在。
func PresenceOf(id ClientID, s State, local ClientID) (ClientPresence, bool) {
	var u User
	if !s.Decode(FieldUser, &u) || u.Name == "" {
		return ClientPresence{}, false
	}
	p := ClientPresence{
		ClientID:    id,
		DisplayName: u.Name,
		Color:       u.Color,
		IsLocal:     id == local,
	}
	if p.Color == "" {
		p.Color = ColorFor(u.Name)
	}
	var c Cursor
	if s.Decode(FieldCursor, &c) {
		p.Cursor = &c
	}
	var r Range
	if s.Decode(FieldHighlight, &r) {
		p.Selection = &r
	}
	var typing bool
	if s.Decode(FieldTyping, &typing) {
		p.Typing = typing
	}
	return p, true
}
