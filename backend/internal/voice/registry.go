// Package voice 维护每个房间的语音参与者列表，供信令中继决定通知谁。
// 和 room.Registry 一样只由 Hub 的事件循环访问。
package voice

import (
	"slices"

	"codeColab/backend/internal/room"
)

type Room struct {
	ID           string
	participants []room.Member
}

func (r *Room) indexOf(id room.ConnID) int {
	return slices.IndexFunc(r.participants, func(p room.Member) bool { return p.ConnID == id })
}

// Registry 按房间号索引语音房间，并记录每个连接所在的语音房间。
type Registry struct {
	rooms map[string]*Room
	conns map[room.ConnID]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		conns: make(map[room.ConnID]string),
	}
}

type JoinResult struct {
	// Others 是除新加入者外的现有参与者，新加入者负责向他们逐个发起 offer。
	Others   []room.Member
	Replaced bool
	Previous *Departure
}

type Departure struct {
	RoomID    string
	Member    room.Member
	Remaining []room.Member
	Destroyed bool
}

// Join 已在该语音房间时替换条目，否则追加；在别的语音房间里时先离开那里。
func (g *Registry) Join(id room.ConnID, roomID, username string) JoinResult {
	var res JoinResult
	if cur, ok := g.conns[id]; ok && cur != roomID {
		if d, ok := g.Leave(id); ok {
			res.Previous = &d
		}
	}

	r, ok := g.rooms[roomID]
	if !ok {
		r = &Room{ID: roomID}
		g.rooms[roomID] = r
	}
	m := room.Member{ConnID: id, Username: username}
	if i := r.indexOf(id); i >= 0 {
		r.participants[i] = m
		res.Replaced = true
	} else {
		r.participants = append(r.participants, m)
	}
	g.conns[id] = roomID

	res.Others = make([]room.Member, 0, len(r.participants)-1)
	for _, p := range r.participants {
		if p.ConnID != id {
			res.Others = append(res.Others, p)
		}
	}
	return res
}

// Leave 把连接移出它所在的语音房间，最后一人离开时销毁房间。不在任何语音房间时返回 false。
func (g *Registry) Leave(id room.ConnID) (Departure, bool) {
	roomID, ok := g.conns[id]
	if !ok {
		return Departure{}, false
	}
	delete(g.conns, id)
	r := g.rooms[roomID]
	i := r.indexOf(id)
	if i < 0 {
		return Departure{}, false
	}
	d := Departure{RoomID: roomID, Member: r.participants[i]}
	r.participants = slices.Delete(r.participants, i, i+1)
	if len(r.participants) == 0 {
		delete(g.rooms, roomID)
		d.Destroyed = true
	} else {
		d.Remaining = slices.Clone(r.participants)
	}
	return d, true
}

func (g *Registry) RoomOf(id room.ConnID) (string, bool) {
	roomID, ok := g.conns[id]
	return roomID, ok
}

func (g *Registry) Participants(roomID string) []room.Member {
	r, ok := g.rooms[roomID]
	if !ok {
		return nil
	}
	return slices.Clone(r.participants)
}

func (g *Registry) Rooms() []string {
	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
