// Package room 维护编辑房间的在线名单。
// Registry 不加锁，只能由 ws.Hub 的事件循环独占访问。
package room

import "slices"

// ConnID 是服务端给每个 websocket 连接分配的 socketId。
type ConnID string

type Member struct {
	ConnID   ConnID `json:"socketId"`
	Username string `json:"username"`
}

// Room 按加入顺序保存成员。
type Room struct {
	ID      string
	members []Member
}

func (r *Room) indexOf(id ConnID) int {
	return slices.IndexFunc(r.members, func(m Member) bool { return m.ConnID == id })
}

func (r *Room) snapshot() []Member { return slices.Clone(r.members) }

// Departure 描述一个连接离开房间后的结果，Remaining 是需要收到 disconnected 的成员。
type Departure struct {
	RoomID    string
	Member    Member
	Remaining []Member
	Destroyed bool
}

type JoinResult struct {
	Roster []Member
	// Previous 非空表示连接从另一个房间切换过来。
	Previous *Departure
	// Rejoined 表示同一连接重复加入同一房间，名单里的条目被覆盖而不是追加。
	Rejoined bool
}

type Registry struct {
	rooms map[string]*Room
	conns map[ConnID]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		conns: make(map[ConnID]string),
	}
}

// Join 把连接加入房间并返回加入后的完整名单。一个连接同一时间只在一个编辑房间里。
func (g *Registry) Join(id ConnID, roomID, username string) JoinResult {
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
	m := Member{ConnID: id, Username: username}
	if i := r.indexOf(id); i >= 0 {
		r.members[i] = m
		res.Rejoined = true
	} else {
		r.members = append(r.members, m)
	}
	g.conns[id] = roomID
	res.Roster = r.snapshot()
	return res
}

// Leave 把连接从所在房间移除，房间空了就销毁。连接不在任何房间时返回 false，可重复调用。
func (g *Registry) Leave(id ConnID) (Departure, bool) {
	roomID, ok := g.conns[id]
	if !ok {
		return Departure{}, false
	}
	delete(g.conns, id)
	r := g.rooms[roomID]
	if r == nil {
		return Departure{}, false
	}
	i := r.indexOf(id)
	if i < 0 {
		return Departure{}, false
	}
	d := Departure{RoomID: roomID, Member: r.members[i]}
	r.members = slices.Delete(r.members, i, i+1)
	if len(r.members) == 0 {
		delete(g.rooms, roomID)
		d.Destroyed = true
	}
	d.Remaining = r.snapshot()
	return d, true
}

// Snapshot 返回房间当前名单，房间不存在时返回 nil。
func (g *Registry) Snapshot(roomID string) []Member {
	r, ok := g.rooms[roomID]
	if !ok {
		return nil
	}
	return r.snapshot()
}

func (g *Registry) RoomOf(id ConnID) (string, bool) {
	roomID, ok := g.conns[id]
	return roomID, ok
}

func (g *Registry) Rooms() []string {
	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
