package render

import (
	"cmp"
	"slices"
	"sync"

	"codeColab/backend/internal/awareness"
	"codeColab/backend/internal/clock"
)

// StateSource 是 awareness.Store 暴露给渲染层的只读部分。
type StateSource interface {
	LocalID() awareness.ClientID
	GetStates() map[awareness.ClientID]awareness.State
	OnChange(fn func(awareness.Change))
}

type ActiveUser struct {
	ClientID awareness.ClientID
	Name     string
	Color    string
	Typing   bool
	IsLocal  bool
}

type Renderer struct {
	mu       sync.Mutex
	src      StateSource
	deco     Decorations
	sched    *Scheduler
	fader    *Fader
	styled   map[awareness.ClientID]struct{}
	rendered map[awareness.ClientID]Frame
	users    []ActiveUser
	onUsers  func([]ActiveUser)
	closed   bool
}

type Option func(*Renderer)

// WithActiveUsers 在在线用户列表变化后回调。
func WithActiveUsers(fn func([]ActiveUser)) Option {
	return func(r *Renderer) { r.onUsers = fn }
}

func New(src StateSource, deco Decorations, clk clock.Clock, opts ...Option) *Renderer {
	if clk == nil {
		clk = clock.Real()
	}
	r := &Renderer{
		src:      src,
		deco:     deco,
		styled:   make(map[awareness.ClientID]struct{}),
		rendered: make(map[awareness.ClientID]Frame),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.sched = NewScheduler(clk, FramePeriod, r.Render)
	r.fader = NewFader(clk, HighlightHold, HighlightFade, r.sched.Schedule)
	src.OnChange(r.changed)
	r.sched.Schedule()
	return r
}

// changed 在状态到达时就登记新选区，高亮的 hold 从到达时刻开始计时。
func (r *Renderer) changed(ch awareness.Change) {
	ids := append(slices.Clone(ch.Added), ch.Updated...)
	if len(ids) > 0 {
		states := r.src.GetStates()
		local := r.src.LocalID()
		r.mu.Lock()
		if !r.closed {
			for _, id := range ids {
				if p, ok := awareness.PresenceOf(id, states[id], local); ok && !p.IsLocal {
					r.fader.Observe(id, p.Selection)
				}
			}
		}
		r.mu.Unlock()
	}
	r.sched.Schedule()
}

// Render 执行一次完整的渲染。正常情况下由调度器在下一帧调用，
// 输入不变时重复执行不会产生任何装饰变更。
func (r *Renderer) Render() {
	states := r.src.GetStates()
	local := r.src.LocalID()

	ids := make([]awareness.ClientID, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	active := make(map[awareness.ClientID]struct{}, len(ids))
	users := make([]ActiveUser, 0, len(ids))
	for _, id := range ids {
		p, ok := awareness.PresenceOf(id, states[id], local)
		if !ok {
			continue
		}
		users = append(users, ActiveUser{ClientID: id, Name: p.DisplayName, Color: p.Color, Typing: p.Typing, IsLocal: p.IsLocal})
		if p.IsLocal {
			continue
		}
		active[id] = struct{}{}

		if _, ok := r.styled[id]; !ok {
			r.deco.Create(id, styleFor(id, p.Color))
			r.styled[id] = struct{}{}
		}

		frame := frameFor(p, r.fader.Observe(id, p.Selection))
		if prev, ok := r.rendered[id]; !ok || !prev.equal(frame) {
			r.deco.Update(id, frame)
			r.rendered[id] = frame
		}
	}

	for id := range r.styled {
		if _, ok := active[id]; ok {
			continue
		}
		r.retireLocked(id)
	}

	sortUsers(users)
	changed := !slices.Equal(users, r.users)
	r.users = users
	onUsers := r.onUsers
	r.mu.Unlock()

	if changed && onUsers != nil {
		onUsers(users)
	}
}

func (r *Renderer) retireLocked(id awareness.ClientID) {
	r.deco.Remove(id)
	delete(r.styled, id)
	delete(r.rendered, id)
	r.fader.Forget(id)
}

// ActiveUsers 返回最近一次渲染得到的在线用户：本地用户在前，其余按名字排序。
func (r *Renderer) ActiveUsers() []ActiveUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.users)
}

// TypingNames 返回正在输入的远端用户名。
func (r *Renderer) TypingNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, u := range r.users {
		if u.Typing && !u.IsLocal {
			names = append(names, u.Name)
		}
	}
	return names
}

// Close 取消待执行的渲染和所有淡出定时器，并回收全部装饰。
func (r *Renderer) Close() {
	r.sched.Stop()
	r.fader.Stop()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id := range r.styled {
		r.retireLocked(id)
	}
	r.users = nil
}

func sortUsers(users []ActiveUser) {
	slices.SortStableFunc(users, func(a, b ActiveUser) int {
		switch {
		case a.IsLocal && !b.IsLocal:
			return -1
		case b.IsLocal && !a.IsLocal:
			return 1
		}
		return cmp.Compare(a.Name, b.Name)
	})
}
