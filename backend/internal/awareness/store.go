// Package awareness 维护每个客户端的临时在线状态（光标、选区、输入中、身份），
// 通过文档传输层的广播通道同步，不做持久化。
package awareness

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"time"

	"codeColab/backend/internal/clock"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrClosed = errors.New("awareness: store closed")

const (
	// 本地状态超过 renewInterval 未变化时重新广播一次，远端状态超过 outdatedTimeout 未更新则移除。
	renewInterval   = 15 * time.Second
	outdatedTimeout = 30 * time.Second
)

// Transport 是外部 CRDT 引擎提供的临时状态广播通道。
type Transport interface {
	Broadcast(frame []byte) error
}

// Change 描述一次状态变化。Local 为 true 表示由本地 SetField/Close 触发。
type Change struct {
	Added   []ClientID
	Updated []ClientID
	Removed []ClientID
	Local   bool
}

func (c Change) empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

type meta struct {
	clock       uint32
	lastUpdated time.Time
}

type Store struct {
	mu        sync.Mutex
	local     ClientID
	clk       clock.Clock
	transport Transport
	states    map[ClientID]State
	meta      map[ClientID]meta
	observers []func(Change)
	closed    bool
}

func NewStore(local ClientID, transport Transport, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real()
	}
	return &Store{
		local:     local,
		clk:       clk,
		transport: transport,
		states:    map[ClientID]State{local: {}},
		meta:      map[ClientID]meta{local: {lastUpdated: clk.Now()}},
	}
}

func (s *Store) LocalID() ClientID { return s.local }

// OnChange 注册观察者，回调在触发变化的 goroutine 里执行，不持有锁。
func (s *Store) OnChange(fn func(Change)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// SetField 更新本地状态的一个字段并广播整份本地状态。值没有变化时不广播。
func (s *Store) SetField(key string, value any) error {
	raw, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	cur := s.states[s.local]
	if old, ok := cur[key]; ok && bytes.Equal(old, raw) {
		s.mu.Unlock()
		return nil
	}
	next := cur.clone()
	next[key] = raw
	s.states[s.local] = next
	entry := s.bumpLocked(next)
	observers := s.observers
	s.mu.Unlock()

	s.broadcast(entry)
	notify(observers, Change{Updated: []ClientID{s.local}, Local: true})
	return nil
}

func (s *Store) bumpLocked(state State) Entry {
	m := s.meta[s.local]
	m.clock++
	m.lastUpdated = s.clk.Now()
	s.meta[s.local] = m
	return Entry{ClientID: s.local, Clock: m.clock, State: state.clone()}
}

func (s *Store) broadcast(e Entry) {
	if s.transport == nil {
		return
	}
	b, err := EncodeUpdate(e)
	if err != nil {
		slog.Error("awareness encode failed", "client", e.ClientID, "err", err)
		return
	}
	if err := s.transport.Broadcast(b); err != nil {
		slog.Warn("awareness broadcast failed", "client", e.ClientID, "err", err)
	}
}

// GetStates 返回所有已知客户端（含本地）状态的只读快照。
func (s *Store) GetStates() map[ClientID]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ClientID]State, len(s.states))
	for id, st := range s.states {
		out[id] = st.clone()
	}
	return out
}

// ApplyUpdate 应用远端帧。同一发送方的状态按时钟整体替换，过期时钟直接忽略。
func (s *Store) ApplyUpdate(b []byte) error {
	entries, err := DecodeUpdate(b)
	if err != nil {
		return err
	}
	var ch Change
	s.mu.Lock()
	now := s.clk.Now()
	for _, e := range entries {
		if e.ClientID == s.local {
			continue
		}
		m, known := s.meta[e.ClientID]
		_, present := s.states[e.ClientID]
		if known && e.Clock < m.clock {
			continue
		}
		if known && e.Clock == m.clock && !(e.State == nil && present) {
			continue
		}
		s.meta[e.ClientID] = meta{clock: e.Clock, lastUpdated: now}
		switch {
		case e.State == nil:
			if present {
				delete(s.states, e.ClientID)
				ch.Removed = append(ch.Removed, e.ClientID)
			}
		case !present:
			s.states[e.ClientID] = e.State.clone()
			ch.Added = append(ch.Added, e.ClientID)
		default:
			s.states[e.ClientID] = e.State.clone()
			ch.Updated = append(ch.Updated, e.ClientID)
		}
	}
	observers := s.observers
	s.mu.Unlock()

	notify(observers, ch)
	return nil
}

// RemoveStates 移除远端客户端，用于传输层发现对端断开。
func (s *Store) RemoveStates(ids ...ClientID) {
	var ch Change
	s.mu.Lock()
	for _, id := range ids {
		if id == s.local {
			continue
		}
		if _, ok := s.states[id]; ok {
			delete(s.states, id)
			ch.Removed = append(ch.Removed, id)
		}
	}
	observers := s.observers
	s.mu.Unlock()
	notify(observers, ch)
}

// Close 清空本地状态并广播最后一条 removed 通知，让对端回收装饰。可重复调用。
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	delete(s.states, s.local)
	entry := s.bumpLocked(nil)
	observers := s.observers
	s.mu.Unlock()

	s.broadcast(entry)
	notify(observers, Change{Removed: []ClientID{s.local}, Local: true})
}

// Sweep 续约本地状态并清理超时未更新的远端状态，由 Run 周期调用。
func (s *Store) Sweep() {
	var renew *Entry
	var ch Change
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	now := s.clk.Now()
	if now.Sub(s.meta[s.local].lastUpdated) >= renewInterval {
		e := s.bumpLocked(s.states[s.local])
		renew = &e
	}
	for id, m := range s.meta {
		if id == s.local {
			continue
		}
		if _, ok := s.states[id]; ok && now.Sub(m.lastUpdated) >= outdatedTimeout {
			delete(s.states, id)
			ch.Removed = append(ch.Removed, id)
		}
	}
	observers := s.observers
	s.mu.Unlock()

	if renew != nil {
		s.broadcast(*renew)
	}
	notify(observers, ch)
}

// Run 周期性执行 Sweep，直到 done 关闭。
func (s *Store) Run(done <-chan struct{}) {
	t := s.clk.NewTicker(renewInterval / 10)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C():
			s.Sweep()
		}
	}
}

func notify(observers []func(Change), ch Change) {
	if ch.empty() {
		return
	}
	for _, fn := range observers {
		fn(ch)
	}
}
