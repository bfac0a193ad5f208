package render

import (
	"sync"
	"time"

	"codeColab/backend/internal/awareness"
	"codeColab/backend/internal/clock"
)

const (
	HighlightHold = 3000 * time.Millisecond
	HighlightFade = 2000 * time.Millisecond
)

type Stage int

const (
	StageNone Stage = iota
	StageVisible
	StageFading
)

// Fader 管理每个远端客户端选区高亮的两段式生命周期：显示 hold，淡出 fade，然后移除。
// 收到新的选区时取消旧定时器重新计时，不叠加。
type Fader struct {
	mu       sync.Mutex
	clk      clock.Clock
	hold     time.Duration
	fade     time.Duration
	onChange func()
	entries  map[awareness.ClientID]*fadeEntry
	seq      uint64
}

type fadeEntry struct {
	rng   awareness.Range
	stage Stage
	timer clock.Timer
	gen   uint64
}

func NewFader(clk clock.Clock, hold, fade time.Duration, onChange func()) *Fader {
	return &Fader{
		clk:      clk,
		hold:     hold,
		fade:     fade,
		onChange: onChange,
		entries:  make(map[awareness.ClientID]*fadeEntry),
	}
}

// Observe 报告客户端当前的选区（nil 表示没有），返回应当显示的阶段。
// 同一选区重复报告不会重新计时，所以计时从第一次报告算起。
func (f *Fader) Observe(id awareness.ClientID, sel *awareness.Range) Stage {
	f.mu.Lock()
	defer f.mu.Unlock()

	e := f.entries[id]
	if sel == nil || sel.Empty() {
		if e != nil {
			f.dropLocked(id, e)
		}
		return StageNone
	}
	if e != nil && e.rng == *sel {
		return e.stage
	}

	if e != nil && e.timer != nil {
		e.timer.Stop()
	}
	f.seq++
	gen := f.seq
	e = &fadeEntry{rng: *sel, stage: StageVisible, gen: gen}
	f.entries[id] = e
	e.timer = f.clk.AfterFunc(f.hold, func() { f.advance(id, gen, StageFading) })
	return StageVisible
}

func (f *Fader) advance(id awareness.ClientID, gen uint64, next Stage) {
	f.mu.Lock()
	e := f.entries[id]
	if e == nil || e.gen != gen {
		f.mu.Unlock()
		return
	}
	e.stage = next
	e.timer = nil
	if next == StageFading {
		e.timer = f.clk.AfterFunc(f.fade, func() { f.advance(id, gen, StageNone) })
	}
	f.mu.Unlock()

	if f.onChange != nil {
		f.onChange()
	}
}

func (f *Fader) dropLocked(id awareness.ClientID, e *fadeEntry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(f.entries, id)
}

// Forget 客户端离开时取消它的定时器。
func (f *Fader) Forget(id awareness.ClientID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e := f.entries[id]; e != nil {
		f.dropLocked(id, e)
	}
}

func (f *Fader) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, e := range f.entries {
		f.dropLocked(id, e)
	}
}
