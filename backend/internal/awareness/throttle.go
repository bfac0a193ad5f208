package awareness

import (
	"sync"
	"time"

	"codeColab/backend/internal/clock"
)

const (
	CursorInterval = 60 * time.Millisecond
	TypingQuiet    = 1200 * time.Millisecond
)

// CursorThrottle 限制光标广播频率：窗口空闲时立即发送，
// 窗口内的后续位置合并到一个待发槽位，在窗口结束时发送最新的那个。
type CursorThrottle struct {
	mu       sync.Mutex
	clk      clock.Clock
	interval time.Duration
	send     func(Cursor)

	lastSent time.Time
	sent     bool
	pending  *Cursor
	timer    clock.Timer
	stopped  bool
}

func NewCursorThrottle(clk clock.Clock, interval time.Duration, send func(Cursor)) *CursorThrottle {
	return &CursorThrottle{clk: clk, interval: interval, send: send}
}

func (t *CursorThrottle) Offer(c Cursor) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	now := t.clk.Now()
	if t.timer == nil && (!t.sent || now.Sub(t.lastSent) >= t.interval) {
		t.lastSent, t.sent = now, true
		t.mu.Unlock()
		t.send(c)
		return
	}
	t.pending = &c
	if t.timer == nil {
		t.timer = t.clk.AfterFunc(t.interval-now.Sub(t.lastSent), t.flush)
	}
	t.mu.Unlock()
}

func (t *CursorThrottle) flush() {
	t.mu.Lock()
	t.timer = nil
	p := t.pending
	t.pending = nil
	if p == nil || t.stopped {
		t.mu.Unlock()
		return
	}
	t.lastSent = t.clk.Now()
	t.mu.Unlock()
	t.send(*p)
}

// Stop 取消待发的位置，组件卸载时调用。
func (t *CursorThrottle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.pending = nil
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// TypingDebounce 每次内容变化立即置 typing=true，安静 quiet 之后置回 false。
type TypingDebounce struct {
	mu      sync.Mutex
	clk     clock.Clock
	quiet   time.Duration
	set     func(bool)
	timer   clock.Timer
	gen     uint64
	stopped bool
}

func NewTypingDebounce(clk clock.Clock, quiet time.Duration, set func(bool)) *TypingDebounce {
	return &TypingDebounce{clk: clk, quiet: quiet, set: set}
}

func (d *TypingDebounce) Touch() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = d.clk.AfterFunc(d.quiet, func() { d.fire(gen) })
	d.mu.Unlock()

	d.set(true)
}

func (d *TypingDebounce) fire(gen uint64) {
	d.mu.Lock()
	// 已被新的 Touch 取代
	if gen != d.gen || d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.set(false)
}

func (d *TypingDebounce) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
