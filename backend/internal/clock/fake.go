package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock 只有在 Advance 时才前进。
// AfterFunc 回调在 Advance 的调用方 goroutine 里按截止时间顺序同步执行，
// 执行回调时 Now() 等于该定时器的截止时间，所以回调里新建的链式定时器
// 从正确的时刻开始计时。
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	seq     uint64
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	seq      uint64
	callback func()
	channel  chan time.Time
	interval time.Duration
	stopped  bool
}

func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	w := c.addLocked(d, 0)
	w.callback = f
	c.mu.Unlock()
	return &fakeTimer{clock: c, waiter: w}
}

func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.addLocked(d, d)
	w.channel = make(chan time.Time, 1)
	return &fakeTicker{clock: c, waiter: w}
}

func (c *FakeClock) addLocked(d, interval time.Duration) *fakeWaiter {
	c.seq++
	w := &fakeWaiter{deadline: c.current.Add(d), seq: c.seq, interval: interval}
	c.waiters = append(c.waiters, w)
	return w
}

// Advance 把时间推进 d，依次触发到期的定时器。
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		w := c.nextLocked(target)
		if w == nil {
			c.current = target
			c.mu.Unlock()
			return
		}
		if w.deadline.After(c.current) {
			c.current = w.deadline
		}
		now := c.current
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
		} else {
			c.removeLocked(w)
		}
		c.mu.Unlock()

		if w.callback != nil {
			w.callback()
		} else {
			select {
			case w.channel <- now:
			default:
			}
		}
	}
}

func (c *FakeClock) nextLocked(target time.Time) *fakeWaiter {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped {
			live = append(live, w)
		}
	}
	c.waiters = live
	sort.SliceStable(c.waiters, func(i, j int) bool {
		if c.waiters[i].deadline.Equal(c.waiters[j].deadline) {
			return c.waiters[i].seq < c.waiters[j].seq
		}
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	if len(c.waiters) == 0 || c.waiters[0].deadline.After(target) {
		return nil
	}
	return c.waiters[0]
}

func (c *FakeClock) removeLocked(w *fakeWaiter) {
	for i, x := range c.waiters {
		if x == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// PendingCount 返回尚未触发也未取消的定时器数量。
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.waiter.stopped {
		return false
	}
	for _, w := range t.clock.waiters {
		if w == t.waiter {
			t.waiter.stopped = true
			return true
		}
	}
	return false
}

type fakeTicker struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.waiter.channel }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	t.waiter.stopped = true
	t.clock.mu.Unlock()
}
