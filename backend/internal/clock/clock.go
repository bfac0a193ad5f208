// Package clock 提供可注入的时间源。
// 节流、防抖、高亮淡出和渲染帧调度都通过 Clock 安排定时器，
// 生产环境用 Real()，测试用 Fake() 手动推进时间。
package clock

import "time"

type Clock interface {
	Now() time.Time
	// AfterFunc 在 d 之后调用 f，返回的 Timer 可以取消尚未触发的调用。
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

type Timer interface {
	// Stop 返回 true 表示成功阻止了这次调用。
	Stop() bool
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }
