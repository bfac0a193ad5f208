package render

import (
	"sync"
	"time"

	"codeColab/backend/internal/clock"
)

// FramePeriod 对应一帧动画的间隔。
const FramePeriod = 16 * time.Millisecond

// Scheduler 是单槽位的帧调度器：同一时刻最多只有一个待执行的渲染，
// 一帧内的多次 Schedule 合并成一次 run。
type Scheduler struct {
	mu      sync.Mutex
	clk     clock.Clock
	period  time.Duration
	run     func()
	pending clock.Timer
	stopped bool
}

func NewScheduler(clk clock.Clock, period time.Duration, run func()) *Scheduler {
	return &Scheduler{clk: clk, period: period, run: run}
}

func (s *Scheduler) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.pending != nil {
		return
	}
	s.pending = s.clk.AfterFunc(s.period, s.fire)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	s.pending = nil
	stopped := s.stopped
	s.mu.Unlock()
	if !stopped {
		s.run()
	}
}

// Pending 是否有待执行的渲染。
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}
