package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink 是事件的一个下游（Kafka、Redis、MySQL）。
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt RoomEvent) error
}

// Dispatcher：本地有界队列 + worker 异步投递 + 有限重试。
// - Publish 只负责入队，不阻塞 Hub 的事件循环
// - 下游短暂不可用时靠队列吸收，后台慢慢补发
// - 队列满时丢弃并记日志，避免内存无限增长
type Dispatcher struct {
	sink  Sink
	queue chan RoomEvent

	// sem 限制并发的下游写入数量
	sem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	timeout     time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Timeout 是单次 Deliver 的超时
	Timeout time.Duration
}

func DefaultDispatcherOptions() DispatcherOptions {
	return DispatcherOptions{
		//  Go 允许在数字里用下划线做分隔符，方便阅读
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
		Timeout:     2 * time.Second,
	}
}

func NewDispatcher(sink Sink, sem *SemaphoreControl, opt DispatcherOptions) *Dispatcher {
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 2 * time.Second
	}
	d := &Dispatcher{
		sink:        sink,
		queue:       make(chan RoomEvent, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
		timeout:     opt.Timeout,
	}
	d.start()
	return d
}

// Publish 非阻塞入队，队列满时丢弃。
func (d *Dispatcher) Publish(evt RoomEvent) {
	select {
	case d.queue <- evt:
	default:
		slog.Warn("activity queue full, drop event", "sink", d.sink.Name(), "event", evt.EventType, "room", evt.RoomID)
	}
}

// Enqueue 队列满时等待直到 ctx 结束。
func (d *Dispatcher) Enqueue(ctx context.Context, evt RoomEvent) error {
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新事件，等待队列里的事件处理完。Close 之后不能再 Publish。
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *Dispatcher) start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
}

func (d *Dispatcher) workerLoop(workerID int) {
	defer d.wg.Done()
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, evt RoomEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			// worker 允许一直等待（不会影响主链路）
			_ = d.sem.Acquire(context.Background())
		}

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.sink.Deliver(ctx, evt)
		cancel()

		if d.sem != nil {
			_ = d.sem.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			slog.Error("activity delivery failed, drop event",
				"sink", d.sink.Name(), "event", evt.EventType, "room", evt.RoomID, "worker", workerID, "err", err)
			return
		}

		// 退避，每次退避时间X2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}
