package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFuncFiresInOrder(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	var got []int
	c.AfterFunc(30*time.Millisecond, func() { got = append(got, 3) })
	c.AfterFunc(10*time.Millisecond, func() { got = append(got, 1) })
	c.AfterFunc(20*time.Millisecond, func() { got = append(got, 2) })

	c.Advance(25 * time.Millisecond)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("after 25ms got %v", got)
	}
	c.Advance(5 * time.Millisecond)
	if len(got) != 3 {
		t.Fatalf("after 30ms got %v", got)
	}
}

func TestFakeChainedTimerStartsAtDeadline(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	start := c.Now()
	var firedAt time.Duration
	c.AfterFunc(3*time.Second, func() {
		c.AfterFunc(2*time.Second, func() { firedAt = c.Now().Sub(start) })
	})

	c.Advance(10 * time.Second)
	if firedAt != 5*time.Second {
		t.Fatalf("chained timer fired at %v, want 5s", firedAt)
	}
}

func TestFakeStop(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatalf("Stop on pending timer returned false")
	}
	if tm.Stop() {
		t.Fatalf("second Stop returned true")
	}
	c.Advance(2 * time.Second)
	if fired {
		t.Fatalf("stopped timer fired")
	}
	if n := c.PendingCount(); n != 0 {
		t.Fatalf("pending = %d", n)
	}
}

func TestFakeTicker(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	c.Advance(time.Second)
	select {
	case <-tk.C():
	default:
		t.Fatalf("ticker did not tick")
	}
}
