package render

import (
	"testing"
	"time"

	"codeColab/backend/internal/awareness"
	"codeColab/backend/internal/clock"

	"github.com/vmihailenco/msgpack/v5"
)

type recorder struct {
	creates map[awareness.ClientID]int
	updates map[awareness.ClientID]int
	removes map[awareness.ClientID]int
	frames  map[awareness.ClientID]Frame
}

func newRecorder() *recorder {
	return &recorder{
		creates: map[awareness.ClientID]int{},
		updates: map[awareness.ClientID]int{},
		removes: map[awareness.ClientID]int{},
		frames:  map[awareness.ClientID]Frame{},
	}
}

func (r *recorder) Create(id awareness.ClientID, _ Style) { r.creates[id]++ }
func (r *recorder) Update(id awareness.ClientID, f Frame) { r.updates[id]++; r.frames[id] = f }
func (r *recorder) Remove(id awareness.ClientID) {
	r.removes[id]++
	delete(r.frames, id)
}

func (r *recorder) mutations() int {
	n := 0
	for _, m := range []map[awareness.ClientID]int{r.creates, r.updates, r.removes} {
		for _, v := range m {
			n += v
		}
	}
	return n
}

type remoteFields map[string]any

// push 以远端客户端 id 的身份向 store 投递一份完整状态。
func push(t *testing.T, s *awareness.Store, id awareness.ClientID, clk uint32, fields remoteFields) {
	t.Helper()
	var st awareness.State
	if fields != nil {
		st = awareness.State{}
		for k, v := range fields {
			raw, err := msgpack.Marshal(v)
			if err != nil {
				t.Fatalf("marshal %s: %v", k, err)
			}
			st[k] = raw
		}
	}
	b, err := awareness.EncodeUpdate(awareness.Entry{ClientID: id, Clock: clk, State: st})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := s.ApplyUpdate(b); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func setup(t *testing.T) (*awareness.Store, *recorder, *Renderer, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Unix(0, 0))
	store := awareness.NewStore(1, nil, clk)
	if err := store.SetField(awareness.FieldUser, awareness.User{Name: "me"}); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	rec := newRecorder()
	r := New(store, rec, clk)
	t.Cleanup(r.Close)
	return store, rec, r, clk
}

func TestRenderSkipsLocalAndIsIdempotent(t *testing.T) {
	store, rec, r, _ := setup(t)
	push(t, store, 2, 1, remoteFields{
		awareness.FieldUser:   awareness.User{Name: "bob", Color: "hsl(1, 70%, 55%)"},
		awareness.FieldCursor: awareness.Cursor{LineNumber: 4, Column: 2},
	})

	r.Render()
	if rec.creates[1] != 0 || rec.updates[1] != 0 {
		t.Fatalf("local client rendered")
	}
	if rec.creates[2] != 1 || rec.updates[2] != 1 {
		t.Fatalf("creates=%d updates=%d for remote", rec.creates[2], rec.updates[2])
	}
	before := rec.mutations()
	r.Render()
	r.Render()
	if rec.mutations() != before {
		t.Fatalf("unchanged input produced %d extra mutations", rec.mutations()-before)
	}

	f := rec.frames[2]
	if f.Cursor == nil || f.Cursor.Line != 4 || f.Cursor.Column != 2 || f.Cursor.Typing {
		t.Fatalf("cursor = %+v", f.Cursor)
	}
	if f.Label == nil || f.Label.Text != "bob" || len(f.Label.Preference) != 2 || f.Label.Preference[0] != Above || f.Label.Preference[1] != Below {
		t.Fatalf("label = %+v", f.Label)
	}
}

func TestRenderTypingModifier(t *testing.T) {
	store, rec, r, _ := setup(t)
	push(t, store, 2, 1, remoteFields{
		awareness.FieldUser:   awareness.User{Name: "bob"},
		awareness.FieldCursor: awareness.Cursor{LineNumber: 1, Column: 1},
		awareness.FieldTyping: true,
	})
	r.Render()
	f := rec.frames[2]
	if !f.Cursor.Typing || f.Label.Text != "bob ···" {
		t.Fatalf("typing not rendered: cursor=%+v label=%+v", f.Cursor, f.Label)
	}

	push(t, store, 2, 2, remoteFields{
		awareness.FieldUser:   awareness.User{Name: "bob"},
		awareness.FieldCursor: awareness.Cursor{LineNumber: 1, Column: 1},
		awareness.FieldTyping: false,
	})
	r.Render()
	if rec.frames[2].Label.Text != "bob" || rec.creates[2] != 1 {
		t.Fatalf("label=%q creates=%d", rec.frames[2].Label.Text, rec.creates[2])
	}
}

func TestRenderDegenerateSelection(t *testing.T) {
	store, rec, r, _ := setup(t)
	push(t, store, 2, 1, remoteFields{
		awareness.FieldUser:      awareness.User{Name: "bob"},
		awareness.FieldCursor:    awareness.Cursor{LineNumber: 1, Column: 1},
		awareness.FieldHighlight: awareness.Range{StartLine: 3, StartCol: 5, EndLine: 3, EndCol: 5},
	})
	r.Render()
	if rec.frames[2].Selection != nil {
		t.Fatalf("zero-length selection rendered")
	}

	push(t, store, 2, 2, remoteFields{
		awareness.FieldUser:      awareness.User{Name: "bob"},
		awareness.FieldCursor:    awareness.Cursor{LineNumber: 1, Column: 1},
		awareness.FieldHighlight: awareness.Range{StartLine: 3, StartCol: 5, EndLine: 4, EndCol: 1},
	})
	r.Render()
	sel := rec.frames[2].Selection
	if sel == nil || sel.Fading || sel.Range.EndLine != 4 {
		t.Fatalf("selection = %+v", sel)
	}
}

func TestRenderRetiresDepartedClients(t *testing.T) {
	store, rec, r, _ := setup(t)
	push(t, store, 2, 1, remoteFields{awareness.FieldUser: awareness.User{Name: "bob"}})
	push(t, store, 3, 1, remoteFields{awareness.FieldUser: awareness.User{Name: "carol"}})
	r.Render()

	push(t, store, 2, 2, nil)
	r.Render()
	if rec.removes[2] != 1 || rec.removes[3] != 0 {
		t.Fatalf("removes = %v", rec.removes)
	}
	if _, ok := rec.frames[2]; ok {
		t.Fatalf("departed client still has decorations")
	}

	// 再次出现时重新创建样式
	push(t, store, 2, 3, remoteFields{awareness.FieldUser: awareness.User{Name: "bob"}})
	r.Render()
	if rec.creates[2] != 2 {
		t.Fatalf("creates for returning client = %d", rec.creates[2])
	}
}

func TestRenderSkipsMalformedEntry(t *testing.T) {
	store, rec, r, _ := setup(t)
	push(t, store, 2, 1, remoteFields{awareness.FieldUser: 42})
	push(t, store, 3, 1, remoteFields{
		awareness.FieldUser:   awareness.User{Name: "carol"},
		awareness.FieldCursor: map[string]any{"lineNumber": "x", "column": 1},
	})
	r.Render()
	if rec.creates[2] != 0 {
		t.Fatalf("malformed client rendered")
	}
	if rec.creates[3] != 1 || rec.frames[3].Cursor != nil {
		t.Fatalf("carol frame = %+v", rec.frames[3])
	}
}

func TestHighlightLifecycle(t *testing.T) {
	store, rec, r, clk := setup(t)
	sel := awareness.Range{StartLine: 1, StartCol: 1, EndLine: 2, EndCol: 1}
	push(t, store, 2, 1, remoteFields{
		awareness.FieldUser:      awareness.User{Name: "bob"},
		awareness.FieldHighlight: sel,
	})

	stage := func() string {
		r.Render()
		s := rec.frames[2].Selection
		switch {
		case s == nil:
			return "absent"
		case s.Fading:
			return "fading"
		}
		return "visible"
	}

	// 时间从选区到达算起，和第一次渲染落在哪一帧无关
	steps := []struct {
		advance time.Duration
		want    string
	}{
		{FramePeriod, "visible"},
		{2999*time.Millisecond - FramePeriod, "visible"},
		{time.Millisecond, "fading"},
		{1999 * time.Millisecond, "fading"},
		{time.Millisecond, "absent"},
	}
	for i, s := range steps {
		clk.Advance(s.advance)
		if got := stage(); got != s.want {
			t.Fatalf("step %d: stage = %s, want %s", i, got, s.want)
		}
	}

	// 新选区重新计时，旧定时器不残留
	push(t, store, 2, 2, remoteFields{
		awareness.FieldUser:      awareness.User{Name: "bob"},
		awareness.FieldHighlight: awareness.Range{StartLine: 5, StartCol: 1, EndLine: 6, EndCol: 1},
	})
	clk.Advance(FramePeriod)
	if got := stage(); got != "visible" {
		t.Fatalf("refreshed highlight stage = %s", got)
	}
	if n := clk.PendingCount(); n != 1 {
		t.Fatalf("pending timers = %d, want only the new hold timer", n)
	}
}

func TestHighlightHoldStartsOnArrival(t *testing.T) {
	store, rec, r, clk := setup(t)
	push(t, store, 2, 1, remoteFields{awareness.FieldUser: awareness.User{Name: "bob"}})
	clk.Advance(FramePeriod)

	// 选区到达后隔了很久才渲染，渲染时已经过了 hold
	push(t, store, 2, 2, remoteFields{
		awareness.FieldUser:      awareness.User{Name: "bob"},
		awareness.FieldHighlight: awareness.Range{StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 4},
	})
	r.sched.Stop()
	clk.Advance(HighlightHold)
	r.Render()
	if s := rec.frames[2].Selection; s == nil || !s.Fading {
		t.Fatalf("selection = %+v, want fading", s)
	}
}

func TestSchedulerCoalescesBursts(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	store := awareness.NewStore(1, nil, clk)
	_ = store.SetField(awareness.FieldUser, awareness.User{Name: "me"})
	rec := newRecorder()
	r := New(store, rec, clk)
	defer r.Close()

	for i := uint32(1); i <= 20; i++ {
		push(t, store, 2, i, remoteFields{
			awareness.FieldUser:   awareness.User{Name: "bob"},
			awareness.FieldCursor: awareness.Cursor{LineNumber: int(i), Column: 1},
		})
	}
	if rec.updates[2] != 0 {
		t.Fatalf("rendered synchronously inside the change handler")
	}
	clk.Advance(FramePeriod)
	if rec.updates[2] != 1 || rec.frames[2].Cursor.Line != 20 {
		t.Fatalf("updates=%d frame=%+v", rec.updates[2], rec.frames[2].Cursor)
	}
}

func TestActiveUsersOrder(t *testing.T) {
	store, _, r, _ := setup(t)
	push(t, store, 5, 1, remoteFields{awareness.FieldUser: awareness.User{Name: "zed"}})
	push(t, store, 3, 1, remoteFields{awareness.FieldUser: awareness.User{Name: "amy"}, awareness.FieldTyping: true})
	r.Render()

	users := r.ActiveUsers()
	if len(users) != 3 || users[0].Name != "me" || !users[0].IsLocal || users[1].Name != "amy" || users[2].Name != "zed" {
		t.Fatalf("users = %+v", users)
	}
	if names := r.TypingNames(); len(names) != 1 || names[0] != "amy" {
		t.Fatalf("typing = %v", names)
	}
}

func TestCloseRetiresEverything(t *testing.T) {
	clk := clock.Fake(time.Unix(0, 0))
	store := awareness.NewStore(1, nil, clk)
	rec := newRecorder()
	r := New(store, rec, clk)
	push(t, store, 2, 1, remoteFields{
		awareness.FieldUser:      awareness.User{Name: "bob"},
		awareness.FieldHighlight: awareness.Range{StartLine: 1, StartCol: 1, EndLine: 1, EndCol: 9},
	})
	r.Render()
	r.Close()
	if rec.removes[2] != 1 {
		t.Fatalf("Close did not retire client")
	}
	if clk.PendingCount() != 0 {
		t.Fatalf("timers pending after Close: %d", clk.PendingCount())
	}
}
