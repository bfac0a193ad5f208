package awareness

import (
	"log/slog"

	"codeColab/backend/internal/clock"
)

// Reporter 把编辑器事件（光标移动、选区变化、内容变化）接到本地状态上。
type Reporter struct {
	store  *Store
	cursor *CursorThrottle
	typing *TypingDebounce
}

func NewReporter(store *Store, name string, clk clock.Clock) (*Reporter, error) {
	if clk == nil {
		clk = clock.Real()
	}
	r := &Reporter{store: store}
	r.cursor = NewCursorThrottle(clk, CursorInterval, func(c Cursor) {
		r.set(FieldCursor, c)
	})
	r.typing = NewTypingDebounce(clk, TypingQuiet, func(v bool) {
		r.set(FieldTyping, v)
	})
	if err := store.SetField(FieldUser, User{Name: name, Color: ColorFor(name)}); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reporter) set(key string, v any) {
	if err := r.store.SetField(key, v); err != nil && err != ErrClosed {
		slog.Warn("awareness set field failed", "field", key, "err", err)
	}
}

func (r *Reporter) CursorMoved(c Cursor) { r.cursor.Offer(c) }

// SelectionChanged 原样写入选区，零长度选区由渲染端忽略。
func (r *Reporter) SelectionChanged(sel Range) { r.set(FieldHighlight, sel) }

func (r *Reporter) ContentChanged() { r.typing.Touch() }

// Close 取消所有定时器并广播离开。
func (r *Reporter) Close() {
	r.cursor.Stop()
	r.typing.Stop()
	r.store.Close()
}
