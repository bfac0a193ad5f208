// Package render 把远端客户端的 awareness 状态渲染成编辑器装饰（光标、行高亮、名字标签、选区高亮），
// 按客户端 ID 管理装饰的创建、更新和回收。
package render

import (
	"fmt"
	"slices"

	"codeColab/backend/internal/awareness"
)

// Decorations 是编辑器表面实现的装饰注册表。
// Create 每个客户端只调用一次；Update 只在该客户端的 Frame 变化时调用；
// Remove 回收该客户端的全部装饰、标签和样式。
type Decorations interface {
	Create(id awareness.ClientID, style Style)
	Update(id awareness.ClientID, frame Frame)
	Remove(id awareness.ClientID)
}

type Style struct {
	Color          string
	CursorClass    string
	LineClass      string
	SelectionClass string
}

func styleFor(id awareness.ClientID, color string) Style {
	return Style{
		Color:          color,
		CursorClass:    fmt.Sprintf("aw-cursor-%d", id),
		LineClass:      fmt.Sprintf("aw-cursor-line-%d", id),
		SelectionClass: fmt.Sprintf("aw-selection-%d", id),
	}
}

type Placement int

const (
	Above Placement = iota
	Below
)

// labelPreference 优先放在光标上方，放不下时放下方。
var labelPreference = []Placement{Above, Below}

const typingSuffix = " ···"

type CursorMark struct {
	Line   int
	Column int
	Typing bool
}

type Label struct {
	Text       string
	Line       int
	Column     int
	Preference []Placement
}

type Highlight struct {
	Range  awareness.Range
	Fading bool
}

// Frame 是一个远端客户端在某次渲染后应当呈现的全部装饰，nil 字段表示不显示。
type Frame struct {
	Cursor    *CursorMark
	Label     *Label
	Selection *Highlight
}

func (f Frame) equal(g Frame) bool {
	if (f.Cursor == nil) != (g.Cursor == nil) || (f.Cursor != nil && *f.Cursor != *g.Cursor) {
		return false
	}
	if (f.Selection == nil) != (g.Selection == nil) || (f.Selection != nil && *f.Selection != *g.Selection) {
		return false
	}
	if (f.Label == nil) != (g.Label == nil) {
		return false
	}
	if f.Label != nil {
		a, b := f.Label, g.Label
		if a.Text != b.Text || a.Line != b.Line || a.Column != b.Column || !slices.Equal(a.Preference, b.Preference) {
			return false
		}
	}
	return true
}

func frameFor(p awareness.ClientPresence, stage Stage) Frame {
	var f Frame
	if p.Cursor != nil {
		f.Cursor = &CursorMark{Line: p.Cursor.LineNumber, Column: p.Cursor.Column, Typing: p.Typing}
		text := p.DisplayName
		if p.Typing {
			text += typingSuffix
		}
		f.Label = &Label{
			Text:       text,
			Line:       p.Cursor.LineNumber,
			Column:     p.Cursor.Column,
			Preference: labelPreference,
		}
	}
	if p.Selection != nil && !p.Selection.Empty() && stage != StageNone {
		f.Selection = &Highlight{Range: *p.Selection, Fading: stage == StageFading}
	}
	return f
}
