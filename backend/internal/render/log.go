package render

import (
	"log/slog"

	"codeColab/backend/internal/awareness"
)

// LogDecorations 把装饰变更写成日志，用于没有编辑器表面的命令行客户端。
type LogDecorations struct {
	Logger *slog.Logger
}

func (d LogDecorations) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d LogDecorations) Create(id awareness.ClientID, style Style) {
	d.logger().Info("peer decorations created", "client", id, "color", style.Color)
}

func (d LogDecorations) Update(id awareness.ClientID, f Frame) {
	attrs := []any{"client", id}
	if f.Label != nil {
		attrs = append(attrs, "label", f.Label.Text)
	}
	if f.Cursor != nil {
		attrs = append(attrs, "line", f.Cursor.Line, "column", f.Cursor.Column)
	}
	if f.Selection != nil {
		r := f.Selection.Range
		attrs = append(attrs,
			"selection", []int{r.StartLine, r.StartCol, r.EndLine, r.EndCol},
			"fading", f.Selection.Fading)
	}
	d.logger().Info("peer decorations", attrs...)
}

func (d LogDecorations) Remove(id awareness.ClientID) {
	d.logger().Info("peer decorations removed", "client", id)
}
