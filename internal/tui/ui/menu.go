package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// menuRows is the height of one hint column.
const menuRows = 5

// Menu displays the keyboard hints of the visible page in columns.
type Menu struct {
	*tview.TextView
	theme *Theme
}

// NewMenu creates an empty menu.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)
	return &Menu{TextView: tv, theme: theme}
}

// Update renders hints top to bottom, then left to right.
func (m *Menu) Update(hints []MenuHint) {
	m.Clear()
	if len(hints) == 0 {
		return
	}
	key := Tag(m.theme.MenuKeyColor)

	cols := (len(hints) + menuRows - 1) / menuRows
	width := 0
	for _, h := range hints {
		width = max(width, len(h.Key)+len(h.Description)+3)
	}
	lines := make([]strings.Builder, min(len(hints), menuRows))
	for i, h := range hints {
		cell := fmt.Sprintf("<%s> %s", h.Key, h.Description)
		pad := ""
		if i/menuRows < cols-1 {
			pad = strings.Repeat(" ", width-len(cell)+2)
		}
		_, _ = fmt.Fprintf(&lines[i%menuRows], "[%s::b]<%s>[-:-:-] %s%s", key, tview.Escape(h.Key), h.Description, pad)
	}
	for i := range lines {
		_, _ = fmt.Fprintln(m, lines[i].String())
	}
}
