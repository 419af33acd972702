package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Crumbs shows the page stack, the active page last.
type Crumbs struct {
	*tview.TextView
	theme *Theme
}

// NewCrumbs creates an empty breadcrumb bar.
func NewCrumbs(theme *Theme) *Crumbs {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &Crumbs{TextView: tv, theme: theme}
}

// Update renders names as crumbs.
func (c *Crumbs) Update(names []string) {
	c.Clear()
	parts := make([]string, len(names))
	for i, name := range names {
		fg, bg, attr := c.theme.CrumbInactiveFg, c.theme.CrumbInactiveBg, ""
		if i == len(names)-1 {
			fg, bg, attr = c.theme.CrumbActiveFg, c.theme.CrumbActiveBg, "b"
		}
		parts[i] = fmt.Sprintf("[%s:%s:%s] %s [-:-:-]", Tag(fg), Tag(bg), attr, tview.Escape(name))
	}
	_, _ = fmt.Fprint(c, strings.Join(parts, " "))
}
