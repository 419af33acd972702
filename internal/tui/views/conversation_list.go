package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the main conversation table, most recent first.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	convs   []api.ConversationView
	visible []api.ConversationView
	self    int64
	filter  string
	onOpen  func(id int64)
}

// NewConversationList creates an empty conversation table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	cl := &ConversationList{Table: table, theme: theme}
	table.SetSelectedFunc(func(int, int) {
		if id := cl.SelectedID(); id != 0 && cl.onOpen != nil {
			cl.onOpen(id)
		}
	})
	cl.render()
	return cl
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "Conversations" }


// SetOnOpen sets the callback for Enter on a row.
func (cl *ConversationList) SetOnOpen(fn func(id int64)) {
	cl.onOpen = fn
}

// Update replaces the rows, keeping the cursor on the same conversation.
func (cl *ConversationList) Update(convs []api.ConversationView, self int64) {
	selected := cl.SelectedID()
	cl.convs = convs
	cl.self = self
	cl.render()
	cl.SelectID(selected)
}

// SetFilter narrows the rows to titles or previews containing filter.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
	cl.Table.Select(1, 0)
}

// Filter returns the active filter.
func (cl *ConversationList) Filter() string { return cl.filter }

// SelectID moves the cursor to conversation id when it is visible.
func (cl *ConversationList) SelectID(id int64) {
	for i, c := range cl.visible {
		if c.ID == id {
			cl.Table.Select(i+1, 0)
			return
		}
	}
}

// SelectedID returns the conversation under the cursor, 0 when none.
func (cl *ConversationList) SelectedID() int64 {
	row, _ := cl.GetSelection()
	if row < 1 || row > len(cl.visible) {
		return 0
	}
	return cl.visible[row-1].ID
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
		{" NEW", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	cl.visible = cl.visible[:0]
	now := time.Now()
	for _, c := range cl.convs {
		last := preview(c.LastMessage, cl.self)
		if cl.filter != "" && !containsFold(c.DisplayTitle, cl.filter) && !containsFold(last, cl.filter) {
			continue
		}
		cl.visible = append(cl.visible, c)
		row := len(cl.visible)

		fg := cl.theme.FgColor
		badge := ""
		if c.UnreadCount > 0 {
			fg = cl.theme.UnreadColor
			badge = fmt.Sprint(c.UnreadCount)
		}
		name := oneLine(c.DisplayTitle)
		if c.IsGroup {
			name += " (group)"
		}
		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(name)).SetExpansion(1).SetMaxWidth(30).SetTextColor(fg))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(last)).SetExpansion(2).SetTextColor(cl.theme.MutedColor))
		cl.SetCell(row, 2, tview.NewTableCell(" "+formatTime(c.ActivityAt(), now)).SetAlign(tview.AlignRight).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 3, tview.NewTableCell(" "+badge+" ").SetAlign(tview.AlignRight).SetTextColor(cl.theme.UnreadColor).SetAttributes(tcell.AttrBold))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) /%s ", len(cl.visible), len(cl.convs), tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}
