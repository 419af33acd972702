package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo shows a conversation's details and participants.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates an empty details view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Details ")
	tv.SetTitleColor(theme.TitleColor)
	return &ConversationInfo{TextView: tv, theme: theme}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }


// Update renders c. self marks the signed-in user in the participant list.
func (ci *ConversationInfo) Update(c api.ConversationView, self int64) {
	ci.Clear()
	fg, val := ui.Tag(ci.theme.FgColor), ui.Tag(ci.theme.CounterColor)

	kind := "Direct"
	if c.IsGroup {
		kind = "Group"
	}
	last := formatTime(c.ActivityAt(), time.Now())
	if last == "" {
		last = "-"
	}

	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, " [%s::b]%-13s[-:-:-] [%s]%s[-]\n", fg, label, val, tview.Escape(value))
	}
	b.WriteString("\n")
	row("Title:", oneLine(c.DisplayTitle))
	row("ID:", fmt.Sprint(c.ID))
	row("Type:", kind)
	row("Unread:", fmt.Sprint(c.UnreadCount))
	row("Created:", formatTime(c.CreatedAt, time.Now()))
	row("Last active:", last)

	fmt.Fprintf(&b, "\n [%s::b]Participants (%d)[-:-:-]\n", fg, len(c.Participants))
	for _, p := range c.Participants {
		you := ""
		if p.ID == self && self != 0 {
			you = " (you)"
		}
		fmt.Fprintf(&b, "   [%s]@%s[-] %s%s\n", val, tview.Escape(p.Username), tview.Escape(oneLine(displayName(p))), you)
	}

	_, _ = fmt.Fprint(ci, b.String())
	ci.SetTitle(fmt.Sprintf(" %s ", tview.Escape(oneLine(c.DisplayTitle))))
	ci.ScrollToBeginning()
}
