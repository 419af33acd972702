package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView is the key and command reference.
type HelpView struct {
	*tview.TextView
}

type helpSection struct {
	title string
	keys  [][2]string
}

var helpSections = []helpSection{
	{"Global", [][2]string{
		{":", "Command mode"},
		{"o", "Open a username or profile link"},
		{"c", "People (contacts and user search)"},
		{"r", "Refresh"},
		{"?", "Help"},
		{"Esc", "Back"},
		{"q", "Quit"},
	}},
	{"Conversations", [][2]string{
		{"Enter", "Open conversation"},
		{"/", "Filter by title or last message"},
		{"d", "Delete conversation"},
	}},
	{"Thread", [][2]string{
		{"i", "Focus composer"},
		{"Enter", "Send (in composer)"},
		{"Esc", "Leave composer, keeping the draft"},
		{"u", "Load older messages"},
		{"p", "Participants"},
		{"d", "Delete conversation"},
	}},
	{"People", [][2]string{
		{"s", "Search the user directory"},
		{"Enter", "Start or open a conversation"},
	}},
	{"Commands", [][2]string{
		{":open <user|link>", "Open or start a conversation"},
		{":start <user>", "Start a conversation"},
		{":delete", "Delete the selected conversation"},
		{":refresh", "Refresh everything"},
		{":people [query]", "Contacts or user search"},
		{":login", "Show the sign-in link"},
		{":help", "This screen"},
		{":quit", "Quit"},
	}},
}

// NewHelpView creates the help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	kc := ui.Tag(theme.MenuKeyColor)
	var b strings.Builder
	for _, s := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, k := range s.keys {
			fmt.Fprintf(&b, "  [%s]%-20s[-:-:-] %s\n", kc, tview.Escape(k[0]), k[1])
		}
	}
	_, _ = fmt.Fprint(tv, b.String())
	return &HelpView{TextView: tv}
}

// Name implements Component.
func (hv *HelpView) Name() string { return "Help" }

