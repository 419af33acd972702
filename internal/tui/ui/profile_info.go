package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// ProfileData is what the header shows about the daemon.
type ProfileData struct {
	Profile       string
	User          string
	State         string
	Since         time.Time
	Conversations int
	Unread        int
	Refreshing    []string
	Error         string
}

// ProfileInfo displays daemon state in the header.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

// NewProfileInfo creates an empty panel.
func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)
	return &ProfileInfo{TextView: tv, theme: theme}
}

// Update renders data. A nil data clears the panel.
func (pi *ProfileInfo) Update(data *ProfileData) {
	pi.Clear()
	if data == nil {
		return
	}
	fg, val := Tag(pi.theme.FgColor), Tag(pi.theme.CounterColor)

	user := data.User
	if user == "" {
		user = "-"
	}
	state := data.State
	if len(data.Refreshing) > 0 {
		state += " ~"
	}
	unread := fmt.Sprintf("[%s]%d[-]", val, data.Unread)
	if data.Unread > 0 {
		unread = fmt.Sprintf("[%s::b]%d[-:-:-]", Tag(pi.theme.UnreadColor), data.Unread)
	}

	rows := [][2]string{
		{"Profile:", tview.Escape(data.Profile)},
		{"User:", tview.Escape(user)},
		{"State:", fmt.Sprintf("%s (%s)", state, since(data.Since))},
		{"Chats:", fmt.Sprint(data.Conversations)},
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "[%s::b]%-8s[-:-:-] [%s]%s[-]\n", fg, r[0], val, r[1])
	}
	fmt.Fprintf(&b, "[%s::b]%-8s[-:-:-] %s", fg, "Unread:", unread)
	if data.Error != "" {
		fmt.Fprintf(&b, "\n[%s]%s[-]", Tag(pi.theme.FlashErrColor), tview.Escape(data.Error))
	}
	_, _ = fmt.Fprint(pi, b.String())
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
