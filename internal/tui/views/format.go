package views

import (
	"strings"
	"time"
	"unicode/utf8"

	chatmodel "github.com/matheus3301/chatsync/internal/model"
)

// sanitize drops codepoints tcell renders badly: skin tone modifiers,
// zero width joiners and variation selectors. Control characters become
// spaces.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r >= 0x1F3FB && r <= 0x1F3FF, r == 0x200D:
		case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r < 0x20 || r == 0x7F:
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// oneLine flattens s for table cells.
func oneLine(s string) string {
	return strings.Join(strings.Fields(sanitize(s)), " ")
}

// formatTime shows the clock for today, the date otherwise.
func formatTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now = now.Local()
	switch {
	case t.Year() == now.Year() && t.YearDay() == now.YearDay():
		return t.Format("15:04")
	case t.Year() == now.Year():
		return t.Format("Jan 02")
	default:
		return t.Format("2006-01-02")
	}
}

// displayName is the label for a person.
func displayName(p chatmodel.Participant) string {
	if name := strings.TrimSpace(p.FullName); name != "" {
		return name
	}
	if name := strings.TrimSpace(p.FirstName + " " + p.LastName); name != "" {
		return name
	}
	return p.Username
}

// preview is the list line for a conversation's last message.
func preview(m *chatmodel.Message, self int64) string {
	if m == nil {
		return ""
	}
	if m.Deleted {
		return "message deleted"
	}
	text := oneLine(m.Content)
	if m.Sender.ID != 0 && m.Sender.ID == self {
		return "You: " + text
	}
	return text
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
