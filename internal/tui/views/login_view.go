package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"
)

// LoginView is shown while the daemon has no authenticated session. It
// renders the sign-in link as text and as a QR code for a phone.
type LoginView struct {
	*tview.TextView
	theme *ui.Theme
}

// NewLoginView creates the sign-in view.
func NewLoginView(theme *ui.Theme) *LoginView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Sign in required ")
	tv.SetTitleColor(theme.TitleColor)
	return &LoginView{TextView: tv, theme: theme}
}

// Name implements Component.
func (lv *LoginView) Name() string { return "Sign in" }


// ShowLogin renders the sign-in link.
func (lv *LoginView) ShowLogin(link string) {
	lv.Clear()
	_, _ = fmt.Fprintf(lv, "\nThe session is signed out. Sign in in a browser, then press r.\n\n%s\n[%s]%s[-]\n",
		renderQR(link), ui.Tag(lv.theme.MenuKeyColor), tview.Escape(link))
}

// ShowMessage renders msg in place of the link.
func (lv *LoginView) ShowMessage(msg string) {
	lv.Clear()
	_, _ = fmt.Fprintf(lv, "\n\n%s", tview.Escape(msg))
}

// renderQR draws content with half blocks, two QR rows per text line.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "(QR generation failed: " + err.Error() + ")"
	}
	bitmap := qr.Bitmap()

	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}
