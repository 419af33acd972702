package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread displays one conversation's messages above a composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	title    string
	convID   int64
	onSend   func(text string)
	onLeave  func(text string)
}

// NewMessageThread creates an empty thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitleColor(theme.TitleColor)
	composer.SetTitleAlign(tview.AlignLeft)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}
	mt.setComposerTitle("")

	composer.SetDoneFunc(func(key tcell.Key) {
		switch key {
		case tcell.KeyEnter:
			text := composer.GetText()
			if strings.TrimSpace(text) == "" || mt.onSend == nil {
				return
			}
			composer.SetText("")
			mt.onSend(text)
		case tcell.KeyEscape:
			if mt.onLeave != nil {
				mt.onLeave(composer.GetText())
			}
		}
	})
	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.title != "" {
		return mt.title
	}
	return "Messages"
}


// SetOnSend sets the callback for Enter in the composer.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnLeave sets the callback for Esc in the composer. It receives the
// unsent text.
func (mt *MessageThread) SetOnLeave(fn func(text string)) {
	mt.onLeave = fn
}

// Update renders th. self is the signed-in user, whose messages are shown
// as "You". The composer is filled with the stored draft when the
// conversation changes or when it is empty.
func (mt *MessageThread) Update(th *model.Thread, self int64) {
	mt.messages.Clear()
	if th == nil {
		mt.title, mt.convID = "", 0
		mt.messages.SetTitle(" Messages ")
		mt.composer.SetText("")
		mt.setComposerTitle("")
		return
	}

	mt.title = oneLine(th.Conversation.DisplayTitle)
	mt.messages.SetTitle(fmt.Sprintf(" %s (%d) ", tview.Escape(mt.title), len(th.Messages)))
	if th.Conversation.ID != mt.convID || mt.composer.GetText() == "" {
		mt.composer.SetText(th.Draft)
	}
	mt.convID = th.Conversation.ID
	mt.setComposerTitle(th.DraftError)

	if len(th.Messages) == 0 {
		_, _ = fmt.Fprintf(mt.messages, "[%s]No messages yet.[-]", ui.Tag(mt.theme.MutedColor))
		return
	}

	now := time.Now()
	muted := ui.Tag(mt.theme.MutedColor)
	for _, m := range th.Messages {
		sender, color := displayName(m.Sender), mt.theme.PeerColor
		if m.Sender.ID == self && self != 0 {
			sender, color = "You", mt.theme.SelfColor
		}
		body := tview.Escape(sanitize(m.Content))
		if m.Deleted {
			body = fmt.Sprintf("[%s::i]message deleted[-:-:-]", muted)
		}
		edited := ""
		if m.Edited && !m.Deleted {
			edited = " (edited)"
		}
		_, _ = fmt.Fprintf(mt.messages, "[%s::b]%s[-:-:-] [%s]%s%s[-]\n%s\n\n",
			ui.Tag(color), tview.Escape(sanitize(sender)),
			muted, formatTime(m.CreatedAt, now), edited, body)
	}
	mt.messages.ScrollToEnd()
}

// ConversationID returns the shown conversation, 0 when none.
func (mt *MessageThread) ConversationID() int64 { return mt.convID }

// Draft returns the composer text.
func (mt *MessageThread) Draft() string { return mt.composer.GetText() }

// Messages returns the message pane for focus management.
func (mt *MessageThread) Messages() *tview.TextView { return mt.messages }

// Composer returns the composer for focus management.
func (mt *MessageThread) Composer() *tview.InputField { return mt.composer }

func (mt *MessageThread) setComposerTitle(draftErr string) {
	if draftErr != "" {
		mt.composer.SetTitle(fmt.Sprintf(" [%s]Not sent: %s[-] ", ui.Tag(mt.theme.FlashErrColor), tview.Escape(oneLine(draftErr))))
		return
	}
	mt.composer.SetTitle(" Compose (i to focus, Esc to leave) ")
}
