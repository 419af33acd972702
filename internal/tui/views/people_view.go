package views

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	chatmodel "github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/rivo/tview"
)

type person struct {
	username string
	name     string
	relation string
}

// PeopleView lists contacts, or user directory matches while a query is
// active. Enter starts a conversation with the selected person.
type PeopleView struct {
	*tview.Flex
	theme    *ui.Theme
	input    *tview.InputField
	results  *tview.Table
	rows     []person
	query    string
	onQuery  func(query string)
	onStart  func(username string)
	onCancel func()
}

// NewPeopleView creates the people view.
func NewPeopleView(theme *ui.Theme) *PeopleView {
	input := tview.NewInputField().
		SetLabel(" Search: ").
		SetFieldWidth(0)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, false).
		AddItem(results, 0, 1, true)

	pv := &PeopleView{
		Flex:    flex,
		theme:   theme,
		input:   input,
		results: results,
	}
	input.SetDoneFunc(func(key tcell.Key) {
		switch {
		case key == tcell.KeyEnter && pv.onQuery != nil:
			pv.onQuery(input.GetText())
		case key == tcell.KeyEscape && pv.onCancel != nil:
			pv.onCancel()
		}
	})
	results.SetSelectedFunc(func(int, int) {
		if u := pv.SelectedUsername(); u != "" && pv.onStart != nil {
			pv.onStart(u)
		}
	})
	pv.render()
	return pv
}

// Name implements Component.
func (pv *PeopleView) Name() string { return "People" }


// SetOnQuery sets the callback for a submitted search.
func (pv *PeopleView) SetOnQuery(fn func(query string)) { pv.onQuery = fn }

// SetOnStart sets the callback for Enter on a person.
func (pv *PeopleView) SetOnStart(fn func(username string)) { pv.onStart = fn }

// SetOnCancel sets the callback for Esc in the search field.
func (pv *PeopleView) SetOnCancel(fn func()) { pv.onCancel = fn }

// Input returns the search field.
func (pv *PeopleView) Input() *tview.InputField { return pv.input }

// Results returns the result table.
func (pv *PeopleView) Results() *tview.Table { return pv.results }

// Update shows users when query is set and contacts otherwise.
func (pv *PeopleView) Update(query string, contacts []chatmodel.Contact, users []chatmodel.UserSummary) {
	pv.query = query
	pv.rows = pv.rows[:0]
	if query == "" {
		for _, c := range contacts {
			pv.rows = append(pv.rows, person{username: c.Username, name: displayName(c.Participant), relation: relation(c)})
		}
	} else {
		for _, u := range users {
			if u.IsSelf {
				continue
			}
			name := u.FullName
			if name == "" {
				name = u.DisplayName
			}
			rel := ""
			if u.IsFollowing {
				rel = "following"
			}
			pv.rows = append(pv.rows, person{username: u.Username, name: name, relation: rel})
		}
	}
	pv.render()
}

// SelectedUsername returns the username under the cursor.
func (pv *PeopleView) SelectedUsername() string {
	row, _ := pv.results.GetSelection()
	if row < 1 || row > len(pv.rows) {
		return ""
	}
	return pv.rows[row-1].username
}

func (pv *PeopleView) render() {
	pv.results.Clear()
	for col, h := range []string{" USERNAME", " NAME", " "} {
		pv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(pv.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(1))
	}
	for i, p := range pv.rows {
		row := i + 1
		pv.results.SetCell(row, 0, tview.NewTableCell(" @"+tview.Escape(p.username)).SetTextColor(pv.theme.FgColor))
		pv.results.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(oneLine(p.name))).SetExpansion(2).SetTextColor(pv.theme.FgColor))
		pv.results.SetCell(row, 2, tview.NewTableCell(" "+p.relation).SetTextColor(pv.theme.MutedColor))
	}
	if pv.query != "" {
		pv.results.SetTitle(fmt.Sprintf(" Users matching %q (%d) ", tview.Escape(pv.query), len(pv.rows)))
	} else {
		pv.results.SetTitle(fmt.Sprintf(" Contacts (%d) ", len(pv.rows)))
	}
}

func relation(c chatmodel.Contact) string {
	switch {
	case c.YouFollow && c.FollowsYou:
		return "mutual"
	case c.YouFollow:
		return "following"
	case c.FollowsYou:
		return "follows you"
	}
	return ""
}
