// Package tui is the terminal client of a profile's daemon.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pageDetails       = "details"
	pagePeople        = "people"
	pageHelp          = "help"
	pageLogin         = "login"
	pageConfirm       = "confirm"

	reloadInterval = 5 * time.Second
	watchRetry     = 2 * time.Second
)

// Daemon is the daemon API used by the UI. *api.Client implements it.
type Daemon interface {
	model.Daemon
	Watch(ctx context.Context, namespace string) (*api.EventStream, error)
}

// Options configures the UI.
type Options struct {
	Profile  string
	LoginURL string
}

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	opts     Options
	daemon   Daemon
	vm       *model.ViewModel
	registry *keys.Registry
	flash    *ui.FlashModel

	layout   *tview.Flex
	pages    *ui.Pages
	info     *ui.ProfileInfo
	menu     *ui.Menu
	crumbs   *ui.Crumbs
	flashBar *ui.FlashBar
	prompt   *ui.Prompt

	list    *views.ConversationList
	thread  *views.MessageThread
	details *views.ConversationInfo
	people  *views.PeopleView
	help    *views.HelpView
	login   *views.LoginView

	// Only touched on the UI goroutine.
	promptOpen bool
	modalOpen  bool
	signedOut  bool

	reload chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(d Daemon, opts Options) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		opts:     opts,
		daemon:   d,
		vm:       model.NewViewModel(d),
		registry: keys.NewRegistry(),
		flash:    ui.NewFlashModel(),
		pages:    ui.NewPages(),
		info:     ui.NewProfileInfo(theme),
		menu:     ui.NewMenu(theme),
		crumbs:   ui.NewCrumbs(theme),
		flashBar: ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		list:     views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		people:   views.NewPeopleView(theme),
		help:     views.NewHelpView(theme),
		login:    views.NewLoginView(theme),
		reload:   make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	a.pages.Reset(pageConversations)
	return a
}

func (a *App) setupBindings() {
	rk := func(r rune, desc string, fn func()) *keys.Action {
		return &keys.Action{Key: tcell.KeyRune, Rune: r, Description: desc, Handler: fn, Visible: true}
	}
	hint := func(k tcell.Key, desc string) *keys.Action {
		return &keys.Action{Key: k, Description: desc, Visible: true}
	}

	a.registry.AddGlobal(rk(':', "Command", func() { a.showPrompt(ui.PromptCommand) }))
	a.registry.AddGlobal(rk('o', "Open user/link", func() { a.showPrompt(ui.PromptOpen) }))
	a.registry.AddGlobal(rk('c', "People", a.showPeople))
	a.registry.AddGlobal(rk('r', "Refresh", a.refresh))
	a.registry.AddGlobal(rk('?', "Help", func() { a.pages.Push(pageHelp) }))
	a.registry.AddGlobal(rk('q', "Quit", a.Stop))

	a.registry.AddPage(pageConversations, hint(tcell.KeyEnter, "Open"))
	a.registry.AddPage(pageConversations, rk('/', "Filter", func() { a.showPrompt(ui.PromptFilter) }))
	a.registry.AddPage(pageConversations, rk('d', "Delete", func() { a.confirmDelete(a.list.SelectedID()) }))

	a.registry.AddPage(pageThread, rk('i', "Compose", func() { a.app.SetFocus(a.thread.Composer()) }))
	a.registry.AddPage(pageThread, rk('u', "Older", a.older))
	a.registry.AddPage(pageThread, rk('p', "Participants", a.showDetails))
	a.registry.AddPage(pageThread, rk('d', "Delete", func() { a.confirmDelete(a.vm.Active()) }))
	a.registry.AddPage(pageThread, hint(tcell.KeyEscape, "Back"))

	a.registry.AddPage(pagePeople, hint(tcell.KeyEnter, "Start conversation"))
	a.registry.AddPage(pagePeople, rk('s', "Search", func() { a.app.SetFocus(a.people.Input()) }))
	a.registry.AddPage(pagePeople, hint(tcell.KeyEscape, "Back"))

	a.registry.AddPage(pageDetails, hint(tcell.KeyEscape, "Back"))
	a.registry.AddPage(pageHelp, hint(tcell.KeyEscape, "Back"))
}

func (a *App) setupCallbacks() {
	a.list.SetOnOpen(a.open)
	a.thread.SetOnSend(a.send)
	a.thread.SetOnLeave(a.leaveComposer)
	a.people.SetOnQuery(a.searchPeople)
	a.people.SetOnStart(a.start)
	a.people.SetOnCancel(func() { a.app.SetFocus(a.people.Results()) })

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(text)
		case ui.PromptFilter:
			a.list.SetFilter(strings.TrimSpace(text))
		case ui.PromptOpen:
			a.resolve(text)
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.SetOnChange(func(top ui.Component, crumbs []string) {
		a.crumbs.Update(crumbs)
		a.updateMenu()
		a.app.SetFocus(a.focusTarget(top))
	})
}

func (a *App) setupLayout() {
	a.pages.Add(pageConversations, a.list)
	a.pages.Add(pageThread, a.thread)
	a.pages.Add(pageDetails, a.details)
	a.pages.Add(pagePeople, a.people)
	a.pages.Add(pageHelp, a.help)
	a.pages.Add(pageLogin, a.login)

	header := tview.NewFlex().
		AddItem(a.info, 40, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 16, 0, false)

	a.layout = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 6, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.layout, true)
	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	if a.promptOpen || a.modalOpen {
		return ev
	}
	// Text inputs get every key; their done funcs handle Enter and Esc.
	if _, ok := a.app.GetFocus().(*tview.InputField); ok {
		return ev
	}
	if ev.Key() == tcell.KeyEscape {
		if a.pages.Pop() {
			return nil
		}
		if a.list.Filter() != "" {
			a.list.SetFilter("")
			return nil
		}
		return ev
	}
	if a.registry.HandleEvent(a.pages.TopKey(), ev) {
		return nil
	}
	return ev
}

func (a *App) focusTarget(top ui.Component) tview.Primitive {
	switch top {
	case a.thread:
		return a.thread.Messages()
	case a.people:
		return a.people.Results()
	}
	return top
}

func (a *App) focusTop() {
	if top := a.pages.Top(); top != nil {
		a.app.SetFocus(a.focusTarget(top))
	}
}

func (a *App) updateMenu() {
	actions := a.registry.Hints(a.pages.TopKey())
	hints := make([]ui.MenuHint, len(actions))
	for i, act := range actions {
		hints[i] = ui.MenuHint{Key: act.Label(), Description: act.Description}
	}
	a.menu.Update(hints)
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.promptOpen = true
	a.prompt.Activate(mode)
	a.layout.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.promptOpen = false
	a.layout.ResizeItem(a.prompt, 0, 0)
	a.focusTop()
}

// async runs fn off the UI goroutine. Errors go to the flash bar; done
// runs on the UI goroutine after success.
func (a *App) async(fn func(ctx context.Context) error, done func()) {
	go func() {
		if err := fn(a.ctx); err != nil {
			if a.ctx.Err() == nil {
				a.flash.Err(err)
			}
			return
		}
		if done != nil {
			a.app.QueueUpdateDraw(done)
		}
	}()
}

func (a *App) open(id int64) {
	a.async(func(ctx context.Context) error {
		return a.vm.Open(ctx, id)
	}, a.showThread)
}

func (a *App) resolve(target string) {
	a.async(func(ctx context.Context) error {
		_, err := a.vm.Resolve(ctx, strings.TrimSpace(target))
		return err
	}, a.showThread)
}

func (a *App) start(username string) {
	a.async(func(ctx context.Context) error {
		_, err := a.vm.Start(ctx, username)
		return err
	}, a.showThread)
}

// showThread shows the active conversation on top of the list.
func (a *App) showThread() {
	a.render()
	if a.vm.Thread() == nil {
		return
	}
	a.list.SelectID(a.vm.Active())
	if a.pages.TopKey() != pageThread {
		a.pages.Reset(pageConversations)
		a.pages.Push(pageThread)
	}
}

func (a *App) send(text string) {
	go func() {
		if err := a.vm.Send(a.ctx, text); err != nil {
			a.flash.Err(err)
		}
		a.app.QueueUpdateDraw(a.render)
	}()
}

// leaveComposer stores the unsent text as the conversation's draft.
func (a *App) leaveComposer(text string) {
	a.app.SetFocus(a.thread.Messages())
	a.async(func(ctx context.Context) error {
		return a.vm.SaveDraft(ctx, text)
	}, nil)
}

func (a *App) older() {
	a.async(a.vm.Older, a.render)
}

func (a *App) refresh() {
	a.async(a.vm.Refresh, func() {
		a.flash.Info("Refreshing")
		a.requestReload()
	})
}

func (a *App) showDetails() {
	th := a.vm.Thread()
	if th == nil {
		return
	}
	a.details.Update(th.Conversation, a.vm.Self())
	a.pages.Push(pageDetails)
}

func (a *App) showPeople() {
	a.async(a.vm.LoadContacts, func() {
		a.people.Update("", a.vm.Contacts(), nil)
		a.pages.Push(pagePeople)
	})
}

func (a *App) searchPeople(query string) {
	query = strings.TrimSpace(query)
	a.async(func(ctx context.Context) error {
		return a.vm.SearchUsers(ctx, query)
	}, func() {
		a.people.Update(query, a.vm.Contacts(), a.vm.Users())
		if a.pages.TopKey() != pagePeople {
			a.pages.Push(pagePeople)
		}
		a.app.SetFocus(a.people.Results())
	})
}

func (a *App) showLogin() {
	if a.opts.LoginURL == "" {
		a.login.ShowMessage("No sign-in URL is configured for this profile.")
	} else {
		a.login.ShowLogin(a.opts.LoginURL)
	}
	if a.pages.TopKey() != pageLogin {
		a.pages.Push(pageLogin)
	}
}

func (a *App) confirmDelete(id int64) {
	if id == 0 {
		return
	}
	title := fmt.Sprintf("conversation %d", id)
	if c, ok := a.vm.Conversation(id); ok {
		title = c.DisplayTitle
	}

	modal := tview.NewModal().
		SetText(fmt.Sprintf("Delete %s?", title)).
		AddButtons([]string{"Cancel", "Delete"}).
		SetDoneFunc(func(_ int, label string) {
			a.pages.RemovePage(pageConfirm)
			a.modalOpen = false
			a.focusTop()
			if label != "Delete" {
				return
			}
			a.async(func(ctx context.Context) error {
				return a.vm.Delete(ctx, id)
			}, func() {
				a.flash.Info(fmt.Sprintf("Deleted %s", title))
				if a.pages.TopKey() != pageConversations {
					a.pages.Reset(pageConversations)
				}
				a.render()
			})
		})
	a.modalOpen = true
	a.pages.AddPage(pageConfirm, modal, false, true)
	a.app.SetFocus(modal)
}

func (a *App) runCommand(text string) {
	cmd, err := ParseCommand(text)
	if err != nil {
		a.flash.Warn(err.Error())
		return
	}
	switch cmd.Name {
	case "open":
		a.resolve(cmd.Args)
	case "start":
		a.start(strings.TrimPrefix(cmd.Args, "@"))
	case "delete":
		id := a.list.SelectedID()
		if a.pages.TopKey() == pageThread {
			id = a.vm.Active()
		}
		a.confirmDelete(id)
	case "refresh":
		a.refresh()
	case "people":
		if cmd.Args == "" {
			a.showPeople()
		} else {
			a.searchPeople(cmd.Args)
		}
	case "login":
		a.showLogin()
	case "help":
		a.pages.Push(pageHelp)
	case "quit":
		a.Stop()
	}
}

// render copies the view model into the widgets. It runs on the UI
// goroutine.
func (a *App) render() {
	st := a.vm.Status()
	self := a.vm.Self()
	a.info.Update(profileData(a.opts.Profile, st))
	a.list.Update(a.vm.Conversations(), self)

	th := a.vm.Thread()
	a.thread.Update(th, self)
	if th == nil && (a.pages.TopKey() == pageThread || a.pages.TopKey() == pageDetails) {
		a.pages.Reset(pageConversations)
	}
	a.flashBar.Update(a.flash.Current())

	signedOut := a.vm.SignedOut()
	switch {
	case signedOut && !a.signedOut:
		a.showLogin()
	case !signedOut && a.signedOut:
		a.pages.Reset(pageConversations)
		a.flash.Info("Signed in")
	}
	a.signedOut = signedOut
}

func profileData(name string, st *api.StatusReply) *ui.ProfileData {
	d := &ui.ProfileData{Profile: name, State: "CONNECTING"}
	if st == nil {
		return d
	}
	d.State = st.State
	d.Since = st.Since
	d.Conversations = st.Conversations
	d.Unread = st.Unread
	d.Refreshing = st.Refreshing
	d.Error = st.ConversationsError
	if st.User != nil {
		d.User = "@" + st.User.Username
	}
	return d
}

func (a *App) requestReload() {
	select {
	case a.reload <- struct{}{}:
	default:
	}
}

func (a *App) load() {
	if err := a.vm.LoadStatus(a.ctx); err != nil {
		a.flash.Err(err)
	} else {
		if err := a.vm.LoadConversations(a.ctx); err != nil {
			a.flash.Err(err)
		}
		if err := a.vm.ReloadThread(a.ctx); err != nil {
			a.flash.Err(err)
		}
	}
	a.app.QueueUpdateDraw(a.render)
}

func (a *App) reloadLoop() {
	ticker := time.NewTicker(reloadInterval)
	defer ticker.Stop()
	a.load()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.reload:
		case <-ticker.C:
		}
		a.load()
	}
}

// watchLoop turns daemon events into reloads, resubscribing when the
// stream breaks.
func (a *App) watchLoop() {
	for a.ctx.Err() == nil {
		if stream, err := a.daemon.Watch(a.ctx, ""); err == nil {
			for {
				evt, err := stream.Recv()
				if err != nil {
					break
				}
				a.onEvent(evt)
			}
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(watchRetry):
		}
	}
}

func (a *App) onEvent(evt api.Event) {
	if evt.Kind == bus.RefreshFailed {
		var p bus.RefreshPayload
		if err := json.Unmarshal(evt.Payload, &p); err == nil {
			a.flash.Warn(fmt.Sprintf("Refreshing %s failed: %s", p.Resource, p.Error))
		}
	}
	a.requestReload()
}

func (a *App) flashLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case msg := <-a.flash.Watch():
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(&msg) })
		}
	}
}

func (a *App) focusGained() {
	a.async(a.vm.Focus, a.requestReload)
}

// focusScreen reports terminal focus regains, which tview drops.
type focusScreen struct {
	tcell.Screen
	onFocus func()
}

func (s *focusScreen) PollEvent() tcell.Event {
	ev := s.Screen.PollEvent()
	if f, ok := ev.(*tcell.EventFocus); ok && f.Focused && s.onFocus != nil {
		s.onFocus()
	}
	return ev
}

// Run starts the TUI and blocks until it exits.
func (a *App) Run() error {
	screen, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	a.app.SetScreen(&focusScreen{Screen: screen, onFocus: a.focusGained})
	screen.EnableFocus()

	go a.reloadLoop()
	go a.watchLoop()
	go a.flashLoop()

	err = a.app.Run()
	a.cancel()
	return err
}

// Stop shuts the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
