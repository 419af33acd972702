// Package model holds the terminal UI's view of the daemon's caches.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	chatmodel "github.com/matheus3301/chatsync/internal/model"
)

// Daemon is the subset of the daemon API the UI drives. *api.Client
// implements it.
type Daemon interface {
	Status(ctx context.Context) (*api.StatusReply, error)
	ListConversations(ctx context.Context, req api.ListConversationsRequest) ([]api.ConversationView, error)
	Open(ctx context.Context, id int64, wait bool) (*api.MessagesReply, error)
	FetchOlder(ctx context.Context, id int64, before time.Time) (*api.MessagesReply, error)
	Send(ctx context.Context, id int64, content string) (*api.SendReply, error)
	Start(ctx context.Context, username string) (*api.ConversationReply, error)
	Resolve(ctx context.Context, target string) (*api.ConversationReply, error)
	Delete(ctx context.Context, id int64) error
	MarkRead(ctx context.Context, id int64) error
	ListContacts(ctx context.Context, all bool) (*api.ContactsReply, error)
	SearchUsers(ctx context.Context, query string, limit int) (*api.UsersReply, error)
	Refresh(ctx context.Context, resource string, id int64) error
	Focus(ctx context.Context) error
	SetDraft(ctx context.Context, id int64, content string) error
}

// Thread is the open conversation as shown by the message view.
type Thread struct {
	Conversation api.ConversationView
	Messages     []chatmodel.Message
	Draft        string
	DraftError   string
}

// ViewModel caches daemon state for rendering. Loaders call the daemon and
// replace the cached snapshot; getters return copies.
type ViewModel struct {
	mu sync.RWMutex

	client        Daemon
	status        *api.StatusReply
	conversations []api.ConversationView
	active        int64
	thread        *Thread
	contacts      []chatmodel.Contact
	users         []chatmodel.UserSummary
}

// NewViewModel creates a view model backed by the daemon client.
func NewViewModel(c Daemon) *ViewModel {
	return &ViewModel{client: c}
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.client.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = st
	vm.mu.Unlock()
	return nil
}

// LoadConversations fetches the conversation list. The open thread's
// summary follows the list.
func (vm *ViewModel) LoadConversations(ctx context.Context) error {
	list, err := vm.client.ListConversations(ctx, api.ListConversationsRequest{})
	if err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.conversations = list
	if vm.thread != nil {
		if c, ok := find(list, vm.thread.Conversation.ID); ok {
			vm.thread.Conversation = c
		}
	}
	return nil
}

// Open makes id the active conversation and loads its messages. A
// conversation without cached messages waits for the first page. Unread
// messages are marked read.
func (vm *ViewModel) Open(ctx context.Context, id int64) error {
	reply, err := vm.client.Open(ctx, id, false)
	if err != nil {
		return err
	}
	if len(reply.Messages) == 0 {
		if reply, err = vm.client.Open(ctx, id, true); err != nil {
			return err
		}
	}

	vm.mu.Lock()
	conv, ok := find(vm.conversations, id)
	if !ok {
		conv = api.ConversationView{}
		conv.ID = id
		conv.DisplayTitle = fmt.Sprintf("Conversation %d", id)
	}
	vm.active = id
	vm.thread = threadOf(conv, reply)
	unread := conv.UnreadCount
	vm.mu.Unlock()

	if unread > 0 {
		if err := vm.client.MarkRead(ctx, id); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		vm.setUnread(id, 0)
	}
	return nil
}

// ReloadThread re-reads the active conversation from the daemon cache.
func (vm *ViewModel) ReloadThread(ctx context.Context) error {
	id := vm.Active()
	if id == 0 {
		return nil
	}
	reply, err := vm.client.Open(ctx, id, false)
	if err != nil {
		return err
	}
	vm.applyReply(id, reply)
	return nil
}

// Older loads the page before the oldest shown message.
func (vm *ViewModel) Older(ctx context.Context) error {
	id := vm.Active()
	if id == 0 {
		return nil
	}
	reply, err := vm.client.FetchOlder(ctx, id, time.Time{})
	if err != nil {
		return err
	}
	vm.applyReply(id, reply)
	return nil
}

// Send posts text to the active conversation. On failure the daemon keeps
// the text as the draft and the thread is reloaded to show it.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	id := vm.Active()
	if id == 0 {
		return fmt.Errorf("no conversation open")
	}
	_, sendErr := vm.client.Send(ctx, id, text)
	if err := vm.ReloadThread(ctx); err != nil && sendErr == nil {
		return err
	}
	return sendErr
}

// SaveDraft stores the composer text of the active conversation.
func (vm *ViewModel) SaveDraft(ctx context.Context, text string) error {
	id := vm.Active()
	if id == 0 {
		return nil
	}
	return vm.client.SetDraft(ctx, id, text)
}

// Resolve opens the conversation for a username or link, starting one
// when needed.
func (vm *ViewModel) Resolve(ctx context.Context, target string) (api.ConversationView, error) {
	reply, err := vm.client.Resolve(ctx, target)
	if err != nil {
		return api.ConversationView{}, err
	}
	return vm.opened(ctx, reply.Conversation)
}

// Start starts a conversation with username and opens it.
func (vm *ViewModel) Start(ctx context.Context, username string) (api.ConversationView, error) {
	reply, err := vm.client.Start(ctx, username)
	if err != nil {
		return api.ConversationView{}, err
	}
	return vm.opened(ctx, reply.Conversation)
}

func (vm *ViewModel) opened(ctx context.Context, c api.ConversationView) (api.ConversationView, error) {
	vm.mu.Lock()
	if _, ok := find(vm.conversations, c.ID); !ok {
		vm.conversations = append([]api.ConversationView{c}, vm.conversations...)
	}
	vm.mu.Unlock()
	if err := vm.Open(ctx, c.ID); err != nil {
		return c, err
	}
	return c, nil
}

// Delete deletes a conversation and drops it from the view.
func (vm *ViewModel) Delete(ctx context.Context, id int64) error {
	if err := vm.client.Delete(ctx, id); err != nil {
		return err
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	kept := vm.conversations[:0]
	for _, c := range vm.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	vm.conversations = kept
	if vm.active == id {
		vm.active = 0
		vm.thread = nil
	}
	return nil
}

// Refresh asks the daemon to refresh conversations and contacts, and the
// open thread when there is one.
func (vm *ViewModel) Refresh(ctx context.Context) error {
	if err := vm.client.Refresh(ctx, "", 0); err != nil {
		return err
	}
	if id := vm.Active(); id != 0 {
		if err := vm.client.Refresh(ctx, "messages", id); err != nil {
			return err
		}
	}
	return nil
}

// Focus forwards a terminal focus regain.
func (vm *ViewModel) Focus(ctx context.Context) error {
	return vm.client.Focus(ctx)
}

// LoadContacts fetches the people the user can start a conversation with.
func (vm *ViewModel) LoadContacts(ctx context.Context) error {
	reply, err := vm.client.ListContacts(ctx, false)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.contacts = reply.Contacts
	vm.mu.Unlock()
	return nil
}

// SearchUsers queries the user directory. A blank query clears results.
func (vm *ViewModel) SearchUsers(ctx context.Context, query string) error {
	var users []chatmodel.UserSummary
	if strings.TrimSpace(query) != "" {
		reply, err := vm.client.SearchUsers(ctx, query, 0)
		if err != nil {
			return err
		}
		users = reply.Users
	}
	vm.mu.Lock()
	vm.users = users
	vm.mu.Unlock()
	return nil
}

// Status returns the last fetched status, nil before the first load.
func (vm *ViewModel) Status() *api.StatusReply {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return nil
	}
	st := *vm.status
	return &st
}

// Self returns the signed-in user id, 0 when unknown.
func (vm *ViewModel) Self() int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil || vm.status.User == nil {
		return 0
	}
	return vm.status.User.ID
}

// SignedOut reports whether the daemon has no authenticated session.
func (vm *ViewModel) SignedOut() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status != nil && vm.status.State == "SIGNED_OUT"
}

// Conversations returns the cached list, most recent first.
func (vm *ViewModel) Conversations() []api.ConversationView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]api.ConversationView(nil), vm.conversations...)
}

// Conversation returns the cached summary of id.
func (vm *ViewModel) Conversation(id int64) (api.ConversationView, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return find(vm.conversations, id)
}

// Active returns the open conversation id, 0 when none.
func (vm *ViewModel) Active() int64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// Thread returns the open conversation, nil when none.
func (vm *ViewModel) Thread() *Thread {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.thread == nil {
		return nil
	}
	t := *vm.thread
	t.Messages = append([]chatmodel.Message(nil), vm.thread.Messages...)
	return &t
}

// Contacts returns the eligible contacts.
func (vm *ViewModel) Contacts() []chatmodel.Contact {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]chatmodel.Contact(nil), vm.contacts...)
}

// Users returns the last user search results.
func (vm *ViewModel) Users() []chatmodel.UserSummary {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return append([]chatmodel.UserSummary(nil), vm.users...)
}

func (vm *ViewModel) applyReply(id int64, reply *api.MessagesReply) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.active != id || vm.thread == nil {
		return
	}
	vm.thread = threadOf(vm.thread.Conversation, reply)
}

func (vm *ViewModel) setUnread(id int64, n int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	for i := range vm.conversations {
		if vm.conversations[i].ID == id {
			vm.conversations[i].UnreadCount = n
		}
	}
	if vm.thread != nil && vm.thread.Conversation.ID == id {
		vm.thread.Conversation.UnreadCount = n
	}
}

func threadOf(c api.ConversationView, reply *api.MessagesReply) *Thread {
	return &Thread{
		Conversation: c,
		Messages:     reply.Messages,
		Draft:        reply.Draft,
		DraftError:   reply.DraftError,
	}
}

func find(list []api.ConversationView, id int64) (api.ConversationView, bool) {
	for _, c := range list {
		if c.ID == id {
			return c, true
		}
	}
	return api.ConversationView{}, false
}
