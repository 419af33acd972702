// Package sync keeps the chat caches current: it polls the conversation
// list and the open conversation's messages, refreshes on focus regain and
// on explicit triggers, and merges every result idempotently.
package sync

import (
	"context"
	"fmt"
	"strconv"
	gosync "sync"
	"time"

	"github.com/matheus3301/chatsync/internal/apiclient"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

// Backend is the subset of the REST transport the engine polls.
type Backend interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListMessages(ctx context.Context, id int64, q apiclient.MessageQuery) ([]model.Message, error)
	ListContacts(ctx context.Context) ([]model.Contact, error)
}

// UserSource learns the signed-in user. The engine asks it on every list
// poll until the conversation store knows who the current user is.
type UserSource interface {
	EnsureUser(ctx context.Context) error
}

// Resources with independent refresh state. Message resources are named
// by MessagesResource.
const (
	ResourceConversations = "conversations"
	ResourceContacts      = "contacts"
	ResourceUser          = "user"
)

// MessagesResource names the message resource of one conversation.
func MessagesResource(convID int64) string {
	return "messages:" + strconv.FormatInt(convID, 10)
}

// RefreshState is idle or refreshing, tracked per resource.
type RefreshState string

const (
	Idle       RefreshState = "idle"
	Refreshing RefreshState = "refreshing"
)

// Options tunes the engine. Zero values take the defaults.
type Options struct {
	ConversationsInterval time.Duration
	MessagesInterval      time.Duration
	ContactsMaxAge        time.Duration
	PageSize              int
	AutoSelect            bool
}

func (o Options) withDefaults() Options {
	if o.ConversationsInterval <= 0 {
		o.ConversationsInterval = 30 * time.Second
	}
	if o.MessagesInterval <= 0 {
		o.MessagesInterval = 10 * time.Second
	}
	if o.ContactsMaxAge <= 0 {
		o.ContactsMaxAge = 60 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	return o
}

// FetchOptions selects a message page. Zero Limit uses the page size;
// non-zero Before fetches strictly older messages.
type FetchOptions struct {
	Limit  int
	Before time.Time
}

// Engine owns the refresh loops and is the single writer of fetched state.
type Engine struct {
	api      Backend
	convs    *cache.Conversations
	msgs     *cache.Messages
	contacts *cache.Contacts
	bus      *bus.Bus
	machine  *status.Machine
	recon    *Reconciler
	users    UserSource
	logger   *zap.Logger
	opts     Options

	mu       gosync.Mutex
	stopped  bool
	selected int64
	hasSel   bool
	inflight map[string]int
	bg       context.Context
	cancel   context.CancelFunc
	wg       gosync.WaitGroup

	focusList chan struct{}
	focusMsgs chan struct{}
	trigger   chan struct{}
}

// NewEngine creates an engine. machine and recon may be nil.
func NewEngine(api Backend, convs *cache.Conversations, msgs *cache.Messages, contacts *cache.Contacts,
	b *bus.Bus, machine *status.Machine, recon *Reconciler, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		api:       api,
		convs:     convs,
		msgs:      msgs,
		contacts:  contacts,
		bus:       b,
		machine:   machine,
		recon:     recon,
		logger:    logger,
		opts:      opts.withDefaults(),
		inflight:  make(map[string]int),
		bg:        context.Background(),
		focusList: make(chan struct{}, 1),
		focusMsgs: make(chan struct{}, 1),
		trigger:   make(chan struct{}, 1),
	}
}

// SetUserSource installs the hook that fetches the current user. Until
// it succeeds the machine is not reported ready. Call before Start.
func (e *Engine) SetUserSource(u UserSource) {
	e.users = u
}

// Start launches the polling loops. The first conversation and contact
// refresh runs immediately; contacts count as loading from this point.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.bg, e.cancel = ctx, cancel
	e.stopped = false
	e.mu.Unlock()

	e.contacts.BeginLoad()

	e.wg.Add(2)
	go e.listLoop(ctx)
	go e.messagesLoop(ctx)
}

// Stop cancels the loops and waits for in-flight background refreshes.
// Selections made after Stop start no refresh.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.stopped = true
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

// Focus signals window focus regain: the list and the open conversation
// refresh right away.
func (e *Engine) Focus() {
	notify(e.focusList)
	notify(e.focusMsgs)
}

// Trigger asks the list loop for an immediate refresh.
func (e *Engine) Trigger() {
	notify(e.trigger)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (e *Engine) listLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.ConversationsInterval)
	defer ticker.Stop()

	e.refreshList(ctx, true)
	for {
		select {
		case <-ticker.C:
			e.refreshList(ctx, false)
		case <-e.focusList:
			e.refreshList(ctx, false)
		case <-e.trigger:
			e.refreshList(ctx, false)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) refreshList(ctx context.Context, first bool) {
	e.ensureUser(ctx)
	_ = e.RefreshConversations(ctx)
	if first || e.contacts.Stale(e.opts.ContactsMaxAge) {
		_ = e.RefreshContacts(ctx)
	}
}

func (e *Engine) messagesLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.MessagesInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-e.focusMsgs:
		case <-ctx.Done():
			return
		}
		if id, ok := e.Selected(); ok {
			_ = e.RefreshMessages(ctx, id)
		}
	}
}

// State reports whether a resource has a refresh in flight.
func (e *Engine) State(resource string) RefreshState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[resource] > 0 {
		return Refreshing
	}
	return Idle
}

func (e *Engine) begin(resource string) {
	e.mu.Lock()
	e.inflight[resource]++
	first := e.inflight[resource] == 1
	e.mu.Unlock()
	if first {
		e.bus.Emit(bus.RefreshStateChanged, bus.RefreshPayload{Resource: resource, State: string(Refreshing)})
	}
}

func (e *Engine) end(resource string) {
	e.mu.Lock()
	e.inflight[resource]--
	last := e.inflight[resource] == 0
	if last {
		delete(e.inflight, resource)
	}
	e.mu.Unlock()
	if last {
		e.bus.Emit(bus.RefreshStateChanged, bus.RefreshPayload{Resource: resource, State: string(Idle)})
	}
}

// RefreshConversations fetches the conversation list and merges it. A
// failure keeps the cached list and sets its error flag. Conversations
// missing from the snapshot are treated as deleted.
func (e *Engine) RefreshConversations(ctx context.Context) error {
	e.begin(ResourceConversations)
	defer e.end(ResourceConversations)

	since := e.convs.Seq()
	list, err := e.api.ListConversations(ctx)
	metrics.RecordRefresh(ResourceConversations, err)
	e.recon.Checkpoint(ResourceConversations, err)
	if err != nil {
		e.convs.SetError(err)
		e.fail(ResourceConversations, err)
		return fmt.Errorf("refresh conversations: %w", err)
	}
	e.observe(nil)

	removed := e.convs.MergeSince(list, since)
	for _, id := range removed {
		e.forget(id, "missing from server list")
	}
	if len(removed) > 0 {
		metrics.ImplicitDeletions.Add(float64(len(removed)))
		e.contacts.Invalidate()
	}
	e.ensureSelection()

	current := e.convs.List()
	metrics.CachedConversations.Set(float64(len(current)))
	e.recon.SaveConversations(current)
	e.bus.Emit(bus.ConversationsRefreshed, bus.CountPayload{Count: len(current)})
	return nil
}

// ensureUser retries the current user lookup while it is unknown.
func (e *Engine) ensureUser(ctx context.Context) {
	if e.userKnown() {
		return
	}
	if err := e.users.EnsureUser(ctx); err != nil {
		e.fail(ResourceUser, err)
	}
}

func (e *Engine) userKnown() bool {
	return e.users == nil || e.convs.CurrentUser() != 0
}

// forget drops a conversation that no longer exists server-side.
func (e *Engine) forget(id int64, reason string) {
	e.msgs.Evict(id)
	e.recon.Forget(id)
	e.ClearSelectionIf(id)
	e.logger.Info("conversation removed", zap.Int64("conversation_id", id), zap.String("reason", reason))
	e.bus.Emit(bus.ConversationRemoved, bus.ConversationRef{ConversationID: id, Reason: reason})
}

// RefreshContacts refetches the contact directory.
func (e *Engine) RefreshContacts(ctx context.Context) error {
	e.begin(ResourceContacts)
	defer e.end(ResourceContacts)

	e.contacts.BeginLoad()
	list, err := e.api.ListContacts(ctx)
	metrics.RecordRefresh(ResourceContacts, err)
	e.recon.Checkpoint(ResourceContacts, err)
	if err != nil {
		e.contacts.FailLoad(err)
		e.fail(ResourceContacts, err)
		return fmt.Errorf("refresh contacts: %w", err)
	}
	e.observe(nil)
	e.contacts.Replace(list)
	e.recon.SaveContacts(list)
	e.bus.Emit(bus.ContactsRefreshed, bus.CountPayload{Count: len(list)})
	return nil
}

// RefreshMessages fetches the newest page of a conversation.
func (e *Engine) RefreshMessages(ctx context.Context, convID int64) error {
	return e.FetchMessages(ctx, convID, FetchOptions{})
}

// FetchOlder fetches the page before the oldest cached message.
func (e *Engine) FetchOlder(ctx context.Context, convID int64) error {
	oldest, ok := e.msgs.Oldest(convID)
	if !ok {
		return e.RefreshMessages(ctx, convID)
	}
	return e.FetchMessages(ctx, convID, FetchOptions{Before: oldest})
}

// FetchMessages fetches one page and merges it. On success the
// conversation's unread count drops to zero, mirroring the server, which
// marks the conversation read when its messages are listed.
func (e *Engine) FetchMessages(ctx context.Context, convID int64, opts FetchOptions) error {
	resource := MessagesResource(convID)
	e.begin(resource)
	defer e.end(resource)

	limit := opts.Limit
	if limit <= 0 {
		limit = e.opts.PageSize
	}
	page, err := e.api.ListMessages(ctx, convID, apiclient.MessageQuery{Limit: limit, Before: opts.Before})
	metrics.RecordRefresh("messages", err)
	if err != nil {
		if apiclient.IsNotFound(err) {
			e.convs.Remove(convID)
			e.forget(convID, "not found")
		}
		e.fail(resource, err)
		return fmt.Errorf("fetch messages of %d: %w", convID, err)
	}
	e.observe(nil)

	if _, ok := e.convs.Get(convID); !ok && (e.convs.Loaded() || e.convs.Removed(convID)) {
		// Deleted while the fetch was in flight.
		return nil
	}

	added := e.msgs.Merge(convID, page)
	e.convs.MarkRead(convID)
	if opts.Before.IsZero() && len(page) > 0 {
		e.convs.Touch(convID, page[len(page)-1])
	}
	e.recon.SaveMessages(convID, page)

	ids := make([]int64, len(page))
	for i, m := range page {
		ids[i] = m.ID
	}
	e.bus.Emit(bus.MessagesMerged, bus.MessagesPayload{ConversationID: convID, MessageIDs: ids, Added: added})
	return nil
}

// MergeMessage folds a single server-confirmed message, as delivered by
// the push channel. Unknown conversations trigger a list refresh.
func (e *Engine) MergeMessage(m model.Message) {
	if !e.msgs.Append(m.ConversationID, m) {
		return
	}
	sel, ok := e.Selected()
	open := ok && sel == m.ConversationID
	var known bool
	if open || m.Sender.ID == e.convs.CurrentUser() {
		known = e.convs.Touch(m.ConversationID, m)
	} else {
		known = e.convs.Bump(m.ConversationID, m)
	}
	if !known {
		e.Trigger()
	}
	e.recon.SaveMessages(m.ConversationID, []model.Message{m})
	e.bus.Emit(bus.MessagesMerged, bus.MessagesPayload{ConversationID: m.ConversationID, MessageIDs: []int64{m.ID}, Added: 1})
}

// Open selects a conversation and returns its cached messages right away.
// A background refresh of its messages is started.
func (e *Engine) Open(convID int64) []model.Message {
	cached := e.msgs.Get(convID)
	e.Select(convID)
	return cached
}

// Select makes convID the open conversation and refreshes it in the
// background.
func (e *Engine) Select(convID int64) {
	e.mu.Lock()
	changed := !e.hasSel || e.selected != convID
	e.selected, e.hasSel = convID, true
	ctx := e.bg
	spawn := !e.stopped
	if spawn {
		e.wg.Add(1)
	}
	e.mu.Unlock()

	if changed {
		e.bus.Emit(bus.ConversationSelected, bus.ConversationRef{ConversationID: convID})
	}
	if !spawn {
		return
	}
	go func() {
		defer e.wg.Done()
		if err := e.RefreshMessages(ctx, convID); err != nil {
			e.logger.Debug("background message refresh failed", zap.Int64("conversation_id", convID), zap.Error(err))
		}
	}()
}

// Selected returns the open conversation.
func (e *Engine) Selected() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected, e.hasSel
}

// ClearSelection closes the open conversation.
func (e *Engine) ClearSelection() {
	e.mu.Lock()
	had := e.hasSel
	e.selected, e.hasSel = 0, false
	e.mu.Unlock()
	if had {
		e.bus.Emit(bus.ConversationSelected, bus.ConversationRef{Reason: "cleared"})
	}
}

// ClearSelectionIf closes the open conversation when it is convID.
func (e *Engine) ClearSelectionIf(convID int64) {
	if sel, ok := e.Selected(); ok && sel == convID {
		e.ClearSelection()
	}
}

// ensureSelection selects the first conversation when nothing valid is
// selected and auto-select is on.
func (e *Engine) ensureSelection() {
	sel, ok := e.Selected()
	if ok {
		if _, exists := e.convs.Get(sel); exists {
			return
		}
		e.ClearSelection()
	}
	if !e.opts.AutoSelect {
		return
	}
	list := e.convs.List()
	if len(list) == 0 {
		return
	}
	e.Select(list[0].ID)
}

func (e *Engine) fail(resource string, err error) {
	e.observe(err)
	e.logger.Warn("refresh failed", zap.String("resource", resource), zap.Error(err))
	e.bus.Emit(bus.RefreshFailed, bus.RefreshPayload{Resource: resource, Error: apiclient.DetailOf(err)})
}

func (e *Engine) observe(err error) {
	if e.machine == nil {
		return
	}
	switch {
	case err == nil:
		if e.userKnown() {
			e.machine.ReportSuccess()
		}
	case apiclient.IsUnauthorized(err):
		e.machine.ReportUnauthorized()
	case apiclient.IsTransient(err):
		e.machine.ReportTransient()
	}
}
