package sync

import (
	"context"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/apiclient"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBackend struct {
	mu           gosync.Mutex
	convs        []model.Conversation
	convErr      error
	msgs         map[int64][]model.Message
	msgErr       error
	contacts     []model.Contact
	listCalls    int
	contactCalls int
	queries      []apiclient.MessageQuery
	gate         chan struct{}
}

func (f *fakeBackend) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	f.mu.Lock()
	f.listCalls++
	gate := f.gate
	list, err := append([]model.Conversation(nil), f.convs...), f.convErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return list, err
}

func (f *fakeBackend) ListMessages(_ context.Context, id int64, q apiclient.MessageQuery) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.msgErr != nil {
		return nil, f.msgErr
	}
	var out []model.Message
	for _, m := range f.msgs[id] {
		if q.Before.IsZero() || m.CreatedAt.Before(q.Before) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeBackend) ListContacts(context.Context) ([]model.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contactCalls++
	return append([]model.Contact(nil), f.contacts...), nil
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBackend) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.contactCalls
}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func conv(id, other int64, lastHour int) model.Conversation {
	c := model.Conversation{
		ID:           id,
		CreatedAt:    t0,
		Participants: []model.Participant{{ID: 1, Username: "me"}, {ID: other, Username: "u"}},
	}
	if lastHour >= 0 {
		c.LastMessage = &model.Message{ID: id * 1000, ConversationID: id, CreatedAt: t0.Add(time.Duration(lastHour) * time.Hour)}
	}
	return c
}

type harness struct {
	api      *fakeBackend
	convs    *cache.Conversations
	msgs     *cache.Messages
	contacts *cache.Contacts
	bus      *bus.Bus
	machine  *status.Machine
	engine   *Engine
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		api:   &fakeBackend{msgs: map[int64][]model.Message{}},
		convs: cache.NewConversations(1),
		msgs:  cache.NewMessages(),
		bus:   bus.New(),
	}
	h.contacts = cache.NewContacts(h.convs)
	h.machine = status.NewMachine(h.bus)
	h.engine = NewEngine(h.api, h.convs, h.msgs, h.contacts, h.bus, h.machine, nil, zap.NewNop(), opts)
	t.Cleanup(h.engine.Stop)
	return h
}

func convIDs(list []model.Conversation) []int64 {
	out := make([]int64, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}

func TestRefreshConversationsMerges(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.convs = []model.Conversation{conv(7, 2, 9), conv(5, 9, 10)}

	require.NoError(t, h.engine.RefreshConversations(context.Background()))
	assert.Equal(t, []int64{5, 7}, convIDs(h.convs.List()))
	assert.Equal(t, status.Ready, h.machine.Current())
	assert.Equal(t, Idle, h.engine.State(ResourceConversations))
}

func TestFailedRefreshKeepsLastGoodList(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.convs = []model.Conversation{conv(5, 9, 10)}
	require.NoError(t, h.engine.RefreshConversations(context.Background()))

	h.api.set(func(f *fakeBackend) { f.convErr = &apiclient.Error{Status: 503, Method: "GET", Path: "/chat/conversations/"} })
	err := h.engine.RefreshConversations(context.Background())
	require.Error(t, err)

	assert.Equal(t, []int64{5}, convIDs(h.convs.List()))
	assert.Error(t, h.convs.Err())
	assert.Equal(t, status.Degraded, h.machine.Current())
}

func TestUnauthorizedRefreshSignsOut(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.convErr = &apiclient.Error{Status: 401, Detail: "Authentication credentials were not provided."}
	require.Error(t, h.engine.RefreshConversations(context.Background()))
	assert.Equal(t, status.SignedOut, h.machine.Current())
}

func TestImplicitDeletionClearsSelection(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.convs = []model.Conversation{conv(5, 9, 10), conv(7, 2, 9)}
	h.api.msgs[7] = []model.Message{{ID: 1, CreatedAt: t0}}
	require.NoError(t, h.engine.RefreshConversations(context.Background()))
	require.NoError(t, h.engine.RefreshMessages(context.Background(), 7))

	events, unsub := h.bus.Subscribe("conversation.removed", 10)
	defer unsub()

	h.engine.mu.Lock()
	h.engine.selected, h.engine.hasSel = 7, true
	h.engine.mu.Unlock()

	h.api.set(func(f *fakeBackend) { f.convs = []model.Conversation{conv(5, 9, 10)} })
	require.NoError(t, h.engine.RefreshConversations(context.Background()))

	_, ok := h.engine.Selected()
	assert.False(t, ok)
	assert.False(t, h.msgs.Has(7))
	select {
	case evt := <-events:
		assert.Equal(t, int64(7), evt.Payload.(bus.ConversationRef).ConversationID)
	case <-time.After(time.Second):
		t.Fatal("no removal event")
	}
}

func TestAutoSelectFirstConversation(t *testing.T) {
	h := newHarness(t, Options{AutoSelect: true})
	h.api.convs = []model.Conversation{conv(7, 2, 9), conv(5, 9, 10)}

	require.NoError(t, h.engine.RefreshConversations(context.Background()))
	sel, ok := h.engine.Selected()
	require.True(t, ok)
	assert.Equal(t, int64(5), sel)

	h.api.set(func(f *fakeBackend) { f.convs = []model.Conversation{conv(7, 2, 9)} })
	require.NoError(t, h.engine.RefreshConversations(context.Background()))
	sel, _ = h.engine.Selected()
	assert.Equal(t, int64(7), sel)
}

func TestFetchMessagesResetsUnreadAndPaginates(t *testing.T) {
	h := newHarness(t, Options{PageSize: 2})
	c := conv(3, 2, 5)
	c.UnreadCount = 4
	h.api.convs = []model.Conversation{c}
	for i := 1; i <= 4; i++ {
		h.api.msgs[3] = append(h.api.msgs[3], model.Message{ID: int64(i), CreatedAt: t0.Add(time.Duration(i) * time.Hour)})
	}
	require.NoError(t, h.engine.RefreshConversations(context.Background()))

	// Serve the newest page only, like the server does for limit=2.
	h.api.set(func(f *fakeBackend) { f.msgs[3] = f.msgs[3][2:] })
	require.NoError(t, h.engine.RefreshMessages(context.Background(), 3))
	got, _ := h.convs.Get(3)
	assert.Equal(t, 0, got.UnreadCount)
	assert.Len(t, h.msgs.Get(3), 2)

	h.api.set(func(f *fakeBackend) {
		f.msgs[3] = append([]model.Message{{ID: 1, CreatedAt: t0.Add(time.Hour)}, {ID: 2, CreatedAt: t0.Add(2 * time.Hour)}}, f.msgs[3]...)
	})
	require.NoError(t, h.engine.FetchOlder(context.Background(), 3))

	h.api.mu.Lock()
	last := h.api.queries[len(h.api.queries)-1]
	h.api.mu.Unlock()
	assert.True(t, last.Before.Equal(t0.Add(3*time.Hour)))
	assert.Equal(t, 2, last.Limit)

	var ids []int64
	for _, m := range h.msgs.Get(3) {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)
}

func TestFailedMessageFetchLeavesCache(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.msgs[3] = []model.Message{{ID: 1, CreatedAt: t0}}
	require.NoError(t, h.engine.RefreshMessages(context.Background(), 3))

	h.api.set(func(f *fakeBackend) { f.msgErr = &apiclient.Error{Status: 500} })
	require.Error(t, h.engine.RefreshMessages(context.Background(), 3))
	assert.Len(t, h.msgs.Get(3), 1)
}

func TestRefreshStateWhileInFlight(t *testing.T) {
	h := newHarness(t, Options{})
	gate := make(chan struct{})
	h.api.gate = gate

	done := make(chan error, 2)
	go func() { done <- h.engine.RefreshConversations(context.Background()) }()
	go func() { done <- h.engine.RefreshConversations(context.Background()) }()

	require.Eventually(t, func() bool {
		calls, _ := h.api.calls()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, Refreshing, h.engine.State(ResourceConversations))

	close(gate)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	assert.Equal(t, Idle, h.engine.State(ResourceConversations))
}

func TestMergeMessageCountsUnreadForBackgroundConversation(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.convs = []model.Conversation{conv(5, 9, 10), conv(7, 2, 9)}
	require.NoError(t, h.engine.RefreshConversations(context.Background()))

	m := model.Message{ID: 900, ConversationID: 7, Sender: model.Participant{ID: 2}, CreatedAt: t0.Add(11 * time.Hour)}
	h.engine.MergeMessage(m)
	h.engine.MergeMessage(m)

	list := h.convs.List()
	assert.Equal(t, []int64{7, 5}, convIDs(list))
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Len(t, h.msgs.Get(7), 1)
}

func TestStartPollsAndFocusRefreshes(t *testing.T) {
	h := newHarness(t, Options{ConversationsInterval: time.Hour, MessagesInterval: time.Hour})
	h.api.convs = []model.Conversation{conv(5, 9, 10)}
	h.api.contacts = []model.Contact{{Participant: model.Participant{ID: 9}}}

	h.engine.Start(context.Background())
	assert.True(t, h.contacts.Loading() || h.contacts.Loaded())

	require.Eventually(t, func() bool {
		list, contacts := h.api.calls()
		return list == 1 && contacts == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, h.contacts.WaitLoaded(context.Background()))

	h.engine.Focus()
	require.Eventually(t, func() bool {
		list, _ := h.api.calls()
		return list == 2
	}, time.Second, 5*time.Millisecond)

	h.engine.Trigger()
	require.Eventually(t, func() bool {
		list, _ := h.api.calls()
		return list == 3
	}, time.Second, 5*time.Millisecond)
}

func TestOpenReturnsCachedPageImmediately(t *testing.T) {
	h := newHarness(t, Options{})
	h.msgs.Merge(3, []model.Message{{ID: 1, CreatedAt: t0}})
	h.api.msgs[3] = []model.Message{{ID: 1, CreatedAt: t0}, {ID: 2, CreatedAt: t0.Add(time.Minute)}}

	cached := h.engine.Open(3)
	assert.Len(t, cached, 1)

	require.Eventually(t, func() bool { return len(h.msgs.Get(3)) == 2 }, time.Second, 5*time.Millisecond)
	sel, ok := h.engine.Selected()
	assert.True(t, ok)
	assert.Equal(t, int64(3), sel)
}

func TestReconcilerWarmsCaches(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	recon := NewReconciler(db, zap.NewNop())
	recon.SaveConversations([]model.Conversation{conv(5, 9, 10)})
	recon.SaveMessages(5, []model.Message{{ID: 1, ConversationID: 5, CreatedAt: t0}})
	recon.SaveContacts([]model.Contact{{Participant: model.Participant{ID: 2, Username: "bob"}}})

	convs := cache.NewConversations(1)
	msgs := cache.NewMessages()
	contacts := cache.NewContacts(convs)
	require.NoError(t, recon.Warm(convs, msgs, contacts, 100))

	assert.Equal(t, 1, convs.Len())
	assert.False(t, convs.Loaded())
	assert.Len(t, msgs.Get(5), 1)
	assert.Len(t, contacts.All(), 1)
}

func TestNilReconcilerIsNoop(t *testing.T) {
	var r *Reconciler
	r.SaveConversations(nil)
	r.Forget(1)
	r.Checkpoint(ResourceContacts, nil)
	assert.NoError(t, r.Warm(nil, nil, nil, 0))
}

type flakyUsers struct {
	mu       gosync.Mutex
	convs    *cache.Conversations
	failures int
	calls    int
}

func (u *flakyUsers) EnsureUser(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.failures > 0 {
		u.failures--
		return &apiclient.Error{Status: 503}
	}
	u.convs.SetCurrentUser(1)
	return nil
}

func (u *flakyUsers) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func TestReadyWaitsForCurrentUser(t *testing.T) {
	h := newHarness(t, Options{ConversationsInterval: 20 * time.Millisecond})
	h.convs.SetCurrentUser(0)
	users := &flakyUsers{convs: h.convs, failures: 2}
	h.engine.SetUserSource(users)
	h.api.convs = []model.Conversation{conv(7, 2, 1)}

	require.NoError(t, h.engine.RefreshConversations(context.Background()))
	assert.NotEqual(t, status.Ready, h.machine.Current())
	assert.Empty(t, h.convs.DirectIndex())

	h.engine.Start(context.Background())
	require.Eventually(t, func() bool { return h.machine.Current() == status.Ready }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.convs.CurrentUser())
	assert.Equal(t, 3, users.count())

	idx := h.convs.DirectIndex()
	assert.NotContains(t, idx, int64(1))
	assert.Contains(t, idx, int64(2))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 3, users.count(), "user looked up again once known")
}

func TestSelectAfterStopStartsNoRefresh(t *testing.T) {
	h := newHarness(t, Options{})
	h.engine.Start(context.Background())
	h.engine.Stop()

	h.api.set(func(f *fakeBackend) { f.queries = nil })
	h.engine.Select(3)
	h.engine.Stop()

	sel, ok := h.engine.Selected()
	assert.True(t, ok)
	assert.Equal(t, int64(3), sel)
	h.api.set(func(f *fakeBackend) { assert.Empty(t, f.queries) })
}
