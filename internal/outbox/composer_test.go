package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/apiclient"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

type mockSender struct {
	mu    sync.Mutex
	calls []string
	err   error
	next  int64
	at    time.Time
}

func (m *mockSender) SendMessage(_ context.Context, convID int64, content string) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, content)
	if m.err != nil {
		return model.Message{}, m.err
	}
	m.next++
	return model.Message{ID: 100 + m.next, ConversationID: convID, Content: content, CreatedAt: m.at}, nil
}

type countingRefresher struct{ n int }

func (r *countingRefresher) Trigger() { r.n++ }

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func withLast(id int64, at string) model.Conversation {
	ts, _ := time.Parse(time.RFC3339, at)
	return model.Conversation{
		ID:           id,
		CreatedAt:    t0,
		Participants: []model.Participant{{ID: 1}, {ID: id + 1}},
		LastMessage:  &model.Message{ID: id * 10, ConversationID: id, CreatedAt: ts},
	}
}

func newComposer(t *testing.T, sender *mockSender, drafts DraftStore) (*Composer, *cache.Conversations, *cache.Messages) {
	t.Helper()
	convs := cache.NewConversations(1)
	msgs := cache.NewMessages()
	c := NewComposer(sender, convs, msgs, drafts, nil, bus.New(), zap.NewNop())
	return c, convs, msgs
}

func TestSendPromotesConversation(t *testing.T) {
	ts, _ := time.Parse(time.RFC3339, "2024-01-01T11:00:00Z")
	sender := &mockSender{at: ts}
	c, convs, msgs := newComposer(t, sender, nil)

	convs.Merge([]model.Conversation{withLast(5, "2024-01-01T10:00:00Z"), withLast(7, "2024-01-01T09:00:00Z")})
	convs.SetUnread(7, 2)
	c.SetDraft(7, "  hello  ")

	msg, err := c.Send(context.Background(), 7, "  hello  ")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if msg.Content != "hello" {
		t.Errorf("sent content = %q, want trimmed %q", msg.Content, "hello")
	}

	list := convs.List()
	if list[0].ID != 7 || list[1].ID != 5 {
		t.Fatalf("order = [%d %d], want [7 5]", list[0].ID, list[1].ID)
	}
	if list[0].UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", list[0].UnreadCount)
	}
	if list[0].LastMessage.ID != msg.ID {
		t.Errorf("last message = %d, want %d", list[0].LastMessage.ID, msg.ID)
	}
	if got := msgs.Get(7); len(got) != 1 || got[0].ID != msg.ID {
		t.Errorf("messages = %+v", got)
	}
	if d := c.Draft(7); d.Content != "" {
		t.Errorf("draft after success = %q, want empty", d.Content)
	}
}

func TestSendFailureKeepsDraftAndCaches(t *testing.T) {
	sender := &mockSender{err: &apiclient.Error{Status: 400, Detail: "Ensure this field has no more than 4000 characters."}}
	c, convs, msgs := newComposer(t, sender, nil)
	convs.Merge([]model.Conversation{withLast(5, "2024-01-01T10:00:00Z"), withLast(7, "2024-01-01T09:00:00Z")})
	before := convs.List()

	_, err := c.Send(context.Background(), 7, "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := apiclient.DetailOf(err); got != "Ensure this field has no more than 4000 characters." {
		t.Errorf("detail = %q", got)
	}
	if len(msgs.Get(7)) != 0 {
		t.Error("failed send appended a message")
	}
	after := convs.List()
	if after[0].ID != before[0].ID || after[0].LastMessage.ID != before[0].LastMessage.ID {
		t.Error("failed send changed the conversation list")
	}
	d := c.Draft(7)
	if d.Content != "hello" || d.LastError == "" {
		t.Errorf("draft = %+v, want content kept with error", d)
	}
	if len(sender.calls) != 1 {
		t.Errorf("send attempts = %d, want 1 (no retry)", len(sender.calls))
	}
}

func TestSendValidation(t *testing.T) {
	sender := &mockSender{}
	c, _, _ := newComposer(t, sender, nil)

	tests := []struct {
		name    string
		convID  int64
		content string
		want    error
	}{
		{"blank", 1, "   \n\t", ErrEmptyContent},
		{"empty", 1, "", ErrEmptyContent},
		{"too long", 1, strings.Repeat("é", MaxContentLength+1), ErrContentTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Send(context.Background(), tt.convID, tt.content)
			if !errors.Is(err, tt.want) {
				t.Errorf("Send() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := c.Send(context.Background(), 0, "hi"); err == nil {
		t.Error("expected error for conversation id 0")
	}
	if _, err := c.Send(context.Background(), 1, strings.Repeat("é", MaxContentLength)); err != nil {
		t.Errorf("content at the limit rejected: %v", err)
	}
	if len(sender.calls) != 1 {
		t.Errorf("backend calls = %d, want 1", len(sender.calls))
	}
}

func TestDuplicateSendsAreIndependent(t *testing.T) {
	sender := &mockSender{at: t0}
	c, convs, msgs := newComposer(t, sender, nil)
	convs.Merge([]model.Conversation{withLast(5, "2023-12-31T10:00:00Z")})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Send(context.Background(), 5, "same"); err != nil {
				t.Errorf("Send() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(msgs.Get(5)); got != 2 {
		t.Errorf("messages = %d, want 2", got)
	}
}

func TestSendToUncachedConversationTriggersRefresh(t *testing.T) {
	sender := &mockSender{at: t0}
	convs := cache.NewConversations(1)
	r := &countingRefresher{}
	c := NewComposer(sender, convs, cache.NewMessages(), nil, r, bus.New(), zap.NewNop())

	if _, err := c.Send(context.Background(), 9, "hi"); err != nil {
		t.Fatal(err)
	}
	if r.n != 1 {
		t.Errorf("refresh triggers = %d, want 1", r.n)
	}
}

func TestDraftsPersist(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	sender := &mockSender{err: &apiclient.Error{Status: 502}}
	c, _, _ := newComposer(t, sender, db)
	_, _ = c.Send(context.Background(), 3, "unsent")

	// A fresh composer sees the persisted draft.
	fresh, _, _ := newComposer(t, sender, db)
	d := fresh.Draft(3)
	if d.Content != "unsent" || d.LastError == "" {
		t.Errorf("draft = %+v", d)
	}
}

func TestTentativeRevertAndConfirm(t *testing.T) {
	state := 4
	apply := func() func() {
		prev := state
		state = 0
		return func() { state = prev }
	}

	err := Run(context.Background(), apply, func(context.Context) error { return errors.New("boom") })
	if err == nil || state != 4 {
		t.Errorf("after failed call: err=%v state=%d, want error and 4", err, state)
	}

	if err := Run(context.Background(), apply, func(context.Context) error { return nil }); err != nil {
		t.Fatal(err)
	}
	if state != 0 {
		t.Errorf("after confirmed call: state=%d, want 0", state)
	}

	tent := Apply(apply)
	tent.Confirm()
	tent.Revert()
	if state != 0 {
		t.Error("Revert after Confirm restored state")
	}
}
