package cache

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

func direct(id, me, other int64, lastHour int) model.Conversation {
	c := model.Conversation{
		ID:           id,
		CreatedAt:    t0,
		Participants: []model.Participant{{ID: me, Username: "me"}, {ID: other, Username: usernames[other]}},
	}
	if lastHour >= 0 {
		c.LastMessage = &model.Message{ID: id * 100, ConversationID: id, CreatedAt: at(lastHour)}
	}
	return c
}

var usernames = map[int64]string{2: "bob", 9: "amy", 3: "cat"}

func ids(list []model.Conversation) []int64 {
	out := make([]int64, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}

func TestUpsertKeepsActivityOrderAndUniqueIDs(t *testing.T) {
	s := NewConversations(1)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		id := int64(rng.Intn(20) + 1)
		s.Upsert(direct(id, 1, id+100, rng.Intn(48)))
	}

	list := s.List()
	seen := map[int64]bool{}
	for i, c := range list {
		assert.False(t, seen[c.ID], "duplicate id %d", c.ID)
		seen[c.ID] = true
		if i > 0 {
			assert.False(t, list[i-1].ActivityAt().Before(c.ActivityAt()), "list not sorted at %d", i)
		}
	}
}

func TestUpsertMovesConversationWithNewMessageToHead(t *testing.T) {
	s := NewConversations(1)
	s.Upsert(direct(7, 1, 2, 9))
	s.Upsert(direct(5, 1, 9, 10))
	assert.Equal(t, []int64{5, 7}, ids(s.List()))

	c := direct(7, 1, 2, 11)
	s.Upsert(c)
	assert.Equal(t, []int64{7, 5}, ids(s.List()))
}

func TestUpsertKeepsNewerLocalLastMessage(t *testing.T) {
	s := NewConversations(1)
	s.Upsert(direct(7, 1, 2, 9))
	require.True(t, s.Touch(7, model.Message{ID: 900, CreatedAt: at(11)}))

	stale := direct(7, 1, 2, 9)
	stale.UnreadCount = 4
	s.Upsert(stale)

	got, ok := s.Get(7)
	require.True(t, ok)
	assert.Equal(t, int64(900), got.LastMessage.ID)
	assert.Equal(t, 0, got.UnreadCount)
}

func TestDirectIndex(t *testing.T) {
	s := NewConversations(1)
	conv := direct(42, 1, 2, 1)
	group := model.Conversation{ID: 50, IsGroup: true, CreatedAt: t0, Participants: []model.Participant{{ID: 1}, {ID: 3}, {ID: 4}}}
	s.Upsert(conv)
	s.Upsert(group)

	idx := s.DirectIndex()
	require.Contains(t, idx, int64(2))
	assert.Equal(t, int64(42), idx[2].ID)
	assert.NotContains(t, idx, int64(1))
	assert.NotContains(t, idx, int64(3))

	unknown := NewConversations(0)
	unknown.Upsert(conv)
	assert.Empty(t, unknown.DirectIndex(), "indexed before the current user is known")
	unknown.SetCurrentUser(1)
	assert.Contains(t, unknown.DirectIndex(), int64(2))
}

func TestMergeRemovesMissingConversations(t *testing.T) {
	s := NewConversations(1)
	s.Upsert(direct(5, 1, 2, 10))
	s.Upsert(direct(7, 1, 9, 9))
	s.SetError(assert.AnError)

	removed := s.Merge([]model.Conversation{direct(5, 1, 2, 10)})
	assert.Equal(t, []int64{7}, removed)
	assert.Equal(t, []int64{5}, ids(s.List()))
	assert.NoError(t, s.Err())
	assert.True(t, s.Loaded())
}

func TestMergeIsIdempotent(t *testing.T) {
	s := NewConversations(1)
	snap := []model.Conversation{direct(5, 1, 2, 10), direct(7, 1, 9, 9), direct(8, 1, 3, -1)}
	s.Merge(snap)
	first := s.List()
	s.Merge(snap)
	assert.Equal(t, first, s.List())
}

func TestTouchScenario(t *testing.T) {
	s := NewConversations(1)
	s.Merge([]model.Conversation{direct(5, 1, 2, 10), direct(7, 1, 9, 9)})
	s.SetUnread(7, 3)

	sent := model.Message{ID: 77, ConversationID: 7, Content: "yo", CreatedAt: at(11)}
	require.True(t, s.Touch(7, sent))

	list := s.List()
	assert.Equal(t, []int64{7, 5}, ids(list))
	assert.Equal(t, 0, list[0].UnreadCount)
	assert.Equal(t, int64(77), list[0].LastMessage.ID)
}

func TestFailedRefreshKeepsList(t *testing.T) {
	s := NewConversations(1)
	s.Merge([]model.Conversation{direct(5, 1, 2, 10)})
	s.SetError(assert.AnError)
	assert.Equal(t, 1, s.Len())
	assert.ErrorIs(t, s.Err(), assert.AnError)
}

func msg(id int64, h int) model.Message {
	return model.Message{ID: id, CreatedAt: at(h)}
}

func msgIDs(list []model.Message) []int64 {
	out := make([]int64, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func TestMessagesAppendIsIdempotent(t *testing.T) {
	s := NewMessages()
	m := model.Message{ID: 1, Content: "hi", CreatedAt: at(1)}
	assert.True(t, s.Append(3, m))
	assert.False(t, s.Append(3, m))
	got := s.Get(3)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Content)
	assert.Equal(t, int64(3), got[0].ConversationID)
}

func TestMessagesOrderWithTimestampTies(t *testing.T) {
	s := NewMessages()
	s.Merge(1, []model.Message{msg(5, 2), msg(3, 2), msg(9, 1)})
	assert.Equal(t, []int64{9, 3, 5}, msgIDs(s.Get(1)))
}

func TestBackwardPageNeverShrinksOrReorders(t *testing.T) {
	s := NewMessages()
	s.Merge(1, []model.Message{msg(10, 10), msg(11, 11), msg(12, 12)})
	before := s.Get(1)

	oldest, ok := s.Oldest(1)
	require.True(t, ok)
	assert.True(t, oldest.Equal(at(10)))

	// The older page overlaps one held message; it must dedup.
	added := s.Merge(1, []model.Message{msg(7, 7), msg(8, 8), msg(10, 10)})
	assert.Equal(t, 2, added)

	after := s.Get(1)
	assert.GreaterOrEqual(t, len(after), len(before))
	assert.Equal(t, []int64{7, 8, 10, 11, 12}, msgIDs(after))
}

func TestMergeOverwritesEditedMessage(t *testing.T) {
	s := NewMessages()
	s.Append(1, model.Message{ID: 1, Content: "draft", CreatedAt: at(1)})
	s.Merge(1, []model.Message{{ID: 1, Content: "final", Edited: true, CreatedAt: at(1)}})
	got := s.Get(1)
	require.Len(t, got, 1)
	assert.Equal(t, "final", got[0].Content)
	assert.True(t, got[0].Edited)
}

func TestEvict(t *testing.T) {
	s := NewMessages()
	s.Merge(1, nil)
	assert.True(t, s.Has(1))
	s.Evict(1)
	assert.False(t, s.Has(1))
	assert.Empty(t, s.Get(1))
}

func TestEligibleContactsFollowsDirectIndex(t *testing.T) {
	convs := NewConversations(1)
	dir := NewContacts(convs)
	dir.Replace([]model.Contact{{Participant: model.Participant{ID: 9, Username: "amy"}}})
	require.Len(t, dir.EligibleContacts(), 1)

	convs.Upsert(model.Conversation{ID: 42, CreatedAt: t0, Participants: []model.Participant{{ID: 1}, {ID: 9}}})
	assert.Empty(t, dir.EligibleContacts())
	assert.Equal(t, int64(42), convs.DirectIndex()[9].ID)

	convs.Remove(42)
	dir.Invalidate()
	dir.Replace([]model.Contact{{Participant: model.Participant{ID: 9, Username: "amy"}}})
	eligible := dir.EligibleContacts()
	require.Len(t, eligible, 1)
	assert.Equal(t, int64(9), eligible[0].ID)
}

func TestWaitLoaded(t *testing.T) {
	dir := NewContacts(NewConversations(1))
	require.NoError(t, dir.WaitLoaded(context.Background()))

	dir.BeginLoad()
	assert.True(t, dir.Loading())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, dir.WaitLoaded(ctx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- dir.WaitLoaded(context.Background()) }()
	dir.Replace(nil)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitLoaded did not return after Replace")
	}
	assert.False(t, dir.Loading())
	assert.False(t, dir.Stale(time.Minute))
}

func TestFailLoadReleasesWaiters(t *testing.T) {
	dir := NewContacts(NewConversations(1))
	dir.Replace([]model.Contact{{Participant: model.Participant{ID: 2}}})
	dir.BeginLoad()
	dir.FailLoad(assert.AnError)
	assert.NoError(t, dir.WaitLoaded(context.Background()))
	assert.Len(t, dir.All(), 1)
	assert.ErrorIs(t, dir.Err(), assert.AnError)
}

func TestStaleSnapshotKeepsLaterLocalWrites(t *testing.T) {
	s := NewConversations(1)
	s.Merge([]model.Conversation{direct(5, 1, 2, 10), direct(7, 1, 9, 9)})

	since := s.Seq()
	// While the fetch is in flight: a conversation is started and one is deleted.
	s.Upsert(direct(42, 1, 3, -1))
	s.Remove(7)

	removed := s.MergeSince([]model.Conversation{direct(5, 1, 2, 10), direct(7, 1, 9, 9)}, since)
	assert.Empty(t, removed)
	_, ok := s.Get(7)
	assert.False(t, ok, "deleted conversation resurrected by stale snapshot")
	_, ok = s.Get(42)
	assert.True(t, ok, "started conversation dropped by stale snapshot")

	// A snapshot fetched after the writes is authoritative again.
	removed = s.MergeSince([]model.Conversation{direct(5, 1, 2, 10)}, s.Seq())
	assert.Equal(t, []int64{42}, removed)
}

func TestBumpCountsUnread(t *testing.T) {
	s := NewConversations(1)
	s.Merge([]model.Conversation{direct(5, 1, 2, 10)})
	m := model.Message{ID: 600, CreatedAt: at(12)}
	require.True(t, s.Bump(5, m))
	require.True(t, s.Bump(5, m))
	got, _ := s.Get(5)
	assert.Equal(t, 1, got.UnreadCount)
	assert.Equal(t, int64(600), got.LastMessage.ID)
}

func TestMarkReadAndRevert(t *testing.T) {
	s := NewConversations(1)
	s.Merge([]model.Conversation{direct(5, 1, 2, 10)})
	s.SetUnread(5, 4)

	prev, ok := s.MarkRead(5)
	require.True(t, ok)
	assert.Equal(t, 4, prev)
	s.RevertRead(5, prev)
	got, _ := s.Get(5)
	assert.Equal(t, 4, got.UnreadCount)
}
