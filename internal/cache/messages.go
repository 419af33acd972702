package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// Messages holds per-conversation message lists in (created_at, id) order.
type Messages struct {
	mu     sync.RWMutex
	byConv map[int64][]model.Message
}

// NewMessages creates an empty message store.
func NewMessages() *Messages {
	return &Messages{byConv: make(map[int64][]model.Message)}
}

// Get returns the cached messages of a conversation, oldest first.
func (s *Messages) Get(convID int64) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message(nil), s.byConv[convID]...)
}

// Has reports whether any page of the conversation is cached.
func (s *Messages) Has(convID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byConv[convID]
	return ok
}

// Merge folds a fetched page into the conversation. Messages already held
// are overwritten in place; new ones are inserted at their ordered
// position. It returns the number of new messages. An empty page still
// marks the conversation as cached.
func (s *Messages) Merge(convID int64, page []model.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.byConv[convID]
	added := 0
	for _, m := range page {
		m.ConversationID = convID
		if i := indexByID(list, m.ID); i >= 0 {
			// created_at is immutable server-side, so the position holds.
			list[i] = m
			continue
		}
		pos := sort.Search(len(list), func(i int) bool { return !list[i].Before(m) })
		list = append(list, model.Message{})
		copy(list[pos+1:], list[pos:])
		list[pos] = m
		added++
	}
	if list == nil {
		list = []model.Message{}
	}
	s.byConv[convID] = list
	return added
}

// Append adds one message. It is a no-op when the id is already held.
func (s *Messages) Append(convID int64, m model.Message) bool {
	return s.Merge(convID, []model.Message{m}) == 1
}

// Oldest returns the timestamp of the oldest held message, the cursor for
// fetching the previous page.
func (s *Messages) Oldest(convID int64) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byConv[convID]
	if len(list) == 0 {
		return time.Time{}, false
	}
	return list[0].CreatedAt, true
}

// Evict drops every message of the conversation.
func (s *Messages) Evict(convID int64) {
	s.mu.Lock()
	delete(s.byConv, convID)
	s.mu.Unlock()
}

func indexByID(list []model.Message, id int64) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}
