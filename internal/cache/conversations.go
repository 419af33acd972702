// Package cache holds the process-wide conversation, message and contact
// caches. All types are safe for concurrent use and return copies.
package cache

import (
	"math"
	"sort"
	"sync"

	"github.com/matheus3301/chatsync/internal/model"
)

// Conversations is the conversation summary store, kept ordered by most
// recent activity.
type Conversations struct {
	mu     sync.RWMutex
	me     int64
	items  []model.Conversation
	loaded bool
	err    error

	// seq orders local writes against in-flight fetches: a snapshot
	// fetched at sequence n cannot remove a conversation written after n
	// nor resurrect one removed after n.
	seq     uint64
	written map[int64]uint64
	removed map[int64]uint64
}

// NewConversations creates an empty store for the user with id me.
func NewConversations(me int64) *Conversations {
	return &Conversations{
		me:      me,
		written: make(map[int64]uint64),
		removed: make(map[int64]uint64),
	}
}

// Seq returns the current write sequence. Take it before issuing a fetch
// and pass it to MergeSince.
func (s *Conversations) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// SetCurrentUser changes the user the direct index is computed for.
func (s *Conversations) SetCurrentUser(me int64) {
	s.mu.Lock()
	s.me = me
	s.mu.Unlock()
}

// CurrentUser returns the id the direct index is computed for.
func (s *Conversations) CurrentUser() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.me
}

// List returns the conversations, most recent activity first.
func (s *Conversations) List() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, len(s.items))
	for i, c := range s.items {
		out[i] = c.Clone()
	}
	return out
}

// Len returns the number of cached conversations.
func (s *Conversations) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Get returns the conversation with id.
func (s *Conversations) Get(id int64) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.items[i].Clone(), true
	}
	return model.Conversation{}, false
}

// DirectIndex maps the other participant of every non-group conversation
// to that conversation. It is empty while the current user is unknown.
func (s *Conversations) DirectIndex() map[int64]model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := make(map[int64]model.Conversation)
	if s.me == 0 {
		return idx
	}
	for _, c := range s.items {
		if c.IsGroup {
			continue
		}
		for _, p := range c.Participants {
			if p.ID != s.me {
				idx[p.ID] = c.Clone()
			}
		}
	}
	return idx
}

// Upsert inserts or replaces c and repositions it by activity time.
func (s *Conversations) Upsert(c model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.written[c.ID] = s.seq
	delete(s.removed, c.ID)
	s.upsertLocked(c.Clone())
	s.sortLocked()
}

// Remove evicts the conversation with id. It reports whether it existed.
func (s *Conversations) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.removed[id] = s.seq
	delete(s.written, id)
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

// Removed reports whether id was removed locally and no snapshot has
// settled that removal yet.
func (s *Conversations) Removed(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.removed[id]
	return ok
}

// Merge applies an exhaustive server snapshot: every entry is upserted and
// local entries missing from the snapshot are removed. It returns the ids
// of removed conversations and clears the error flag.
func (s *Conversations) Merge(snapshot []model.Conversation) []int64 {
	return s.MergeSince(snapshot, math.MaxUint64)
}

// MergeSince is Merge for a snapshot whose fetch started at sequence
// since. Local writes made after since win over the snapshot.
func (s *Conversations) MergeSince(snapshot []model.Conversation, since uint64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]struct{}, len(snapshot))
	for _, c := range snapshot {
		seen[c.ID] = struct{}{}
		if seq, ok := s.removed[c.ID]; ok && seq > since {
			continue
		}
		s.upsertLocked(c.Clone())
	}

	var gone []int64
	kept := s.items[:0]
	for _, c := range s.items {
		_, inSnapshot := seen[c.ID]
		if inSnapshot || s.written[c.ID] > since {
			kept = append(kept, c)
			continue
		}
		gone = append(gone, c.ID)
		delete(s.written, c.ID)
	}
	s.items = kept
	for id, seq := range s.removed {
		if seq <= since {
			delete(s.removed, id)
		}
	}
	for id, seq := range s.written {
		if seq <= since {
			delete(s.written, id)
		}
	}
	s.sortLocked()
	s.loaded = true
	s.err = nil
	return gone
}

// Restore loads a persisted snapshot without touching the error flag or
// the loaded state.
func (s *Conversations) Restore(list []model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range list {
		s.upsertLocked(c.Clone())
	}
	s.sortLocked()
}

// Touch records msg as the conversation's last message, resets its unread
// count and moves it to its new position.
func (s *Conversations) Touch(id int64, msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, _ := s.recordLocked(id, msg)
	if i < 0 {
		return false
	}
	s.items[i].UnreadCount = 0
	return true
}

// Bump records an incoming msg as the last message and counts it unread
// when it is newer than what was held.
func (s *Conversations) Bump(id int64, msg model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, newer := s.recordLocked(id, msg)
	if i < 0 {
		return false
	}
	if newer {
		s.items[i].UnreadCount++
	}
	return true
}

// recordLocked sets msg as the last message when it is not older than the
// held one and re-sorts. It returns the conversation's new index.
func (s *Conversations) recordLocked(id int64, msg model.Message) (int, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return -1, false
	}
	s.seq++
	s.written[id] = s.seq
	c := s.items[i]
	newer := c.LastMessage == nil || c.LastMessage.Before(msg)
	if newer || c.LastMessage.ID == msg.ID {
		lm := msg
		c.LastMessage = &lm
	}
	s.items[i] = c
	s.sortLocked()
	return s.indexOf(id), newer
}

// MarkRead sets the unread count to zero and returns the previous value.
func (s *Conversations) MarkRead(id int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return 0, false
	}
	prev := s.items[i].UnreadCount
	s.items[i].UnreadCount = 0
	return prev, true
}

// RevertRead restores prev unless the count changed since MarkRead.
func (s *Conversations) RevertRead(id int64, prev int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 && s.items[i].UnreadCount == 0 {
		s.items[i].UnreadCount = prev
	}
}

// SetUnread overwrites the unread count.
func (s *Conversations) SetUnread(id int64, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		s.items[i].UnreadCount = n
	}
}

// SetError records a failed refresh. The cached list is kept.
func (s *Conversations) SetError(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Err returns the last refresh error, nil after a successful merge.
func (s *Conversations) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Loaded reports whether at least one server snapshot has been merged.
func (s *Conversations) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// upsertLocked replaces by id. A local last message newer than the
// incoming one survives together with its unread count, so a stale
// snapshot cannot roll back a confirmed send.
func (s *Conversations) upsertLocked(c model.Conversation) {
	i := s.indexOf(c.ID)
	if i < 0 {
		s.items = append([]model.Conversation{c}, s.items...)
		return
	}
	cur := s.items[i]
	if cur.LastMessage != nil && (c.LastMessage == nil || c.LastMessage.Before(*cur.LastMessage)) {
		c.LastMessage = cur.LastMessage
		c.UnreadCount = cur.UnreadCount
	}
	s.items[i] = c
}

func (s *Conversations) sortLocked() {
	sort.SliceStable(s.items, func(i, j int) bool {
		a, b := s.items[i].ActivityAt(), s.items[j].ActivityAt()
		if !a.Equal(b) {
			return a.After(b)
		}
		return s.items[i].ID > s.items[j].ID
	})
}

func (s *Conversations) indexOf(id int64) int {
	for i, c := range s.items {
		if c.ID == id {
			return i
		}
	}
	return -1
}
