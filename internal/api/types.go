package api

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// Empty is the request and reply of calls without arguments or results.
type Empty struct{}

type IDRequest struct {
	ID int64 `json:"id"`
}

type ListConversationsRequest struct {
	Query      string `json:"query,omitempty"`
	UnreadOnly bool   `json:"unread_only,omitempty"`
}

// OpenRequest selects a conversation. With Wait the newest page is fetched
// before replying instead of in the background.
type OpenRequest struct {
	ID   int64 `json:"id"`
	Wait bool  `json:"wait,omitempty"`
}

// FetchOlderRequest pages backwards. A nil Before continues from the
// oldest cached message.
type FetchOlderRequest struct {
	ID     int64      `json:"id"`
	Before *time.Time `json:"before,omitempty"`
}

type SendRequest struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

type UsernameRequest struct {
	Username string `json:"username"`
}

// ResolveRequest takes a username or a /messages?user= link.
type ResolveRequest struct {
	Target string `json:"target"`
}

type ListContactsRequest struct {
	All bool `json:"all,omitempty"`
}

type SearchUsersRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// RefreshRequest names a resource: conversations, contacts or messages
// (with ID). Empty refreshes conversations and contacts.
type RefreshRequest struct {
	Resource string `json:"resource,omitempty"`
	ID       int64  `json:"id,omitempty"`
}

type SetDraftRequest struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

// WatchRequest filters events by kind prefix. Empty receives everything.
type WatchRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

type StatusReply struct {
	Profile            string      `json:"profile"`
	State              string      `json:"state"`
	Since              time.Time   `json:"since"`
	User               *model.User `json:"user"`
	Selected           int64       `json:"selected,omitempty"`
	Conversations      int         `json:"conversations"`
	Unread             int         `json:"unread"`
	Refreshing         []string    `json:"refreshing,omitempty"`
	ConversationsError string      `json:"conversations_error,omitempty"`
	DroppedEvents      uint64      `json:"dropped_events"`
}

// ConversationView is a conversation with its resolved display title.
type ConversationView struct {
	model.Conversation
	DisplayTitle string `json:"display_title"`
}

type ConversationsReply struct {
	Conversations []ConversationView `json:"conversations"`
}

type ConversationReply struct {
	Conversation ConversationView `json:"conversation"`
	Existing     bool             `json:"existing,omitempty"`
}

type MessagesReply struct {
	ConversationID int64           `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
	Draft          string          `json:"draft,omitempty"`
	DraftError     string          `json:"draft_error,omitempty"`
}

type SendReply struct {
	Message model.Message `json:"message"`
}

type ContactsReply struct {
	Contacts []model.Contact `json:"contacts"`
}

type UsersReply struct {
	Users []model.UserSummary `json:"users"`
}

// Event is a bus event as streamed by Watch.
type Event struct {
	ID        string          `json:"event_id"`
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}
