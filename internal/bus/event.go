package bus

import "time"

// Event kinds. Namespaces are the part before the first dot.
const (
	ConversationsRefreshed = "conversation.refreshed"
	ConversationUpserted   = "conversation.upserted"
	ConversationRemoved    = "conversation.removed"
	ConversationSelected   = "conversation.selected"
	MessagesMerged         = "message.merged"
	MessageSent            = "message.sent"
	MessageSendFailed      = "message.send_failed"
	ContactsRefreshed      = "contact.refreshed"
	RefreshStateChanged    = "sync.state_changed"
	RefreshFailed          = "sync.refresh_failed"
	StatusChanged          = "session.status_changed"
	PushConnected          = "push.connected"
	PushDisconnected       = "push.disconnected"
)

// Event is a change notification. Payload is one of the payload types
// below or a status.StatusChange.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ConversationRef identifies the conversation an event is about.
type ConversationRef struct {
	ConversationID int64  `json:"conversation_id"`
	Reason         string `json:"reason,omitempty"`
}

// MessagesPayload reports merged or sent messages.
type MessagesPayload struct {
	ConversationID int64   `json:"conversation_id"`
	MessageIDs     []int64 `json:"message_ids"`
	Added          int     `json:"added"`
}

// RefreshPayload reports a resource's refresh state or failure.
type RefreshPayload struct {
	Resource string `json:"resource"`
	State    string `json:"state,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CountPayload reports the size of a refreshed collection.
type CountPayload struct {
	Count int `json:"count"`
}
