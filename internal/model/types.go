// Package model holds the wire types exchanged with the chat backend.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Participant is a user snapshot embedded in conversations and messages.
type Participant struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	FullName  string  `json:"full_name"`
	Avatar    *string `json:"avatar,omitempty"`
}

// Message is a chat message. ID is unique within a conversation.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	Sender         Participant `json:"sender"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"created_at"`
	Edited         bool        `json:"edited"`
	Deleted        bool        `json:"deleted"`
}

// Before reports whether m sorts before o in (created_at, id) order.
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// Conversation is a conversation summary as returned by the list endpoint.
type Conversation struct {
	ID           int64         `json:"id"`
	Title        string        `json:"title"`
	IsGroup      bool          `json:"is_group"`
	CreatedAt    time.Time     `json:"created_at"`
	Participants []Participant `json:"participants"`
	LastMessage  *Message      `json:"last_message"`
	UnreadCount  int           `json:"unread_count"`
}

// ActivityAt is the time used to order conversations: the last message
// timestamp, or the creation time when there is no message yet.
func (c Conversation) ActivityAt() time.Time {
	if c.LastMessage != nil {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

// Other returns the first participant whose id differs from me.
func (c Conversation) Other(me int64) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID != me {
			return p, true
		}
	}
	return Participant{}, false
}

// DisplayTitle is the label shown for a conversation: the group title,
// else the other participant's full name or username.
func (c Conversation) DisplayTitle(me int64) string {
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	if p, ok := c.Other(me); ok {
		if p.FullName != "" {
			return p.FullName
		}
		if p.Username != "" {
			return p.Username
		}
	}
	return fmt.Sprintf("Conversation %d", c.ID)
}

// Clone returns a deep copy so callers can mutate the result freely.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]Participant(nil), c.Participants...)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}

// Contact is a participant eligible to start a conversation with.
type Contact struct {
	Participant
	YouFollow  bool `json:"you_follow"`
	FollowsYou bool `json:"follows_you"`
}

// ProfileSummary is the nested profile block of user payloads.
type ProfileSummary struct {
	DisplayName   string  `json:"display_name"`
	PhoneNumber   *string `json:"phone_number"`
	Avatar        *string `json:"avatar"`
	EmailVerified bool    `json:"email_verified"`
}

// User is the authenticated user returned by the dashboard endpoint.
type User struct {
	ID        int64          `json:"id"`
	Username  string         `json:"username"`
	Email     string         `json:"email"`
	FirstName string         `json:"first_name"`
	LastName  string         `json:"last_name"`
	Profile   ProfileSummary `json:"profile"`
}

// UserSummary is a user directory search result.
type UserSummary struct {
	ID             int64          `json:"id"`
	Username       string         `json:"username"`
	FirstName      string         `json:"first_name"`
	LastName       string         `json:"last_name"`
	FullName       string         `json:"full_name"`
	DisplayName    string         `json:"display_name"`
	Profile        ProfileSummary `json:"profile"`
	FollowersCount int            `json:"followers_count"`
	FollowingCount int            `json:"following_count"`
	PostsCount     int            `json:"posts_count"`
	IsFollowing    bool           `json:"is_following"`
	IsSelf         bool           `json:"is_self"`
}
