package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// MessageQuery selects a page of messages. Zero Limit lets the server pick
// its default; zero Before asks for the newest page.
type MessageQuery struct {
	Limit  int
	Before time.Time
}

// ListConversations returns every conversation of the current user.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	_, err := c.do(ctx, request{method: http.MethodGet, route: "/chat/conversations/", path: "/chat/conversations/"}, &out)
	return out, err
}

// GetConversation fetches one conversation summary.
func (c *Client) GetConversation(ctx context.Context, id int64) (model.Conversation, error) {
	var out model.Conversation
	_, err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/chat/conversations/{id}/",
		path:   fmt.Sprintf("/chat/conversations/%d/", id),
	}, &out)
	return out, err
}

// StartConversation gets or creates the direct conversation with username.
func (c *Client) StartConversation(ctx context.Context, username string) (model.Conversation, error) {
	var out model.Conversation
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/chat/conversations/start/",
		path:   "/chat/conversations/start/",
		body:   map[string]string{"username": username},
	}, &out)
	return out, err
}

// ListMessages fetches a page of messages, oldest first within the page.
// The server marks the conversation read as a side effect.
func (c *Client) ListMessages(ctx context.Context, id int64, q MessageQuery) ([]model.Message, error) {
	query := url.Values{}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if !q.Before.IsZero() {
		query.Set("before", q.Before.UTC().Format(time.RFC3339Nano))
	}
	var out []model.Message
	_, err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/chat/conversations/{id}/messages/",
		path:   fmt.Sprintf("/chat/conversations/%d/messages/", id),
		query:  query,
	}, &out)
	return out, err
}

// SendMessage posts a message and returns the server's copy.
func (c *Client) SendMessage(ctx context.Context, id int64, content string) (model.Message, error) {
	var out model.Message
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/chat/conversations/{id}/messages/",
		path:   fmt.Sprintf("/chat/conversations/%d/messages/", id),
		body:   map[string]string{"content": content},
	}, &out)
	return out, err
}

// MarkRead marks a conversation read and returns the server's detail.
func (c *Client) MarkRead(ctx context.Context, id int64) (string, error) {
	var out struct {
		Detail string `json:"detail"`
	}
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		route:  "/chat/conversations/{id}/mark-read/",
		path:   fmt.Sprintf("/chat/conversations/%d/mark-read/", id),
	}, &out)
	return out.Detail, err
}

// ListContacts returns follow-based contact candidates.
func (c *Client) ListContacts(ctx context.Context) ([]model.Contact, error) {
	var out []model.Contact
	_, err := c.do(ctx, request{method: http.MethodGet, route: "/chat/contacts/", path: "/chat/contacts/"}, &out)
	return out, err
}

// DeleteConversation deletes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	_, err := c.do(ctx, request{
		method: http.MethodDelete,
		route:  "/chat/conversations/{id}/",
		path:   fmt.Sprintf("/chat/conversations/%d/", id),
	}, nil)
	return err
}
