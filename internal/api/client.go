package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a daemon over its Unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon socket. The connection is established lazily
// on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, out any) error {
	in, err := encode(req)
	if err != nil {
		return err
	}
	reply := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, reply); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(reply, out)
}

func (c *Client) Status(ctx context.Context) (*StatusReply, error) {
	var out StatusReply
	return &out, c.invoke(ctx, "Status", Empty{}, &out)
}

func (c *Client) ListConversations(ctx context.Context, req ListConversationsRequest) ([]ConversationView, error) {
	var out ConversationsReply
	err := c.invoke(ctx, "ListConversations", req, &out)
	return out.Conversations, err
}

func (c *Client) GetConversation(ctx context.Context, id int64) (*ConversationReply, error) {
	var out ConversationReply
	return &out, c.invoke(ctx, "GetConversation", IDRequest{ID: id}, &out)
}

func (c *Client) Open(ctx context.Context, id int64, wait bool) (*MessagesReply, error) {
	var out MessagesReply
	return &out, c.invoke(ctx, "Open", OpenRequest{ID: id, Wait: wait}, &out)
}

// FetchOlder pages backwards from before, or from the oldest cached
// message when before is zero.
func (c *Client) FetchOlder(ctx context.Context, id int64, before time.Time) (*MessagesReply, error) {
	req := FetchOlderRequest{ID: id}
	if !before.IsZero() {
		req.Before = &before
	}
	var out MessagesReply
	return &out, c.invoke(ctx, "FetchOlder", req, &out)
}

func (c *Client) Send(ctx context.Context, id int64, content string) (*SendReply, error) {
	var out SendReply
	return &out, c.invoke(ctx, "Send", SendRequest{ID: id, Content: content}, &out)
}

func (c *Client) Start(ctx context.Context, username string) (*ConversationReply, error) {
	var out ConversationReply
	return &out, c.invoke(ctx, "Start", UsernameRequest{Username: username}, &out)
}

func (c *Client) Resolve(ctx context.Context, target string) (*ConversationReply, error) {
	var out ConversationReply
	return &out, c.invoke(ctx, "Resolve", ResolveRequest{Target: target}, &out)
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.invoke(ctx, "Delete", IDRequest{ID: id}, nil)
}

func (c *Client) MarkRead(ctx context.Context, id int64) error {
	return c.invoke(ctx, "MarkRead", IDRequest{ID: id}, nil)
}

func (c *Client) ListContacts(ctx context.Context, all bool) (*ContactsReply, error) {
	var out ContactsReply
	return &out, c.invoke(ctx, "ListContacts", ListContactsRequest{All: all}, &out)
}

func (c *Client) SearchUsers(ctx context.Context, query string, limit int) (*UsersReply, error) {
	var out UsersReply
	return &out, c.invoke(ctx, "SearchUsers", SearchUsersRequest{Query: query, Limit: limit}, &out)
}

func (c *Client) Refresh(ctx context.Context, resource string, id int64) error {
	return c.invoke(ctx, "Refresh", RefreshRequest{Resource: resource, ID: id}, nil)
}

func (c *Client) Focus(ctx context.Context) error {
	return c.invoke(ctx, "Focus", Empty{}, nil)
}

func (c *Client) SetDraft(ctx context.Context, id int64, content string) error {
	return c.invoke(ctx, "SetDraft", SetDraftRequest{ID: id, Content: content}, nil)
}

// EventStream receives events from Watch.
type EventStream struct {
	stream grpc.ClientStream
}

// Watch subscribes to events whose kind starts with namespace.
func (c *Client) Watch(ctx context.Context, namespace string) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Watch"))
	if err != nil {
		return nil, err
	}
	in, err := encode(WatchRequest{Namespace: namespace})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// Recv blocks for the next event. It returns io.EOF when the daemon ends
// the stream.
func (s *EventStream) Recv() (Event, error) {
	st := new(structpb.Struct)
	if err := s.stream.RecvMsg(st); err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		return Event{}, err
	}
	var evt Event
	return evt, decode(st, &evt)
}
