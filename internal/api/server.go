// Package api exposes the daemon over gRPC on the profile's Unix socket
// and provides the matching client used by chatctl and chattui.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/deeplink"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Deps are the components the server reads and drives.
type Deps struct {
	Profile  string
	Chat     *chat.Service
	Engine   *chatsync.Engine
	Composer *outbox.Composer
	Convs    *cache.Conversations
	Msgs     *cache.Messages
	Contacts *cache.Contacts
	Machine  *status.Machine
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// Server implements ChatSyncServer.
type Server struct {
	Deps
}

// NewServer creates the service implementation.
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Server{Deps: d}
}

var _ ChatSyncServer = (*Server)(nil)

func (s *Server) Status(_ context.Context, _ *Empty) (*StatusReply, error) {
	reply := &StatusReply{
		Profile:       s.Profile,
		State:         string(s.Machine.Current()),
		Since:         s.Machine.Since(),
		User:          s.Chat.CurrentUser(),
		DroppedEvents: s.Bus.Dropped(),
	}
	list := s.Convs.List()
	reply.Conversations = len(list)
	for _, c := range list {
		reply.Unread += c.UnreadCount
	}
	resources := []string{chatsync.ResourceConversations, chatsync.ResourceContacts}
	if id, ok := s.Engine.Selected(); ok {
		reply.Selected = id
		resources = append(resources, chatsync.MessagesResource(id))
	}
	for _, r := range resources {
		if s.Engine.State(r) == chatsync.Refreshing {
			reply.Refreshing = append(reply.Refreshing, r)
		}
	}
	if err := s.Convs.Err(); err != nil {
		reply.ConversationsError = err.Error()
	}
	return reply, nil
}

func (s *Server) ListConversations(_ context.Context, req *ListConversationsRequest) (*ConversationsReply, error) {
	query := strings.ToLower(strings.TrimSpace(req.Query))
	reply := &ConversationsReply{Conversations: []ConversationView{}}
	for _, c := range s.Convs.List() {
		if req.UnreadOnly && c.UnreadCount == 0 {
			continue
		}
		v := s.view(c)
		if query != "" && !matches(v, query) {
			continue
		}
		reply.Conversations = append(reply.Conversations, v)
	}
	return reply, nil
}

func matches(v ConversationView, query string) bool {
	if strings.Contains(strings.ToLower(v.DisplayTitle), query) {
		return true
	}
	for _, p := range v.Participants {
		if strings.Contains(strings.ToLower(p.Username), query) {
			return true
		}
	}
	return false
}

func (s *Server) GetConversation(_ context.Context, req *IDRequest) (*ConversationReply, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	c, err := s.Chat.Conversation(req.ID)
	if err != nil {
		return nil, err
	}
	return &ConversationReply{Conversation: s.view(c)}, nil
}

func (s *Server) Open(ctx context.Context, req *OpenRequest) (*MessagesReply, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	if req.Wait {
		if err := s.Engine.RefreshMessages(ctx, req.ID); err != nil {
			return nil, err
		}
	}
	return s.messages(req.ID, s.Engine.Open(req.ID)), nil
}

func (s *Server) FetchOlder(ctx context.Context, req *FetchOlderRequest) (*MessagesReply, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	var err error
	if req.Before != nil {
		err = s.Engine.FetchMessages(ctx, req.ID, chatsync.FetchOptions{Before: *req.Before})
	} else {
		err = s.Engine.FetchOlder(ctx, req.ID)
	}
	if err != nil {
		return nil, err
	}
	return s.messages(req.ID, s.Msgs.Get(req.ID)), nil
}

func (s *Server) Send(ctx context.Context, req *SendRequest) (*SendReply, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	msg, err := s.Composer.Send(ctx, req.ID, req.Content)
	if err != nil {
		return nil, err
	}
	return &SendReply{Message: msg}, nil
}

func (s *Server) Start(ctx context.Context, req *UsernameRequest) (*ConversationReply, error) {
	c, err := s.Chat.Start(ctx, req.Username)
	if err != nil {
		return nil, err
	}
	return &ConversationReply{Conversation: s.view(c)}, nil
}

func (s *Server) Resolve(ctx context.Context, req *ResolveRequest) (*ConversationReply, error) {
	name, err := deeplink.ParseURL(req.Target)
	if err != nil {
		if errors.Is(err, deeplink.ErrEmptyUsername) {
			return nil, err
		}
		return nil, invalidArgument(err.Error())
	}
	res, err := s.Chat.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return &ConversationReply{Conversation: s.view(res.Conversation), Existing: res.Existing}, nil
}

func (s *Server) Delete(ctx context.Context, req *IDRequest) (*Empty, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	if err := s.Chat.Delete(ctx, req.ID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) MarkRead(ctx context.Context, req *IDRequest) (*Empty, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	if err := s.Chat.MarkRead(ctx, req.ID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) ListContacts(ctx context.Context, req *ListContactsRequest) (*ContactsReply, error) {
	if !s.Contacts.Loaded() {
		if err := s.Contacts.WaitLoaded(ctx); err != nil {
			return nil, err
		}
		if !s.Contacts.Loaded() {
			if err := s.Engine.RefreshContacts(ctx); err != nil {
				return nil, err
			}
		}
	}
	list := s.Contacts.EligibleContacts()
	if req.All {
		list = s.Contacts.All()
	}
	if list == nil {
		list = []model.Contact{}
	}
	return &ContactsReply{Contacts: list}, nil
}

func (s *Server) SearchUsers(ctx context.Context, req *SearchUsersRequest) (*UsersReply, error) {
	users, err := s.Chat.SearchUsers(ctx, req.Query, req.Limit)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []model.UserSummary{}
	}
	return &UsersReply{Users: users}, nil
}

func (s *Server) Refresh(ctx context.Context, req *RefreshRequest) (*Empty, error) {
	var err error
	switch req.Resource {
	case "", "all":
		err = errors.Join(s.Engine.RefreshConversations(ctx), s.Engine.RefreshContacts(ctx))
	case chatsync.ResourceConversations:
		err = s.Engine.RefreshConversations(ctx)
	case chatsync.ResourceContacts:
		err = s.Engine.RefreshContacts(ctx)
	case "messages":
		if err := requireID(req.ID); err != nil {
			return nil, err
		}
		err = s.Engine.RefreshMessages(ctx, req.ID)
	default:
		return nil, invalidArgument(fmt.Sprintf("unknown resource %q", req.Resource))
	}
	if err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *Server) Focus(_ context.Context, _ *Empty) (*Empty, error) {
	s.Engine.Focus()
	return &Empty{}, nil
}

func (s *Server) SetDraft(_ context.Context, req *SetDraftRequest) (*Empty, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	s.Composer.SetDraft(req.ID, req.Content)
	return &Empty{}, nil
}

func (s *Server) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	ch, unsubscribe := s.Bus.Subscribe(req.Namespace, 256)
	defer unsubscribe()

	for {
		select {
		case evt := <-ch:
			out, err := eventOf(evt)
			if err != nil {
				s.Logger.Warn("encode watch event failed", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			st, err := encode(out)
			if err != nil {
				return toStatus(err)
			}
			if err := stream.SendMsg(st); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func eventOf(evt bus.Event) (Event, error) {
	out := Event{ID: evt.ID, Kind: evt.Kind, Timestamp: evt.Timestamp}
	if evt.Payload != nil {
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return Event{}, err
		}
		out.Payload = payload
	}
	return out, nil
}

func (s *Server) view(c model.Conversation) ConversationView {
	return ConversationView{Conversation: c, DisplayTitle: s.Chat.Title(c)}
}

func (s *Server) messages(convID int64, msgs []model.Message) *MessagesReply {
	if msgs == nil {
		msgs = []model.Message{}
	}
	draft := s.Composer.Draft(convID)
	return &MessagesReply{
		ConversationID: convID,
		Messages:       msgs,
		Draft:          draft.Content,
		DraftError:     draft.LastError,
	}
}

func requireID(id int64) error {
	if id <= 0 {
		return invalidArgument(fmt.Sprintf("invalid conversation id %d", id))
	}
	return nil
}
