// Package chat is the facade the daemon's RPC layer talks to. It owns the
// operations that touch several caches at once: delete, mark-read, start,
// and session bootstrap.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/deeplink"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"go.uber.org/zap"
)

// DefaultSearchLimit is the number of users the web app asks for.
const DefaultSearchLimit = 8

var (
	// ErrNotFound is returned for conversations missing from the cache.
	ErrNotFound = errors.New("conversation not found")
	// ErrSignedOut is returned when the backend reports no signed-in user.
	ErrSignedOut = errors.New("session is not authenticated")
)

// Backend is the subset of the REST client the facade calls.
type Backend interface {
	DeleteConversation(ctx context.Context, id int64) error
	MarkRead(ctx context.Context, id int64) (string, error)
	Me(ctx context.Context) (*model.User, error)
	SearchUsers(ctx context.Context, q string, limit int, includeSelf bool) ([]model.UserSummary, error)
	EnsureCSRF(ctx context.Context) error
}

// Syncer is the part of the sync engine the facade drives.
type Syncer interface {
	ClearSelectionIf(convID int64)
	RefreshContacts(ctx context.Context) error
	Trigger()
}

// Forgetter drops persisted state of a deleted conversation.
type Forgetter interface {
	Forget(convID int64)
}

// Options configures login links.
type Options struct {
	LoginURL       string
	FrontendOrigin string
}

// Service combines the caches, the engine and the resolver.
type Service struct {
	api      Backend
	convs    *cache.Conversations
	msgs     *cache.Messages
	contacts *cache.Contacts
	engine   Syncer
	resolver *deeplink.Resolver
	forget   Forgetter
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger
	opts     Options

	mu   sync.RWMutex
	user *model.User
}

// Deps groups the collaborators of a Service.
type Deps struct {
	API      Backend
	Convs    *cache.Conversations
	Msgs     *cache.Messages
	Contacts *cache.Contacts
	Engine   Syncer
	Resolver *deeplink.Resolver
	Forget   Forgetter
	Machine  *status.Machine
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// NewService creates the facade. Forget and Machine may be nil.
func NewService(d Deps, opts Options) *Service {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{
		api:      d.API,
		convs:    d.Convs,
		msgs:     d.Msgs,
		contacts: d.Contacts,
		engine:   d.Engine,
		resolver: d.Resolver,
		forget:   d.Forget,
		machine:  d.Machine,
		bus:      d.Bus,
		logger:   d.Logger,
		opts:     opts,
	}
}

// Bootstrap prepares the session: it fetches the CSRF cookie and learns
// the current user. A nil user means the session is signed out. On a
// failure the engine keeps retrying through EnsureUser.
func (s *Service) Bootstrap(ctx context.Context) (*model.User, error) {
	s.enter(status.Connecting)
	if err := s.api.EnsureCSRF(ctx); err != nil {
		s.logger.Warn("csrf bootstrap failed", zap.Error(err))
	}
	err := s.EnsureUser(ctx)
	switch {
	case errors.Is(err, ErrSignedOut):
		return nil, nil
	case err != nil:
		if s.machine != nil {
			s.machine.ReportTransient()
		}
		return nil, err
	}
	return s.CurrentUser(), nil
}

// EnsureUser fetches the current user unless the conversation store
// already knows it. It returns ErrSignedOut when nobody is signed in.
func (s *Service) EnsureUser(ctx context.Context) error {
	if s.convs.CurrentUser() != 0 && s.CurrentUser() != nil {
		return nil
	}
	user, err := s.Me(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		if s.machine != nil {
			s.machine.ReportUnauthorized()
		}
		s.logger.Warn("session is not authenticated")
		return ErrSignedOut
	}
	s.enter(status.Syncing)
	s.logger.Info("signed in", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	return nil
}

func (s *Service) enter(st status.State) {
	if s.machine == nil || s.machine.Current() == st {
		return
	}
	if err := s.machine.Transition(st); err != nil {
		s.logger.Debug("status transition skipped", zap.String("to", string(st)), zap.Error(err))
	}
}

// Me returns the authenticated user and records its id as the current
// user of the conversation store.
func (s *Service) Me(ctx context.Context) (*model.User, error) {
	user, err := s.api.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch current user: %w", err)
	}
	if user != nil {
		s.convs.SetCurrentUser(user.ID)
	}
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
	return user, nil
}

// CurrentUser returns the user learned by the last Me call, or nil.
func (s *Service) CurrentUser() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Conversation returns a cached conversation.
func (s *Service) Conversation(id int64) (model.Conversation, error) {
	c, ok := s.convs.Get(id)
	if !ok {
		return model.Conversation{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return c, nil
}

// Title is the display label of a conversation.
func (s *Service) Title(c model.Conversation) string {
	return c.DisplayTitle(s.convs.CurrentUser())
}

// Delete removes a conversation on the server and, once that succeeds,
// from every cache. Its participant becomes an eligible contact again.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.api.DeleteConversation(ctx, id); err != nil {
		s.logger.Warn("delete conversation failed", zap.Int64("conversation_id", id), zap.Error(err))
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}

	s.convs.Remove(id)
	s.msgs.Evict(id)
	s.engine.ClearSelectionIf(id)
	if s.forget != nil {
		s.forget.Forget(id)
	}
	s.logger.Info("conversation deleted", zap.Int64("conversation_id", id))
	s.bus.Emit(bus.ConversationRemoved, bus.ConversationRef{ConversationID: id, Reason: "deleted"})

	s.contacts.Invalidate()
	if err := s.engine.RefreshContacts(ctx); err != nil {
		s.logger.Warn("contacts refresh after delete failed", zap.Error(err))
	}
	s.engine.Trigger()
	return nil
}

// MarkRead zeroes the unread count right away and restores it if the
// server rejects the call.
func (s *Service) MarkRead(ctx context.Context, id int64) error {
	if _, ok := s.convs.Get(id); !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	err := outbox.Run(ctx,
		func() func() {
			prev, _ := s.convs.MarkRead(id)
			return func() { s.convs.RevertRead(id, prev) }
		},
		func(ctx context.Context) error {
			_, err := s.api.MarkRead(ctx, id)
			return err
		})
	if err != nil {
		return fmt.Errorf("mark conversation %d read: %w", id, err)
	}
	s.bus.Emit(bus.ConversationUpserted, bus.ConversationRef{ConversationID: id, Reason: "read"})
	return nil
}

// Start get-or-creates the direct conversation with username and selects it.
func (s *Service) Start(ctx context.Context, username string) (model.Conversation, error) {
	return s.resolver.Start(ctx, username)
}

// Resolve opens the conversation a deep link points at.
func (s *Service) Resolve(ctx context.Context, username string) (deeplink.Result, error) {
	return s.resolver.Resolve(ctx, username)
}

// SearchUsers looks users up by name. A blank query returns nothing.
func (s *Service) SearchUsers(ctx context.Context, q string, limit int) ([]model.UserSummary, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	users, err := s.api.SearchUsers(ctx, q, limit, false)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

// LoginURL is the OAuth login link that returns to next on the frontend.
// An empty next means /home.
func (s *Service) LoginURL(next string) (string, error) {
	return LoginURL(s.opts.LoginURL, s.opts.FrontendOrigin, next)
}

// LoginURL adds the process and next parameters the backend's social
// login view expects to loginURL.
func LoginURL(loginURL, origin, next string) (string, error) {
	u, err := url.Parse(loginURL)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("invalid login url %q", loginURL)
	}
	if next == "" {
		next = "/home"
	}
	if !strings.HasPrefix(next, "/") {
		next = "/" + next
	}
	q := u.Query()
	q.Set("process", "login")
	q.Set("next", strings.TrimRight(origin, "/")+next)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DeepLink is the frontend link that opens the conversation with username.
func (s *Service) DeepLink(username string) (string, error) {
	return deeplink.URL(s.opts.FrontendOrigin, username)
}
