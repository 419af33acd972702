// Package deeplink opens a conversation from a "message this user" link,
// starting one when none exists yet.
package deeplink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leebenson/conform"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrEmptyUsername = errors.New("username is empty")

// Starter get-or-creates a direct conversation with a user.
type Starter interface {
	StartConversation(ctx context.Context, username string) (model.Conversation, error)
}

// Selector opens a conversation.
type Selector interface {
	Select(convID int64)
}

// ContactsRefresher refetches the contact directory.
type ContactsRefresher interface {
	RefreshContacts(ctx context.Context) error
}

// Result is the conversation a link resolved to.
type Result struct {
	Conversation model.Conversation
	// Existing is true when the conversation was already cached and no
	// start request was made.
	Existing bool
}

type target struct {
	Username string `conform:"trim,lower"`
}

// Resolver maps usernames to conversations.
type Resolver struct {
	api      Starter
	convs    *cache.Conversations
	contacts *cache.Contacts
	selector Selector
	refresh  ContactsRefresher
	bus      *bus.Bus
	logger   *zap.Logger

	starts singleflight.Group
}

// NewResolver creates a resolver. refresh may be nil.
func NewResolver(api Starter, convs *cache.Conversations, contacts *cache.Contacts, selector Selector,
	refresh ContactsRefresher, b *bus.Bus, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		api:      api,
		convs:    convs,
		contacts: contacts,
		selector: selector,
		refresh:  refresh,
		bus:      b,
		logger:   logger,
	}
}

// Resolve selects the direct conversation with username, starting it if
// needed. While contacts are loading it waits instead of starting, and
// concurrent calls for the same username share one start request.
func (r *Resolver) Resolve(ctx context.Context, username string) (Result, error) {
	name, err := normalize(username)
	if err != nil {
		return Result{}, err
	}
	if conv, ok := r.find(name); ok {
		r.selector.Select(conv.ID)
		return Result{Conversation: conv, Existing: true}, nil
	}

	if r.contacts != nil && r.contacts.Loading() {
		r.logger.Debug("resolve deferred until contacts load", zap.String("username", name))
		if err := r.contacts.WaitLoaded(ctx); err != nil {
			return Result{}, fmt.Errorf("wait for contacts: %w", err)
		}
		if conv, ok := r.find(name); ok {
			r.selector.Select(conv.ID)
			return Result{Conversation: conv, Existing: true}, nil
		}
	}

	conv, err := r.start(ctx, name)
	if err != nil {
		return Result{}, err
	}
	return Result{Conversation: conv}, nil
}

// Start get-or-creates the conversation with username without looking at
// the cache first.
func (r *Resolver) Start(ctx context.Context, username string) (model.Conversation, error) {
	name, err := normalize(username)
	if err != nil {
		return model.Conversation{}, err
	}
	return r.start(ctx, name)
}

func (r *Resolver) start(ctx context.Context, name string) (model.Conversation, error) {
	ch := r.starts.DoChan(name, func() (any, error) {
		return r.doStart(context.WithoutCancel(ctx), name)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return model.Conversation{}, res.Err
		}
		return res.Val.(model.Conversation), nil
	case <-ctx.Done():
		return model.Conversation{}, ctx.Err()
	}
}

func (r *Resolver) doStart(ctx context.Context, name string) (model.Conversation, error) {
	r.logger.Info("starting conversation", zap.String("username", name))
	conv, err := r.api.StartConversation(ctx, name)
	if err != nil {
		r.logger.Warn("start conversation failed", zap.String("username", name), zap.Error(err))
		return model.Conversation{}, fmt.Errorf("start conversation with %s: %w", name, err)
	}

	r.convs.Upsert(conv)
	r.bus.Emit(bus.ConversationUpserted, bus.ConversationRef{ConversationID: conv.ID, Reason: "started"})
	r.selector.Select(conv.ID)

	if r.contacts != nil {
		r.contacts.Invalidate()
	}
	if r.refresh != nil {
		if err := r.refresh.RefreshContacts(ctx); err != nil {
			r.logger.Warn("contacts refresh after start failed", zap.Error(err))
		}
	}
	return conv, nil
}

// find returns the cached direct conversation whose other participant has
// the given lower-cased username. Nothing matches while the current user
// is unknown; the server's start call returns the existing conversation.
func (r *Resolver) find(name string) (model.Conversation, bool) {
	me := r.convs.CurrentUser()
	if me == 0 {
		return model.Conversation{}, false
	}
	for _, c := range r.convs.List() {
		if c.IsGroup {
			continue
		}
		for _, p := range c.Participants {
			if p.ID != me && strings.EqualFold(p.Username, name) {
				return c, true
			}
		}
	}
	return model.Conversation{}, false
}

func normalize(username string) (string, error) {
	t := target{Username: username}
	if err := conform.Strings(&t); err != nil {
		return "", fmt.Errorf("sanitize username: %w", err)
	}
	t.Username = strings.TrimPrefix(t.Username, "@")
	if t.Username == "" {
		return "", ErrEmptyUsername
	}
	return t.Username, nil
}
