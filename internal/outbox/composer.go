// Package outbox is the send pipeline: it validates a drafted message,
// posts it and folds the server's copy into the caches.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/leebenson/conform"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/store"
	"go.uber.org/zap"
)

// MaxContentLength mirrors the server's limit on message content.
const MaxContentLength = 4000

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = fmt.Errorf("message content exceeds %d characters", MaxContentLength)
)

// MessageSender posts a message and returns the server's copy.
type MessageSender interface {
	SendMessage(ctx context.Context, convID int64, content string) (model.Message, error)
}

// DraftStore persists drafts. *store.DB implements it.
type DraftStore interface {
	SaveDraft(convID int64, content, lastError string) error
	LoadDraft(convID int64) (*store.Draft, error)
	DeleteDraft(convID int64) error
}

// Refresher is notified after a successful send.
type Refresher interface {
	Trigger()
}

type outgoing struct {
	ConversationID int64  `validate:"required,gt=0"`
	Content        string `conform:"trim" validate:"required,max=4000"`
}

// Composer sends messages. It does not serialize sends: two quick submits
// of the same text produce two messages.
type Composer struct {
	api      MessageSender
	convs    *cache.Conversations
	msgs     *cache.Messages
	drafts   DraftStore
	refresh  Refresher
	bus      *bus.Bus
	logger   *zap.Logger
	validate *validator.Validate

	mu      sync.Mutex
	pending map[int64]Draft
}

// Draft is the text in a conversation's input field and the error of the
// last failed send, if any.
type Draft struct {
	Content   string
	LastError string
}

// NewComposer creates a composer. drafts and refresh may be nil.
func NewComposer(api MessageSender, convs *cache.Conversations, msgs *cache.Messages, drafts DraftStore,
	refresh Refresher, b *bus.Bus, logger *zap.Logger) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		api:      api,
		convs:    convs,
		msgs:     msgs,
		drafts:   drafts,
		refresh:  refresh,
		bus:      b,
		logger:   logger,
		validate: validator.New(),
		pending:  make(map[int64]Draft),
	}
}

// SetDraft records the input field content of a conversation.
func (c *Composer) SetDraft(convID int64, content string) {
	c.mu.Lock()
	c.pending[convID] = Draft{Content: content}
	c.mu.Unlock()
	c.persist(convID, content, "")
}

// Draft returns the input field content of a conversation, falling back to
// the persisted draft.
func (c *Composer) Draft(convID int64) Draft {
	c.mu.Lock()
	d, ok := c.pending[convID]
	c.mu.Unlock()
	if ok || c.drafts == nil {
		return d
	}
	stored, err := c.drafts.LoadDraft(convID)
	if err != nil {
		c.logger.Warn("load draft failed", zap.Int64("conversation_id", convID), zap.Error(err))
		return Draft{}
	}
	if stored == nil {
		return Draft{}
	}
	d = Draft{Content: stored.Content, LastError: stored.LastError}
	c.mu.Lock()
	c.pending[convID] = d
	c.mu.Unlock()
	return d
}

// Send posts content to a conversation. On success the server's message is
// appended, the conversation moves to the head with its unread count at
// zero, and the draft is cleared. On failure nothing local changes except
// that the draft keeps the content and records the error; the caller
// resends manually.
func (c *Composer) Send(ctx context.Context, convID int64, content string) (model.Message, error) {
	out := outgoing{ConversationID: convID, Content: content}
	if err := conform.Strings(&out); err != nil {
		return model.Message{}, fmt.Errorf("sanitize message: %w", err)
	}
	if err := c.check(out); err != nil {
		return model.Message{}, err
	}

	msg, err := c.api.SendMessage(ctx, convID, out.Content)
	metrics.RecordSend(err)
	if err != nil {
		c.logger.Warn("send failed", zap.Int64("conversation_id", convID), zap.Error(err))
		c.keepDraft(convID, content, err)
		c.bus.Emit(bus.MessageSendFailed, bus.ConversationRef{ConversationID: convID, Reason: err.Error()})
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	if msg.ConversationID == 0 {
		msg.ConversationID = convID
	}

	c.msgs.Append(convID, msg)
	if !c.convs.Touch(convID, msg) && c.refresh != nil {
		c.refresh.Trigger()
	}
	c.clearDraft(convID)

	c.logger.Info("message sent", zap.Int64("conversation_id", convID), zap.Int64("message_id", msg.ID))
	c.bus.Emit(bus.MessageSent, bus.MessagesPayload{ConversationID: convID, MessageIDs: []int64{msg.ID}, Added: 1})
	return msg, nil
}

func (c *Composer) check(out outgoing) error {
	err := c.validate.Struct(out)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	for _, fe := range verrs {
		switch {
		case fe.Field() == "Content" && fe.Tag() == "required":
			return ErrEmptyContent
		case fe.Field() == "Content" && fe.Tag() == "max":
			return ErrContentTooLong
		case fe.Field() == "ConversationID":
			return fmt.Errorf("invalid conversation id %d", out.ConversationID)
		}
	}
	return err
}

func (c *Composer) keepDraft(convID int64, content string, sendErr error) {
	d := Draft{Content: content, LastError: sendErr.Error()}
	c.mu.Lock()
	c.pending[convID] = d
	c.mu.Unlock()
	c.persist(convID, d.Content, d.LastError)
}

func (c *Composer) clearDraft(convID int64) {
	c.mu.Lock()
	delete(c.pending, convID)
	c.mu.Unlock()
	if c.drafts == nil {
		return
	}
	if err := c.drafts.DeleteDraft(convID); err != nil {
		c.logger.Warn("delete draft failed", zap.Int64("conversation_id", convID), zap.Error(err))
	}
}

func (c *Composer) persist(convID int64, content, lastError string) {
	if c.drafts == nil {
		return
	}
	if err := c.drafts.SaveDraft(convID, content, lastError); err != nil {
		c.logger.Warn("save draft failed", zap.Int64("conversation_id", convID), zap.Error(err))
	}
}
