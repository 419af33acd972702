package sync

import (
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/model"
	"go.uber.org/zap"
)

// Persister stores cache snapshots. *store.DB implements it.
type Persister interface {
	SaveConversations(list []model.Conversation) error
	LoadConversations() ([]model.Conversation, error)
	SaveMessages(convID int64, msgs []model.Message) error
	LoadMessages(convID int64, limit int) ([]model.Message, error)
	DeleteConversation(id int64) error
	SaveContacts(list []model.Contact) error
	LoadContacts() ([]model.Contact, error)
	MarkSynced(resource string, err error) error
}

// Reconciler mirrors cache changes to disk and warms the caches on start.
// A nil *Reconciler does nothing. Persistence failures are logged, never
// returned: the in-memory caches stay authoritative.
type Reconciler struct {
	p      Persister
	logger *zap.Logger
}

// NewReconciler creates a reconciler over p.
func NewReconciler(p Persister, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{p: p, logger: logger}
}

// Warm loads persisted conversations, their newest messages and contacts
// into the caches.
func (r *Reconciler) Warm(convs *cache.Conversations, msgs *cache.Messages, contacts *cache.Contacts, pageSize int) error {
	if r == nil {
		return nil
	}
	list, err := r.p.LoadConversations()
	if err != nil {
		return err
	}
	convs.Restore(list)
	for _, c := range list {
		page, err := r.p.LoadMessages(c.ID, pageSize)
		if err != nil {
			return err
		}
		if len(page) > 0 {
			msgs.Merge(c.ID, page)
		}
	}
	people, err := r.p.LoadContacts()
	if err != nil {
		return err
	}
	contacts.Restore(people)
	r.logger.Info("caches warmed from snapshot", zap.Int("conversations", len(list)), zap.Int("contacts", len(people)))
	return nil
}

// SaveConversations persists the current list.
func (r *Reconciler) SaveConversations(list []model.Conversation) {
	if r == nil {
		return
	}
	if err := r.p.SaveConversations(list); err != nil {
		r.logger.Warn("persist conversations failed", zap.Error(err))
	}
}

// SaveMessages persists a merged page.
func (r *Reconciler) SaveMessages(convID int64, msgs []model.Message) {
	if r == nil {
		return
	}
	if err := r.p.SaveMessages(convID, msgs); err != nil {
		r.logger.Warn("persist messages failed", zap.Int64("conversation_id", convID), zap.Error(err))
	}
}

// SaveContacts persists the contact list.
func (r *Reconciler) SaveContacts(list []model.Contact) {
	if r == nil {
		return
	}
	if err := r.p.SaveContacts(list); err != nil {
		r.logger.Warn("persist contacts failed", zap.Error(err))
	}
}

// Forget deletes a conversation's persisted state.
func (r *Reconciler) Forget(convID int64) {
	if r == nil {
		return
	}
	if err := r.p.DeleteConversation(convID); err != nil {
		r.logger.Warn("forget conversation failed", zap.Int64("conversation_id", convID), zap.Error(err))
	}
}

// Checkpoint records a refresh attempt for a resource.
func (r *Reconciler) Checkpoint(resource string, syncErr error) {
	if r == nil {
		return
	}
	if err := r.p.MarkSynced(resource, syncErr); err != nil {
		r.logger.Warn("checkpoint failed", zap.String("resource", resource), zap.Error(err))
	}
}
