package cache

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// Contacts is the contact directory. Eligibility is derived from the
// conversation store's direct index on every read.
type Contacts struct {
	convs *Conversations

	mu       sync.RWMutex
	items    []model.Contact
	loaded   bool
	loading  bool
	stale    bool
	done     chan struct{}
	err      error
	loadedAt time.Time
}

// NewContacts creates a directory filtered against convs.
func NewContacts(convs *Conversations) *Contacts {
	return &Contacts{convs: convs, stale: true}
}

// All returns every fetched contact.
func (d *Contacts) All() []model.Contact {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.Contact(nil), d.items...)
}

// EligibleContacts returns contacts without an existing direct conversation.
func (d *Contacts) EligibleContacts() []model.Contact {
	idx := d.convs.DirectIndex()
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Contact, 0, len(d.items))
	for _, c := range d.items {
		if _, ok := idx[c.ID]; ok {
			continue
		}
		out = append(out, c)
	}
	return out
}

// BeginLoad marks a fetch in flight. Callers of WaitLoaded block until
// Replace or FailLoad.
func (d *Contacts) BeginLoad() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loading {
		return
	}
	d.loading = true
	d.done = make(chan struct{})
}

// Replace installs a fetched contact list.
func (d *Contacts) Replace(list []model.Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append([]model.Contact(nil), list...)
	d.loaded = true
	d.stale = false
	d.err = nil
	d.loadedAt = time.Now()
	d.finishLocked()
}

// FailLoad ends an in-flight fetch, keeping the previous list.
func (d *Contacts) FailLoad(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
	d.finishLocked()
}

// Restore installs a persisted list without marking it fresh.
func (d *Contacts) Restore(list []model.Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append([]model.Contact(nil), list...)
}

// Invalidate marks the list stale so the next refresh refetches it.
func (d *Contacts) Invalidate() {
	d.mu.Lock()
	d.stale = true
	d.mu.Unlock()
}

// Stale reports whether the list was invalidated or is older than maxAge.
func (d *Contacts) Stale(maxAge time.Duration) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stale || (maxAge > 0 && time.Since(d.loadedAt) > maxAge)
}

// Loading reports whether a fetch is in flight.
func (d *Contacts) Loading() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loading
}

// Loaded reports whether a fetch has ever succeeded.
func (d *Contacts) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// Err returns the last fetch error.
func (d *Contacts) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.err
}

// WaitLoaded blocks while a fetch is in flight.
func (d *Contacts) WaitLoaded(ctx context.Context) error {
	d.mu.RLock()
	loading, done := d.loading, d.done
	d.mu.RUnlock()
	if !loading {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Contacts) finishLocked() {
	if !d.loading {
		return
	}
	d.loading = false
	close(d.done)
}
