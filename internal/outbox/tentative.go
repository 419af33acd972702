package outbox

import (
	"context"
	"sync"
)

// Tentative is a state change applied before the server confirms it. It
// ends either confirmed, keeping the change, or reverted, restoring the
// state captured when it was applied. Only the first of the two counts.
type Tentative struct {
	mu      sync.Mutex
	revert  func()
	settled bool
}

// Apply runs apply now and keeps the revert function it returns.
func Apply(apply func() (revert func())) *Tentative {
	return &Tentative{revert: apply()}
}

// Confirm keeps the applied change.
func (t *Tentative) Confirm() {
	t.mu.Lock()
	t.settled = true
	t.mu.Unlock()
}

// Revert restores the pre-change state unless already settled.
func (t *Tentative) Revert() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled {
		return
	}
	t.settled = true
	if t.revert != nil {
		t.revert()
	}
}

// Run applies a change, performs call and confirms on success or reverts
// on error. call's error is returned unchanged.
func Run(ctx context.Context, apply func() (revert func()), call func(context.Context) error) error {
	t := Apply(apply)
	if err := call(ctx); err != nil {
		t.Revert()
		return err
	}
	t.Confirm()
	return nil
}
