// Package keys maps key events to actions, globally or per page.
package keys

import "github.com/gdamore/tcell/v2"

// Action is a key binding.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches reports whether ev triggers a.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Label is the key as shown in hints.
func (a *Action) Label() string {
	if a.Key == tcell.KeyRune {
		return string(a.Rune)
	}
	return tcell.KeyNames[a.Key]
}

// Registry holds bindings in registration order. Page bindings win over
// global ones.
type Registry struct {
	global []*Action
	pages  map[string][]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pages: make(map[string][]*Action)}
}

// AddGlobal registers a binding active on every page.
func (r *Registry) AddGlobal(a *Action) {
	r.global = append(r.global, a)
}

// AddPage registers a binding active on one page.
func (r *Registry) AddPage(page string, a *Action) {
	r.pages[page] = append(r.pages[page], a)
}

// Hints returns the visible bindings of page, page bindings first. A
// global binding shadowed by a page binding is left out.
func (r *Registry) Hints(page string) []*Action {
	var out []*Action
	for _, a := range r.pages[page] {
		if a.Visible {
			out = append(out, a)
		}
	}
	for _, a := range r.global {
		if a.Visible && !r.shadowed(page, a) {
			out = append(out, a)
		}
	}
	return out
}

// HandleEvent runs the first binding of page, then the first global one,
// matching ev. It reports whether one ran. Bindings without a handler only
// document a key the focused widget handles itself.
func (r *Registry) HandleEvent(page string, ev *tcell.EventKey) bool {
	for _, a := range r.pages[page] {
		if a.Handler != nil && a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.global {
		if a.Handler != nil && a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}

func (r *Registry) shadowed(page string, g *Action) bool {
	for _, a := range r.pages[page] {
		if a.Key == g.Key && a.Rune == g.Rune {
			return true
		}
	}
	return false
}
