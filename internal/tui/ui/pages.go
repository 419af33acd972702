package ui

import "github.com/rivo/tview"

// Pages is a stack of named components over tview.Pages. The page names
// double as breadcrumbs.
type Pages struct {
	*tview.Pages
	stack    []Component
	byName   map[string]Component
	onChange func(top Component, crumbs []string)
}

// NewPages creates an empty page stack.
func NewPages() *Pages {
	return &Pages{
		Pages:  tview.NewPages(),
		byName: make(map[string]Component),
	}
}

// Add registers c hidden under its own key.
func (p *Pages) Add(key string, c Component) {
	p.byName[key] = c
	p.AddPage(key, c, true, false)
}

// SetOnChange sets a callback fired after every stack change.
func (p *Pages) SetOnChange(fn func(top Component, crumbs []string)) {
	p.onChange = fn
}

// Push shows key on top. A page already on the stack is popped back to
// instead of being pushed twice.
func (p *Pages) Push(key string) {
	c, ok := p.byName[key]
	if !ok {
		return
	}
	for i, s := range p.stack {
		if s == c {
			p.truncate(i + 1)
			return
		}
	}
	if top := p.Top(); top != nil {
		p.HidePage(p.keyOf(top))
	}
	p.stack = append(p.stack, c)
	p.show(key)
}

// Pop removes the top page unless it is the last one. It reports whether
// a page was removed.
func (p *Pages) Pop() bool {
	if len(p.stack) <= 1 {
		return false
	}
	p.truncate(len(p.stack) - 1)
	return true
}

// Reset makes key the only page.
func (p *Pages) Reset(key string) {
	c, ok := p.byName[key]
	if !ok {
		return
	}
	for _, s := range p.stack {
		p.HidePage(p.keyOf(s))
	}
	p.stack = []Component{c}
	p.show(key)
}

// Top returns the visible component.
func (p *Pages) Top() Component {
	if len(p.stack) == 0 {
		return nil
	}
	return p.stack[len(p.stack)-1]
}

// TopKey returns the key of the visible component.
func (p *Pages) TopKey() string {
	if top := p.Top(); top != nil {
		return p.keyOf(top)
	}
	return ""
}

func (p *Pages) truncate(n int) {
	for _, s := range p.stack[n:] {
		p.HidePage(p.keyOf(s))
	}
	p.stack = p.stack[:n]
	p.show(p.keyOf(p.Top()))
}

func (p *Pages) show(key string) {
	p.ShowPage(key)
	p.SendToFront(key)
	if p.onChange != nil {
		crumbs := make([]string, len(p.stack))
		for i, s := range p.stack {
			crumbs[i] = s.Name()
		}
		p.onChange(p.Top(), crumbs)
	}
}

func (p *Pages) keyOf(c Component) string {
	for k, v := range p.byName {
		if v == c {
			return k
		}
	}
	return ""
}
