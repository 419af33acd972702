package ui

import "github.com/rivo/tview"

// MenuHint describes a keyboard shortcut for display in the menu.
type MenuHint struct {
	Key         string
	Description string
}

// Component is a page of the TUI. Its name is shown in the breadcrumbs.
type Component interface {
	tview.Primitive
	Name() string
}
