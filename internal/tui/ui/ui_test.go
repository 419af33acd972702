package ui

import (
	"errors"
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorTextUsesStatusMessage(t *testing.T) {
	err := status.Error(codes.InvalidArgument, "Ensure this field has no more than 4000 characters.")
	if got := ErrorText(err); got != "Ensure this field has no more than 4000 characters." {
		t.Errorf("ErrorText = %q", got)
	}
	if got := ErrorText(errors.New("plain")); got != "plain" {
		t.Errorf("ErrorText = %q", got)
	}
}

func TestFlashModel(t *testing.T) {
	f := NewFlashModel()
	if f.Current() != nil {
		t.Fatal("new model should be empty")
	}
	f.Err(status.Error(codes.NotFound, "Not found."))
	msg := f.Current()
	if msg == nil || msg.Level != FlashErr || msg.Text != "Not found." {
		t.Fatalf("current = %+v", msg)
	}
	select {
	case got := <-f.Watch():
		if got.Text != "Not found." {
			t.Errorf("watched %q", got.Text)
		}
	default:
		t.Error("no message on watch channel")
	}
	f.Err(nil)
	if f.Current().Text != "Not found." {
		t.Error("nil error replaced the message")
	}
}

func TestTag(t *testing.T) {
	for _, c := range []tcell.Color{tcell.ColorOrange, tcell.ColorDodgerBlue} {
		if got := tcell.GetColor(Tag(c)); got != c {
			t.Errorf("Tag(%v) round trip = %v", c, got)
		}
	}
	if got := Tag(tcell.NewRGBColor(1, 2, 3)); !strings.HasPrefix(got, "#") {
		t.Errorf("Tag(rgb) = %q", got)
	}
}

type page struct {
	*tview.Box
	name string
}

func newPage(name string) *page { return &page{Box: tview.NewBox(), name: name} }

func (p *page) Name() string { return p.name }

func TestPagesStack(t *testing.T) {
	p := NewPages()
	a, b, c := newPage("A"), newPage("B"), newPage("C")
	p.Add("a", a)
	p.Add("b", b)
	p.Add("c", c)

	var crumbs []string
	p.SetOnChange(func(_ Component, cr []string) { crumbs = cr })

	p.Reset("a")
	p.Push("b")
	p.Push("c")
	if got := strings.Join(crumbs, ">"); got != "A>B>C" {
		t.Fatalf("crumbs = %q", got)
	}
	p.Push("b")
	if p.TopKey() != "b" || strings.Join(crumbs, ">") != "A>B" {
		t.Fatalf("push to existing page: top %q crumbs %v", p.TopKey(), crumbs)
	}
	if !p.Pop() || p.TopKey() != "a" {
		t.Fatalf("pop: top %q", p.TopKey())
	}
	if p.Pop() {
		t.Error("popped the last page")
	}
}
