package status

import (
	"errors"
	"testing"

	"github.com/matheus3301/chatsync/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Booting {
		t.Errorf("initial state = %s, want BOOTING", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Booting, Connecting},
		{Booting, SignedOut},
		{Booting, Error},
		{SignedOut, Connecting},
		{Connecting, Syncing},
		{Syncing, Ready},
		{Ready, Degraded},
		{Degraded, Ready},
		{Ready, SignedOut},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	err := m.Transition(Ready)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Transition(BOOTING -> READY) error = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(SignedOut); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.StatusChanged {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.StatusChanged)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Booting || change.To != SignedOut {
		t.Errorf("change = %v -> %v, want BOOTING -> SIGNED_OUT", change.From, change.To)
	}
}

func TestReportSuccessWalksToReady(t *testing.T) {
	m := NewMachine(nil)
	m.ReportSuccess()
	if m.Current() != Ready {
		t.Errorf("state = %s, want READY", m.Current())
	}
}

func TestReportUnauthorizedThenRecover(t *testing.T) {
	m := NewMachine(nil)
	m.ReportSuccess()
	m.ReportUnauthorized()
	if m.Current() != SignedOut {
		t.Fatalf("state = %s, want SIGNED_OUT", m.Current())
	}
	m.ReportSuccess()
	if m.Current() != Ready {
		t.Errorf("state = %s, want READY", m.Current())
	}
}

func TestReportTransient(t *testing.T) {
	tests := []struct {
		from State
		want State
	}{
		{Booting, Booting},
		{SignedOut, SignedOut},
		{Connecting, Degraded},
		{Ready, Degraded},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			m.ReportTransient()
			if m.Current() != tt.want {
				t.Errorf("state = %s, want %s", m.Current(), tt.want)
			}
		})
	}
}

func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	for _, s := range pathTo(m.Current(), target) {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
	if m.Current() != target {
		t.Fatalf("walkTo(%s): stuck at %s", target, m.Current())
	}
}
