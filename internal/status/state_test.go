package status

import (
	"errors"
	"testing"

	"github.com/matheus3301/convo/internal/bus"
)

// walk dispatches the given events in order, failing on the first rejection.
func walk(t *testing.T, m *Machine, events ...Event) {
	t.Helper()
	for _, e := range events {
		if _, err := m.Dispatch(e); err != nil {
			t.Fatalf("dispatch %s failed: %v", e, err)
		}
	}
}

func TestInitialState(t *testing.T) {
	m := NewMachine(nil, "convo.c1")
	if m.Current() != Uninitialized {
		t.Errorf("initial state = %s, want uninitialized", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []Event
		want State
	}{
		{"init", []Event{EventInit}, Initializing},
		{"ready", []Event{EventInit, EventReady}, Ready},
		{"background", []Event{EventInit, EventReady, EventBackground}, Backgrounded},
		{"foreground", []Event{EventInit, EventReady, EventBackground, EventResume}, Ready},
		{"suspend from ready", []Event{EventInit, EventReady, EventSuspend}, Suspended},
		{"suspend from background", []Event{EventInit, EventReady, EventBackground, EventSuspend}, Suspended},
		{"resume after suspend re-initializes", []Event{EventInit, EventReady, EventSuspend, EventResume}, Initializing},
		{"init failure", []Event{EventInit, EventError}, Error},
		{"retry after error", []Event{EventInit, EventError, EventResume}, Initializing},
		{"error while backgrounded", []Event{EventInit, EventReady, EventBackground, EventError}, Error},
		{"error while suspended", []Event{EventInit, EventReady, EventSuspend, EventError}, Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil, "convo.c1")
			walk(t, m, tt.path...)
			if m.Current() != tt.want {
				t.Errorf("state = %s, want %s", m.Current(), tt.want)
			}
		})
	}
}

func TestInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []Event
		bad  Event
	}{
		{"ready before init", nil, EventReady},
		{"background while initializing", []Event{EventInit}, EventBackground},
		{"resume while ready", []Event{EventInit, EventReady}, EventResume},
		{"init twice", []Event{EventInit}, EventInit},
		{"error twice", []Event{EventInit, EventError}, EventError},
		{"background while suspended", []Event{EventInit, EventReady, EventSuspend}, EventBackground},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil, "convo.c1")
			walk(t, m, tt.path...)
			before := m.Current()
			_, err := m.Dispatch(tt.bad)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("Dispatch(%s) error = %v, want ErrInvalidTransition", tt.bad, err)
			}
			if m.Current() != before {
				t.Errorf("state changed to %s on rejected dispatch", m.Current())
			}
		})
	}
}

func TestDispatchEmitsEvent(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("convo.c1.", 10)
	defer unsub()

	m := NewMachine(b, "convo.c1")
	if _, err := m.Dispatch(EventInit); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != "convo.c1.status_changed" {
		t.Errorf("event kind = %q, want convo.c1.status_changed", evt.Kind)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Uninitialized || change.To != Initializing || change.Event != EventInit {
		t.Errorf("change = %+v, want uninitialized -init-> initializing", change)
	}
}

// TestEveryStateReachesError verifies that every state except Error itself can
// fail, so a broken conversation never gets stuck.
func TestEveryStateReachesError(t *testing.T) {
	for from := range transitions {
		to, ok := Next(from, EventError)
		if from == Error {
			if ok {
				t.Errorf("Error should not re-enter Error")
			}
			continue
		}
		if !ok || to != Error {
			t.Errorf("Next(%s, error) = %s, %v; want error", from, to, ok)
		}
	}
}

func TestActive(t *testing.T) {
	active := map[State]bool{
		Uninitialized: false,
		Initializing:  false,
		Ready:         true,
		Backgrounded:  true,
		Suspended:     true,
		Error:         false,
	}
	for s, want := range active {
		if s.Active() != want {
			t.Errorf("%s.Active() = %v, want %v", s, s.Active(), want)
		}
	}
}
