package status

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/convo/internal/bus"
)

// State represents a conversation lifecycle state.
type State string

const (
	Uninitialized State = "uninitialized"
	Initializing  State = "initializing"
	Ready         State = "ready"
	Backgrounded  State = "backgrounded"
	Suspended     State = "suspended"
	Error         State = "error"
)

// Active reports whether s exposes the conversation and its actions.
func (s State) Active() bool {
	return s == Ready || s == Backgrounded || s == Suspended
}

// Event is a dispatch that drives a transition.
type Event string

const (
	EventInit       Event = "init"
	EventReady      Event = "ready"
	EventResume     Event = "resume"
	EventBackground Event = "background"
	EventSuspend    Event = "suspend"
	EventError      Event = "error"
)

// ErrInvalidTransition is returned when a dispatch has no entry in the table.
var ErrInvalidTransition = errors.New("invalid transition")

// transitions defines the allowed (state, event) pairs and their target.
var transitions = map[State]map[Event]State{
	Uninitialized: {EventInit: Initializing, EventError: Error},
	Initializing:  {EventReady: Ready, EventError: Error},
	Ready:         {EventBackground: Backgrounded, EventSuspend: Suspended, EventError: Error},
	Backgrounded:  {EventResume: Ready, EventSuspend: Suspended, EventError: Error},
	Suspended:     {EventResume: Initializing, EventError: Error},
	Error:         {EventResume: Initializing},
}

// Next returns the state reached from `from` on evt.
func Next(from State, evt Event) (State, bool) {
	to, ok := transitions[from][evt]
	return to, ok
}

// Machine tracks and enforces conversation state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
	topic   string
}

// NewMachine creates a state machine starting in Uninitialized. Changes are
// published on b as "<topic>.status_changed".
func NewMachine(b *bus.Bus, topic string) *Machine {
	return &Machine{
		current: Uninitialized,
		bus:     b,
		topic:   topic,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Dispatch applies evt. It returns ErrInvalidTransition (wrapped) when the
// table has no entry for the current state.
func (m *Machine) Dispatch(evt Event) (StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	to, ok := Next(m.current, evt)
	if !ok {
		return StatusChange{}, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, m.current, evt)
	}
	change := StatusChange{From: m.current, To: to, Event: evt}
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.Topic(m.topic, "status_changed"),
			Timestamp: time.Now(),
			Payload:   change,
		})
	}
	return change, nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From  State
	To    State
	Event Event
}
