package events

import "github.com/matheus3301/convo/internal/chat"

// Event is delivered to a subscription handler. It is one of Connected,
// Failure or Logs.
type Event interface {
	isEvent()
}

// Connected is sent once the poller has reached the server log, and again
// after every successful Reconnect.
type Connected struct{}

// Failure is sent when polling stops. Recoverable failures can be resumed
// with Reconnect from the last cursor; the others need a new session.
type Failure struct {
	Err         error
	Recoverable bool
}

// Logs carries the log events routed to one conversation, in log order.
type Logs struct {
	Events []chat.LogEvent
}

func (Connected) isEvent() {}
func (Failure) isEvent()   {}
func (Logs) isEvent()      {}

// Handler receives events for a subscription. It is called from the poll
// goroutine and must not block.
type Handler func(Event)

// Cadence is the polling rate a subscriber asks for.
type Cadence int

const (
	Foreground Cadence = iota
	Background
)

func (c Cadence) String() string {
	if c == Background {
		return "background"
	}
	return "foreground"
}
