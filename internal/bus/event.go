package bus

import (
	"strings"
	"time"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Topic joins parts into a dotted event kind, e.g. Topic("convo", id, "updated").
func Topic(parts ...string) string {
	return strings.Join(parts, ".")
}
