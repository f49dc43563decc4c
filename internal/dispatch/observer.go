package dispatch

import "time"

// EventKind classifies a dispatch event.
type EventKind int

const (
	// EventReceived is emitted once per inbound message.
	EventReceived EventKind = iota

	// EventDelivered is emitted when a handler returned nil.
	EventDelivered

	// EventFailed is emitted when a handler returned an error or panicked.
	EventFailed

	// EventSkipped is emitted when a required parameter was missing.
	EventSkipped

	// EventUnmatched is emitted when no route matched the message.
	EventUnmatched
)

// String returns the lowercase name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventReceived:
		return "received"
	case EventDelivered:
		return "delivered"
	case EventFailed:
		return "failed"
	case EventSkipped:
		return "skipped"
	case EventUnmatched:
		return "unmatched"
	default:
		return "unknown"
	}
}

// Event describes one step of a dispatch.
type Event struct {
	Kind     EventKind
	Time     time.Time
	ClientID string
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte

	// RouteID and Pattern are empty for EventReceived and EventUnmatched.
	RouteID string
	Pattern string

	// Err is set for EventFailed and EventSkipped.
	Err error

	// Duration is the handler run time for EventDelivered and EventFailed.
	Duration time.Duration
}

// Observer receives dispatch events. Observe is called synchronously on
// the dispatching goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f.
func (f ObserverFunc) Observe(e Event) { f(e) }
