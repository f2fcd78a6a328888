package stream

import "github.com/minkcore/gdt/internal/wire"

// EventKind tags one callback delivery (§4.2a).
type EventKind int

const (
	EventStreamNew EventKind = iota
	EventStreamNext
	EventStreamEnd
	EventStreamTimeout
	EventStreamComplete
)

func (k EventKind) String() string {
	switch k {
	case EventStreamNew:
		return "STREAM_NEW"
	case EventStreamNext:
		return "STREAM_NEXT"
	case EventStreamEnd:
		return "STREAM_END"
	case EventStreamTimeout:
		return "STREAM_TIMEOUT"
	case EventStreamComplete:
		return "STREAM_COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to a Stream's Handler. Message is nil for
// EventStreamTimeout. Handlers must not block — they run on the
// dispatching goroutine (the Client's reader or sweeper task).
type Event struct {
	Kind    EventKind
	Message *wire.Message
	Stream  *Stream
	Status  wire.ErrorCode
}

// Handler receives stream lifecycle events. Implementations must return
// promptly; per the concurrency model, handlers may not perform blocking
// I/O on the calling goroutine.
type Handler func(Event)
