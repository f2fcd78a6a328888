package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/minkcore/gdt/internal/wire"
)

// DefaultTimeout is the per-stream inactivity timeout applied when a
// Table is built without an explicit override (§4.2).
const DefaultTimeout = 5 * time.Second

// DispatchResult tells the caller what the Table did with an inbound
// message, so the Client's reader loop knows whether to reply.
type DispatchResult int

const (
	// ResultHeartbeat means the packet bypassed the stream table
	// entirely; the caller should send a bare SF_HEARTBEAT reply.
	ResultHeartbeat DispatchResult = iota
	// ResultDelivered means a stream event fired; no further action.
	ResultDelivered
	// ResultCompleted means the stream reached SF_END; the caller
	// should send the automatic STREAM_COMPLETE acknowledgement.
	ResultCompleted
	// ResultStatelessReply means a stateless stream completed and the
	// caller must send back an automatic reply (unless NO_REPLY).
	ResultStatelessReply
)

// ErrUnknownUUID is returned when a continuation flag (CONTINUE, END,
// CONTINUE_WAIT) arrives for a UUID the table has no record of.
var ErrUnknownUUID = fmt.Errorf("stream: unknown uuid for continuation flag")

// Table is the per-Client stream table: UUID-keyed, mutex-guarded, and
// swept at ~1 Hz for timeouts.
type Table struct {
	timeout time.Duration

	mu      sync.Mutex
	streams map[[16]byte]*Stream
}

// NewTable creates an empty stream table with the given inactivity
// timeout. A zero timeout selects DefaultTimeout.
func NewTable(timeout time.Duration) *Table {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Table{timeout: timeout, streams: make(map[[16]byte]*Stream)}
}

// Open registers a locally-initiated stream so a later reply matching its
// UUID correlates back to it (§4.2 correlation).
func (t *Table) Open(s *Stream) {
	s.setState(StateActive)
	t.mu.Lock()
	t.streams[s.UUID] = s
	t.mu.Unlock()
}

// Lookup returns the stream registered under uuid, if any.
func (t *Table) Lookup(uuid [16]byte) (*Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[uuid]
	return s, ok
}

// Len reports the number of streams currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

func (t *Table) remove(uuid [16]byte) {
	t.mu.Lock()
	delete(t.streams, uuid)
	t.mu.Unlock()
}

// Dispatch drives one inbound message through the receiver-side
// transitions of §4.2. newHandler is consulted only when the message
// opens a brand-new stream (SF_START / SF_STATELESS); it must not be nil
// in that case if the caller wants to observe STREAM_NEW et al.
func (t *Table) Dispatch(msg *wire.Message, newHandler Handler) (DispatchResult, *Stream, error) {
	flag := msg.Header.SequenceFlag

	if flag == wire.SeqHeartbeat {
		return ResultHeartbeat, nil, nil
	}

	s, known := t.Lookup(msg.Header.UUID)

	switch flag {
	case wire.SeqStart, wire.SeqStateless, wire.SeqStatelessOne:
		if known {
			// A retransmitted START for a live UUID is treated as a
			// fresh delivery on the existing stream rather than a
			// duplicate allocation.
			s.touch()
			s.fire(Event{Kind: EventStreamNew, Message: msg})
			return t.resultFor(flag), s, nil
		}
		ns := New(NewDest(msg.Header.Destination.Type, msg.Header.Destination.ID), InitiatorRemote, newHandler)
		copy(ns.UUID[:], msg.Header.UUID[:])
		t.Open(ns)
		ns.fire(Event{Kind: EventStreamNew, Message: msg})
		return t.resultFor(flag), ns, nil

	case wire.SeqContinue:
		if !known {
			return 0, nil, ErrUnknownUUID
		}
		s.touch()
		s.fire(Event{Kind: EventStreamNext, Message: msg})
		return ResultDelivered, s, nil

	case wire.SeqContinueWait:
		if !known {
			return 0, nil, ErrUnknownUUID
		}
		s.touch()
		s.setState(StateWaiting)
		s.fire(Event{Kind: EventStreamNext, Message: msg})
		return ResultDelivered, s, nil

	case wire.SeqEnd:
		if !known {
			return 0, nil, ErrUnknownUUID
		}
		s.touch()
		s.fire(Event{Kind: EventStreamEnd, Message: msg, Status: msg.Header.Status})
		s.setState(StateClosed)
		s.fire(Event{Kind: EventStreamComplete, Message: msg})
		t.remove(s.UUID)
		return ResultCompleted, s, nil

	default:
		return 0, nil, fmt.Errorf("stream: unrecognized sequence flag %d", flag)
	}
}

func (t *Table) resultFor(flag wire.SeqFlag) DispatchResult {
	if flag == wire.SeqStateless {
		return ResultStatelessReply
	}
	return ResultDelivered
}

// Sweep force-times-out every stream whose last activity exceeds the
// table's configured timeout, firing STREAM_TIMEOUT with a nil message
// and removing it. Called at ~1 Hz by the Client's sweeper task, and once
// with force=true during Client shutdown to drain all remaining streams.
func (t *Table) Sweep(force bool) int {
	now := time.Now()

	t.mu.Lock()
	var stale []*Stream
	for _, s := range t.streams {
		if force || s.idleFor(now) >= t.timeout {
			stale = append(stale, s)
		}
	}
	for _, s := range stale {
		delete(t.streams, s.UUID)
	}
	t.mu.Unlock()

	for _, s := range stale {
		s.setState(StateTimedOut)
		s.fire(Event{Kind: EventStreamTimeout, Message: nil, Status: wire.ErrCodeTimeout})
	}
	return len(stale)
}
