package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stream is one correlated exchange riding an association (§3).
type Stream struct {
	UUID      [16]byte
	Dest      DestAddr
	Initiator Initiator

	mu           sync.Mutex
	seq          uint32
	state        State
	lastActivity time.Time
	linkedSide   LinkedSide
	linked       *Stream
	handler      Handler
	params       map[string]any
}

// DestAddr mirrors wire.EndPointDescriptor without importing wire here, so
// the stream table stays decodable-message agnostic.
type DestAddr struct {
	Type string
	ID   string
}

// NewDest builds the destination address tuple a Stream stores.
func NewDest(daemonType, daemonID string) DestAddr {
	return DestAddr{Type: daemonType, ID: daemonID}
}

// New creates a Stream with a fresh random UUID.
func New(dest DestAddr, initiator Initiator, handler Handler) *Stream {
	s := &Stream{
		Dest:         dest,
		Initiator:    initiator,
		handler:      handler,
		lastActivity: time.Now(),
	}
	id := uuid.New()
	copy(s.UUID[:], id[:])
	return s
}

// State returns the stream's current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextSeq increments and returns the stream's outbound sequence number.
// Sequence numbers are monotonic per stream (invariant 4).
func (s *Stream) NextSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// Seq returns the last sequence number issued without advancing it.
func (s *Stream) Seq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Stream) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Stream) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

func (s *Stream) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Link ties two streams together as an echo pair (routed request/reply on
// the same UUID seen from opposite sides).
func (s *Stream) Link(side LinkedSide, other *Stream) {
	s.mu.Lock()
	s.linkedSide = side
	s.linked = other
	s.mu.Unlock()
}

// LinkedSide returns which side last saw a packet for this UUID.
func (s *Stream) LinkedSide() LinkedSide {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkedSide
}

// SetParam stores an arbitrary tagged value for higher layers (e.g. the
// ServiceMessage pointer a stream is carrying).
func (s *Stream) SetParam(key string, value any) {
	s.mu.Lock()
	if s.params == nil {
		s.params = make(map[string]any)
	}
	s.params[key] = value
	s.mu.Unlock()
}

// Param retrieves a value stored with SetParam.
func (s *Stream) Param(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.params[key]
	return v, ok
}

func (s *Stream) fire(ev Event) {
	ev.Stream = s
	if s.handler != nil {
		s.handler(ev)
	}
}
