package servicemsg

import (
	"sync"

	"github.com/minkcore/gdt/internal/wire"
)

// paramKey is the variant map's full key; (id, index) alone is the wire
// key, fragment state is resolved before a parameter ever reaches the map
// (§4.3 "Parameter indexing").
type paramKey struct {
	id    wire.ParameterType
	index uint32
}

// ServiceMessage is the application-level RPC envelope carried over one
// or more GDT streams (§3). Both the ordered parameter list and the
// variant-map view reflect the same underlying data until Reset
// (invariant 3).
type ServiceMessage struct {
	ServiceID     uint32
	ServiceAction uint32

	mu         sync.Mutex
	params     []wire.Parameter
	variants   map[paramKey]Variant
	reassembly Reassembler
	complete   bool
	incomplete bool
	autoFree   bool
	waitCh     chan error
}

// New creates an empty ServiceMessage. autoFree mirrors the C8 contract:
// when set, the receive-path manager returns this ServiceMessage to its
// pool automatically once SRVC_MSG_COMPLETE fires.
func New(serviceID, serviceAction uint32, autoFree bool) *ServiceMessage {
	return &ServiceMessage{
		ServiceID:     serviceID,
		ServiceAction: serviceAction,
		variants:      make(map[paramKey]Variant),
		autoFree:      autoFree,
		waitCh:        make(chan error, 1),
	}
}

// Reset clears all parameters and completion state so the ServiceMessage
// can be returned to its pool and reused (invariant 3 boundary).
func (sm *ServiceMessage) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.params = nil
	sm.variants = make(map[paramKey]Variant)
	sm.reassembly = Reassembler{}
	sm.complete = false
	sm.incomplete = false
	sm.waitCh = make(chan error, 1)
}

// FeedWireParameter processes one inbound wire parameter entry through
// the reassembler and, once a parameter is fully assembled, records it in
// both the typed list and the variant map.
func (sm *ServiceMessage) FeedWireParameter(p wire.Parameter) (FragmentEvent, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	event, done, err := sm.reassembly.Feed(p)
	if err != nil {
		return EventNone, err
	}
	if done != nil {
		sm.params = append(sm.params, *done)
		sm.variants[paramKey{id: done.ID, index: done.Index}] = VariantFromParameter(*done)
	}
	return event, nil
}

// Parameters returns the assembled parameter list in wire order.
func (sm *ServiceMessage) Parameters() []wire.Parameter {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]wire.Parameter, len(sm.params))
	copy(out, sm.params)
	return out
}

// Variant looks up the read-through variant view for (id, index).
func (sm *ServiceMessage) Variant(id wire.ParameterType, index uint32) (Variant, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	v, ok := sm.variants[paramKey{id: id, index: index}]
	return v, ok
}

// AddParameter stages an outbound parameter directly (build path, not
// reassembly): used by callers assembling a ServiceMessage to send rather
// than one being received.
func (sm *ServiceMessage) AddParameter(p wire.Parameter) {
	sm.mu.Lock()
	sm.params = append(sm.params, p)
	sm.variants[paramKey{id: p.ID, index: p.Index}] = VariantFromParameter(p)
	sm.mu.Unlock()
}

// Complete marks the ServiceMessage done. status != wire.ErrCodeOK marks
// it incomplete per the receive path's STREAM_END handling (§4.3 step 4).
// It unblocks any goroutine waiting in Wait.
func (sm *ServiceMessage) Complete(status wire.ErrorCode) {
	sm.mu.Lock()
	sm.complete = true
	sm.incomplete = status != wire.ErrCodeOK
	ch := sm.waitCh
	sm.mu.Unlock()

	var err error
	if status != wire.ErrCodeOK {
		err = &StatusError{Code: status}
	}
	select {
	case ch <- err:
	default:
	}
}

// IsComplete reports whether Complete has been called.
func (sm *ServiceMessage) IsComplete() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.complete
}

// IsIncomplete reports whether the ServiceMessage ended with a non-OK
// status rather than a clean STREAM_END.
func (sm *ServiceMessage) IsIncomplete() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.incomplete
}

// AutoFree reports whether the receive-path manager should return this
// ServiceMessage to its pool once complete.
func (sm *ServiceMessage) AutoFree() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.autoFree
}

// Wait blocks until Complete is called, for the synchronous send path
// (§4.3 step 5). It returns the terminal error, or nil on a clean
// completion.
func (sm *ServiceMessage) Wait() error {
	sm.mu.Lock()
	ch := sm.waitCh
	sm.mu.Unlock()
	return <-ch
}

// StatusError wraps a non-OK header status delivered on STREAM_END.
type StatusError struct {
	Code wire.ErrorCode
}

func (e *StatusError) Error() string {
	return "servicemsg: remote returned non-OK status"
}
