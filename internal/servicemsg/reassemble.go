package servicemsg

import (
	"fmt"

	"github.com/minkcore/gdt/internal/wire"
)

// FragmentEvent tags what Feed did with one inbound wire parameter entry,
// mirroring the PARAM_STREAM_* callback sequence of §5's ordering
// guarantees.
type FragmentEvent int

const (
	// EventNone means p was an ordinary, already-complete parameter;
	// completed holds it directly.
	EventNone FragmentEvent = iota
	EventParamStreamNew
	EventParamStreamNext
	EventParamStreamEnd
)

// ErrFragmentInFlight is returned when a second distinct fragmented
// parameter id arrives while one is already being reassembled — at most
// one fragmented parameter may be in flight per ServiceMessage (§3).
var ErrFragmentInFlight = fmt.Errorf("servicemsg: another fragmented parameter is already in flight")

type inflight struct {
	id        wire.ParameterType
	index     uint32
	extraType wire.ExtraType
	buf       []byte
}

// Reassembler tracks the single in-flight fragmented parameter for one
// ServiceMessage and assembles complete parameters from the wire entries
// that carry pieces of it (§4.3 receive path, step 2).
type Reassembler struct {
	current *inflight
}

// Feed processes one inbound wire.Parameter entry. It returns the event
// that occurred and, when a parameter is now fully assembled (either
// because it was never fragmented, or because this was its final
// fragment), the completed Parameter.
func (r *Reassembler) Feed(p wire.Parameter) (FragmentEvent, *wire.Parameter, error) {
	if r.current != nil && p.ID == r.current.id && p.Index == r.current.index {
		r.current.buf = append(r.current.buf, p.Data...)
		if p.Fragmented {
			return EventParamStreamNext, nil, nil
		}
		done := wire.Parameter{
			ID:        r.current.id,
			Index:     r.current.index,
			ExtraType: r.current.extraType,
			Data:      r.current.buf,
		}
		r.current = nil
		return EventParamStreamEnd, &done, nil
	}

	if p.Fragmented {
		if r.current != nil {
			return EventNone, nil, ErrFragmentInFlight
		}
		r.current = &inflight{id: p.ID, index: p.Index, extraType: p.ExtraType, buf: append([]byte(nil), p.Data...)}
		return EventParamStreamNew, nil, nil
	}

	// Ordinary, already-complete parameter: goes straight into the
	// parameter list and variant map without any fragment events. Data is
	// copied so the result does not alias the decode buffer.
	done := p
	done.Data = append([]byte(nil), p.Data...)
	return EventNone, &done, nil
}

// InFlight reports whether a fragmented parameter is currently being
// reassembled.
func (r *Reassembler) InFlight() bool {
	return r.current != nil
}
