// Package gdt is the public facade of the Generic Data Transport runtime:
// Session and Client lifecycle, the registration handshake, heartbeat and
// reconnect, and the send/receive entry points layered over the internal
// wire, stream, transport, routing, servicemsg, stats, heartbeat and
// correlation packages.
package gdt

// StreamType classifies a Payload's delivery semantics (§3).
type StreamType int

const (
	StreamTypeStateful StreamType = iota
	StreamTypeStateless
	StreamTypeStatelessNoReply
)

// Payload is one encoded datagram queued for SCTP send (§3). When
// FreeOnSend is set, the outbound writer loop returns the Payload to its
// pool after sending it. The unexported queued bit is not read or set by
// the writer loop.
type Payload struct {
	Raw          []byte
	StreamType   StreamType
	SCTPStreamID uint16
	FreeOnSend   bool

	queued bool
}
