package gdt

import "errors"

// Sentinel errors, one family per §7 error-taxonomy category. Package
// functions wrap these with %w so callers can errors.Is against the
// category rather than a specific message.
var (
	// ErrTransport covers SCTP read/write errors and association loss.
	ErrTransport = errors.New("gdt: transport error")
	// ErrCodec covers malformed TLV on decode.
	ErrCodec = errors.New("gdt: codec error")
	// ErrNoRoute covers routing failures: no acceptable peer or hop
	// limit reached.
	ErrNoRoute = errors.New("gdt: no route")
	// ErrResourceExhausted covers pool exhaustion on any of the four
	// per-Client pools.
	ErrResourceExhausted = errors.New("gdt: resource exhausted")
	// ErrStreamTimeout covers a stream reaching TIMED_OUT.
	ErrStreamTimeout = errors.New("gdt: stream timeout")
	// ErrServiceMessage covers a missing required parameter or
	// truncated fragment reassembly.
	ErrServiceMessage = errors.New("gdt: service message error")

	// ErrNotRegistered names the unregistered-Client condition (invariant
	// 5); no function in this package returns it.
	ErrNotRegistered = errors.New("gdt: client is not registered")
	// ErrAlreadyStarted / ErrNotStarted guard Session lifecycle calls.
	ErrAlreadyStarted = errors.New("gdt: session already started")
	ErrNotStarted     = errors.New("gdt: session not started")
)
