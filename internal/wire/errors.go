package wire

import "errors"

var (
	// ErrTruncated is returned when a TLV's declared length exceeds the
	// bytes remaining in the input buffer.
	ErrTruncated = errors.New("wire: truncated input")
	// ErrUnknownMandatory names an unrecognized mandatory child tag. No
	// decode path returns it: Decode ignores child tags it does not know.
	ErrUnknownMandatory = errors.New("wire: unknown mandatory tag")
	// ErrIndefiniteLength is returned for a long-form length whose count
	// octet is zero (BER indefinite length), which this wire forbids.
	ErrIndefiniteLength = errors.New("wire: indefinite length not supported")
	// ErrBadSchema is returned when a decoded node does not match the
	// shape the message schema expects for its position in the tree.
	ErrBadSchema = errors.New("wire: node does not match schema")
)
