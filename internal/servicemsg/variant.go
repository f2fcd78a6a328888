// Package servicemsg implements the ServiceMessage RPC layer: parameter
// fragmentation and reassembly, the variant parameter map, and sync/async
// send paths built on top of the stream engine (§4.3).
package servicemsg

import (
	"encoding/binary"

	"github.com/minkcore/gdt/internal/wire"
)

// Variant is the closed sum type a ServiceMessage's read-through accessor
// exposes over an assembled parameter, per §4.3a.
type Variant struct {
	Kind    wire.ExtraType
	Octets  []byte
	Uint32  uint32
	Uint64  uint64
	Bool    bool
	CString string
}

// VariantFromParameter decodes an assembled (non-fragmented) parameter's
// raw bytes into its typed Variant view.
func VariantFromParameter(p wire.Parameter) Variant {
	v := Variant{Kind: p.ExtraType}
	switch p.ExtraType {
	case wire.ExtraUint32:
		if len(p.Data) == 4 {
			v.Uint32 = binary.BigEndian.Uint32(p.Data)
		}
	case wire.ExtraUint64:
		if len(p.Data) == 8 {
			v.Uint64 = binary.BigEndian.Uint64(p.Data)
		}
	case wire.ExtraBool:
		v.Bool = len(p.Data) == 1 && p.Data[0] != 0
	case wire.ExtraCString:
		v.CString = string(p.Data)
	default:
		v.Octets = p.Data
	}
	return v
}
