package servicemsg

import "github.com/minkcore/gdt/internal/wire"

// FragmentWindow is the per-entry size limit past which a parameter's
// value is split across multiple wire entries sharing one id (§3).
const FragmentWindow = 256

// MaxParamsSize is the aggregate parameter payload limit per outbound
// packet; overflow triggers a flush and a continuation packet (§4.3).
const MaxParamsSize = 768

// FragmentParameter splits data into FragmentWindow-sized wire entries
// under id/index/extraType. A value of exactly FragmentWindow bytes or
// fewer still goes through this path for id consistency but returns a
// single non-fragmented entry, matching the "256-byte windows" rule
// (anything that fits in one window isn't fragmented on the wire).
func FragmentParameter(id wire.ParameterType, index uint32, extraType wire.ExtraType, data []byte) []wire.Parameter {
	if len(data) <= FragmentWindow {
		return []wire.Parameter{{
			ID: id, Index: index, ExtraType: extraType, Data: data,
		}}
	}

	var out []wire.Parameter
	for off := 0; off < len(data); off += FragmentWindow {
		end := off + FragmentWindow
		if end > len(data) {
			end = len(data)
		}
		out = append(out, wire.Parameter{
			ID:         id,
			Index:      index,
			ExtraType:  extraType,
			Fragmented: end < len(data),
			Data:       data[off:end],
		})
	}
	return out
}

// PackPackets groups an ordered parameter entry list into packets whose
// aggregate data size never exceeds MaxParamsSize, preserving order and
// never splitting a single fragment entry across two packets.
func PackPackets(entries []wire.Parameter) [][]wire.Parameter {
	if len(entries) == 0 {
		return nil
	}

	var packets [][]wire.Parameter
	var current []wire.Parameter
	size := 0

	flush := func() {
		if len(current) > 0 {
			packets = append(packets, current)
			current = nil
			size = 0
		}
	}

	for _, e := range entries {
		if size+len(e.Data) > MaxParamsSize && len(current) > 0 {
			flush()
		}
		current = append(current, e)
		size += len(e.Data)
	}
	flush()
	return packets
}
