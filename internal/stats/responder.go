package stats

import (
	"encoding/binary"
	"sort"

	"github.com/minkcore/gdt/internal/wire"
)

// Responder answers a remote stats-get request (a Body Stats ServiceMessage
// whose action requests a dump) by rendering the registry's counters as
// stats_id/stats_value parameter pairs, stats_count first.
type Responder struct {
	registry *Registry
}

// NewResponder wraps registry for wire-level responses.
func NewResponder(registry *Registry) *Responder {
	return &Responder{registry: registry}
}

// BuildReply renders the registry's current snapshot into the
// Parameters a Stats body should carry in its reply, in deterministic
// name order so responses are reproducible in tests.
func (r *Responder) BuildReply() []wire.Parameter {
	snap := r.registry.Snapshot()
	names := make([]string, 0, len(snap))
	for n := range snap {
		names = append(names, n)
	}
	sort.Strings(names)

	params := make([]wire.Parameter, 0, len(names)*2+1)
	params = append(params, wire.Parameter{
		ID:        wire.ParamStatsCount,
		ExtraType: wire.ExtraUint32,
		Data:      encodeU32(uint32(len(names))),
	})
	for i, name := range names {
		params = append(params,
			wire.Parameter{ID: wire.ParamStatsID, Index: uint32(i), ExtraType: wire.ExtraCString, Data: []byte(name)},
			wire.Parameter{ID: wire.ParamStatsValue, Index: uint32(i), ExtraType: wire.ExtraUint64, Data: encodeU64(uint64(snap[name]))},
		)
	}
	return params
}

func encodeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func encodeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
