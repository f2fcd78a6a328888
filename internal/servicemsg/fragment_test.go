package servicemsg

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minkcore/gdt/internal/wire"
)

func reassembleAll(t *testing.T, entries []wire.Parameter) []byte {
	t.Helper()
	var r Reassembler
	var out []byte
	for _, e := range entries {
		_, done, err := r.Feed(e)
		require.NoError(t, err)
		if done != nil {
			out = done.Data
		}
	}
	return out
}

func TestFragmentRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 255, 256, 257, 1024, 65535, 1 << 20}
	src := rand.New(rand.NewSource(1))

	for _, n := range sizes {
		data := make([]byte, n)
		src.Read(data)

		entries := FragmentParameter(wire.ParamDaemonID, 0, wire.ExtraOctets, data)
		got := reassembleAll(t, entries)
		assert.True(t, bytes.Equal(data, got), "size %d", n)
	}
}

func TestFragmentParameter_SmallValueNotFragmented(t *testing.T) {
	entries := FragmentParameter(wire.ParamCommandID, 0, wire.ExtraCString, []byte("ping"))
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Fragmented)
}

func TestFragmentParameter_3000BytesYields12Entries(t *testing.T) {
	data := make([]byte, 3000)
	entries := FragmentParameter(wire.ParamDaemonID, 0, wire.ExtraOctets, data)
	require.Len(t, entries, 12)
	for i, e := range entries {
		if i == len(entries)-1 {
			assert.False(t, e.Fragmented)
		} else {
			assert.True(t, e.Fragmented)
		}
	}
}

func TestReassembler_EventSequence(t *testing.T) {
	data := make([]byte, 600)
	entries := FragmentParameter(wire.ParamDaemonID, 0, wire.ExtraOctets, data)
	require.Len(t, entries, 3)

	var r Reassembler
	ev, done, err := r.Feed(entries[0])
	require.NoError(t, err)
	assert.Equal(t, EventParamStreamNew, ev)
	assert.Nil(t, done)
	assert.True(t, r.InFlight())

	ev, done, err = r.Feed(entries[1])
	require.NoError(t, err)
	assert.Equal(t, EventParamStreamNext, ev)
	assert.Nil(t, done)

	ev, done, err = r.Feed(entries[2])
	require.NoError(t, err)
	assert.Equal(t, EventParamStreamEnd, ev)
	require.NotNil(t, done)
	assert.False(t, r.InFlight())
	assert.Len(t, done.Data, 600)
}

func TestReassembler_RejectsSecondFragmentedParam(t *testing.T) {
	data := make([]byte, 600)
	entries := FragmentParameter(wire.ParamDaemonID, 0, wire.ExtraOctets, data)

	var r Reassembler
	_, _, err := r.Feed(entries[0])
	require.NoError(t, err)

	other := wire.Parameter{ID: wire.ParamAuthID, Fragmented: true, Data: []byte("x")}
	_, _, err = r.Feed(other)
	assert.ErrorIs(t, err, ErrFragmentInFlight)
}

func TestReassembler_OrdinaryParameterPassesThroughDirectly(t *testing.T) {
	var r Reassembler
	ev, done, err := r.Feed(wire.Parameter{ID: wire.ParamCommandID, ExtraType: wire.ExtraUint32, Data: []byte{0, 0, 0, 1}})
	require.NoError(t, err)
	assert.Equal(t, EventNone, ev)
	require.NotNil(t, done)
}

func TestPackPackets_RespectsMaxParamsSize(t *testing.T) {
	var entries []wire.Parameter
	for i := 0; i < 10; i++ {
		entries = append(entries, wire.Parameter{ID: wire.ParamDaemonID, Index: uint32(i), Data: make([]byte, 256)})
	}

	packets := PackPackets(entries)
	for _, pkt := range packets {
		size := 0
		for _, e := range pkt {
			size += len(e.Data)
		}
		assert.LessOrEqual(t, size, MaxParamsSize)
	}

	total := 0
	for _, pkt := range packets {
		total += len(pkt)
	}
	assert.Equal(t, len(entries), total)
}
