package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagRoundTrip_ShortForm(t *testing.T) {
	tag := Tag{Class: ClassContext, Constructed: true, Number: 13}
	buf := encodeTag(nil, tag)
	got, n, err := decodeTag(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, tag, got)
}

func TestTagRoundTrip_LongForm(t *testing.T) {
	tag := Tag{Class: ClassPrivate, Constructed: false, Number: 4000}
	buf := encodeTag(nil, tag)
	assert.Greater(t, len(buf), 1)
	got, n, err := decodeTag(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, tag, got)
}

func TestLengthRoundTrip_ShortForm(t *testing.T) {
	buf := encodeLength(nil, 100)
	assert.Len(t, buf, 1)
	n, consumed, err := decodeLength(buf)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, 1, consumed)
}

func TestLengthRoundTrip_LongForm(t *testing.T) {
	buf := encodeLength(nil, 70000)
	n, consumed, err := decodeLength(buf)
	require.NoError(t, err)
	assert.Equal(t, 70000, n)
	assert.Equal(t, len(buf), consumed)
}

func TestDecodeLength_IndefiniteRejected(t *testing.T) {
	_, _, err := decodeLength([]byte{0x80})
	assert.ErrorIs(t, err, ErrIndefiniteLength)
}

func TestDecodeTruncated(t *testing.T) {
	_, _, err := decodeLength(nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

func buildSampleMessage() *Message {
	var uuid [16]byte
	for i := range uuid {
		uuid[i] = byte(i)
	}
	hdr := Header{
		Version:      1,
		Source:       EndPointDescriptor{Type: "router", ID: "r1"},
		Destination:  EndPointDescriptor{Type: "sysagent", ID: "a1"},
		UUID:         uuid,
		SequenceNum:  7,
		SequenceFlag: SeqStart,
		HopInfo:      &HopInfo{CurrentHop: 1, MaxHops: 4},
		Status:       ErrCodeOK,
	}
	svc := ServiceBody{
		ServiceID:     47,
		ServiceAction: 1,
		Parameters: []Parameter{
			{ID: ParamCommandID, Index: 0, ExtraType: ExtraCString, Data: []byte("ping")},
		},
	}
	return NewServiceMessage(hdr, svc)
}

func TestMessageRoundTrip(t *testing.T) {
	m := buildSampleMessage()
	raw, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(1, raw)
	require.NoError(t, err)

	assert.Equal(t, m.Header.Version, decoded.Header.Version)
	assert.Equal(t, m.Header.Source, decoded.Header.Source)
	assert.Equal(t, m.Header.Destination, decoded.Header.Destination)
	assert.Equal(t, m.Header.UUID, decoded.Header.UUID)
	assert.Equal(t, m.Header.SequenceNum, decoded.Header.SequenceNum)
	assert.Equal(t, m.Header.SequenceFlag, decoded.Header.SequenceFlag)
	require.NotNil(t, decoded.Header.HopInfo)
	assert.Equal(t, *m.Header.HopInfo, *decoded.Header.HopInfo)
	assert.Equal(t, BodyService, decoded.Kind)

	svc, ok := decoded.ServiceBody()
	require.True(t, ok)
	assert.Equal(t, uint32(47), svc.ServiceID)
	require.Len(t, svc.Parameters, 1)
	assert.Equal(t, ParamCommandID, svc.Parameters[0].ID)
	assert.True(t, bytes.Equal([]byte("ping"), svc.Parameters[0].Data))
}

func TestMessageRoundTrip_Registration(t *testing.T) {
	hdr := Header{Version: 1, SequenceFlag: SeqStart}
	reg := RegistrationBody{
		Action: 1,
		Parameters: []Parameter{
			{ID: ParamDaemonType, ExtraType: ExtraCString, Data: []byte("router")},
			{ID: ParamDaemonID, ExtraType: ExtraCString, Data: []byte("r1")},
		},
	}
	m := NewRegistrationMessage(hdr, reg)
	raw, err := Encode(m)
	require.NoError(t, err)

	decoded, err := Decode(1, raw)
	require.NoError(t, err)
	rb, ok := decoded.RegistrationBody()
	require.True(t, ok)
	require.Len(t, rb.Parameters, 2)
	assert.Equal(t, "router", string(rb.Parameters[0].Data))
	assert.Equal(t, "r1", string(rb.Parameters[1].Data))
}

func TestDecode_Truncated(t *testing.T) {
	m := buildSampleMessage()
	raw, err := Encode(m)
	require.NoError(t, err)

	_, err = Decode(1, raw[:len(raw)-3])
	assert.Error(t, err)
}

func TestNodeClone_CopiesLinkedBytes(t *testing.T) {
	m := buildSampleMessage()
	raw, err := Encode(m)
	require.NoError(t, err)

	root, _, err := DecodeNode(raw)
	require.NoError(t, err)
	assert.True(t, root.Linked)

	clone := root.Clone()
	assert.False(t, clone.Linked)
}
