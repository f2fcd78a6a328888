package gdt

import (
	"testing"
	"time"

	"github.com/minkcore/gdt/internal/servicemsg"
	"github.com/minkcore/gdt/internal/stream"
	"github.com/minkcore/gdt/internal/transport"
	"github.com/minkcore/gdt/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient builds a Client against a zero-value Association. This
// never touches a real socket — every test here stays within the
// stream-table/pool/outbound-channel logic that doesn't require
// Association.Send/Recv, matching the testing constraint recorded in
// DESIGN.md.
func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	cfg.DaemonType = "router"
	cfg.DaemonID = "r1"
	s, err := NewSession(cfg, newTestLogger(), Callbacks{})
	require.NoError(t, err)
	return newClient(s, &transport.Association{})
}

func TestClient_OpenStream_TokenExhaustion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StreamPoolSize = 1
	c := newTestClient(t, cfg)
	dest := wire.EndPointDescriptor{Type: "sysagent", ID: "a1"}

	s1, err := c.OpenStream(dest, nil)
	require.NoError(t, err)
	assert.NotZero(t, s1.UUID)

	_, err = c.OpenStream(dest, nil)
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.Equal(t, int64(1), c.Stats().Get("strm_alloc_errors"))
}

func TestClient_OpenStream_ReleasesTokenOnComplete(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StreamPoolSize = 1
	c := newTestClient(t, cfg)
	dest := wire.EndPointDescriptor{Type: "sysagent", ID: "a1"}

	s1, err := c.OpenStream(dest, nil)
	require.NoError(t, err)

	// Simulate the remote side replying with SF_END: the stream table
	// fires EventStreamComplete synchronously, which the OpenStream
	// wrapper uses to return the token to the pool.
	end := &wire.Message{Header: wire.Header{UUID: s1.UUID, SequenceFlag: wire.SeqEnd, Status: wire.ErrCodeOK}}
	_, _, err = c.streams.Dispatch(end, nil)
	require.NoError(t, err)

	s2, err := c.OpenStream(dest, nil)
	require.NoError(t, err, "token should have been returned to the pool")
	assert.NotEqual(t, s1.UUID, s2.UUID)
}

func TestClient_SendServiceMessage_FragmentsAndReplies(t *testing.T) {
	cfg := DefaultConfig()
	c := newTestClient(t, cfg)
	dest := wire.EndPointDescriptor{Type: "sysagent", ID: "a1"}

	params := []wire.Parameter{
		{ID: wire.ParamCommandID, Index: 0, ExtraType: wire.ExtraCString, Data: []byte("ping")},
	}

	reply, err := c.SendServiceMessage(dest, 7, 1, params, false)
	require.NoError(t, err)

	// The request was enqueued for the (fake) writer loop rather than
	// actually sent; exactly one packet went out since "ping" fits in a
	// single fragment window. Its UUID is how a real reply correlates
	// back to the stream SendServiceMessage opened.
	var uuid [16]byte
	select {
	case p := <-c.outbound:
		msg, err := wire.Decode(0, p.Raw)
		require.NoError(t, err)
		svc, ok := msg.ServiceBody()
		require.True(t, ok)
		assert.Equal(t, uint32(7), svc.ServiceID)
		assert.Equal(t, uint32(1), svc.ServiceAction)
		uuid = msg.Header.UUID
	default:
		t.Fatal("expected one enqueued request packet")
	}

	replyMsg := wire.NewServiceMessage(
		wire.Header{UUID: uuid, SequenceFlag: wire.SeqEnd, Status: wire.ErrCodeOK},
		wire.ServiceBody{ServiceID: 7, ServiceAction: 1, Parameters: []wire.Parameter{
			{ID: wire.ParamCommandID, Index: 0, ExtraType: wire.ExtraCString, Data: []byte("pong")},
		}},
	)
	_, _, err = c.streams.Dispatch(replyMsg, nil)
	require.NoError(t, err)

	select {
	case err := <-waitErr(reply):
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reply never completed")
	}

	got := reply.Parameters()
	require.Len(t, got, 1)
	assert.Equal(t, []byte("pong"), got[0].Data)
}

func TestClient_SendStreamComplete_UsesStashedReply(t *testing.T) {
	cfg := DefaultConfig()
	c := newTestClient(t, cfg)

	var captured *stream.Stream
	handler := func(ev stream.Event) {
		if ev.Kind == stream.EventStreamNew {
			ev.Stream.SetParam("reply_status", wire.ErrCodeOK)
			ev.Stream.SetParam("reply_params", []wire.Parameter{
				{ID: wire.ParamCommandID, Index: 0, ExtraType: wire.ExtraCString, Data: []byte("ack")},
			})
			captured = ev.Stream
		}
	}

	req := wire.NewServiceMessage(
		wire.Header{SequenceFlag: wire.SeqStateless, Source: wire.EndPointDescriptor{Type: "sysagent", ID: "a1"}},
		wire.ServiceBody{ServiceID: 3, ServiceAction: 2},
	)
	result, strm, err := c.streams.Dispatch(req, handler)
	require.NoError(t, err)
	require.Equal(t, stream.ResultStatelessReply, result)
	require.NotNil(t, captured)

	c.sendStreamComplete(strm, req)

	select {
	case p := <-c.outbound:
		msg, err := wire.Decode(0, p.Raw)
		require.NoError(t, err)
		svc, ok := msg.ServiceBody()
		require.True(t, ok)
		require.Len(t, svc.Parameters, 1)
		assert.Equal(t, []byte("ack"), svc.Parameters[0].Data)
		assert.Equal(t, wire.ErrCodeOK, msg.Header.Status)
	default:
		t.Fatal("expected a stashed-reply ack to be enqueued")
	}
}

func TestClient_DeliverServiceMessage_ReassemblesFragments(t *testing.T) {
	cfg := DefaultConfig()
	c := newTestClient(t, cfg)

	// The ServiceMessage is auto-freed once the callback returns, so its
	// parameters are captured inside the callback.
	var delivered []wire.Parameter
	c.session.callbacks.OnServiceMessage = func(_ *Client, _ *stream.Stream, sm *servicemsg.ServiceMessage, _ servicemsg.FragmentEvent) {
		delivered = sm.Parameters()
	}

	full := make([]byte, 300)
	for i := range full {
		full[i] = byte(i)
	}
	fragments := servicemsg.FragmentParameter(wire.ParamDaemonID, 0, wire.ExtraCString, full)
	require.True(t, len(fragments) > 1, "300B parameter must span more than one FragmentWindow entry")

	req := wire.NewServiceMessage(
		wire.Header{SequenceFlag: wire.SeqStateless},
		wire.ServiceBody{ServiceID: 1, ServiceAction: 1, Parameters: fragments},
	)
	_, _, err := c.streams.Dispatch(req, c.newInboundStreamHandler())
	require.NoError(t, err)

	require.NotNil(t, delivered)
	require.Len(t, delivered, 1)
	assert.Equal(t, full, delivered[0].Data)
}

func waitErr(sm *servicemsg.ServiceMessage) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- sm.Wait() }()
	return ch
}

func TestClient_HandleRegistration_AnnounceSideAcksAndFiresClientNew(t *testing.T) {
	cfg := DefaultConfig()
	var newed *Client
	cfg.DaemonType, cfg.DaemonID = "router", "r1"
	s, err := NewSession(cfg, newTestLogger(), Callbacks{
		OnClientNew: func(c *Client) { newed = c },
	})
	require.NoError(t, err)
	c := newClient(s, &transport.Association{})

	announce := wire.NewRegistrationMessage(
		wire.Header{SequenceFlag: wire.SeqStateless},
		wire.RegistrationBody{
			Action:     registrationActionAnnounce,
			Parameters: registrationParams(wire.EndPointDescriptor{Type: "sysagent", ID: "a1"}),
		},
	)
	c.handleRegistration(announce)

	assert.True(t, c.Registered())
	assert.Equal(t, wire.EndPointDescriptor{Type: "sysagent", ID: "a1"}, c.Remote())
	assert.False(t, c.RouterCapable())
	assert.Same(t, c, newed)

	select {
	case p := <-c.outbound:
		reply, err := wire.Decode(0, p.Raw)
		require.NoError(t, err)
		reg, ok := reply.RegistrationBody()
		require.True(t, ok)
		assert.Equal(t, registrationActionAck, reg.Action)
	default:
		t.Fatal("expected a registration ack to be enqueued")
	}
}

func TestClient_HandleRegistration_AckSideUnblocksRegister(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DaemonType, cfg.DaemonID = "router", "r1"
	s, err := NewSession(cfg, newTestLogger(), Callbacks{})
	require.NoError(t, err)
	c := newClient(s, &transport.Association{})

	ack := wire.NewRegistrationMessage(
		wire.Header{SequenceFlag: wire.SeqStateless},
		wire.RegistrationBody{
			Action:     registrationActionAck,
			Parameters: registrationParams(wire.EndPointDescriptor{Type: "router", ID: "r2"}),
		},
	)
	c.handleRegistration(ack)

	assert.True(t, c.Registered())
	assert.True(t, c.RouterCapable(), "peer announcing DaemonType \"router\" must be treated as router-capable")

	select {
	case remote := <-c.regReply:
		assert.Equal(t, wire.EndPointDescriptor{Type: "router", ID: "r2"}, remote)
	default:
		t.Fatal("expected regReply to be signalled")
	}
}

func TestClient_HandleHeartbeat_ReplyDoesNotTriggerAnotherReply(t *testing.T) {
	cfg := DefaultConfig()
	c := newTestClient(t, cfg)

	ping := &wire.Message{Header: wire.Header{SequenceFlag: wire.SeqHeartbeat, SequenceNum: heartbeatPing}}
	c.handleHeartbeat(0, ping)

	select {
	case p := <-c.outbound:
		reply, err := wire.Decode(0, p.Raw)
		require.NoError(t, err)
		assert.Equal(t, heartbeatReply, reply.Header.SequenceNum)
	default:
		t.Fatal("expected a reply to the inbound ping")
	}

	reply := &wire.Message{Header: wire.Header{SequenceFlag: wire.SeqHeartbeat, SequenceNum: heartbeatReply}}
	c.handleHeartbeat(0, reply)

	select {
	case <-c.outbound:
		t.Fatal("a reply must not itself trigger another reply")
	default:
	}
}

func TestClient_DeliverServiceMessage_StatsServiceBypassesCallback(t *testing.T) {
	cfg := DefaultConfig()
	c := newTestClient(t, cfg)

	var appCalled bool
	c.session.callbacks.OnServiceMessage = func(*Client, *stream.Stream, *servicemsg.ServiceMessage, servicemsg.FragmentEvent) {
		appCalled = true
	}

	req := wire.NewServiceMessage(
		wire.Header{SequenceFlag: wire.SeqStateless},
		wire.ServiceBody{ServiceID: ServiceStats, ServiceAction: 0},
	)
	_, strm, err := c.streams.Dispatch(req, c.newInboundStreamHandler())
	require.NoError(t, err)

	assert.False(t, appCalled, "the built-in stats responder must answer without reaching the application callback")

	v, ok := strm.Param("reply_params")
	require.True(t, ok)
	params, ok := v.([]wire.Parameter)
	require.True(t, ok)
	require.NotEmpty(t, params)
	assert.Equal(t, wire.ParamStatsCount, params[0].ID)
}
