package gdt

import (
	"testing"

	"github.com/minkcore/gdt/internal/routing"
	"github.com/minkcore/gdt/internal/transport"
	"github.com/minkcore/gdt/internal/wire"
	"github.com/minkcore/gdt/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logger.Logger {
	l := logger.New("gdt-test", "test")
	l.DisableConsoleOutput()
	return l
}

func TestNewSession_RequiresDaemonIdentity(t *testing.T) {
	cfg := DefaultConfig()
	_, err := NewSession(cfg, newTestLogger(), Callbacks{})
	assert.Error(t, err)

	cfg.DaemonType = "router"
	cfg.DaemonID = "r1"
	s, err := NewSession(cfg, newTestLogger(), Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, "router", s.Local().Type)
	assert.Equal(t, "r1", s.Local().ID)
}

func TestSession_RoutesAndCorrelationAreWired(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DaemonType = "router"
	cfg.DaemonID = "r1"
	s, err := NewSession(cfg, newTestLogger(), Callbacks{})
	require.NoError(t, err)
	assert.NotNil(t, s.Routes())
	assert.NotNil(t, s.Correlation())
	assert.NotNil(t, s.Health())
	assert.Empty(t, s.Clients())
}

func TestSession_HealthChecksReflectConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DaemonType = "router"
	cfg.DaemonID = "r1"
	s, err := NewSession(cfg, newTestLogger(), Callbacks{})
	require.NoError(t, err)

	checks := s.healthChecks()
	require.Contains(t, checks, "listener")
	require.Contains(t, checks, "associations")

	// Neither ListenPort nor Peers are configured, so both checks pass
	// with zero live clients.
	assert.NoError(t, checks["listener"]())
	assert.NoError(t, checks["associations"]())

	cfg.Peers = []string{"10.0.0.1:9100"}
	s2, err := NewSession(cfg, newTestLogger(), Callbacks{})
	require.NoError(t, err)
	assert.Error(t, s2.healthChecks()["associations"]())
}

func TestSession_StopBeforeStartFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DaemonType = "router"
	cfg.DaemonID = "r1"
	s, err := NewSession(cfg, newTestLogger(), Callbacks{})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
}

func TestSplitHostPort(t *testing.T) {
	host, port, err := splitHostPort("10.0.0.1:9100")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", host)
	assert.Equal(t, 9100, port)

	_, _, err = splitHostPort("not-an-address")
	assert.Error(t, err)

	_, _, err = splitHostPort("10.0.0.1:0")
	assert.Error(t, err)
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DaemonType, cfg.DaemonID = "router", "r1"
	s, err := NewSession(cfg, newTestLogger(), Callbacks{})
	require.NoError(t, err)
	return s
}

func TestSession_Forward_RoutesToRegisteredPeerAndBumpsHopCount(t *testing.T) {
	s := newTestSession(t)
	caller := newClient(s, &transport.Association{})
	next := newClient(s, &transport.Association{})

	require.NoError(t, s.routes.SetBucket("sysagent", routing.AlgorithmAUTO, []*routing.Peer{
		{Handle: next, DaemonType: "sysagent", DaemonID: "a1", Registered: true, RouterOK: true},
	}))

	msg := &wire.Message{Header: wire.Header{
		Destination: wire.EndPointDescriptor{Type: "sysagent", ID: "a1"},
	}}

	assert.True(t, s.forward(caller, msg), "a non-local destination must always be claimed by forward")

	select {
	case p := <-next.outbound:
		fwd, err := wire.Decode(0, p.Raw)
		require.NoError(t, err)
		require.NotNil(t, fwd.Header.HopInfo)
		assert.Equal(t, uint32(1), fwd.Header.HopInfo.CurrentHop)
	default:
		t.Fatal("expected the message to be forwarded onto next's outbound queue")
	}
	assert.Equal(t, int64(1), caller.Stats().Get("routed_packets"))
}

func TestSession_Forward_NoRouteSendsErrorBackToCaller(t *testing.T) {
	s := newTestSession(t)
	caller := newClient(s, &transport.Association{})

	msg := &wire.Message{Header: wire.Header{
		Source:      wire.EndPointDescriptor{Type: "sysagent", ID: "requester"},
		Destination: wire.EndPointDescriptor{Type: "sysagent", ID: "a1"},
	}}

	assert.True(t, s.forward(caller, msg))

	select {
	case p := <-caller.outbound:
		reply, err := wire.Decode(0, p.Raw)
		require.NoError(t, err)
		assert.Equal(t, wire.ErrCodeNoRoute, reply.Header.Status)
	default:
		t.Fatal("expected a no-route error packet back to the caller")
	}
}

func TestSession_Forward_HopLimitReachedSendsHopLimitError(t *testing.T) {
	s := newTestSession(t)
	caller := newClient(s, &transport.Association{})
	next := newClient(s, &transport.Association{})

	require.NoError(t, s.routes.SetBucket("sysagent", routing.AlgorithmAUTO, []*routing.Peer{
		{Handle: next, DaemonType: "sysagent", DaemonID: "a1", Registered: true, RouterOK: true},
	}))

	msg := &wire.Message{Header: wire.Header{
		Destination: wire.EndPointDescriptor{Type: "sysagent", ID: "a1"},
		HopInfo:     &wire.HopInfo{CurrentHop: 4, MaxHops: 4},
	}}

	assert.True(t, s.forward(caller, msg))
	assert.Equal(t, int64(1), caller.Stats().Get("hop_limit_rejections"))

	select {
	case p := <-caller.outbound:
		reply, err := wire.Decode(0, p.Raw)
		require.NoError(t, err)
		assert.Equal(t, wire.ErrCodeHopLimit, reply.Header.Status)
	default:
		t.Fatal("expected a hop-limit error packet back to the caller")
	}
}

func TestSession_Forward_LocalDestinationIsNotForwarded(t *testing.T) {
	s := newTestSession(t)
	caller := newClient(s, &transport.Association{})

	msg := &wire.Message{Header: wire.Header{Destination: s.Local()}}
	assert.False(t, s.forward(caller, msg), "a message addressed to this Session's own address must not be claimed")

	msg2 := &wire.Message{Header: wire.Header{}}
	assert.False(t, s.forward(caller, msg2), "an empty destination (no routing header set) must not be claimed")
}
