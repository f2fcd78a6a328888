package gdt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/minkcore/gdt/internal/correlation"
	"github.com/minkcore/gdt/internal/routing"
	"github.com/minkcore/gdt/internal/servicemsg"
	"github.com/minkcore/gdt/internal/stats"
	"github.com/minkcore/gdt/internal/stream"
	"github.com/minkcore/gdt/internal/transport"
	"github.com/minkcore/gdt/internal/wire"
	"github.com/minkcore/gdt/pkg/health"
	"github.com/minkcore/gdt/pkg/logger"
)

// Callbacks is the set of observer hooks a Session fires. Every field is
// optional; a nil hook is simply not invoked. Handlers must not block —
// they run on the Session's and Client's own goroutines (reader, sweeper,
// heartbeat, connect loop) or on the caller of Terminate/Stop (§4.2a).
type Callbacks struct {
	OnClientNew        func(c *Client)
	OnClientTerminated func(c *Client)
	OnClientDestroyed  func(c *Client)
	OnHeartbeatMissed  func(c *Client)
	OnStream           func(ev stream.Event)
	OnServiceMessage   func(c *Client, s *stream.Stream, sm *servicemsg.ServiceMessage, ev servicemsg.FragmentEvent)
}

// Session is one daemon's GDT endpoint: the local address, every live
// Client (inbound or outbound), the routing table, and the background
// acceptor/reconnect loops (§3, §4.6).
type Session struct {
	cfg       Config
	local     wire.EndPointDescriptor
	log       *logger.Logger
	callbacks Callbacks

	transport *transport.Transport
	routes    *routing.Table
	corr      *correlation.Map
	checker   *health.Checker

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	outbound map[string]*outboundTarget // peer address -> reconnect state

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

type outboundTarget struct {
	addr string
	port int
}

// NewSession creates a Session from cfg. It does not bind or dial until
// Start is called.
func NewSession(cfg Config, log *logger.Logger, callbacks Callbacks) (*Session, error) {
	if cfg.DaemonType == "" || cfg.DaemonID == "" {
		return nil, fmt.Errorf("gdt: daemon type and id are required")
	}
	s := &Session{
		cfg:       cfg,
		local:     wire.EndPointDescriptor{Type: cfg.DaemonType, ID: cfg.DaemonID},
		log:       log,
		callbacks: callbacks,
		transport: transport.New(transport.Config{Streams: cfg.StreamsPerAssoc}),
		routes:    routing.NewTable(),
		corr:      correlation.New(),
		checker:   health.NewChecker(),
		clients:   make(map[*Client]struct{}),
		outbound:  make(map[string]*outboundTarget),
	}
	return s, nil
}

// Local returns this Session's own daemon address.
func (s *Session) Local() wire.EndPointDescriptor { return s.local }

// Routes exposes the routing table so an embedding router daemon can
// (re)build buckets as peers register (C7).
func (s *Session) Routes() *routing.Table { return s.routes }

// Correlation exposes the GUID correlation map for bridge daemons (C11).
func (s *Session) Correlation() *correlation.Map { return s.corr }

// Health exposes the Session's aggregated health checker. A daemon
// embedding GDT polls OverallStatus/AllChecks from here for its own
// liveness surface — GDT has no supervisor to push status to directly.
func (s *Session) Health() *health.Checker { return s.checker }

// healthChecks returns this Session's named health probes, run on a timer
// by healthLoop once Start has launched it.
func (s *Session) healthChecks() map[string]health.CheckFunc {
	return map[string]health.CheckFunc{
		"listener": func() error {
			if s.cfg.ListenPort > 0 && !s.transport.IsListening() {
				return fmt.Errorf("configured to listen on port %d but no socket is bound", s.cfg.ListenPort)
			}
			return nil
		},
		"associations": func() error {
			if (s.cfg.ListenPort > 0 || len(s.cfg.Peers) > 0) && len(s.Clients()) == 0 {
				return fmt.Errorf("no live associations")
			}
			return nil
		},
	}
}

// healthLoop runs every named health check on a timer, mirroring the
// teacher's supervisor-facing health-check loop minus the gRPC push —
// GDT daemons expose Health() for the embedding process to poll instead.
func (s *Session) healthLoop() {
	defer s.wg.Done()
	checks := s.healthChecks()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.runCtx.Done():
			return
		case <-ticker.C:
			for name, check := range checks {
				s.checker.RunCheck(name, check)
			}
		}
	}
}

// Start binds the listening socket (if ListenPort is set), launches the
// acceptor loop, and dials every configured peer.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	if s.cfg.ListenPort > 0 {
		if err := s.transport.Listen([]string{s.cfg.ListenHost}, s.cfg.ListenPort); err != nil {
			return fmt.Errorf("gdt: listen: %w", err)
		}
		s.wg.Add(1)
		go s.acceptLoop()
	}

	s.wg.Add(1)
	go s.healthLoop()

	for _, peer := range s.cfg.Peers {
		addr, port, err := splitHostPort(peer)
		if err != nil {
			return fmt.Errorf("gdt: peer %q: %w", peer, err)
		}
		s.mu.Lock()
		s.outbound[peer] = &outboundTarget{addr: addr, port: port}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.connectLoop(peer, addr, port)
	}

	return nil
}

// Stop tears down every Client and the listening socket, then waits for
// the Session's background loops to exit.
func (s *Session) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	s.cancel()
	_ = s.transport.Close()
	for _, c := range clients {
		c.Terminate()
	}
	s.wg.Wait()
	return nil
}

func (s *Session) acceptLoop() {
	defer s.wg.Done()
	for {
		assoc, err := s.transport.Accept()
		if err != nil {
			select {
			case <-s.runCtx.Done():
				return
			default:
				s.log.Error("gdt: accept: %v", err)
				return
			}
		}
		c := s.adopt(assoc)
		s.wg.Add(1)
		go s.registrationWaitLoop(c)
	}
}

// connectLoop dials peer, runs its Client until the association is lost,
// then backs off and redials — the outbound half of §4.6's reconnect
// contract.
func (s *Session) connectLoop(peerAddr, addr string, port int) {
	defer s.wg.Done()
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-s.runCtx.Done():
			return
		default:
		}

		assoc, err := s.transport.Dial(s.runCtx, nil, 0, addr, port)
		if err != nil {
			if s.runCtx.Err() != nil {
				return
			}
			s.log.Warn("gdt: dial %s: %v", peerAddr, err)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		c := s.adopt(assoc)
		if err := s.register(c); err != nil {
			s.log.Warn("gdt: registration with %s failed: %v", peerAddr, err)
			c.Terminate()
			continue
		}

		// Wakes once the association is lost (readerLoop/writerLoop call
		// Client.Terminate) or the Session is stopping (Stop calls
		// Terminate on every live Client directly).
		<-c.runCtx.Done()
	}
}

// registrationWaitLoop tears down an inbound association that never
// completes registration within RegistrationTimeout (§4.6).
func (s *Session) registrationWaitLoop(c *Client) {
	defer s.wg.Done()
	select {
	case <-s.runCtx.Done():
		return
	case <-time.After(s.cfg.RegistrationTimeout):
		if !c.Registered() {
			s.log.Warn("gdt: client %s did not register within %s, dropping", c.remoteLabel(), s.cfg.RegistrationTimeout)
			c.Terminate()
		}
	}
}

// adopt registers a new Client and starts its background tasks, but does
// not yet fire CLIENT_NEW: neither accept nor connect has a populated
// remote DaemonAddress at this point, and invariant 5 requires one.
// CLIENT_NEW fires once the registration handshake completes instead —
// from Client.handleRegistration on the accept side, from register below
// on the connect side.
func (s *Session) adopt(assoc *transport.Association) *Client {
	c := newClient(s, assoc)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	c.run()
	return c
}

func (s *Session) forget(c *Client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Session) fireHeartbeatMissed(c *Client) {
	if s.callbacks.OnHeartbeatMissed != nil {
		s.callbacks.OnHeartbeatMissed(c)
	}
}

// register performs the outbound half of the registration handshake
// (§4.6): announce this Session's own address, then block until the
// peer's ack reports its address back. Only once that ack arrives does
// Client.handleRegistration populate remote and mark the Client
// registered (invariant 5) — register itself just waits on that and
// fires CLIENT_NEW on success.
func (s *Session) register(c *Client) error {
	hdr := wire.Header{Source: s.local, SequenceFlag: wire.SeqStateless}
	msg := wire.NewRegistrationMessage(hdr, wire.RegistrationBody{
		Action:     registrationActionAnnounce,
		Parameters: registrationParams(s.local),
	})
	raw, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("gdt: encoding registration: %w", err)
	}
	if err := c.enqueue(&Payload{Raw: raw, SCTPStreamID: 0}); err != nil {
		return err
	}

	select {
	case <-c.regReply:
	case <-time.After(s.cfg.RegistrationTimeout):
		return fmt.Errorf("gdt: registration with %s timed out", c.remoteLabel())
	case <-c.runCtx.Done():
		return fmt.Errorf("gdt: client closed during registration")
	}

	if s.callbacks.OnClientNew != nil {
		s.callbacks.OnClientNew(c)
	}
	return nil
}

// forward implements the C7 forwarding hot path: when msg's destination
// isn't this Session's own address, look up an acceptable peer in the
// routing table, bump the hop count, and hand the re-encoded packet to
// that peer's outbound queue. It reports whether msg's destination was
// non-local — true means the caller's reader loop must not also dispatch
// it to the local stream table, whether forwarding succeeded or a
// no-route/hop-limit error was sent back instead (§4.4, §7 cat. 3).
func (s *Session) forward(caller *Client, msg *wire.Message) bool {
	dest := msg.Header.Destination
	if dest.Type == "" || dest == s.local {
		return false
	}

	current, maxHops := uint32(0), s.cfg.MaxHops
	if msg.Header.HopInfo != nil {
		current = msg.Header.HopInfo.CurrentHop
		if msg.Header.HopInfo.MaxHops > 0 {
			maxHops = msg.Header.HopInfo.MaxHops
		}
	}

	peer, err := s.routes.Route(dest.Type, dest.ID, caller, current, maxHops)
	if err != nil {
		if errors.Is(err, routing.ErrHopLimit) {
			caller.statsReg.Inc(stats.CounterHopLimitRejections)
		}
		caller.sendRouteError(msg, err)
		return true
	}
	next, ok := peer.Handle.(*Client)
	if !ok || next == nil {
		caller.sendRouteError(msg, routing.ErrNoRoute)
		return true
	}

	fwd := *msg
	hop := wire.HopInfo{CurrentHop: current + 1, MaxHops: maxHops}
	fwd.Header.HopInfo = &hop
	raw, err := wire.Encode(&fwd)
	if err != nil {
		return true
	}
	if err := next.enqueue(&Payload{Raw: raw, SCTPStreamID: 0}); err != nil {
		s.log.Warn("gdt: forwarding to %s: %v", next.remoteLabel(), err)
		return true
	}
	caller.statsReg.Inc(stats.CounterRoutedPackets)
	return true
}

// Clients returns a snapshot of every live Client.
func (s *Session) Clients() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	return out
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in address %q", addr)
	}
	return host, port, nil
}
