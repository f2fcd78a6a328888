package gdt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minkcore/gdt/internal/heartbeat"
	"github.com/minkcore/gdt/internal/pool"
	"github.com/minkcore/gdt/internal/routing"
	"github.com/minkcore/gdt/internal/servicemsg"
	"github.com/minkcore/gdt/internal/stats"
	"github.com/minkcore/gdt/internal/stream"
	"github.com/minkcore/gdt/internal/transport"
	"github.com/minkcore/gdt/internal/wire"
	"github.com/minkcore/gdt/pkg/logger"
)

// chunkSize is the fixed read-buffer size drawn from a Client's chunk
// pool. It comfortably fits one GDT wire packet: header overhead plus up
// to MaxParamsSize (768B) of service parameters, rounded up well past
// that so an oversized or malformed packet still lands in one chunk.
const chunkSize = 2048

// ServiceStats is the well-known service id the built-in stats responder
// answers directly from deliverServiceMessage, bypassing any application
// OnServiceMessage callback (SPEC_FULL.md §11).
const ServiceStats uint32 = 0xFFFFFFFF

// registrationActionAnnounce/Ack distinguish the two legs of the
// registration handshake carried in RegistrationBody.Action: the
// dialing side announces its own address first, the accepting side acks
// with its own address so both sides end up with a populated remote
// DaemonAddress (invariant 5, §4.6).
const (
	registrationActionAnnounce uint32 = 1
	registrationActionAck      uint32 = 2
)

// heartbeatPing/heartbeatReply tag a heartbeat packet's direction using
// the otherwise-unused SequenceNum field. Without this, a reply to a
// heartbeat looks identical to a fresh ping and each side would keep
// replying to the other's reply forever.
const (
	heartbeatPing  uint32 = 0
	heartbeatReply uint32 = 1
)

// registrationParams renders a daemon address as the parameters carried
// in a Registration body.
func registrationParams(local wire.EndPointDescriptor) []wire.Parameter {
	return []wire.Parameter{
		{ID: wire.ParamDaemonType, ExtraType: wire.ExtraCString, Data: []byte(local.Type)},
		{ID: wire.ParamDaemonID, ExtraType: wire.ExtraCString, Data: []byte(local.ID)},
	}
}

// registrationPeerFromParams recovers the peer's announced address from
// a Registration body's parameters.
func registrationPeerFromParams(params []wire.Parameter) wire.EndPointDescriptor {
	var ep wire.EndPointDescriptor
	for _, p := range params {
		switch p.ID {
		case wire.ParamDaemonType:
			ep.Type = string(p.Data)
		case wire.ParamDaemonID:
			ep.ID = string(p.Data)
		}
	}
	return ep
}

// Client is one live association to a remote daemon: the Association
// exclusively owns its socket, its stream table, its four pools, and its
// background tasks (§3's "Association (Client)").
type Client struct {
	session *Session
	assoc   *transport.Association
	log     *logger.Logger

	mu            sync.RWMutex
	remote        wire.EndPointDescriptor
	registered    bool
	routerCapable bool
	refCount      int32

	streams        *stream.Table
	chunkPool      *pool.Pool[[chunkSize]byte]
	payloadPool    *pool.Pool[Payload]
	streamTok      *pool.Pool[struct{}]
	smsg           *servicemsg.Manager
	statsReg       *stats.Registry
	statsResponder *stats.Responder

	outbound chan *Payload
	hb       *heartbeat.Task
	regReply chan wire.EndPointDescriptor

	runCtx        context.Context
	cancel        context.CancelFunc
	terminateOnce sync.Once
}

func newClient(session *Session, assoc *transport.Association) *Client {
	cfg := session.cfg
	statsReg := stats.DefaultRegistry()

	c := &Client{
		session:        session,
		assoc:          assoc,
		log:            session.log,
		streams:        stream.NewTable(cfg.StreamTimeout),
		chunkPool:      pool.New("chunk", cfg.ChunkPoolSize, func() *[chunkSize]byte { return &[chunkSize]byte{} }),
		payloadPool:    pool.New("payload", cfg.PayloadPoolSize, func() *Payload { return &Payload{} }),
		streamTok:      pool.New("stream", cfg.StreamPoolSize, func() *struct{} { return &struct{}{} }),
		statsReg:       statsReg,
		statsResponder: stats.NewResponder(statsReg),
		outbound:       make(chan *Payload, cfg.PayloadPoolSize),
		regReply:       make(chan wire.EndPointDescriptor, 1),
		refCount:       1,
	}
	smsgPool := pool.New("smsg", cfg.SMsgPoolSize, func() *servicemsg.ServiceMessage {
		return servicemsg.New(0, 0, false)
	})
	c.smsg = servicemsg.NewManager(smsgPool, statsReg)

	c.runCtx, c.cancel = context.WithCancel(context.Background())
	c.hb = heartbeat.NewTask(cfg.HeartbeatInterval, cfg.HeartbeatMaxMiss, c.sendHeartbeat, func() {
		session.fireHeartbeatMissed(c)
	})
	return c
}

// Remote returns the peer's daemon address. Empty until registration
// completes.
func (c *Client) Remote() wire.EndPointDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.remote
}

// Registered reports whether the registration handshake has completed
// (invariant 5).
func (c *Client) Registered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

// RouterCapable reports whether this peer may be used as a forwarding
// hop.
func (c *Client) RouterCapable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.routerCapable
}

func (c *Client) setRegistered(remote wire.EndPointDescriptor, routerCapable bool) {
	c.mu.Lock()
	c.registered = true
	c.remote = remote
	c.routerCapable = routerCapable
	c.mu.Unlock()
}

// Direction reports whether this Client was accepted or dialed.
func (c *Client) Direction() transport.Direction {
	return c.assoc.Direction()
}

// IncRef/DecRef implement the ref-counted ownership handle (§9 design
// notes); the destructor (here, the destroy call when refcount hits zero)
// fires CLIENT_DESTROYED exactly once.
func (c *Client) IncRef() {
	atomic.AddInt32(&c.refCount, 1)
}

func (c *Client) DecRef() {
	if atomic.AddInt32(&c.refCount, -1) == 0 {
		c.destroy()
	}
}

func (c *Client) run() {
	go c.readerLoop()
	go c.writerLoop()
	go c.sweeperLoop()
	c.hb.Start(c.runCtx)
}

func (c *Client) readerLoop() {
	for {
		select {
		case <-c.runCtx.Done():
			return
		default:
		}

		chunk, err := c.chunkPool.Get()
		pooled := err == nil
		if !pooled {
			c.statsReg.Inc(stats.CounterChunkPoolEmpty)
			chunk = &[chunkSize]byte{}
		}

		n, sctpStreamID, err := c.assoc.Recv(chunk[:])
		if err != nil {
			if pooled {
				c.chunkPool.Put(chunk)
			}
			c.log.Warn("client %s: read error: %v", c.remoteLabel(), err)
			c.Terminate()
			return
		}
		c.statsReg.Inc(stats.CounterPacketsReceived)
		c.handleInbound(sctpStreamID, chunk[:n])
		if pooled {
			c.chunkPool.Put(chunk)
		}
	}
}

func (c *Client) handleInbound(sctpStreamID uint16, raw []byte) {
	msg, err := wire.Decode(uint64(sctpStreamID), raw)
	if err != nil {
		c.statsReg.Inc(stats.CounterMalformedPackets)
		c.log.Debug("client %s: malformed packet: %v", c.remoteLabel(), err)
		return
	}

	if msg.Header.SequenceFlag == wire.SeqHeartbeat {
		c.handleHeartbeat(sctpStreamID, msg)
		return
	}

	if msg.Kind == wire.BodyRegistration {
		c.handleRegistration(msg)
		return
	}

	if c.session.forward(c, msg) {
		return
	}

	result, strm, err := c.streams.Dispatch(msg, c.newInboundStreamHandler())
	if err != nil {
		c.statsReg.Inc(stats.CounterStreamAllocErrors)
		c.log.Debug("client %s: dispatch error: %v", c.remoteLabel(), err)
		return
	}

	switch result {
	case stream.ResultCompleted, stream.ResultStatelessReply:
		c.sendStreamComplete(strm, msg)
	}
}

// handleHeartbeat acks this Client's own outstanding ping (if any) and,
// only when the inbound packet is itself a ping rather than a reply,
// sends one reply back. Gating on heartbeatReply is what stops two
// peers' independent heartbeat tasks from replying to each other's
// replies forever.
func (c *Client) handleHeartbeat(sctpStreamID uint16, msg *wire.Message) {
	c.hb.Ack()
	if msg.Header.SequenceNum != heartbeatReply {
		c.replyHeartbeat(sctpStreamID)
	}
}

// handleRegistration drives both legs of the §4.6 handshake: the
// announce a dialing Client sends first, and the ack the accepting side
// sends back. Either leg populates remote and marks the Client
// registered (invariant 5). On the announce leg CLIENT_NEW fires here,
// once the handshake has real peer identity to report; on the dialing
// side it fires from Session.register after the ack arrives.
func (c *Client) handleRegistration(msg *wire.Message) {
	reg, ok := msg.RegistrationBody()
	if !ok {
		return
	}
	remote := registrationPeerFromParams(reg.Parameters)
	routerCapable := remote.Type == "router"

	switch reg.Action {
	case registrationActionAnnounce:
		c.setRegistered(remote, routerCapable)
		c.replyRegistration()
		if c.session.callbacks.OnClientNew != nil {
			c.session.callbacks.OnClientNew(c)
		}
	case registrationActionAck:
		c.setRegistered(remote, routerCapable)
		select {
		case c.regReply <- remote:
		default:
		}
	}
}

func (c *Client) replyRegistration() {
	hdr := wire.Header{Source: c.session.local, SequenceFlag: wire.SeqStateless}
	msg := wire.NewRegistrationMessage(hdr, wire.RegistrationBody{
		Action:     registrationActionAck,
		Parameters: registrationParams(c.session.local),
	})
	raw, err := wire.Encode(msg)
	if err != nil {
		return
	}
	_ = c.enqueue(&Payload{Raw: raw, SCTPStreamID: 0})
}

// sendRouteError replies to msg's source with a category-3 error packet
// (§7): no acceptable route to its destination, or the message already
// reached its hop limit.
func (c *Client) sendRouteError(msg *wire.Message, routeErr error) {
	status := wire.ErrCodeNoRoute
	if errors.Is(routeErr, routing.ErrHopLimit) {
		status = wire.ErrCodeHopLimit
	}
	hdr := wire.Header{
		UUID:         msg.Header.UUID,
		SequenceFlag: wire.SeqEnd,
		Source:       c.session.local,
		Destination:  msg.Header.Source,
		Status:       status,
	}
	raw, err := wire.Encode(&wire.Message{Header: hdr})
	if err != nil {
		return
	}
	_ = c.enqueue(&Payload{Raw: raw, SCTPStreamID: 0})
}

func (c *Client) newInboundStreamHandler() stream.Handler {
	return func(ev stream.Event) {
		if c.session.callbacks.OnStream != nil {
			c.session.callbacks.OnStream(ev)
		}
		if ev.Message == nil {
			return
		}
		if svc, ok := ev.Message.ServiceBody(); ok {
			c.deliverServiceMessage(ev, svc)
		}
	}
}

func (c *Client) deliverServiceMessage(ev stream.Event, svc *wire.ServiceBody) {
	smVal, _ := ev.Stream.Param("smsg")
	sm, _ := smVal.(*servicemsg.ServiceMessage)
	if sm == nil {
		allocated, err := c.smsg.Allocate(svc.ServiceID, svc.ServiceAction, true)
		if err != nil {
			c.log.Warn("client %s: service message pool exhausted", c.remoteLabel())
			return
		}
		sm = allocated
		ev.Stream.SetParam("smsg", sm)
	}

	// EventStreamComplete re-delivers the same Message as the
	// EventStreamEnd that precedes it (table.go fires both off one SF_END
	// packet); only feed parameters on the events that carry genuinely
	// new wire data, or a stream's final packet gets reassembled twice.
	switch ev.Kind {
	case stream.EventStreamNew, stream.EventStreamNext, stream.EventStreamEnd:
		for _, p := range svc.Parameters {
			if _, err := sm.FeedWireParameter(p); err != nil {
				c.log.Debug("client %s: parameter reassembly error: %v", c.remoteLabel(), err)
			}
		}
	}

	// A multi-packet exchange only completes on SF_END (EventStreamEnd).
	// A single-packet stateless call never gets one — Dispatch fires just
	// EventStreamNew for it — so the whole exchange is already done the
	// moment this one packet is delivered.
	stateless := ev.Message.Header.SequenceFlag == wire.SeqStateless || ev.Message.Header.SequenceFlag == wire.SeqStatelessOne
	if ev.Kind == stream.EventStreamEnd || (ev.Kind == stream.EventStreamNew && stateless) {
		status := ev.Status
		if ev.Kind == stream.EventStreamNew {
			status = wire.ErrCodeOK
		}
		sm.Complete(status)

		// The built-in stats responder answers ServiceStats directly by
		// stashing its reply on the stream, the same contract an
		// application handler uses (sendStreamComplete picks it up); it
		// never reaches OnServiceMessage.
		if svc.ServiceID == ServiceStats {
			ev.Stream.SetParam("reply_status", wire.ErrCodeOK)
			ev.Stream.SetParam("reply_params", c.statsResponder.BuildReply())
		} else if c.session.callbacks.OnServiceMessage != nil {
			c.session.callbacks.OnServiceMessage(c, ev.Stream, sm, servicemsg.EventNone)
		}
		if sm.AutoFree() {
			c.smsg.Release(sm)
		}
	}
}

func (c *Client) writerLoop() {
	for {
		select {
		case <-c.runCtx.Done():
			return
		case p := <-c.outbound:
			if err := c.assoc.Send(p.SCTPStreamID, p.Raw); err != nil {
				c.log.Warn("client %s: write error: %v", c.remoteLabel(), err)
				c.Terminate()
				return
			}
			c.statsReg.Inc(stats.CounterPacketsSent)
			if p.FreeOnSend {
				c.payloadPool.Put(p)
			}
		}
	}
}

func (c *Client) sweeperLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case <-ticker.C:
			c.streams.Sweep(false)
		}
	}
}

// enqueue submits a built Payload to the outbound writer without
// blocking the caller beyond the channel's buffer; a full channel means
// the writer is backed up, which is a transport-level condition the
// caller surfaces as ErrTransport.
func (c *Client) enqueue(p *Payload) error {
	select {
	case c.outbound <- p:
		return nil
	default:
		return fmt.Errorf("client %s: %w: outbound queue full", c.remoteLabel(), ErrTransport)
	}
}

func (c *Client) sendHeartbeat() error {
	msg := &wire.Message{Header: wire.Header{SequenceFlag: wire.SeqHeartbeat, SequenceNum: heartbeatPing}}
	raw, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return c.enqueue(&Payload{Raw: raw, SCTPStreamID: 0})
}

func (c *Client) replyHeartbeat(sctpStreamID uint16) {
	msg := &wire.Message{Header: wire.Header{SequenceFlag: wire.SeqHeartbeat, SequenceNum: heartbeatReply}}
	raw, err := wire.Encode(msg)
	if err != nil {
		return
	}
	_ = c.enqueue(&Payload{Raw: raw, SCTPStreamID: sctpStreamID})
}

// sendStreamComplete sends the automatic STREAM_COMPLETE acknowledgement
// a stateful/stateless exchange gets once it reaches SF_END (§4.2). A
// service handler running inside the OnStream/OnServiceMessage callback
// fires synchronously before Dispatch returns (stream.Table.Dispatch
// calls fire before resultFor), so it has already had the chance to stash
// its own reply via Stream.SetParam("reply_params", ...) and
// SetParam("reply_status", wire.ErrorCode) — sendStreamComplete picks
// those up if present, or sends a bare empty OK acknowledgement
// otherwise.
func (c *Client) sendStreamComplete(strm *stream.Stream, inReplyTo *wire.Message) {
	status := wire.ErrCodeOK
	var replyParams []wire.Parameter
	if v, ok := strm.Param("reply_status"); ok {
		if code, ok := v.(wire.ErrorCode); ok {
			status = code
		}
	}
	if v, ok := strm.Param("reply_params"); ok {
		if params, ok := v.([]wire.Parameter); ok {
			replyParams = params
		}
	}

	svc, _ := inReplyTo.ServiceBody()
	serviceID, serviceAction := uint32(0), uint32(0)
	if svc != nil {
		serviceID, serviceAction = svc.ServiceID, svc.ServiceAction
	}

	hdr := wire.Header{
		UUID:         strm.UUID,
		SequenceNum:  strm.NextSeq(),
		SequenceFlag: wire.SeqEnd,
		Source:       c.session.local,
		Destination:  inReplyTo.Header.Source,
		Status:       status,
	}
	msg := wire.NewServiceMessage(hdr, wire.ServiceBody{ServiceID: serviceID, ServiceAction: serviceAction, Parameters: replyParams})
	raw, err := wire.Encode(msg)
	if err != nil {
		return
	}
	_ = c.enqueue(&Payload{Raw: raw, SCTPStreamID: 0})
}

// OpenStream allocates a locally-initiated stream addressed to dest and
// registers it in this Client's table so a correlated reply resolves
// back to it. Allocation consults the bounded stream token pool; on
// exhaustion it increments strm_alloc_errors and fails rather than
// blocking (§4.5).
func (c *Client) OpenStream(dest wire.EndPointDescriptor, handler stream.Handler) (*stream.Stream, error) {
	if _, err := c.streamTok.Get(); err != nil {
		c.statsReg.Inc(stats.CounterStreamAllocErrors)
		return nil, fmt.Errorf("client %s: %w", c.remoteLabel(), ErrResourceExhausted)
	}
	wrapped := func(ev stream.Event) {
		if handler != nil {
			handler(ev)
		}
		if ev.Kind == stream.EventStreamComplete || ev.Kind == stream.EventStreamTimeout {
			c.streamTok.Put(&struct{}{})
		}
	}
	s := stream.New(stream.NewDest(dest.Type, dest.ID), stream.InitiatorLocal, wrapped)
	c.streams.Open(s)
	return s, nil
}

// SendServiceMessage sends a Service RPC call to dest carrying params
// (each fragmented into FragmentWindow-sized wire entries and packed into
// MaxParamsSize packets per §4.3) and returns a ServiceMessage that
// accumulates the reply. When sync is true it blocks on the reply's Wait
// before returning (§4.3 step 5); when false it returns immediately and
// the caller must call Wait on the result itself to observe completion.
func (c *Client) SendServiceMessage(dest wire.EndPointDescriptor, serviceID, serviceAction uint32, params []wire.Parameter, sync bool) (*servicemsg.ServiceMessage, error) {
	reply := servicemsg.New(serviceID, serviceAction, false)

	handler := func(ev stream.Event) {
		// EventStreamComplete re-delivers the same Message as the
		// EventStreamEnd before it; feeding on both would reassemble the
		// reply's final packet twice.
		switch ev.Kind {
		case stream.EventStreamNew, stream.EventStreamNext, stream.EventStreamEnd:
			if ev.Message != nil {
				if svc, ok := ev.Message.ServiceBody(); ok {
					for _, p := range svc.Parameters {
						_, _ = reply.FeedWireParameter(p)
					}
				}
			}
		}
		if ev.Kind == stream.EventStreamEnd {
			reply.Complete(ev.Status)
		} else if ev.Kind == stream.EventStreamTimeout {
			reply.Complete(wire.ErrCodeTimeout)
		}
	}

	s, err := c.OpenStream(dest, handler)
	if err != nil {
		return nil, err
	}

	var fragmented []wire.Parameter
	for _, p := range params {
		fragmented = append(fragmented, servicemsg.FragmentParameter(p.ID, p.Index, p.ExtraType, p.Data)...)
	}
	packets := servicemsg.PackPackets(fragmented)
	if len(packets) == 0 {
		packets = [][]wire.Parameter{nil}
	}

	for i, pkt := range packets {
		flag := wire.SeqContinue
		switch {
		case len(packets) == 1:
			flag = wire.SeqStateless
		case i == 0:
			flag = wire.SeqStart
		case i == len(packets)-1:
			flag = wire.SeqEnd
		}
		hdr := wire.Header{
			UUID:         s.UUID,
			SequenceNum:  s.NextSeq(),
			SequenceFlag: flag,
			Source:       c.session.local,
			Destination:  dest,
		}
		msg := wire.NewServiceMessage(hdr, wire.ServiceBody{ServiceID: serviceID, ServiceAction: serviceAction, Parameters: pkt})
		raw, err := wire.Encode(msg)
		if err != nil {
			return nil, fmt.Errorf("client %s: %w: %v", c.remoteLabel(), ErrCodec, err)
		}
		if err := c.enqueue(&Payload{Raw: raw, SCTPStreamID: 0}); err != nil {
			return nil, err
		}
	}

	if sync {
		if err := reply.Wait(); err != nil {
			return reply, err
		}
	}
	return reply, nil
}

func (c *Client) remoteLabel() string {
	r := c.Remote()
	if r.ID == "" {
		return "(unregistered)"
	}
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

func (c *Client) Stats() *stats.Registry { return c.statsReg }

// Terminate runs the Client shutdown path of §4.6 exactly once no matter
// how many of the reader/writer error path, the registration-timeout
// sweep, and Session.Stop race to call it: stop accepting new streams,
// force-timeout the remainder, close the association, fire
// CLIENT_TERMINATED, forget the Client from its Session, and drop the
// caller's reference so CLIENT_DESTROYED fires once the refcount reaches
// zero.
func (c *Client) Terminate() {
	c.terminateOnce.Do(func() {
		c.cancel()
		c.hb.Stop()
		c.streams.Sweep(true)
		_ = c.assoc.Close()
		c.session.forget(c)
		if c.session.callbacks.OnClientTerminated != nil {
			c.session.callbacks.OnClientTerminated(c)
		}
		c.DecRef()
	})
}

func (c *Client) destroy() {
	if c.session.callbacks.OnClientDestroyed != nil {
		c.session.callbacks.OnClientDestroyed(c)
	}
}
