// Package transport wraps SCTP associations and per-association streams
// behind the Transport/Association types used by the rest of the core, so the stream
// engine and ServiceMessage layer never touch socket calls directly.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ishidawataru/sctp"
)

// PayloadProtocolID tags every GDT datagram on the wire so receivers can
// distinguish it from other SCTP payload protocols sharing a port.
const PayloadProtocolID = 0x47445401

// Config controls how a Transport binds and how many SCTP streams each
// accepted or dialed association offers.
type Config struct {
	Streams int // streams per association; default 16 per §6
}

// DefaultConfig mirrors the wire protocol's default stream count.
func DefaultConfig() Config {
	return Config{Streams: 16}
}

// Transport owns one SCTP listening socket (if any) and produces
// Associations for both accepted and dialed connections.
type Transport struct {
	cfg      Config
	listener *sctp.SCTPListener
}

// New creates a Transport with cfg; zero-value fields fall back to
// DefaultConfig's values.
func New(cfg Config) *Transport {
	if cfg.Streams <= 0 {
		cfg.Streams = DefaultConfig().Streams
	}
	return &Transport{cfg: cfg}
}

// Listen binds addr (host:port) for multi-homed or single-homed listening
// and starts accepting SCTP associations. addrs beyond the first implement
// multi-homing via sctp_bindx, matching §6's multi-homing requirement.
func (t *Transport) Listen(addrs []string, port int) error {
	laddr, err := resolveMultihomed(addrs, port)
	if err != nil {
		return fmt.Errorf("transport: resolving listen address: %w", err)
	}
	ln, err := sctp.ListenSCTP("sctp", laddr)
	if err != nil {
		return fmt.Errorf("transport: listen: %w", err)
	}
	t.listener = ln
	return nil
}

// Accept blocks for the next inbound association. Callers typically run
// this in a dedicated acceptor goroutine owned by the Session (§4.6).
func (t *Transport) Accept() (*Association, error) {
	if t.listener == nil {
		return nil, fmt.Errorf("transport: not listening")
	}
	conn, err := t.listener.AcceptSCTP()
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return newAssociation(conn, DirectionInbound, t.cfg.Streams), nil
}

// IsListening reports whether Listen has successfully bound a socket.
// Used by the health checker to flag a daemon that was configured to
// accept inbound associations but never managed to bind.
func (t *Transport) IsListening() bool {
	return t.listener != nil
}

// Close stops accepting new associations. In-flight Associations are
// unaffected; the Session closes those individually during shutdown.
func (t *Transport) Close() error {
	if t.listener == nil {
		return nil
	}
	return t.listener.Close()
}

// Dial opens an outbound association to raddr, optionally binding the
// local side to localAddrs for multi-homing. It retries transient dial
// errors with a short backoff, matching the connect-side contract of
// §4.6 ("retrying on transient errors").
func (t *Transport) Dial(ctx context.Context, localAddrs []string, localPort int, remoteAddr string, remotePort int) (*Association, error) {
	raddr, err := resolveMultihomed([]string{remoteAddr}, remotePort)
	if err != nil {
		return nil, fmt.Errorf("transport: resolving remote address: %w", err)
	}

	var laddr *sctp.SCTPAddr
	if len(localAddrs) > 0 {
		laddr, err = resolveMultihomed(localAddrs, localPort)
		if err != nil {
			return nil, fmt.Errorf("transport: resolving local address: %w", err)
		}
	}

	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second
	for {
		conn, err := sctp.DialSCTP("sctp", laddr, raddr)
		if err == nil {
			return newAssociation(conn, DirectionOutbound, t.cfg.Streams), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transport: dial %s: %w", remoteAddr, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func resolveMultihomed(addrs []string, port int) (*sctp.SCTPAddr, error) {
	ips := make([]net.IPAddr, 0, len(addrs))
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			return nil, fmt.Errorf("transport: %q is not a valid IP address", a)
		}
		ips = append(ips, net.IPAddr{IP: ip})
	}
	return &sctp.SCTPAddr{IPAddrs: ips, Port: port}, nil
}
