// Package gdtconfig parses the command-line surface shared by GDT core
// daemons: local identity, listen address, peer seeds, and pool/timeout
// tuning.
package gdtconfig

import (
	"flag"
	"fmt"
	"net"
	"strings"
)

const maxDaemonIDLen = 15

// Default pool/timeout sizes, applied when the corresponding flag is absent.
const (
	DefaultStreams     = 64
	DefaultStreamTimeo = 5
	DefaultSMsgPool    = 256
	DefaultSParamPool  = 1024
)

// peerList accumulates repeated -c flags into an ordered slice.
type peerList []string

func (p *peerList) String() string {
	if p == nil {
		return ""
	}
	return strings.Join(*p, ",")
}

func (p *peerList) Set(value string) error {
	*p = append(*p, value)
	return nil
}

// Config is the parsed, validated set of flags a core-embedding daemon needs
// to stand up a Client and Session.
type Config struct {
	DaemonID string
	Host     string
	Port     int
	Peers    []string
	Debug    bool

	Streams      int
	StreamTimeo  int
	SMsgPoolSize int
	SParamPool   int
}

// Parse parses args (typically os.Args[1:]) under the named flag set and
// validates the result. fs lets callers register additional daemon-specific
// flags on the same set before calling Parse.
func Parse(name string, args []string, fs *flag.FlagSet) (*Config, error) {
	if fs == nil {
		fs = flag.NewFlagSet(name, flag.ContinueOnError)
	}

	cfg := &Config{}
	var peers peerList

	fs.StringVar(&cfg.DaemonID, "i", "", "daemon id (required, <=15 bytes)")
	fs.StringVar(&cfg.Host, "h", "0.0.0.0", "local IPv4 address to bind")
	fs.IntVar(&cfg.Port, "p", 0, "local port to bind")
	fs.Var(&peers, "c", "peer address ipv4:port (repeatable)")
	fs.BoolVar(&cfg.Debug, "D", false, "enable debug logging")
	fs.IntVar(&cfg.Streams, "gdt-streams", DefaultStreams, "maximum concurrent streams per client")
	fs.IntVar(&cfg.StreamTimeo, "gdt-stimeout", DefaultStreamTimeo, "stream inactivity timeout in seconds")
	fs.IntVar(&cfg.SMsgPoolSize, "gdt-smsg-pool", DefaultSMsgPool, "service message pool capacity")
	fs.IntVar(&cfg.SParamPool, "gdt-sparam-pool", DefaultSParamPool, "service parameter pool capacity")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Peers = []string(peers)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DaemonID == "" {
		return fmt.Errorf("gdtconfig: -i daemon id is required")
	}
	if len(c.DaemonID) > maxDaemonIDLen {
		return fmt.Errorf("gdtconfig: daemon id %q exceeds %d bytes", c.DaemonID, maxDaemonIDLen)
	}
	if c.Host != "" {
		if ip := net.ParseIP(c.Host); ip == nil || ip.To4() == nil {
			return fmt.Errorf("gdtconfig: -h %q is not a valid IPv4 address", c.Host)
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("gdtconfig: -p %d is out of range", c.Port)
	}
	for _, peer := range c.Peers {
		host, port, err := net.SplitHostPort(peer)
		if err != nil {
			return fmt.Errorf("gdtconfig: -c %q: %w", peer, err)
		}
		if ip := net.ParseIP(host); ip == nil || ip.To4() == nil {
			return fmt.Errorf("gdtconfig: -c %q: not an IPv4 address", peer)
		}
		if port == "" {
			return fmt.Errorf("gdtconfig: -c %q: missing port", peer)
		}
	}
	if c.Streams <= 0 {
		return fmt.Errorf("gdtconfig: --gdt-streams must be positive")
	}
	if c.StreamTimeo <= 0 {
		return fmt.Errorf("gdtconfig: --gdt-stimeout must be positive")
	}
	if c.SMsgPoolSize <= 0 {
		return fmt.Errorf("gdtconfig: --gdt-smsg-pool must be positive")
	}
	if c.SParamPool <= 0 {
		return fmt.Errorf("gdtconfig: --gdt-sparam-pool must be positive")
	}
	return nil
}
