package gdt

import (
	"fmt"
	"time"

	"github.com/minkcore/gdt/pkg/gdtconfig"
)

// Config configures a Session and the Clients it creates. NewConfig
// builds one from the parsed CLI surface (§6); library callers embedding
// the core directly may also construct a Config by hand.
type Config struct {
	DaemonType string
	DaemonID   string

	ListenHost string
	ListenPort int
	Peers      []string

	Debug bool

	StreamsPerAssoc int
	StreamTimeout   time.Duration
	SMsgPoolSize    int
	SParamPoolSize  int
	ChunkPoolSize   int
	PayloadPoolSize int
	StreamPoolSize  int

	HeartbeatInterval time.Duration
	HeartbeatMaxMiss  int
	MaxHops           uint32

	RegistrationTimeout time.Duration
}

// DefaultConfig returns a Config with every non-CLI-exposed field set to
// the runtime defaults named across §4.2, §4.6 and §6.
func DefaultConfig() Config {
	return Config{
		StreamsPerAssoc:     16,
		StreamTimeout:       5 * time.Second,
		SMsgPoolSize:        gdtconfig.DefaultSMsgPool,
		SParamPoolSize:      gdtconfig.DefaultSParamPool,
		ChunkPoolSize:       256,
		PayloadPoolSize:     256,
		StreamPoolSize:      gdtconfig.DefaultStreams,
		HeartbeatInterval:   10 * time.Second,
		HeartbeatMaxMiss:    3,
		MaxHops:             8,
		RegistrationTimeout: 10 * time.Second,
	}
}

// NewConfig builds a Config from a parsed CLI surface and daemonType
// (the CLI only carries -i for the id; the type is supplied by the
// embedding daemon, e.g. "router" or "sysagent").
func NewConfig(daemonType string, cli *gdtconfig.Config) (Config, error) {
	if daemonType == "" {
		return Config{}, fmt.Errorf("gdt: daemon type is required")
	}
	cfg := DefaultConfig()
	cfg.DaemonType = daemonType
	cfg.DaemonID = cli.DaemonID
	cfg.ListenHost = cli.Host
	cfg.ListenPort = cli.Port
	cfg.Peers = cli.Peers
	cfg.Debug = cli.Debug
	cfg.StreamPoolSize = cli.Streams
	cfg.StreamTimeout = time.Duration(cli.StreamTimeo) * time.Second
	cfg.SMsgPoolSize = cli.SMsgPoolSize
	cfg.SParamPoolSize = cli.SParamPool
	return cfg, nil
}
