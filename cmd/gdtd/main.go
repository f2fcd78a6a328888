// Command gdtd is a reference GDT daemon: it stands up a Session from the
// shared CLI surface, logs Client connect, terminate and heartbeat-miss
// events and every stream event, and runs until interrupted.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minkcore/gdt"
	"github.com/minkcore/gdt/internal/stream"
	"github.com/minkcore/gdt/pkg/gdtconfig"
	"github.com/minkcore/gdt/pkg/health"
	"github.com/minkcore/gdt/pkg/logger"
)

func main() {
	var daemonType string
	fs := flag.NewFlagSet("gdtd", flag.ContinueOnError)
	fs.StringVar(&daemonType, "t", "generic", "daemon type advertised at registration")

	cli, err := gdtconfig.Parse("gdtd", os.Args[1:], fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New("gdtd", "1.0.0")
	if cli.Debug {
		log.Info("debug logging requested (daemon id=%s)", cli.DaemonID)
	}

	cfg, err := gdt.NewConfig(daemonType, cli)
	if err != nil {
		log.Fatal("configuration error: %v", err)
	}

	callbacks := gdt.Callbacks{
		OnClientNew: func(c *gdt.Client) {
			log.Info("client connected: direction=%d", c.Direction())
		},
		OnClientTerminated: func(c *gdt.Client) {
			log.Warn("client terminated: %s", c.Remote())
		},
		OnHeartbeatMissed: func(c *gdt.Client) {
			log.Warn("heartbeat missed: %s", c.Remote())
		},
		OnStream: func(ev stream.Event) {
			log.Debug("stream event %s uuid=%x", ev.Kind, ev.Stream.UUID)
		},
	}

	session, err := gdt.NewSession(cfg, log, callbacks)
	if err != nil {
		log.Fatal("session init failed: %v", err)
	}

	if err := session.Start(); err != nil {
		log.Fatal("session start failed: %v", err)
	}
	log.Info("gdtd %s listening on %s:%d", cli.DaemonID, cli.Host, cli.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	statusTicker := time.NewTicker(30 * time.Second)
	defer statusTicker.Stop()
	lastStatus := health.StatusHealthy
waitForSignal:
	for {
		select {
		case <-sigCh:
			break waitForSignal
		case <-statusTicker.C:
			if status := session.Health().OverallStatus(); status != lastStatus {
				log.Warn("health status changed: %s -> %s", lastStatus, status)
				lastStatus = status
			}
		}
	}

	log.Info("shutting down")
	if err := session.Stop(); err != nil {
		log.Error("session stop failed: %v", err)
	}
}
