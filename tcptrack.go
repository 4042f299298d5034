// Package tcptrack observes TCP traffic without ever touching it: every
// captured segment is keyed to a bidirectional flow, both endpoints' states
// are inferred by a passive state machine, and each direction's bytes are
// reassembled in sequence order and fanned out to protocol analyzers.
package tcptrack

import (
	"context"
	"time"

	"github.com/mel2oo/tcptrack/capture"
	"github.com/mel2oo/tcptrack/conn"
	"github.com/mel2oo/tcptrack/console"
	"github.com/mel2oo/tcptrack/gnet"
	"github.com/mel2oo/tcptrack/gnet/tls"
	"github.com/mel2oo/tcptrack/tracelog"
)

const DefaultConsoleDebounce = 2 * time.Second

// Config ties the capture source, the flow table tunables and the log
// behavior together.
type Config struct {
	Capture []capture.Option

	SweeperInterval time.Duration
	MSL             time.Duration
	IdleBound       time.Duration

	// Analyzer names attached to each new flow.
	Analyzers []string

	// Debug enables the log files; PrintOutLogs additionally echo to stdout.
	Debug        bool
	TruncateLogs bool
	PrintOutLogs []string

	ConsoleDebounce time.Duration
	StartupMessage  string
}

// Tracker is the assembled pipeline: reader -> processor -> flow table.
type Tracker struct {
	cfg       Config
	reader    capture.Reader
	manager   *conn.Manager
	processor *conn.PacketProcessor
	display   *console.Display
}

// New wires the tracker up. Analyzer registration happens here, before any
// packet is read.
func New(cfg Config) (*Tracker, error) {
	if cfg.ConsoleDebounce <= 0 {
		cfg.ConsoleDebounce = DefaultConsoleDebounce
	}
	if len(cfg.Analyzers) == 0 {
		cfg.Analyzers = []string{"reassm", "tls"}
	}

	if err := tracelog.Default().Init(cfg.Debug, cfg.TruncateLogs, cfg.PrintOutLogs); err != nil {
		return nil, err
	}

	gnet.RegisterBuiltins(gnet.DefaultRegistry)
	tls.Register(gnet.DefaultRegistry)

	reader, err := capture.NewReader(cfg.Capture...)
	if err != nil {
		return nil, err
	}

	manager := conn.NewManager(conn.ManagerConfig{
		SweeperInterval: cfg.SweeperInterval,
		MSL:             cfg.MSL,
		IdleBound:       cfg.IdleBound,
		Analyzers:       cfg.Analyzers,
	})

	return &Tracker{
		cfg:       cfg,
		reader:    reader,
		manager:   manager,
		processor: conn.NewPacketProcessor(manager),
		display:   console.New(cfg.ConsoleDebounce, cfg.StartupMessage, true),
	}, nil
}

// Manager exposes the flow table, mainly for tests and embedders.
func (t *Tracker) Manager() *conn.Manager { return t.manager }

// Run consumes the capture source until it is exhausted or ctx is canceled.
// Capture failures surface here; everything after is observation.
func (t *Tracker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	packets, err := t.reader.Capture(ctx)
	if err != nil {
		return err
	}

	t.manager.StartSweeper(ctx)

	ticker := time.NewTicker(t.cfg.ConsoleDebounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.shutdown(cancel)
			return nil
		case packet, ok := <-packets:
			if !ok || packet == nil {
				t.shutdown(cancel)
				return nil
			}
			t.processor.HandlePacket(packet)
		case <-ticker.C:
			t.display.Update(t.manager.Active())
		}
	}
}

// shutdown drops all flows without firing analyzer close events; those are
// reserved for an observed FIN.
func (t *Tracker) shutdown(cancel context.CancelFunc) {
	cancel()
	t.manager.Shutdown()
	tracelog.Default().Close()
}
