package conn

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mel2oo/tcptrack/gnet"
	"github.com/mel2oo/tcptrack/reassm"
	"github.com/mel2oo/tcptrack/tracelog"
)

// Connection tracks both sides of one observed TCP flow. The key records
// the first packet's direction, so key.Src is the initiator. All mutation
// happens under mu; the manager's map lock is never held while a connection
// is being driven.
type Connection struct {
	mu sync.Mutex

	key    gnet.EndpointKey
	id     uint64
	bidiID uuid.UUID

	client ConnState
	server ConnState

	lastActivity time.Time

	clientReassembly *reassm.Reassembly
	serverReassembly *reassm.Reassembly
	analyzers        []gnet.Analyzer

	tcpLog *tracelog.Log
}

func newConnection(key gnet.EndpointKey, id uint64, now time.Time) *Connection {
	c := &Connection{
		key:          key,
		id:           id,
		bidiID:       uuid.New(),
		lastActivity: now,
		tcpLog:       tracelog.Default().Get("tcp"),
	}

	// Created on the initiator's SYN: the initiator has sent its opening
	// segment, the responder has not spoken yet.
	c.client = ConnState{State: StateSynSent, PrevState: StateClosed, StartTime: now}
	c.server = ConnState{State: StateListen, PrevState: StateClosed, StartTime: now}

	c.clientReassembly = reassm.New(key, gnet.ClientToServer)
	c.serverReassembly = reassm.New(key.Reverse(), gnet.ServerToClient)

	c.tcpLog.Recordf(key.String(), "Initial State: cli:%s srv:%s", c.client.State, c.server.State)
	return c
}

func (c *Connection) ID() uint64            { return c.id }
func (c *Connection) BidiID() uuid.UUID     { return c.bidiID }
func (c *Connection) Key() gnet.EndpointKey { return c.key }

// AddAnalyzer attaches one analyzer instance to both directions' streams.
func (c *Connection) AddAnalyzer(a gnet.Analyzer) {
	c.analyzers = append(c.analyzers, a)
	c.clientReassembly.AddAnalyzer(a)
	c.serverReassembly.AddAnalyzer(a)
}

// FromInitiator reports whether a packet with this key travels in the same
// direction as the flow's opening segment.
func (c *Connection) FromInitiator(pkt gnet.EndpointKey) bool {
	return c.key.SrcIP.Equal(pkt.SrcIP) && c.key.SrcPort == pkt.SrcPort
}

// States returns a snapshot of both sides for display.
func (c *Connection) States() (client, server TCPState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client.State, c.server.State
}

// HandlePacket drives the reassemblers and both state machines with one
// observed segment.
func (c *Connection) HandlePacket(fromClient bool, seq uint32, payload []byte, flags gnet.TCPFlags, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if flags.SYN {
		c.handleSynSequence(fromClient, seq)
	}

	if len(payload) > 0 || flags.SYN || flags.FIN {
		c.reassemblyFor(fromClient).Process(seq, payload, flags.SYN, flags.FIN)
	}
	if flags.FIN {
		c.reassemblyFor(fromClient).FinReceived()
	}
	if flags.RST {
		// Both directions clear, but the analyzers hear about the reset
		// exactly once.
		hadState := c.clientReassembly.HasState() || c.serverReassembly.HasState()
		c.clientReassembly.Clear()
		c.serverReassembly.Clear()
		if hadState {
			for _, a := range c.analyzers {
				a.OnReset()
			}
		}
	}

	// A packet advances its receiver's state with the flags it carries, and
	// its sender's state with what sending those flags implies. Log lines
	// lead with the packet's source endpoint.
	logKey := c.key
	if !fromClient {
		logKey = c.key.Reverse()
	}
	if fromClient {
		c.advanceReceive(logKey, &c.server, "srv", &c.client, "cli", "C->S", flags, now)
		c.advanceSend(logKey, &c.client, "cli", flags, now)
	} else {
		c.advanceReceive(logKey, &c.client, "cli", &c.server, "srv", "S->C", flags, now)
		c.advanceSend(logKey, &c.server, "srv", flags, now)
	}

	c.lastActivity = now
}

func (c *Connection) reassemblyFor(fromClient bool) *reassm.Reassembly {
	if fromClient {
		return c.clientReassembly
	}
	return c.serverReassembly
}

// handleSynSequence records a direction's ISN the first time its SYN is
// seen.
func (c *Connection) handleSynSequence(fromClient bool, seq uint32) {
	if fromClient {
		if c.client.State == StateSynSent {
			c.clientReassembly.SetInitialSeq(seq)
		}
	} else {
		if c.server.State == StateSynReceived {
			c.serverReassembly.SetInitialSeq(seq)
		}
	}
}

func (c *Connection) advanceReceive(logKey gnet.EndpointKey, side *ConnState, sideName string, peer *ConnState, peerName, trigger string, flags gnet.TCPFlags, now time.Time) {
	current := side.State
	next := nextStateOnReceive(current, flags)
	if next == current {
		if impossibleReceive(current, next, flags) {
			c.tcpLog.Recordf(logKey.String(), "Trigger: %s flags(%s) | %s: %s impossible, retained | %s_ctx: %s",
				trigger, flags, sideName, current, peerName, peer.State)
		}
		return
	}
	c.tcpLog.Recordf(logKey.String(), "Trigger: %s flags(%s) | %s: %s -> %s | %s_ctx: %s",
		trigger, flags, sideName, current, next, peerName, peer.State)
	side.transition(next, now)
}

func (c *Connection) advanceSend(logKey gnet.EndpointKey, side *ConnState, sideName string, flags gnet.TCPFlags, now time.Time) {
	current := side.State
	next := nextStateOnSend(current, flags)
	if next == current {
		return
	}
	c.tcpLog.Recordf(logKey.String(), "Sent flags(%s) | %s: %s -> %s", flags, sideName, current, next)
	side.transition(next, now)
}

// cleanupCandidate reports whether this packet's outcome should push the
// flow onto the reclaim queue.
func (c *Connection) cleanupCandidate(flags gnet.TCPFlags) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if flags.FIN || flags.RST {
		return true
	}
	if c.client.State == StateClosed && c.server.State == StateClosed {
		return true
	}
	return c.client.State == StateTimeWait || c.server.State == StateTimeWait
}

// ShouldCleanUp is the sweeper's re-check before erasing the flow.
func (c *Connection) ShouldCleanUp(msl, idle time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return shouldCleanUp(&c.client, &c.server, c.lastActivity, msl, idle, now)
}
