package conn

import (
	"time"

	"github.com/mel2oo/tcptrack/gnet"
)

// The transition logic is pure: (state, flags) -> state. The side effects
// (timestamps, logging, cleanup marking) are applied by Connection.
//
// Each packet is evaluated twice, once per side: the receiving side advances
// on the flags it was sent (nextStateOnReceive), and the sending side
// advances on the flags it emitted (nextStateOnSend). RST always wins; a
// flag set with no matching rule retains the current state, and the caller
// logs the packet as an impossible transition when it carried SYN or FIN.

// nextStateOnReceive advances a side's state given the flags the peer sent
// to it.
func nextStateOnReceive(current TCPState, f gnet.TCPFlags) TCPState {
	if f.RST {
		return StateClosed
	}
	switch current {
	case StateClosed, StateListen:
		if f.SYN && !f.ACK {
			return StateSynReceived
		}
	case StateSynSent:
		if f.SYN && f.ACK {
			return StateEstablished
		}
		if f.SYN {
			return StateSynReceived
		}
	case StateSynReceived:
		if f.ACK {
			return StateEstablished
		}
		if f.FIN {
			return StateCloseWait
		}
	case StateEstablished:
		if f.FIN {
			return StateCloseWait
		}
	case StateFinWait1:
		if f.FIN && f.ACK {
			return StateTimeWait
		}
		if f.ACK {
			return StateFinWait2
		}
		if f.FIN {
			return StateClosing
		}
	case StateFinWait2:
		if f.FIN {
			return StateTimeWait
		}
	case StateCloseWait:
		// Waits for the local application; only our own FIN moves us on.
	case StateClosing:
		if f.ACK {
			return StateTimeWait
		}
	case StateLastAck:
		if f.ACK {
			return StateClosed
		}
	case StateTimeWait:
		// Drained by the sweeper after the MSL bound.
	}
	return current
}

// nextStateOnSend advances a side's state given the flags it was observed
// sending.
func nextStateOnSend(current TCPState, f gnet.TCPFlags) TCPState {
	if f.RST {
		return StateClosed
	}
	if f.SYN && !f.ACK && (current == StateClosed || current == StateListen) {
		// Only taken at flow creation, for the very first segment.
		return StateSynSent
	}
	if f.FIN {
		switch current {
		case StateEstablished, StateSynReceived:
			return StateFinWait1
		case StateCloseWait:
			return StateLastAck
		}
	}
	return current
}

// impossibleReceive reports whether the flag set should have transitioned
// the receiving side but could not; such packets are logged.
func impossibleReceive(current, next TCPState, f gnet.TCPFlags) bool {
	return current == next && (f.SYN || f.FIN)
}

// shouldCleanUp is the sweeper's eligibility predicate: both sides fully
// closed, a TIME_WAIT older than the MSL bound, or plain inactivity.
func shouldCleanUp(client, server *ConnState, lastActivity time.Time, msl, idle time.Duration, now time.Time) bool {
	if client.State == StateClosed && server.State == StateClosed {
		return true
	}
	if entry, ok := client.TimeWaitEntry(); ok && now.Sub(entry) >= msl {
		return true
	}
	if entry, ok := server.TimeWaitEntry(); ok && now.Sub(entry) >= msl {
		return true
	}
	return now.Sub(lastActivity) > idle
}
