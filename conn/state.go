// Package conn owns the flow table: one Connection per observed endpoint
// pair, a passive TCP state machine per side, and the sweeper that reclaims
// closed or idle flows.
package conn

import "time"

// TCPState enumerates the states the passive tracker infers for one side of
// a connection.
type TCPState int

const (
	StateClosed TCPState = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateClosing
	StateLastAck
	StateTimeWait
)

func (s TCPState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RCVD"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateClosing:
		return "CLOSING"
	case StateLastAck:
		return "LAST_ACK"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

// ConnState tracks one side's current state plus the bookkeeping the sweeper
// needs. timeWaitEntry is set exactly while State == StateTimeWait.
type ConnState struct {
	State         TCPState
	PrevState     TCPState
	StartTime     time.Time
	timeWaitEntry time.Time
	inTimeWait    bool
}

// TimeWaitEntry reports when the side entered TIME_WAIT, if it is there.
func (s *ConnState) TimeWaitEntry() (time.Time, bool) {
	return s.timeWaitEntry, s.inTimeWait
}

func (s *ConnState) transition(newState TCPState, now time.Time) {
	s.PrevState = s.State
	s.State = newState
	s.StartTime = now
	if newState == StateTimeWait {
		s.timeWaitEntry = now
		s.inTimeWait = true
	} else {
		s.timeWaitEntry = time.Time{}
		s.inTimeWait = false
	}
}
