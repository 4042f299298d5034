package tls

import "github.com/mel2oo/tcptrack/gnet"

// State enumerates the TLS 1.2 handshake phases the tracker distinguishes.
// Transitions form a DAG; StateError is terminal.
type State int

const (
	StateInit State = iota
	StateClientHelloSent
	StateServerHelloReceived
	StateCertificateReceived
	StateServerKeyExchangeReceived
	StateCertificateRequestReceived
	StateServerHelloDoneReceived
	StateCertificateSent
	StateCertificateVerifySent
	StateClientKeyExchangeSent
	StateChangeCipherSpecSent
	StateFinishedSent
	StateChangeCipherSpecReceived
	StateFinishedReceived
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateClientHelloSent:
		return "CLIENT_HELLO_SENT"
	case StateServerHelloReceived:
		return "SERVER_HELLO_RECEIVED"
	case StateCertificateReceived:
		return "CERTIFICATE_RECEIVED"
	case StateServerKeyExchangeReceived:
		return "SERVER_KEY_EXCHANGE_RECEIVED"
	case StateCertificateRequestReceived:
		return "CERTIFICATE_REQUEST_RECEIVED"
	case StateServerHelloDoneReceived:
		return "SERVER_HELLO_DONE_RECEIVED"
	case StateCertificateSent:
		return "CERTIFICATE_SENT"
	case StateCertificateVerifySent:
		return "CERTIFICATE_VERIFY_SENT"
	case StateClientKeyExchangeSent:
		return "CLIENT_KEY_EXCHANGE_SENT"
	case StateChangeCipherSpecSent:
		return "CHANGE_CIPHER_SPEC_SENT"
	case StateFinishedSent:
		return "FINISHED_SENT"
	case StateChangeCipherSpecReceived:
		return "CHANGE_CIPHER_SPEC_RECEIVED"
	case StateFinishedReceived:
		return "FINISHED_RECEIVED"
	case StateComplete:
		return "HANDSHAKE_COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// stateMachine drives the TLS 1.2 handshake DAG. The transition logic is
// pure; logging is the only side effect and goes through logf.
type stateMachine struct {
	state State
	logf  func(format string, args ...interface{})
}

func newStateMachine(logf func(format string, args ...interface{})) *stateMachine {
	return &stateMachine{state: StateInit, logf: logf}
}

func (m *stateMachine) currentState() State { return m.state }

func (m *stateMachine) reset() {
	m.state = StateInit
	m.logf("state machine reset to INIT")
}

// processHandshake advances on one handshake message. Once a direction has
// passed its ChangeCipherSpec the message type byte is ciphertext, so the
// record is handed to the CCS path instead of being matched.
func (m *stateMachine) processHandshake(dir gnet.Direction, msgType HandshakeType) {
	if (m.state == StateChangeCipherSpecSent && dir == gnet.ClientToServer) ||
		(m.state == StateChangeCipherSpecReceived && dir == gnet.ServerToClient) {
		m.logf("handshake bytes after ChangeCipherSpec are encrypted")
		m.processChangeCipherSpec(dir)
		if m.state == StateFinishedReceived {
			// That record can only have been the server Finished.
			m.transition(StateComplete)
		}
		return
	}

	m.logf("processing handshake: %d (%s)", msgType, msgType)

	next, retain := nextHandshakeState(m.state, dir, msgType)
	if retain {
		return
	}
	if next == StateError {
		m.logf("invalid transition: %s on %s message %s", m.state, dir, msgType)
	}
	m.transition(next)
}

// nextHandshakeState is the pure transition table. retain means the message
// is accepted without a state change (NewSessionTicket at FINISHED_SENT).
func nextHandshakeState(current State, dir gnet.Direction, msgType HandshakeType) (next State, retain bool) {
	fromClient := dir == gnet.ClientToServer

	switch current {
	case StateInit:
		if fromClient && msgType == HandshakeClientHello {
			return StateClientHelloSent, false
		}

	case StateClientHelloSent:
		if !fromClient && msgType == HandshakeServerHello {
			return StateServerHelloReceived, false
		}

	case StateServerHelloReceived:
		if !fromClient {
			switch msgType {
			case HandshakeCertificate:
				return StateCertificateReceived, false
			case HandshakeServerKeyExchange:
				return StateServerKeyExchangeReceived, false
			case HandshakeCertificateRequest:
				return StateCertificateRequestReceived, false
			case HandshakeServerHelloDone:
				return StateServerHelloDoneReceived, false
			}
		}

	case StateCertificateReceived:
		if !fromClient {
			switch msgType {
			case HandshakeServerKeyExchange:
				return StateServerKeyExchangeReceived, false
			case HandshakeCertificateRequest:
				return StateCertificateRequestReceived, false
			case HandshakeServerHelloDone:
				return StateServerHelloDoneReceived, false
			}
		}

	case StateServerKeyExchangeReceived:
		if !fromClient {
			switch msgType {
			case HandshakeCertificateRequest:
				return StateCertificateRequestReceived, false
			case HandshakeServerHelloDone:
				return StateServerHelloDoneReceived, false
			}
		}

	case StateCertificateRequestReceived:
		if !fromClient && msgType == HandshakeServerHelloDone {
			return StateServerHelloDoneReceived, false
		}

	case StateServerHelloDoneReceived:
		if fromClient {
			switch msgType {
			case HandshakeCertificate:
				return StateCertificateSent, false
			case HandshakeClientKeyExchange:
				return StateClientKeyExchangeSent, false
			}
		}

	case StateCertificateSent:
		if fromClient {
			switch msgType {
			case HandshakeCertificateVerify:
				return StateCertificateVerifySent, false
			case HandshakeClientKeyExchange:
				return StateClientKeyExchangeSent, false
			}
		}

	case StateCertificateVerifySent:
		if fromClient && msgType == HandshakeClientKeyExchange {
			return StateClientKeyExchangeSent, false
		}

	case StateClientKeyExchangeSent:
		if fromClient && msgType == HandshakeFinished {
			return StateFinishedSent, false
		}

	case StateFinishedSent:
		if !fromClient && msgType == HandshakeFinished {
			return StateFinishedReceived, false
		}
		if !fromClient && msgType == HandshakeNewSessionTicket {
			// Optional; the server may resupply a ticket here.
			return current, true
		}

	case StateFinishedReceived, StateComplete, StateError:
		// No handshake messages expected.
	}

	return StateError, false
}

// processChangeCipherSpec advances on a CCS record, or on encrypted
// handshake bytes standing in for one.
func (m *stateMachine) processChangeCipherSpec(dir gnet.Direction) {
	m.logf("processing ChangeCipherSpec")

	next := StateError
	switch m.state {
	case StateClientKeyExchangeSent:
		if dir == gnet.ClientToServer {
			next = StateChangeCipherSpecSent
		}
	case StateChangeCipherSpecSent:
		if dir == gnet.ClientToServer {
			next = StateFinishedSent
		}
	case StateFinishedSent:
		if dir == gnet.ServerToClient {
			next = StateChangeCipherSpecReceived
		}
	case StateChangeCipherSpecReceived:
		if dir == gnet.ServerToClient {
			next = StateFinishedReceived
		}
	case StateFinishedReceived:
		next = StateComplete
	}

	if next == StateError {
		m.logf("invalid ChangeCipherSpec in state %s", m.state)
	}
	m.transition(next)
}

func (m *stateMachine) transition(next State) {
	if m.state == StateError {
		return
	}
	m.logf("state transition: %s -> %s", m.state, next)
	m.state = next
}
