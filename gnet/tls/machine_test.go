package tls

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mel2oo/tcptrack/gnet"
)

func newTestMachine() *stateMachine {
	return newStateMachine(func(string, ...interface{}) {})
}

func TestFullHandshakeWithOptionalServerMessages(t *testing.T) {
	m := newTestMachine()

	m.processHandshake(gnet.ClientToServer, HandshakeClientHello)
	assert.Equal(t, StateClientHelloSent, m.currentState())

	m.processHandshake(gnet.ServerToClient, HandshakeServerHello)
	m.processHandshake(gnet.ServerToClient, HandshakeCertificate)
	m.processHandshake(gnet.ServerToClient, HandshakeServerKeyExchange)
	m.processHandshake(gnet.ServerToClient, HandshakeCertificateRequest)
	m.processHandshake(gnet.ServerToClient, HandshakeServerHelloDone)
	assert.Equal(t, StateServerHelloDoneReceived, m.currentState())

	m.processHandshake(gnet.ClientToServer, HandshakeCertificate)
	m.processHandshake(gnet.ClientToServer, HandshakeCertificateVerify)
	m.processHandshake(gnet.ClientToServer, HandshakeClientKeyExchange)
	assert.Equal(t, StateClientKeyExchangeSent, m.currentState())

	m.processChangeCipherSpec(gnet.ClientToServer)
	assert.Equal(t, StateChangeCipherSpecSent, m.currentState())

	// The client Finished arrives encrypted: its message type byte cannot
	// be read, the record as a whole advances the machine.
	m.processHandshake(gnet.ClientToServer, HandshakeType(0x99))
	assert.Equal(t, StateFinishedSent, m.currentState())

	m.processChangeCipherSpec(gnet.ServerToClient)
	assert.Equal(t, StateChangeCipherSpecReceived, m.currentState())

	m.processHandshake(gnet.ServerToClient, HandshakeType(0x42))
	assert.Equal(t, StateComplete, m.currentState())
}

func TestMinimalHandshakeSkipsOptionalNodes(t *testing.T) {
	m := newTestMachine()

	m.processHandshake(gnet.ClientToServer, HandshakeClientHello)
	m.processHandshake(gnet.ServerToClient, HandshakeServerHello)
	m.processHandshake(gnet.ServerToClient, HandshakeServerHelloDone)
	assert.Equal(t, StateServerHelloDoneReceived, m.currentState())

	m.processHandshake(gnet.ClientToServer, HandshakeClientKeyExchange)
	assert.Equal(t, StateClientKeyExchangeSent, m.currentState())
}

func TestSessionTicketAtFinishedSentRetainsState(t *testing.T) {
	m := newTestMachine()
	m.state = StateFinishedSent

	m.processHandshake(gnet.ServerToClient, HandshakeNewSessionTicket)
	assert.Equal(t, StateFinishedSent, m.currentState())

	m.processHandshake(gnet.ServerToClient, HandshakeFinished)
	assert.Equal(t, StateFinishedReceived, m.currentState())
}

func TestWrongDirectionIsError(t *testing.T) {
	m := newTestMachine()

	// A ClientHello from the server side is not a handshake we recognize.
	m.processHandshake(gnet.ServerToClient, HandshakeClientHello)
	assert.Equal(t, StateError, m.currentState())
}

func TestUnexpectedMessageIsError(t *testing.T) {
	m := newTestMachine()

	m.processHandshake(gnet.ClientToServer, HandshakeClientHello)
	m.processHandshake(gnet.ClientToServer, HandshakeFinished)
	assert.Equal(t, StateError, m.currentState())
}

func TestErrorIsTerminal(t *testing.T) {
	m := newTestMachine()
	m.processHandshake(gnet.ServerToClient, HandshakeFinished)
	assert.Equal(t, StateError, m.currentState())

	m.processHandshake(gnet.ClientToServer, HandshakeClientHello)
	assert.Equal(t, StateError, m.currentState())

	m.processChangeCipherSpec(gnet.ClientToServer)
	assert.Equal(t, StateError, m.currentState())
}

func TestChangeCipherSpecOutOfPlaceIsError(t *testing.T) {
	m := newTestMachine()
	m.processHandshake(gnet.ClientToServer, HandshakeClientHello)

	m.processChangeCipherSpec(gnet.ClientToServer)
	assert.Equal(t, StateError, m.currentState())
}

func TestFurtherCCSAfterFinishedReceivedCompletes(t *testing.T) {
	m := newTestMachine()
	m.state = StateFinishedReceived

	m.processChangeCipherSpec(gnet.ServerToClient)
	assert.Equal(t, StateComplete, m.currentState())
}

func TestMachineReset(t *testing.T) {
	m := newTestMachine()
	m.processHandshake(gnet.ClientToServer, HandshakeClientHello)
	m.reset()
	assert.Equal(t, StateInit, m.currentState())
}
