package conn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mel2oo/tcptrack/gnet"
)

func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	return newConnection(keyAB(t), 1, time.Now())
}

func TestNewConnectionStartingStates(t *testing.T) {
	c := newTestConnection(t)

	client, server := c.States()
	assert.Equal(t, StateSynSent, client)
	assert.Equal(t, StateListen, server)
	assert.Equal(t, StateClosed, c.client.PrevState)
	assert.Equal(t, StateClosed, c.server.PrevState)
}

func TestRetransmittedSynDoesNotResetISN(t *testing.T) {
	c := newTestConnection(t)
	now := time.Now()

	c.HandlePacket(true, 100, nil, gnet.TCPFlags{SYN: true}, now)
	require.Equal(t, uint32(101), c.clientReassembly.NextSeq())

	// A retransmitted SYN with a different sequence must not move the ISN.
	c.HandlePacket(true, 300, nil, gnet.TCPFlags{SYN: true}, now)
	assert.Equal(t, uint32(101), c.clientReassembly.NextSeq())
}

func TestServerISNFromSynAck(t *testing.T) {
	c := newTestConnection(t)
	now := time.Now()

	c.HandlePacket(true, 100, nil, gnet.TCPFlags{SYN: true}, now)
	c.HandlePacket(false, 500, nil, gnet.TCPFlags{SYN: true, ACK: true}, now)

	assert.True(t, c.serverReassembly.Initialized())
	assert.Equal(t, uint32(501), c.serverReassembly.NextSeq())
}

func TestImpossibleTransitionRetainsState(t *testing.T) {
	c := newTestConnection(t)
	now := time.Now()

	c.HandlePacket(true, 100, nil, gnet.TCPFlags{SYN: true}, now)
	c.HandlePacket(false, 500, nil, gnet.TCPFlags{SYN: true, ACK: true}, now)
	c.HandlePacket(true, 101, nil, gnet.TCPFlags{ACK: true}, now)

	_, server := c.States()
	require.Equal(t, StateEstablished, server)

	// A stray SYN in ESTABLISHED has no matching rule; the state holds.
	c.HandlePacket(true, 900, nil, gnet.TCPFlags{SYN: true}, now)
	_, server = c.States()
	assert.Equal(t, StateEstablished, server)
}

func TestSimultaneousClose(t *testing.T) {
	c := newTestConnection(t)
	now := time.Now()

	c.HandlePacket(true, 100, nil, gnet.TCPFlags{SYN: true}, now)
	c.HandlePacket(false, 500, nil, gnet.TCPFlags{SYN: true, ACK: true}, now)
	c.HandlePacket(true, 101, nil, gnet.TCPFlags{ACK: true}, now)

	// Both sides send FIN before seeing the other's.
	c.HandlePacket(true, 101, nil, gnet.TCPFlags{FIN: true}, now)
	c.HandlePacket(false, 501, nil, gnet.TCPFlags{FIN: true}, now)
	c.HandlePacket(true, 102, nil, gnet.TCPFlags{ACK: true}, now)
	c.HandlePacket(false, 502, nil, gnet.TCPFlags{ACK: true}, now)

	client, server := c.States()
	assert.Equal(t, StateTimeWait, client)
	assert.Equal(t, StateClosed, server)
}

func TestLastActivityAdvances(t *testing.T) {
	c := newTestConnection(t)
	start := c.lastActivity

	later := start.Add(10 * time.Second)
	c.HandlePacket(true, 100, nil, gnet.TCPFlags{SYN: true}, later)
	assert.Equal(t, later, c.lastActivity)
}
