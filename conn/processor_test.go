package conn

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mel2oo/tcptrack/gnet"
)

func buildFrame(t *testing.T, srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16,
	seq uint32, flags gnet.TCPFlags, payload []byte) gopacket.Packet {
	t.Helper()

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	tcp := layers.TCP{
		SrcPort:    layers.TCPPort(srcPort),
		DstPort:    layers.TCPPort(dstPort),
		Seq:        seq,
		SYN:        flags.SYN,
		ACK:        flags.ACK,
		FIN:        flags.FIN,
		RST:        flags.RST,
		PSH:        flags.PSH,
		URG:        flags.URG,
		DataOffset: 5,
		Window:     65535,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(&ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp, gopacket.Payload(payload)))

	packet := gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
	packet.Metadata().CaptureInfo.Timestamp = time.Now()
	packet.Metadata().CaptureInfo.CaptureLength = len(buf.Bytes())
	packet.Metadata().CaptureInfo.Length = len(buf.Bytes())
	return packet
}

func TestProcessorCreatesFlowFromSyn(t *testing.T) {
	m, _ := newTestManager(t)
	p := NewPacketProcessor(m)

	src, dst := net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2)
	p.HandlePacket(buildFrame(t, src, 40000, dst, 443, 100, gnet.TCPFlags{SYN: true}, nil))

	assert.Equal(t, 1, m.Len())
}

func TestProcessorEndToEndDelivery(t *testing.T) {
	m, recorder := newTestManager(t)
	p := NewPacketProcessor(m)

	src, dst := net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2)
	p.HandlePacket(buildFrame(t, src, 40000, dst, 443, 100, gnet.TCPFlags{SYN: true}, nil))
	p.HandlePacket(buildFrame(t, dst, 443, src, 40000, 500, gnet.TCPFlags{SYN: true, ACK: true}, nil))
	p.HandlePacket(buildFrame(t, src, 40000, dst, 443, 101, gnet.TCPFlags{ACK: true}, nil))
	p.HandlePacket(buildFrame(t, src, 40000, dst, 443, 101, gnet.TCPFlags{ACK: true, PSH: true}, []byte("hello")))

	require.Len(t, recorder.delivered, 1)
	assert.Equal(t, []byte("hello"), recorder.delivered[0])
	assert.Equal(t, gnet.ClientToServer, recorder.dirs[0])
}

func TestProcessorRejectsShortFrame(t *testing.T) {
	m, _ := newTestManager(t)
	p := NewPacketProcessor(m)

	packet := gopacket.NewPacket(make([]byte, 20), layers.LayerTypeEthernet, gopacket.Default)
	packet.Metadata().CaptureInfo.CaptureLength = 20
	p.HandlePacket(packet)

	assert.Equal(t, 0, m.Len())
}

func TestProcessorRejectsNonTCP(t *testing.T) {
	m, _ := newTestManager(t)
	p := NewPacketProcessor(m)

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := layers.UDP{SrcPort: 53, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(&ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload([]byte("x"))))

	p.HandlePacket(gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default))

	assert.Equal(t, 0, m.Len())
}

func TestClampPayloadTruncatedCapture(t *testing.T) {
	src, dst := net.IPv4(10, 0, 0, 1), net.IPv4(10, 0, 0, 2)
	packet := buildFrame(t, src, 40000, dst, 443, 100, gnet.TCPFlags{ACK: true}, []byte("hello world"))

	ip := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	tcp := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	key, err := gnet.NewEndpointKey(ip.SrcIP, uint16(tcp.SrcPort), ip.DstIP, uint16(tcp.DstPort))
	require.NoError(t, err)

	// Declared total claims more data than the capture carries.
	ip.Length += 4
	log := NewManager(ManagerConfig{}).packetLog
	payload := clampPayload(log, key, ip, tcp)
	assert.Equal(t, []byte("hello world"), payload)

	// The capture carries more bytes than the header declares; trust the
	// header.
	ip.Length -= 8
	payload = clampPayload(log, key, ip, tcp)
	assert.Equal(t, []byte("hello w"), payload)
}
