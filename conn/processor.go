package conn

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/mel2oo/tcptrack/gnet"
	"github.com/mel2oo/tcptrack/tracelog"
)

// minFrameLength is Ethernet (14) + minimal IPv4 (20) + minimal TCP (20);
// anything shorter cannot carry a TCP segment we can key.
const minFrameLength = 54

// PacketProcessor is the thin adapter between the capture source and the
// flow table: validate the frame, decode the canonical record, dispatch.
type PacketProcessor struct {
	manager   *Manager
	packetLog *tracelog.Log
}

func NewPacketProcessor(manager *Manager) *PacketProcessor {
	return &PacketProcessor{
		manager:   manager,
		packetLog: tracelog.Default().Get("packet"),
	}
}

// HandlePacket processes one captured frame. Malformed frames are dropped;
// nothing on this path can unwind the capture loop.
func (p *PacketProcessor) HandlePacket(packet gopacket.Packet) {
	defer func() {
		// A decode panic must not take the capture loop down with it.
		if err := recover(); err != nil {
			p.packetLog.Recordf("", "packet handling panic: %v", err)
		}
	}()

	meta := packet.Metadata()
	if meta != nil && meta.CaptureLength > 0 && meta.CaptureLength < minFrameLength {
		return
	}

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if ipLayer == nil || tcpLayer == nil {
		return
	}
	ip := ipLayer.(*layers.IPv4)
	tcp := tcpLayer.(*layers.TCP)

	key, err := gnet.NewEndpointKey(ip.SrcIP, uint16(tcp.SrcPort), ip.DstIP, uint16(tcp.DstPort))
	if err != nil {
		return
	}

	payload := clampPayload(p.packetLog, key, ip, tcp)

	flags := gnet.TCPFlags{
		SYN: tcp.SYN,
		ACK: tcp.ACK,
		FIN: tcp.FIN,
		RST: tcp.RST,
		PSH: tcp.PSH,
		URG: tcp.URG,
	}

	now := time.Now()
	if meta != nil && !meta.Timestamp.IsZero() {
		now = meta.Timestamp
	}

	p.packetLog.Recordf(key.String(), "flags(%s) Seq:%d Ack:%d Len:%d", flags, tcp.Seq, tcp.Ack, len(payload))
	p.manager.ProcessPacket(key, tcp.Seq, payload, flags, now)
}

// clampPayload bounds the payload by what the IP header declares and what
// the capture actually carried; a truncated capture can otherwise report
// more data than exists.
func clampPayload(log *tracelog.Log, key gnet.EndpointKey, ip *layers.IPv4, tcp *layers.TCP) []byte {
	payload := tcp.Payload
	declared := int(ip.Length) - int(ip.IHL)*4 - int(tcp.DataOffset)*4
	if declared < 0 {
		declared = 0
	}
	if declared != len(payload) {
		log.Recordf(key.String(), "payload length mismatch: declared %d, captured %d", declared, len(payload))
		if declared < len(payload) {
			payload = payload[:declared]
		}
	}
	return payload
}
