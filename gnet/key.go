package gnet

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
)

// ErrIncompleteKey is returned when a frame does not carry enough address
// information to identify both endpoints. Such frames never create a flow.
var ErrIncompleteKey = errors.New("endpoint key requires both addresses and ports")

// EndpointKey identifies a bidirectional TCP flow by its two endpoints. The
// key records the src/dst of the packet it was built from, so the owning
// connection can still tell who initiated, but Equal and Hash treat the two
// endpoints as an unordered pair: packets from either direction resolve to
// the same flow.
type EndpointKey struct {
	SrcIP   net.IP
	SrcPort uint16
	DstIP   net.IP
	DstPort uint16
}

func NewEndpointKey(srcIP net.IP, srcPort uint16, dstIP net.IP, dstPort uint16) (EndpointKey, error) {
	if len(srcIP) == 0 || len(dstIP) == 0 || srcPort == 0 || dstPort == 0 {
		return EndpointKey{}, ErrIncompleteKey
	}
	return EndpointKey{
		SrcIP:   srcIP,
		SrcPort: srcPort,
		DstIP:   dstIP,
		DstPort: dstPort,
	}, nil
}

// Reverse returns the key as seen from the opposite direction.
func (k EndpointKey) Reverse() EndpointKey {
	return EndpointKey{
		SrcIP:   k.DstIP,
		SrcPort: k.DstPort,
		DstIP:   k.SrcIP,
		DstPort: k.SrcPort,
	}
}

// Equal matches the direct and the reversed tuple.
func (k EndpointKey) Equal(other EndpointKey) bool {
	direct := k.SrcIP.Equal(other.SrcIP) && k.SrcPort == other.SrcPort &&
		k.DstIP.Equal(other.DstIP) && k.DstPort == other.DstPort
	if direct {
		return true
	}
	return k.SrcIP.Equal(other.DstIP) && k.SrcPort == other.DstPort &&
		k.DstIP.Equal(other.SrcIP) && k.DstPort == other.SrcPort
}

func endpointHash(ip net.IP, port uint16) uint64 {
	h := xxhash.New64()
	if v4 := ip.To4(); v4 != nil {
		h.Write(v4)
	} else {
		h.Write(ip)
	}
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], port)
	h.Write(p[:])
	return h.Sum64()
}

// Hash combines the two per-endpoint hashes with XOR, which is commutative,
// so the reversed key hashes identically.
func (k EndpointKey) Hash() uint64 {
	return endpointHash(k.SrcIP, k.SrcPort) ^ endpointHash(k.DstIP, k.DstPort)
}

// String renders the canonical "src:port->dst:port" form, src being the
// packet source the key was built from (not the flow initiator).
func (k EndpointKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort)
}
