package capture

import (
	"context"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/pkg/errors"
)

// Reader produces decoded frames until the source is exhausted or the
// context is canceled.
type Reader interface {
	Capture(ctx context.Context) (<-chan gopacket.Packet, error)
}

// NewReader builds the reader the options describe.
func NewReader(opt ...Option) (Reader, error) {
	opts := NewOptions()
	for _, o := range opt {
		o(&opts)
	}
	if opts.ReadName == "" {
		return nil, errors.New("capture: no device or file to read from")
	}
	if opts.Live {
		return &deviceReader{opts: opts}, nil
	}
	return &fileReader{opts: opts}, nil
}

// fileReader replays a pcap file.
type fileReader struct {
	opts Options
}

func (r *fileReader) Capture(ctx context.Context) (<-chan gopacket.Packet, error) {
	handle, err := pcap.OpenOffline(r.opts.ReadName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", r.opts.ReadName)
	}
	if r.opts.BPFilter != "" {
		if err := handle.SetBPFFilter(r.opts.BPFilter); err != nil {
			handle.Close()
			return nil, errors.Wrap(err, "failed to set BPF filter")
		}
	}

	out := make(chan gopacket.Packet)
	go func() {
		defer handle.Close()
		defer close(out)
		source := gopacket.NewPacketSource(handle, handle.LinkType())
		for packet := range source.Packets() {
			select {
			case <-ctx.Done():
				return
			case out <- packet:
			}
		}
	}()
	return out, nil
}

// deviceReader captures from a live interface.
type deviceReader struct {
	opts Options
}

func (r *deviceReader) Capture(ctx context.Context) (<-chan gopacket.Packet, error) {
	handle, err := pcap.OpenLive(r.opts.ReadName, int32(r.opts.SnapLen), true, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open pcap to %s", r.opts.ReadName)
	}
	if r.opts.BPFilter != "" {
		if err := handle.SetBPFFilter(r.opts.BPFilter); err != nil {
			handle.Close()
			return nil, errors.Wrap(err, "failed to set BPF filter")
		}
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	pktChan := source.Packets()

	// Closing the handle can take a while; close the output channel first so
	// the consumer can finish its own shutdown in parallel.
	out := make(chan gopacket.Packet, 10)
	go func() {
		defer func() {
			close(out)
			handle.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-pktChan:
				if !ok {
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- pkt:
				}
			}
		}
	}()
	return out, nil
}
