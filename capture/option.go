// Package capture opens the packet source the tracker observes: a live
// interface or a pcap file, optionally narrowed by a BPF filter.
package capture

const (
	// The same default as tcpdump.
	DefaultSnapLen = 262144

	DefaultBPFilter = "tcp"
)

type Options struct {
	// live device or offline file
	Live bool
	// interface name when live, file path otherwise
	ReadName string
	// bpf filter
	BPFilter string

	SnapLen int
}

func NewOptions() Options {
	return Options{
		BPFilter: DefaultBPFilter,
		SnapLen:  DefaultSnapLen,
	}
}

type Option func(*Options)

func WithReadName(name string, live bool) Option {
	return func(o *Options) {
		o.Live = live
		o.ReadName = name
	}
}

func WithBPF(filter string) Option {
	return func(o *Options) {
		if filter != "" {
			o.BPFilter = filter
		}
	}
}

func WithSnapLen(snaplen int) Option {
	return func(o *Options) {
		o.SnapLen = snaplen
	}
}
