package gnet

import (
	"fmt"
	"strings"

	"github.com/mel2oo/tcptrack/tracelog"
)

// TapAnalyzer logs every reassembled chunk it receives, as a hex and ASCII
// dump, to the reassm_data log. It is the built-in "reassm" analyzer and
// exists to make the reassembler's output observable.
type TapAnalyzer struct {
	key EndpointKey
	log *tracelog.Log
}

var _ Analyzer = (*TapAnalyzer)(nil)

func NewTapAnalyzer(key EndpointKey) *TapAnalyzer {
	return &TapAnalyzer{
		key: key,
		log: tracelog.Default().Get("reassm_data"),
	}
}

func (t *TapAnalyzer) OnData(dir Direction, data []byte) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Reassembled Data - %s (%d bytes)\n", dir, len(data))
	sb.WriteString("Hex dump:\n")
	sb.WriteString(HexDump(data))
	sb.WriteString("ASCII:\n")
	for _, b := range data {
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		} else {
			sb.WriteByte('.')
		}
	}
	t.log.Record(t.key.String(), sb.String())
}

func (t *TapAnalyzer) OnReset() {
	t.log.Record(t.key.String(), "Event: Connection Reset")
}

func (t *TapAnalyzer) OnClosed() {
	t.log.Record(t.key.String(), "Event: Connection Closed")
}

// HexDump renders data as 16-byte rows with a leading offset column.
func HexDump(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i%16 == 0 {
			if i > 0 {
				sb.WriteByte('\n')
			}
			fmt.Fprintf(&sb, "%04x: ", i)
		}
		fmt.Fprintf(&sb, "%02x ", b)
	}
	if len(data) > 0 {
		sb.WriteByte('\n')
	}
	return sb.String()
}

// RegisterBuiltins installs the built-in analyzers into the registry. The
// TLS analyzer registers itself from its own package.
func RegisterBuiltins(r *Registry) {
	r.Register("reassm",
		func(key EndpointKey) Analyzer { return NewTapAnalyzer(key) },
		"reassembly tap: hex/ASCII dump of every delivered chunk")
}
