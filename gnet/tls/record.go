package tls

import (
	"github.com/mel2oo/tcptrack/gnet"
	"github.com/mel2oo/tcptrack/memview"
)

// recordFramer accumulates one direction's reassembled bytes and slices
// whole records off the head. After an invalid header the framer stops
// extracting until reset; the stream offset is unrecoverable once framing
// is lost.
type recordFramer struct {
	buffer  memview.MemView
	errored bool
	logf    func(format string, args ...interface{})
}

func newRecordFramer(logf func(format string, args ...interface{})) *recordFramer {
	return &recordFramer{logf: logf}
}

func (f *recordFramer) addData(data []byte) {
	chunk := memview.New(data)
	f.buffer.Append(chunk)
}

// tryExtractRecord pops the next complete record off the buffer. It returns
// false when more data is needed, the framer has errored, or the header is
// invalid.
func (f *recordFramer) tryExtractRecord() (ContentType, []byte, bool) {
	if f.errored || f.buffer.Len() < RecordHeaderLength {
		return 0, nil, false
	}

	contentType := ContentType(f.buffer.At(0))
	version := Version(f.buffer.GetUint16(1))
	length := f.buffer.GetUint16(3)

	if !validVersion(version) || length > MaxRecordLength {
		f.logf("invalid record header: version=%#04x length=%d; raw bytes:\n%s",
			uint16(version), length, gnet.HexDump(f.buffer.SubView(0, RecordHeaderLength).Bytes()))
		f.errored = true
		return 0, nil, false
	}

	total := int64(RecordHeaderLength) + int64(length)
	if f.buffer.Len() < total {
		return 0, nil, false
	}

	fragment := f.buffer.SubView(RecordHeaderLength, total).Bytes()
	f.buffer = f.buffer.SubView(total, f.buffer.Len())
	f.logf("record: type=%d (%s) version=%#04x length=%d", contentType, contentType, uint16(version), length)
	return contentType, fragment, true
}

func (f *recordFramer) reset() {
	f.buffer.Clear()
	f.errored = false
}
