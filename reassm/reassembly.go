package reassm

import (
	"github.com/mel2oo/tcptrack/gnet"
	"github.com/mel2oo/tcptrack/tracelog"
)

// Event names as they appear in the reassm log.
const (
	eventReceived          = "RECV"
	eventInitialized       = "INIT"
	eventDeliveredInOrder  = "DLVR_ORD"
	eventDeliveredBuffered = "DLVR_BUF"
	eventBuffered          = "BUFF"
	eventOldDiscarded      = "DROP_OLD"
	eventDupDiscarded      = "DROP_DUP"
	eventOverlapTrimmed    = "TRIM"
	eventBufferReset       = "RESET"
	eventFinSignaled       = "FIN"
	eventIgnoredInit       = "IGN_INIT"
	eventIgnoredFin        = "IGN_FIN"
	eventBufferOverflow    = "OVERFLOW"
)

// DefaultMaxBufferedBytes caps the out-of-order buffer per direction. On
// overflow the furthest-in-future segment is dropped, which starves an
// adversarial sender before it starves us.
const DefaultMaxBufferedBytes = 1 << 20

// Reassembly reorders one direction of one flow. It is not safe for
// concurrent use; the connection manager guarantees serial entry.
type Reassembly struct {
	key gnet.EndpointKey
	dir gnet.Direction
	log *tracelog.Log

	analyzers []gnet.Analyzer

	nextSeq     uint32
	initialized bool
	finSeen     bool

	// Out-of-order segments keyed by starting sequence number.
	buffered      map[uint32][]byte
	bufferedBytes int
	maxBuffered   int
}

func New(key gnet.EndpointKey, dir gnet.Direction) *Reassembly {
	return &Reassembly{
		key:         key,
		dir:         dir,
		log:         tracelog.Default().Get("reassm"),
		buffered:    make(map[uint32][]byte),
		maxBuffered: DefaultMaxBufferedBytes,
	}
}

// AddAnalyzer subscribes an analyzer to this direction's stream. The same
// instance is shared with the opposite direction's reassembler.
func (r *Reassembly) AddAnalyzer(a gnet.Analyzer) {
	r.analyzers = append(r.analyzers, a)
}

func (r *Reassembly) NextSeq() uint32    { return r.nextSeq }
func (r *Reassembly) Initialized() bool  { return r.initialized }
func (r *Reassembly) FinObserved() bool  { return r.finSeen }
func (r *Reassembly) BufferedCount() int { return len(r.buffered) }

func (r *Reassembly) logEvent(event string, seq uint32, length int) {
	r.log.Recordf(r.key.String(), "%s %s | Seq:%d Len:%d Expect:%d",
		r.dir, event, seq, length, r.nextSeq)
}

// SetInitialSeq records the direction's initial sequence number, observed on
// its opening SYN. The SYN consumes one sequence number, so data starts at
// isn+1. Later calls are no-ops.
func (r *Reassembly) SetInitialSeq(isn uint32) {
	if r.initialized {
		return
	}
	r.nextSeq = isn + 1
	r.initialized = true
	r.logEvent(eventInitialized, isn, 0)
	r.deliverContiguous()
}

// HasState reports whether there is anything a RST would wipe.
func (r *Reassembly) HasState() bool {
	return r.initialized || len(r.buffered) > 0
}

// Reset clears all reassembly state on an observed RST. Analyzers hear about
// it once, and only if there was state to clear.
func (r *Reassembly) Reset() {
	hadState := r.HasState()
	r.Clear()
	if hadState {
		for _, a := range r.analyzers {
			a.OnReset()
		}
	}
}

// Clear wipes the reassembly state without notifying analyzers. The owning
// connection uses it to clear both directions while firing the reset event
// exactly once.
func (r *Reassembly) Clear() {
	if r.HasState() {
		r.logEvent(eventBufferReset, 0, 0)
	}
	r.buffered = make(map[uint32][]byte)
	r.bufferedBytes = 0
	r.nextSeq = 0
	r.initialized = false
	r.finSeen = false
}

// FinReceived marks the direction's stream as logically terminated. Only the
// first signal notifies analyzers; it also drains the buffer in case a FIN
// was waiting on a buffered predecessor.
func (r *Reassembly) FinReceived() {
	if r.finSeen {
		return
	}
	r.finSeen = true
	r.logEvent(eventFinSignaled, 0, 0)
	for _, a := range r.analyzers {
		a.OnClosed()
	}
	r.deliverContiguous()
}

// Process handles one segment for this direction. All anomalies are logged
// and survived; only the transport state machine tears a flow down.
func (r *Reassembly) Process(seq uint32, payload []byte, synFlag, finFlag bool) {
	r.logEvent(eventReceived, seq, len(payload))

	if !r.initialized {
		r.logEvent(eventIgnoredInit, seq, len(payload))
		return
	}

	originalSeq := seq
	originalLen := len(payload)

	// Entirely old or fully duplicated data.
	if len(payload) > 0 {
		endSeq := seq + uint32(len(payload))
		if !seqGT(endSeq, r.nextSeq) {
			r.logEvent(eventOldDiscarded, seq, len(payload))
			return
		}
	}

	// Trim the part that overlaps bytes already delivered.
	if len(payload) > 0 && seqGT(r.nextSeq, seq) {
		overlap := r.nextSeq - seq
		if int(overlap) >= len(payload) {
			r.logEvent(eventDupDiscarded, seq, len(payload))
			return
		}
		seq = r.nextSeq
		payload = payload[overlap:]
		r.logEvent(eventOverlapTrimmed, originalSeq, originalLen)
	}

	// Data past a FIN is ignored, but the FIN flag below still counts.
	if r.finSeen && len(payload) > 0 {
		r.logEvent(eventIgnoredFin, seq, len(payload))
		payload = nil
	}

	if len(payload) > 0 && seq == r.nextSeq {
		r.logEvent(eventDeliveredInOrder, seq, len(payload))
		r.notifyData(payload)
		r.nextSeq += uint32(len(payload))
		r.deliverContiguous()
	} else if len(payload) > 0 && seqGT(seq, r.nextSeq) {
		r.buffer(seq, payload)
	}

	// The FIN occupies the sequence slot after the segment's payload. It is
	// consumed only when the stream has caught up to it; otherwise a later
	// segment will advance the state enough for a subsequent FIN to land.
	if finFlag {
		finSeq := originalSeq + uint32(originalLen)
		if finSeq == r.nextSeq && !r.finSeen {
			r.FinReceived()
			r.nextSeq++
		}
	}
}

func (r *Reassembly) buffer(seq uint32, payload []byte) {
	data := make([]byte, len(payload))
	copy(data, payload)

	if prev, ok := r.buffered[seq]; ok {
		// Same starting seq: the newer segment wins.
		r.bufferedBytes -= len(prev)
		delete(r.buffered, seq)
	}

	// Keep the buffer bounded; shed the segment furthest in the future
	// first, which may be the one being added.
	for r.bufferedBytes+len(data) > r.maxBuffered {
		victim, ok := r.furthestBuffered()
		if !ok || seqGE(seq, victim) {
			r.logEvent(eventBufferOverflow, seq, len(data))
			return
		}
		r.logEvent(eventBufferOverflow, victim, len(r.buffered[victim]))
		r.bufferedBytes -= len(r.buffered[victim])
		delete(r.buffered, victim)
	}

	r.logEvent(eventBuffered, seq, len(data))
	r.buffered[seq] = data
	r.bufferedBytes += len(data)
}

func (r *Reassembly) furthestBuffered() (uint32, bool) {
	var max uint32
	found := false
	for seq := range r.buffered {
		if !found || seqGT(seq, max) {
			max = seq
			found = true
		}
	}
	return max, found
}

// smallestBuffered returns the earliest buffered start in sequence space,
// including starts nextSeq has already passed, so the walk below is a
// front-of-buffer walk even across the wrap.
func (r *Reassembly) smallestBuffered() (uint32, bool) {
	var min uint32
	found := false
	for seq := range r.buffered {
		if !found || seqGT(min, seq) {
			min = seq
			found = true
		}
	}
	return min, found
}

// deliverContiguous drains buffered segments while they abut the expected
// sequence. Segments the stream has already advanced past are dropped or
// front-trimmed here, so no buffered segment ever starts at or before
// nextSeq once the walk stops.
func (r *Reassembly) deliverContiguous() {
	if !r.initialized {
		return
	}
	for {
		start, ok := r.smallestBuffered()
		if !ok {
			return
		}
		data := r.buffered[start]
		switch {
		case start == r.nextSeq:
			r.logEvent(eventDeliveredBuffered, start, len(data))
			r.notifyData(data)
			r.nextSeq += uint32(len(data))
		case seqGE(r.nextSeq, start+uint32(len(data))):
			// Fully superseded while it sat in the buffer.
			r.logEvent(eventOldDiscarded, start, len(data))
		case seqGT(r.nextSeq, start):
			overlap := r.nextSeq - start
			r.logEvent(eventOverlapTrimmed, start, len(data))
			r.logEvent(eventDeliveredBuffered, r.nextSeq, len(data)-int(overlap))
			r.notifyData(data[overlap:])
			r.nextSeq += uint32(len(data) - int(overlap))
		default:
			// Gap ahead of the front segment; wait for more data.
			return
		}
		r.bufferedBytes -= len(data)
		delete(r.buffered, start)
	}
}

func (r *Reassembly) notifyData(data []byte) {
	for _, a := range r.analyzers {
		a.OnData(r.dir, data)
	}
}
