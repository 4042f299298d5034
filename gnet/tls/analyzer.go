package tls

import (
	"github.com/mel2oo/tcptrack/gnet"
	"github.com/mel2oo/tcptrack/tracelog"
)

// Analyzer frames TLS records out of both directions of one flow's
// reassembled stream and tracks the handshake phase. The flow table attaches
// the same instance to both reassemblers, so the two framers and the single
// state machine see a consistent ordering per direction.
type Analyzer struct {
	key gnet.EndpointKey
	log *tracelog.Log

	machine      *stateMachine
	clientFramer *recordFramer
	serverFramer *recordFramer
}

var _ gnet.Analyzer = (*Analyzer)(nil)

func NewAnalyzer(key gnet.EndpointKey) *Analyzer {
	a := &Analyzer{
		key: key,
		log: tracelog.Default().Get("tls"),
	}
	logf := func(format string, args ...interface{}) {
		a.log.Recordf(a.key.String(), format, args...)
	}
	a.machine = newStateMachine(logf)
	a.clientFramer = newRecordFramer(logf)
	a.serverFramer = newRecordFramer(logf)
	return a
}

// State exposes the handshake phase, for tests and status display.
func (a *Analyzer) State() State { return a.machine.currentState() }

func (a *Analyzer) HandshakeComplete() bool { return a.machine.currentState() == StateComplete }

func (a *Analyzer) OnData(dir gnet.Direction, data []byte) {
	framer := a.clientFramer
	if dir == gnet.ServerToClient {
		framer = a.serverFramer
	}
	framer.addData(data)

	for {
		contentType, fragment, ok := framer.tryExtractRecord()
		if !ok {
			return
		}
		a.handleRecord(dir, contentType, fragment)
	}
}

func (a *Analyzer) OnReset() {
	a.log.Record(a.key.String(), "connection reset")
	a.reset()
}

func (a *Analyzer) OnClosed() {
	a.log.Recordf(a.key.String(), "connection closed in state %s", a.machine.currentState())
}

func (a *Analyzer) reset() {
	a.machine.reset()
	a.clientFramer.reset()
	a.serverFramer.reset()
}

func (a *Analyzer) handleRecord(dir gnet.Direction, contentType ContentType, fragment []byte) {
	switch contentType {
	case ContentHandshake:
		a.handleHandshake(dir, fragment)
	case ContentChangeCipherSpec:
		a.machine.processChangeCipherSpec(dir)
	case ContentAlert:
		a.handleAlert(dir, fragment)
	case ContentApplicationData, ContentHeartbeat:
		// Opaque to the tracker.
	}
}

func (a *Analyzer) handleHandshake(dir gnet.Direction, fragment []byte) {
	if len(fragment) == 0 {
		return
	}
	a.machine.processHandshake(dir, HandshakeType(fragment[0]))
}

func (a *Analyzer) handleAlert(dir gnet.Direction, fragment []byte) {
	if len(fragment) < alertLength {
		return
	}
	a.log.Recordf(a.key.String(), "alert from %s: level=%d description=%d", dir, fragment[0], fragment[1])
}

// Register installs the analyzer under the "tls" name.
func Register(r *gnet.Registry) {
	r.Register("tls",
		func(key gnet.EndpointKey) gnet.Analyzer { return NewAnalyzer(key) },
		"TLS handshake tracker: record framing plus TLS 1.2 state machine")
}
