// Package tracelog provides the named, buffered log sinks the tracker
// writes its packet, state, reassembly and TLS events to. Each sink flushes
// on an entry-count or age threshold and truncates itself with a marker line
// when the file grows past the size cap.
package tracelog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// Defaults: flush after 1000 entries or 5 minutes, truncate at 10 MiB.
	DefaultMaxUpdates = 1000
	DefaultMaxAge     = 5 * time.Minute
	DefaultMaxSize    = 10 << 20
)

const (
	startMarker    = "Log truncated at start of new session"
	sizeCapMarker  = "Log truncated due to size limit"
	timestampLayout = "2006-01-02 15:04:05.000000"
)

// FlushPolicy bounds how long entries may sit in the in-memory buffer and
// how large the backing file may grow.
type FlushPolicy struct {
	MaxUpdates int
	MaxAge     time.Duration
	MaxSize    int64
}

func DefaultFlushPolicy() FlushPolicy {
	return FlushPolicy{
		MaxUpdates: DefaultMaxUpdates,
		MaxAge:     DefaultMaxAge,
		MaxSize:    DefaultMaxSize,
	}
}

// Log is one named sink. A Log whose file could not be opened is a no-op;
// callers never need to check. Safe for concurrent use.
type Log struct {
	name     string
	filename string
	printOut bool
	policy   FlushPolicy

	mu        sync.Mutex
	file      *os.File
	buffer    []string
	lastFlush time.Time
}

func newLog(name string, enabled, printOut bool, policy FlushPolicy) *Log {
	l := &Log{
		name:      name,
		filename:  name + ".log",
		printOut:  printOut,
		policy:    policy,
		lastFlush: time.Now(),
	}
	if !enabled {
		return l
	}
	file, err := os.OpenFile(l.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		// Startup-time failure only; the sink degrades to a no-op and
		// capture continues.
		fmt.Fprintln(os.Stderr, errors.Wrapf(err, "failed to open log file %s", l.filename))
		return l
	}
	l.file = file
	return l
}

func (l *Log) Name() string { return l.name }

// timestamp renders the wall clock with microsecond resolution and the local
// UTC offset, e.g. "[2026-08-02 09:15:42.123456 UTC+8]".
func timestamp(t time.Time) string {
	_, offsetSeconds := t.Zone()
	offsetHours := offsetSeconds / 3600
	sign := "+"
	if offsetHours < 0 {
		sign = "-"
		offsetHours = -offsetHours
	}
	return fmt.Sprintf("[%s UTC%s%d]", t.Format(timestampLayout), sign, offsetHours)
}

// Record buffers one entry. conn is the canonical "src:port->dst:port" form
// of the flow the event belongs to; it may be empty for global lines.
func (l *Log) Record(conn, payload string) {
	line := timestamp(time.Now())
	if conn != "" {
		line += conn + ","
	}
	line += payload

	if l.printOut {
		fmt.Println(line)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	l.buffer = append(l.buffer, line)
	if len(l.buffer) >= l.policy.MaxUpdates || time.Since(l.lastFlush) >= l.policy.MaxAge {
		l.flushLocked()
	}
}

// Recordf is Record with formatting.
func (l *Log) Recordf(conn, format string, args ...interface{}) {
	l.Record(conn, fmt.Sprintf(format, args...))
}

// Flush writes out any buffered entries.
func (l *Log) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
}

func (l *Log) flushLocked() {
	if l.file == nil || len(l.buffer) == 0 {
		return
	}
	l.truncateIfOversizeLocked()
	for _, line := range l.buffer {
		fmt.Fprintln(l.file, line)
	}
	l.buffer = l.buffer[:0]
	l.lastFlush = time.Now()
}

func (l *Log) truncateIfOversizeLocked() {
	info, err := l.file.Stat()
	if err != nil || info.Size() <= l.policy.MaxSize {
		return
	}
	if err := l.file.Truncate(0); err != nil {
		return
	}
	l.file.Seek(0, 0)
	fmt.Fprintln(l.file, sizeCapMarker)
}

// Truncate empties the backing file and writes a session marker. Used by the
// -D flag at startup.
func (l *Log) Truncate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}
	l.buffer = l.buffer[:0]
	if err := l.file.Truncate(0); err != nil {
		return
	}
	l.file.Seek(0, 0)
	fmt.Fprintln(l.file, startMarker)
}

// Close flushes and releases the file.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
