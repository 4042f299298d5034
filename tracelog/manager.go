package tracelog

import (
	"fmt"
	"os"
	"sync"

	"github.com/mel2oo/tcptrack/sets"
)

// The logs every component of the tracker writes to.
var registeredNames = sets.NewSet("packet", "tcp", "reassm", "reassm_data", "tls")

// Manager owns the process-wide set of named logs.
type Manager struct {
	mu    sync.RWMutex
	logs  map[string]*Log
	dummy *Log
}

var (
	defaultManager *Manager
	managerOnce    sync.Once
)

// Default returns the process-wide manager. Before Init it hands out no-op
// sinks only.
func Default() *Manager {
	managerOnce.Do(func() {
		defaultManager = &Manager{
			logs:  make(map[string]*Log),
			dummy: newLog("dummy", false, false, DefaultFlushPolicy()),
		}
	})
	return defaultManager
}

// Init opens the registered logs. printOut names the logs that additionally
// echo to stdout; an unregistered name is an error. With truncate, all files
// are emptied and given a session marker.
func (m *Manager) Init(enable, truncate bool, printOut []string) error {
	echo := sets.NewSet[string]()
	for _, name := range printOut {
		if !registeredNames.Contains(name) {
			return fmt.Errorf("failed to register log: %s", name)
		}
		echo.Insert(name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range sets.AsSortedSlice(registeredNames) {
		m.logs[name] = newLog(name, enable, echo.Contains(name), DefaultFlushPolicy())
	}
	if truncate {
		fmt.Fprintln(os.Stderr, "Truncating logs...")
		for _, l := range m.logs {
			l.Truncate()
		}
	}
	return nil
}

// Get returns the named log, or a no-op sink for unknown names.
func (m *Manager) Get(name string) *Log {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.logs[name]; ok {
		return l
	}
	return m.dummy
}

// Close flushes and closes every open log.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs {
		l.Close()
	}
}
