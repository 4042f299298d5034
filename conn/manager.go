package conn

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/mel2oo/tcptrack/gnet"
	"github.com/mel2oo/tcptrack/tracelog"
)

const (
	// MSL bounds how long a TIME_WAIT side lingers before the flow is
	// reclaimed; the idle bound reclaims flows nothing has touched.
	DefaultMSL             = 60 * time.Second
	DefaultIdleBound       = 60 * time.Second
	DefaultSweeperInterval = 5 * time.Second
)

// ManagerConfig carries the sweeper tunables and the analyzer set attached
// to every new flow.
type ManagerConfig struct {
	SweeperInterval time.Duration
	MSL             time.Duration
	IdleBound       time.Duration
	Analyzers       []string
	Registry        *gnet.Registry
}

func (cfg *ManagerConfig) fillDefaults() {
	if cfg.SweeperInterval <= 0 {
		cfg.SweeperInterval = DefaultSweeperInterval
	}
	if cfg.MSL <= 0 {
		cfg.MSL = DefaultMSL
	}
	if cfg.IdleBound <= 0 {
		cfg.IdleBound = DefaultIdleBound
	}
	if cfg.Registry == nil {
		cfg.Registry = gnet.DefaultRegistry
	}
}

// Manager is the process-wide flow table. The map lock is held only for
// lookups, inserts and removals; connections are driven with it released.
type Manager struct {
	cfg ManagerConfig

	mu     sync.Mutex
	conns  map[uint64][]*Connection // EndpointKey.Hash() -> bucket
	nextID uint64

	cleanupMu sync.Mutex
	marked    []gnet.EndpointKey

	packetLog *tracelog.Log

	wg sync.WaitGroup
}

func NewManager(cfg ManagerConfig) *Manager {
	cfg.fillDefaults()
	return &Manager{
		cfg:       cfg,
		conns:     make(map[uint64][]*Connection),
		nextID:    1,
		packetLog: tracelog.Default().Get("packet"),
	}
}

// ProcessPacket is the dispatch path: resolve or create the flow, drive it,
// then queue it for the sweeper when the packet suggests it is done.
func (m *Manager) ProcessPacket(key gnet.EndpointKey, seq uint32, payload []byte, flags gnet.TCPFlags, now time.Time) {
	c := m.createOrGet(key, flags, now)
	if c == nil {
		// Mid-stream pickup: indistinguishable from a flow with a lost
		// opening segment, so we refuse to guess the initiator.
		m.packetLog.Recordf(key.String(), "DROP no-flow flags(%s) Seq:%d Len:%d", flags, seq, len(payload))
		return
	}

	c.HandlePacket(c.FromInitiator(key), seq, payload, flags, now)

	if c.cleanupCandidate(flags) {
		m.markForCleanup(c.key)
	}
}

// createOrGet returns the flow for key, creating it when the packet is an
// opening segment. Non-opening packets for unknown keys return nil.
func (m *Manager) createOrGet(key gnet.EndpointKey, flags gnet.TCPFlags, now time.Time) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := key.Hash()
	for _, c := range m.conns[hash] {
		if c.key.Equal(key) {
			return c
		}
	}

	if !flags.SYN || flags.ACK {
		return nil
	}

	c := newConnection(key, m.nextID, now)
	m.nextID++
	analyzers, unknown := m.cfg.Registry.CreateAll(key, m.cfg.Analyzers)
	for _, name := range unknown {
		m.packetLog.Recordf(key.String(), "unknown analyzer %q skipped", name)
	}
	for _, a := range analyzers {
		c.AddAnalyzer(a)
	}
	m.conns[hash] = append(m.conns[hash], c)
	return c
}

// Get looks up an existing flow without creating one.
func (m *Manager) Get(key gnet.EndpointKey) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns[key.Hash()] {
		if c.key.Equal(key) {
			return c
		}
	}
	return nil
}

// Active returns the tracked flows, newest first.
func (m *Manager) Active() []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Connection
	for _, bucket := range m.conns {
		out = append(out, bucket...)
	}
	slices.SortFunc(out, func(a, b *Connection) bool { return a.id > b.id })
	return out
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, bucket := range m.conns {
		n += len(bucket)
	}
	return n
}

func (m *Manager) markForCleanup(key gnet.EndpointKey) {
	m.cleanupMu.Lock()
	defer m.cleanupMu.Unlock()
	m.marked = append(m.marked, key)
}

// Sweep runs one reclamation pass. Marked flows are re-checked against the
// eligibility predicate; a marked flow that is not yet eligible (TIME_WAIT
// still inside the MSL bound) stays in the queue for a later pass. A scan of
// the remaining flows catches the ones that went idle without ever being
// marked.
func (m *Manager) Sweep(now time.Time) int {
	m.cleanupMu.Lock()
	marked := m.marked
	m.marked = nil
	m.cleanupMu.Unlock()

	removed := 0
	seen := make(map[*Connection]bool)
	for _, key := range marked {
		c := m.Get(key)
		if c == nil || seen[c] {
			continue
		}
		seen[c] = true
		if c.ShouldCleanUp(m.cfg.MSL, m.cfg.IdleBound, now) {
			if m.remove(c) {
				removed++
			}
		} else {
			m.markForCleanup(c.key)
		}
	}

	for _, c := range m.Active() {
		if seen[c] {
			continue
		}
		if c.ShouldCleanUp(m.cfg.MSL, m.cfg.IdleBound, now) && m.remove(c) {
			removed++
		}
	}
	return removed
}

func (m *Manager) remove(c *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := c.key.Hash()
	bucket := m.conns[hash]
	for i, other := range bucket {
		if other == c {
			m.conns[hash] = append(bucket[:i], bucket[i+1:]...)
			if len(m.conns[hash]) == 0 {
				delete(m.conns, hash)
			}
			return true
		}
	}
	return false
}

// StartSweeper runs the reclamation loop until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.SweeperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				m.Sweep(t)
			}
		}
	}()
}

// Shutdown waits for the sweeper and drops every flow. Analyzers do not get
// OnClosed here; that event is reserved for an observed FIN.
func (m *Manager) Shutdown() {
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns = make(map[uint64][]*Connection)
}
