package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wesm/transferview/internal/parser"
)

// ErrNoSession means the sessions directory holds no master log
// for the requested id.
var ErrNoSession = errors.New("session not found")

// Manager maps session ids to monitors, starting them on first
// use.
type Manager struct {
	ctx         context.Context
	sessionsDir string
	interval    time.Duration
	store       Store

	mu       sync.Mutex
	monitors map[string]*Monitor
}

// NewManager returns a manager for sessions under sessionsDir.
// Monitors stop when ctx is done.
func NewManager(
	ctx context.Context, sessionsDir string,
	interval time.Duration, store Store,
) *Manager {
	return &Manager{
		ctx:         ctx,
		sessionsDir: sessionsDir,
		interval:    interval,
		store:       store,
		monitors:    make(map[string]*Monitor),
	}
}

// SessionsDir returns the directory sessions are discovered in.
func (mgr *Manager) SessionsDir() string {
	return mgr.sessionsDir
}

// Get returns the monitor for a session, creating and starting
// it if needed. The first call catches up on the existing logs
// before returning; concurrent callers for the same session wait
// for that, callers for other sessions do not.
func (mgr *Manager) Get(id string) (*Monitor, error) {
	m, err := mgr.register(id)
	if err != nil {
		return nil, err
	}
	m.catchUp.Do(func() {
		m.Drain()
		m.Save()
		if m.State().Terminal() {
			m.broker.Close()
		} else {
			m.Start(mgr.ctx, mgr.interval)
		}
	})
	return m, nil
}

// register returns the monitor for id, creating it under the
// lock without reading any logs.
func (mgr *Manager) register(id string) (*Monitor, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if m, ok := mgr.monitors[id]; ok {
		return m, nil
	}

	dir := parser.FindSessionDir(mgr.sessionsDir, id)
	if dir == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, id)
	}
	m, err := New(id, dir, mgr.store)
	if err != nil {
		return nil, fmt.Errorf("monitoring session %s: %w", id, err)
	}
	mgr.monitors[id] = m
	return m, nil
}

// Lookup returns an existing monitor without creating one.
func (mgr *Manager) Lookup(id string) (*Monitor, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	m, ok := mgr.monitors[id]
	return m, ok
}

// Discover lists the sessions present on disk.
func (mgr *Manager) Discover() ([]parser.DiscoveredSession, error) {
	return parser.DiscoverSessions(mgr.sessionsDir)
}

// WatchAll starts monitors for every session on disk that is not
// yet finished. It returns the number of sessions visited.
func (mgr *Manager) WatchAll() (int, error) {
	sessions, err := mgr.Discover()
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, s := range sessions {
		if _, err := mgr.Get(s.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return len(sessions), errors.Join(errs...)
}

// Close stops every monitor.
func (mgr *Manager) Close() {
	mgr.mu.Lock()
	monitors := make([]*Monitor, 0, len(mgr.monitors))
	for _, m := range mgr.monitors {
		monitors = append(monitors, m)
	}
	mgr.mu.Unlock()
	for _, m := range monitors {
		m.Stop()
	}
}
