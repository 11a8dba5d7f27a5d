package engine

import (
	"context"
	"log"
	"sync"
)

// Manager holds at most one engine at a time and ties its lifecycle to the
// signed-in identity. Login swaps engines (old one torn down before the new
// one connects); logout tears down without a replacement.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	current *Engine
}

// NewManager creates a manager that builds engines from cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// SetIdentity switches the active identity. The existing engine, if any, is
// closed first so two connections never coexist. An empty identity means
// logout: teardown only. Returns the new engine, or nil after logout.
func (m *Manager) SetIdentity(ctx context.Context, identity string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if m.current.Identity() == identity {
			return m.current, nil
		}
		m.current.Close()
		m.current = nil
	}

	if identity == "" {
		return nil, nil
	}

	e, err := New(identity, m.cfg)
	if err != nil {
		return nil, err
	}
	if err := e.Connect(ctx); err != nil {
		// The engine stays usable: history and sends go over HTTP, and the
		// UI sees the Disconnected state.
		log.Printf("engine: initial connect for %s: %v", identity, err)
	}
	m.current = e
	return e, nil
}

// Current returns the active engine, or nil when signed out.
func (m *Manager) Current() *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
