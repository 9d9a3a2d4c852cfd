// Package tasks supervises every unit of concurrent work the gateway spawns.
// It is the single place that knows the full set of live goroutines, which is
// what makes a coordinated drain on global shutdown possible.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// Manager tracks spawned goroutines by spawn site and supports waiting for
// all of them to exit.
type Manager struct {
	logger *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	nextID uint64
	live   map[uint64]string
}

// NewManager creates a task manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		live:   make(map[uint64]string),
	}
}

// Spawn schedules fn for concurrent execution and returns immediately. The
// task is tagged with name for diagnostics; an empty name is replaced by the
// caller's file:line.
func (m *Manager) Spawn(name string, fn func()) {
	if name == "" {
		if _, file, line, ok := runtime.Caller(1); ok {
			name = fmt.Sprintf("%s:%d", file, line)
		} else {
			name = "unknown"
		}
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.live[id] = name
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.live, id)
			m.mu.Unlock()
			m.wg.Done()
		}()

		if m.logger != nil {
			m.logger.Debug("task started", "task", name)
		}
		fn()
		if m.logger != nil {
			m.logger.Debug("task exited", "task", name)
		}
	}()
}

// Active returns the diagnostic tags of all currently live tasks.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.live))
	for _, name := range m.live {
		names = append(names, name)
	}
	return names
}

// ActiveCount returns the number of currently live tasks.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Wait blocks until every spawned task has exited or ctx is done. On ctx
// expiry it returns an error naming the tasks still alive.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		stuck := m.Active()
		return fmt.Errorf("task drain interrupted: %w (still live: %v)", ctx.Err(), stuck)
	}
}
