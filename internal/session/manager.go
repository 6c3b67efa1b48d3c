package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"predmaint-service/internal/log"
	"predmaint-service/internal/metrics"
	"predmaint-service/internal/telemetry"
)

// ErrNotFound возвращается для неизвестной сессии
var ErrNotFound = errors.New("session: not found")

// Manager управляет набором независимых сессий
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	capacity int
	ctx      context.Context
}

// NewManager создает менеджер. ctx ограничивает время жизни задач живого режима.
func NewManager(ctx context.Context, capacity int) *Manager {
	if capacity < 1 {
		capacity = telemetry.DefaultCapacity
	}
	return &Manager{
		sessions: make(map[string]*Session),
		capacity: capacity,
		ctx:      ctx,
	}
}

// Context возвращает контекст для задач живого режима
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Create создает новую сессию
func (m *Manager) Create() *Session {
	s := New(uuid.NewString(), m.capacity)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	return s
}

// Get возвращает сессию по идентификатору
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete останавливает и удаляет сессию
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	s.Close()
	metrics.ActiveSessions.Set(float64(n))
	return nil
}

// Len возвращает количество сессий
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep удаляет сессии без активности дольше maxIdle. Сессии в живом режиме не удаляются.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		touched, live := s.idleSince()
		if !live && touched.Before(cutoff) {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}
	metrics.ActiveSessions.Set(float64(n))
	return len(idle)
}

// RunSweeper периодически вызывает Sweep до отмены ctx
func (m *Manager) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if n := m.Sweep(maxIdle); n > 0 {
				log.Infow("idle sessions evicted", "count", n, "remaining", m.Len())
			}
		case <-ctx.Done():
			return
		}
	}
}

// CloseAll останавливает все сессии
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	metrics.ActiveSessions.Set(0)
}
