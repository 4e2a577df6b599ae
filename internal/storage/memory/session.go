package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/rryowa/authsession/internal/storage"
)

type SessionRepository struct {
	mu      sync.RWMutex
	records map[string][]byte
	saves   int
	log     *zap.SugaredLogger
}

func NewSessionRepository(log *zap.SugaredLogger) *SessionRepository {
	return &SessionRepository{
		records: make(map[string][]byte),
		log:     log,
	}
}

func (m *SessionRepository) LoadRecord(_ context.Context, namespace string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[namespace]
	if !ok {
		m.log.Debugw("Session record not found", "namespace", namespace)
		return nil, storage.ErrRecordNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *SessionRepository) SaveRecord(_ context.Context, namespace string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[namespace] = append([]byte(nil), data...)
	m.saves++
	m.log.Debugw("Session record saved", "namespace", namespace, "bytes", len(data))
	return nil
}

func (m *SessionRepository) DeleteRecord(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, namespace)
	return nil
}

// Saves reports how many times a record has been written.
func (m *SessionRepository) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
