package store

import (
	"context"
	"sync"
	"time"
)

// Memory keeps the snapshot in process memory. Load and Save copy, so callers
// never share slices with the stored state.
type Memory struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return Empty(), nil
	}
	return m.snap.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.SchemaVersion = SchemaVersion
	s.UpdatedAt = time.Now().UTC()
	m.snap = s.Clone()
	m.saves++
	return nil
}

func (m *Memory) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	return nil
}

// Saves returns how many times Save was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close(ctx context.Context) {}
