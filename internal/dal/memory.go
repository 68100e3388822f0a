package dal

import (
	"context"
	"sync"

	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

// MemoryDAL implements Gateway using in-memory storage. Snapshots are kept
// encoded so callers never share memory with the store
type MemoryDAL struct {
	mu        sync.RWMutex
	snapshots map[models.Key][]byte
	history   map[models.Key][]models.HistoryRecord
}

// NewMemoryDAL creates a new in-memory data access layer
func NewMemoryDAL() *MemoryDAL {
	return &MemoryDAL{
		snapshots: make(map[models.Key][]byte),
		history:   make(map[models.Key][]models.HistoryRecord),
	}
}

func (m *MemoryDAL) Load(ctx context.Context, key models.Key) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.snapshots[key]
	m.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	return decodeSnapshot(data)
}

func (m *MemoryDAL) Save(ctx context.Context, key models.Key, snap *models.Snapshot) error {
	return m.Commit(ctx, key, snap, nil)
}

func (m *MemoryDAL) AppendHistory(ctx context.Context, key models.Key, rec models.HistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history[key] = append(m.history[key], rec)
	return nil
}

func (m *MemoryDAL) QueryHistory(ctx context.Context, key models.Key, limit int) ([]models.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.history[key]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}

	out := make([]models.HistoryRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// Commit stores the snapshot and records under one lock
func (m *MemoryDAL) Commit(ctx context.Context, key models.Key, snap *models.Snapshot, recs []models.HistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[key] = data
	m.history[key] = append(m.history[key], recs...)
	return nil
}

func (m *MemoryDAL) Close() error {
	return nil
}
