package dal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

// Gateway is the persistence contract of the tournament engine. Implementations
// must be safe for concurrent use
type Gateway interface {
	// Load returns the stored snapshot for key, or nil with no error when absent
	Load(ctx context.Context, key models.Key) (*models.Snapshot, error)
	Save(ctx context.Context, key models.Key, snap *models.Snapshot) error
	AppendHistory(ctx context.Context, key models.Key, rec models.HistoryRecord) error
	// QueryHistory returns at most limit records, most recent first
	QueryHistory(ctx context.Context, key models.Key, limit int) ([]models.HistoryRecord, error)
	Close() error
}

// Committer is implemented by gateways that can store a snapshot together with
// the history records it produced in one atomic write
type Committer interface {
	Commit(ctx context.Context, key models.Key, snap *models.Snapshot, recs []models.HistoryRecord) error
}

func encodeSnapshot(snap *models.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
