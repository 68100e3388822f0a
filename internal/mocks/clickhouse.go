package mocks

import (
	"context"
	"sync"

	"github.com/Billy-Davies-2/ladder-bot/internal/clickhouse"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

// MockClickHouseClient keeps mirrored matches in memory for local development
type MockClickHouseClient struct {
	mu      sync.RWMutex
	matches map[string]models.HistoryRecord
}

var _ clickhouse.Analytics = (*MockClickHouseClient)(nil)

// NewMockClickHouseClient creates a mock ClickHouse client
func NewMockClickHouseClient() *MockClickHouseClient {
	logger.Info("Using MOCK ClickHouse client for local development")

	return &MockClickHouseClient{
		matches: make(map[string]models.HistoryRecord),
	}
}

// RecordMatches stores the records, replacing duplicates by id like a ReplacingMergeTree
func (m *MockClickHouseClient) RecordMatches(_ context.Context, recs []models.HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range recs {
		m.matches[r.ID] = r
	}
	return nil
}

// PlayerStats aggregates the stored matches the same way the ClickHouse query does
func (m *MockClickHouseClient) PlayerStats(_ context.Context, key models.Key, player string) (clickhouse.PlayerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := clickhouse.PlayerStats{Player: player}
	for _, r := range m.matches {
		if r.Key != key || r.Outcome == models.OutcomeCancelled {
			continue
		}
		if r.Challenger != player && r.Defender != player {
			continue
		}
		stats.Matches++
		if r.Winner() == player {
			stats.Wins++
		} else {
			stats.Losses++
		}
		if r.ForfeitedBy == player {
			stats.Forfeits++
		}
	}
	return stats, nil
}

// MatchCount returns the number of mirrored matches
func (m *MockClickHouseClient) MatchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.matches)
}

// Ping always succeeds
func (m *MockClickHouseClient) Ping(context.Context) error {
	return nil
}

// Close is a no-op for mock client
func (m *MockClickHouseClient) Close() error {
	return nil
}
