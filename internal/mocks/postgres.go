package mocks

import (
	"github.com/Billy-Davies-2/ladder-bot/internal/dal"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
)

// MockPostgresDAL stands in for Postgres with SQLite during local development
type MockPostgresDAL struct {
	*dal.SQLiteDAL
}

// NewMockPostgresDAL creates a mock Postgres gateway backed by sqliteFile
func NewMockPostgresDAL(sqliteFile string) (*MockPostgresDAL, error) {
	logger.Info("Using MOCK Postgres (SQLite) for local development", "file", sqliteFile)

	sqliteDAL, err := dal.NewSQLiteDAL(sqliteFile)
	if err != nil {
		return nil, err
	}

	return &MockPostgresDAL{SQLiteDAL: sqliteDAL}, nil
}
