package dal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

// SQLiteDAL implements Gateway using SQLite
type SQLiteDAL struct {
	db *sql.DB
}

// NewSQLiteDAL creates a new SQLite data access layer
func NewSQLiteDAL(dbPath string) (*SQLiteDAL, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	dal := &SQLiteDAL{db: db}
	if err := dal.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return dal, nil
}

func (s *SQLiteDAL) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tournaments (
		channel TEXT NOT NULL,
		mode TEXT NOT NULL,
		id TEXT NOT NULL,
		status TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (channel, mode)
	);

	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		mode TEXT NOT NULL,
		seq INTEGER NOT NULL,
		tournament_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		record TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_key_seq ON history(channel, mode, seq);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteDAL) Load(ctx context.Context, key models.Key) (*models.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM tournaments WHERE channel = ? AND mode = ?
	`, key.Channel, string(key.Mode)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot([]byte(data))
}

func (s *SQLiteDAL) Save(ctx context.Context, key models.Key, snap *models.Snapshot) error {
	return s.Commit(ctx, key, snap, nil)
}

func (s *SQLiteDAL) AppendHistory(ctx context.Context, key models.Key, rec models.HistoryRecord) error {
	return s.Commit(ctx, key, nil, []models.HistoryRecord{rec})
}

func (s *SQLiteDAL) QueryHistory(ctx context.Context, key models.Key, limit int) ([]models.HistoryRecord, error) {
	query := `SELECT record FROM history WHERE channel = ? AND mode = ? ORDER BY seq DESC`
	args := []any{key.Channel, string(key.Mode)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.HistoryRecord{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec models.HistoryRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal history record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Commit writes the snapshot (when non-nil) and the records in one transaction
func (s *SQLiteDAL) Commit(ctx context.Context, key models.Key, snap *models.Snapshot, recs []models.HistoryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if snap != nil {
		data, err := encodeSnapshot(snap)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tournaments (channel, mode, id, status, snapshot, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(channel, mode) DO UPDATE SET
				id = excluded.id,
				status = excluded.status,
				snapshot = excluded.snapshot,
				updated_at = excluded.updated_at
		`, key.Channel, string(key.Mode), snap.Tournament.ID, string(snap.Tournament.Status), string(data), time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("upsert tournament: %w", err)
		}
	}

	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal history record: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO history (id, channel, mode, seq, tournament_id, ts, record)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, key.Channel, string(key.Mode), rec.Seq, rec.TournamentID, rec.Timestamp.UnixMilli(), string(data))
		if err != nil {
			return fmt.Errorf("insert history record: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteDAL) Close() error {
	return s.db.Close()
}
