package dal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

// PostgresDAL implements Gateway using PostgreSQL
type PostgresDAL struct {
	db *sql.DB
}

// NewPostgresDAL creates a new PostgreSQL data access layer optimized for CloudNativePG
func NewPostgresDAL(connString string) (*PostgresDAL, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, err
	}

	// CloudNativePG default max_connections is 100
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute) // recycle to survive failovers
	db.SetConnMaxIdleTime(1 * time.Minute)

	// Kubernetes DNS can take a while to resolve the service
	maxRetries := 5
	retryDelay := 5 * time.Second
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		lastErr = db.PingContext(ctx)
		cancel()

		if lastErr == nil {
			break
		}
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if lastErr != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres after %d retries: %w", maxRetries, lastErr)
	}

	dal := &PostgresDAL{db: db}
	if err := dal.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return dal, nil
}

func (p *PostgresDAL) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tournaments (
		channel TEXT NOT NULL,
		mode TEXT NOT NULL,
		id TEXT NOT NULL,
		status TEXT NOT NULL,
		snapshot JSONB NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (channel, mode)
	);

	CREATE TABLE IF NOT EXISTS history (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		mode TEXT NOT NULL,
		seq BIGINT NOT NULL,
		tournament_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		record JSONB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_history_key_seq ON history(channel, mode, seq DESC);
	CREATE INDEX IF NOT EXISTS idx_tournaments_status ON tournaments(status);
	`

	if _, err := p.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (p *PostgresDAL) Load(ctx context.Context, key models.Key) (*models.Snapshot, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT snapshot FROM tournaments WHERE channel = $1 AND mode = $2
	`, key.Channel, string(key.Mode)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(data)
}

func (p *PostgresDAL) Save(ctx context.Context, key models.Key, snap *models.Snapshot) error {
	return p.Commit(ctx, key, snap, nil)
}

func (p *PostgresDAL) AppendHistory(ctx context.Context, key models.Key, rec models.HistoryRecord) error {
	return p.Commit(ctx, key, nil, []models.HistoryRecord{rec})
}

func (p *PostgresDAL) QueryHistory(ctx context.Context, key models.Key, limit int) ([]models.HistoryRecord, error) {
	query := `SELECT record FROM history WHERE channel = $1 AND mode = $2 ORDER BY seq DESC`
	args := []any{key.Channel, string(key.Mode)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.HistoryRecord{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec models.HistoryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal history record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Commit writes the snapshot (when non-nil) and the records in one transaction
func (p *PostgresDAL) Commit(ctx context.Context, key models.Key, snap *models.Snapshot, recs []models.HistoryRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
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
			VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
			ON CONFLICT (channel, mode) DO UPDATE SET
				id = EXCLUDED.id,
				status = EXCLUDED.status,
				snapshot = EXCLUDED.snapshot,
				updated_at = CURRENT_TIMESTAMP
		`, key.Channel, string(key.Mode), snap.Tournament.ID, string(snap.Tournament.Status), string(data))
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
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, rec.ID, key.Channel, string(key.Mode), rec.Seq, rec.TournamentID, rec.Timestamp, string(data))
		if err != nil {
			return fmt.Errorf("insert history record: %w", err)
		}
	}

	return tx.Commit()
}

func (p *PostgresDAL) Close() error {
	return p.db.Close()
}
