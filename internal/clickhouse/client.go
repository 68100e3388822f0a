// Package clickhouse mirrors resolved matches into ClickHouse for analytics.
// The mirror is write-behind: the tournament gateway stays the source of truth
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

// PlayerStats aggregates one player's decided matches in a tournament
type PlayerStats struct {
	Player   string `json:"player"`
	Matches  uint64 `json:"matches"`
	Wins     uint64 `json:"wins"`
	Losses   uint64 `json:"losses"`
	Forfeits uint64 `json:"forfeits"`
}

// Analytics is implemented by the ClickHouse client and its development mock
type Analytics interface {
	RecordMatches(ctx context.Context, recs []models.HistoryRecord) error
	PlayerStats(ctx context.Context, key models.Key, player string) (PlayerStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// Client provides ClickHouse integration for match analytics
type Client struct {
	conn driver.Conn
}

// NewClient creates a new ClickHouse client and ensures the matches table exists
func NewClient(addr, database, username, password string) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	c := &Client{conn: conn}
	if err := c.initSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) initSchema(ctx context.Context) error {
	err := c.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ladder_matches (
			id String,
			channel String,
			mode LowCardinality(String),
			tournament_id String,
			seq Int64,
			ts DateTime64(3),
			challenge_id String,
			challenger String,
			defender String,
			winner String,
			outcome LowCardinality(String),
			reason LowCardinality(String),
			forfeited_by String,
			challenger_before Int32,
			challenger_after Int32,
			defender_before Int32,
			defender_after Int32
		) ENGINE = ReplacingMergeTree
		ORDER BY (channel, mode, seq, id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ladder_matches: %w", err)
	}
	return nil
}

// RecordMatches inserts the records as one batch
func (c *Client) RecordMatches(ctx context.Context, recs []models.HistoryRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO ladder_matches")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, r := range recs {
		err := batch.Append(
			r.ID,
			r.Key.Channel,
			string(r.Key.Mode),
			r.TournamentID,
			r.Seq,
			r.Timestamp,
			r.ChallengeID,
			r.Challenger,
			r.Defender,
			r.Winner(),
			string(r.Outcome),
			string(r.Reason),
			r.ForfeitedBy,
			int32(r.ChallengerBefore),
			int32(r.ChallengerAfter),
			int32(r.DefenderBefore),
			int32(r.DefenderAfter),
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append match %s: %w", r.ID, err)
		}
	}
	return batch.Send()
}

// PlayerStats aggregates a player's decided matches in one tournament
func (c *Client) PlayerStats(ctx context.Context, key models.Key, player string) (PlayerStats, error) {
	stats := PlayerStats{Player: player}

	query := `
		SELECT
			count(),
			countIf(winner = $3),
			countIf(winner != $3),
			countIf(forfeited_by = $3)
		FROM ladder_matches FINAL
		WHERE channel = $1
		AND mode = $2
		AND (challenger = $3 OR defender = $3)
		AND outcome != 'Cancelled'
	`

	row := c.conn.QueryRow(ctx, query, key.Channel, string(key.Mode), player)
	if err := row.Scan(&stats.Matches, &stats.Wins, &stats.Losses, &stats.Forfeits); err != nil {
		return PlayerStats{}, err
	}
	return stats, nil
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close closes the ClickHouse connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
