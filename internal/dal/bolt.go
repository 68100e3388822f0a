package dal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

const (
	tournamentsBucket = "tournaments"
	historyBucket     = "history"
)

// BoltDAL implements Gateway on an embedded BoltDB file. History lives in one
// nested bucket per tournament key, keyed by big-endian sequence number so a
// reverse cursor walk yields the most recent records first
type BoltDAL struct {
	db *bbolt.DB
}

// NewBoltDAL opens (or creates) the database at dbPath
func NewBoltDAL(dbPath string) (*BoltDAL, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(filepath.Clean(dbPath), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB at %s: %w", dbPath, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{tournamentsBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltDAL{db: db}, nil
}

func boltKey(key models.Key) []byte {
	return []byte(key.String())
}

func seqKey(seq int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(seq))
	return b
}

func (b *BoltDAL) Load(ctx context.Context, key models.Key) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap *models.Snapshot
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(tournamentsBucket)).Get(boltKey(key))
		if data == nil {
			return nil
		}
		var err error
		snap, err = decodeSnapshot(data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return snap, nil
}

func (b *BoltDAL) Save(ctx context.Context, key models.Key, snap *models.Snapshot) error {
	return b.Commit(ctx, key, snap, nil)
}

func (b *BoltDAL) AppendHistory(ctx context.Context, key models.Key, rec models.HistoryRecord) error {
	return b.Commit(ctx, key, nil, []models.HistoryRecord{rec})
}

func (b *BoltDAL) QueryHistory(ctx context.Context, key models.Key, limit int) ([]models.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []models.HistoryRecord{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(historyBucket)).Bucket(boltKey(key))
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec models.HistoryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal history record: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Commit writes the snapshot (when non-nil) and the records in one bolt transaction
func (b *BoltDAL) Commit(ctx context.Context, key models.Key, snap *models.Snapshot, recs []models.HistoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var data []byte
	if snap != nil {
		var err error
		if data, err = encodeSnapshot(snap); err != nil {
			return err
		}
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		if data != nil {
			if err := tx.Bucket([]byte(tournamentsBucket)).Put(boltKey(key), data); err != nil {
				return err
			}
		}
		if len(recs) == 0 {
			return nil
		}

		bucket, err := tx.Bucket([]byte(historyBucket)).CreateBucketIfNotExists(boltKey(key))
		if err != nil {
			return err
		}
		for _, rec := range recs {
			payload, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("marshal history record: %w", err)
			}
			if err := bucket.Put(seqKey(rec.Seq), payload); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltDAL) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
