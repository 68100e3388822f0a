package dal

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

type gatewayFactory func(t *testing.T) Gateway

func gateways() map[string]gatewayFactory {
	return map[string]gatewayFactory{
		"memory": func(t *testing.T) Gateway {
			return NewMemoryDAL()
		},
		"sqlite": func(t *testing.T) Gateway {
			g, err := NewSQLiteDAL(filepath.Join(t.TempDir(), "ladder.sqlite"))
			if err != nil {
				t.Fatalf("NewSQLiteDAL() error = %v", err)
			}
			return g
		},
		"bolt": func(t *testing.T) Gateway {
			g, err := NewBoltDAL(filepath.Join(t.TempDir(), "data", "ladder.db"))
			if err != nil {
				t.Fatalf("NewBoltDAL() error = %v", err)
			}
			return g
		},
	}
}

func testSnapshot(key models.Key) *models.Snapshot {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	timeout := created.Add(48 * time.Hour)
	deadline := created.Add(7 * 24 * time.Hour)

	return &models.Snapshot{
		Tournament: models.Tournament{
			ID:               "t-1",
			Channel:          key.Channel,
			Mode:             key.Mode,
			Status:           models.TournamentActive,
			CreatedAt:        created,
			ChallengeRule:    models.RulePyramid,
			ChallengeTimeout: 7 * 24 * time.Hour,
			Notes:            "weekly ladder",
			Admins:           []string{"alice"},
		},
		Players: []models.PlayerEntry{
			{ID: "alice", Position: 1, Status: models.PlayerActive, RegisteredAt: created},
			{ID: "bob", Position: 2, Status: models.PlayerSuspended, Notes: "away", RegisteredAt: created},
			{ID: "carol", Position: 3, Status: models.PlayerActive, TimeoutUntil: &timeout, RegisteredAt: created},
			{ID: "dave", Position: 0, Status: models.PlayerRemoved, RegisteredAt: created},
		},
		Challenges: []models.Challenge{
			{ID: "c-1", Challenger: "carol", Defender: "alice", State: models.ChallengeProposed, CreatedAt: created, Deadline: &deadline, Outcome: models.OutcomePending},
		},
		NextSeq: 4,
	}
}

func testRecord(key models.Key, seq int64) models.HistoryRecord {
	return models.HistoryRecord{
		ID:               fmt.Sprintf("r-%d", seq),
		Seq:              seq,
		TournamentID:     "t-1",
		Key:              key,
		Timestamp:        time.Date(2026, 3, 1, 12, int(seq), 0, 0, time.UTC),
		ChallengeID:      fmt.Sprintf("c-%d", seq),
		Challenger:       "bob",
		Defender:         "alice",
		ChallengerBefore: 2,
		ChallengerAfter:  1,
		DefenderBefore:   1,
		DefenderAfter:    2,
		Outcome:          models.OutcomeWon,
		Reason:           models.ReasonReported,
	}
}

func TestGatewayLoadMissing(t *testing.T) {
	for name, factory := range gateways() {
		t.Run(name, func(t *testing.T) {
			g := factory(t)
			defer g.Close()

			snap, err := g.Load(context.Background(), models.Key{Channel: "nowhere", Mode: models.ModeLadder1v1})
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if snap != nil {
				t.Fatalf("Load() = %+v, want nil", snap)
			}
		})
	}
}

func TestGatewaySnapshotRoundTrip(t *testing.T) {
	key := models.Key{Channel: "general", Mode: models.ModeLadder1v1}

	for name, factory := range gateways() {
		t.Run(name, func(t *testing.T) {
			g := factory(t)
			defer g.Close()
			ctx := context.Background()

			want := testSnapshot(key)
			if err := g.Save(ctx, key, want); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got, err := g.Load(ctx, key)
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Load() mismatch\n got: %+v\nwant: %+v", got, want)
			}

			// overwrite
			want.Tournament.Status = models.TournamentDeleted
			if err := g.Save(ctx, key, want); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, _ = g.Load(ctx, key)
			if got.Tournament.Status != models.TournamentDeleted {
				t.Errorf("status = %s after overwrite", got.Tournament.Status)
			}
		})
	}
}

func TestGatewayHistoryOrder(t *testing.T) {
	key := models.Key{Channel: "general", Mode: models.ModeLadder1v1}
	other := models.Key{Channel: "random", Mode: models.ModeLadder1v1}

	for name, factory := range gateways() {
		t.Run(name, func(t *testing.T) {
			g := factory(t)
			defer g.Close()
			ctx := context.Background()

			for seq := int64(1); seq <= 5; seq++ {
				if err := g.AppendHistory(ctx, key, testRecord(key, seq)); err != nil {
					t.Fatalf("AppendHistory(%d) error = %v", seq, err)
				}
			}
			if err := g.AppendHistory(ctx, other, testRecord(other, 1)); err != nil {
				t.Fatal(err)
			}

			recs, err := g.QueryHistory(ctx, key, 3)
			if err != nil {
				t.Fatalf("QueryHistory() error = %v", err)
			}
			if len(recs) != 3 {
				t.Fatalf("len = %d, want 3", len(recs))
			}
			for i, want := range []int64{5, 4, 3} {
				if recs[i].Seq != want {
					t.Errorf("recs[%d].Seq = %d, want %d", i, recs[i].Seq, want)
				}
			}
			if !reflect.DeepEqual(recs[0], testRecord(key, 5)) {
				t.Errorf("record did not round-trip: %+v", recs[0])
			}

			all, err := g.QueryHistory(ctx, key, 0)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 5 {
				t.Errorf("unbounded query len = %d, want 5", len(all))
			}

			none, err := g.QueryHistory(ctx, models.Key{Channel: "empty", Mode: models.ModeLadder1v1}, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(none) != 0 {
				t.Errorf("empty key returned %d records", len(none))
			}
		})
	}
}

func TestGatewayCommit(t *testing.T) {
	key := models.Key{Channel: "general", Mode: models.ModeLadder1v1}

	for name, factory := range gateways() {
		t.Run(name, func(t *testing.T) {
			g := factory(t)
			defer g.Close()
			ctx := context.Background()

			c, ok := g.(Committer)
			if !ok {
				t.Fatalf("%s gateway does not implement Committer", name)
			}

			snap := testSnapshot(key)
			recs := []models.HistoryRecord{testRecord(key, 1), testRecord(key, 2)}
			if err := c.Commit(ctx, key, snap, recs); err != nil {
				t.Fatalf("Commit() error = %v", err)
			}

			got, err := g.Load(ctx, key)
			if err != nil || got == nil {
				t.Fatalf("Load() = %v, %v", got, err)
			}
			history, err := g.QueryHistory(ctx, key, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(history) != 2 || history[0].Seq != 2 {
				t.Errorf("history = %+v", history)
			}
		})
	}
}

func TestGatewayCancelledContext(t *testing.T) {
	key := models.Key{Channel: "general", Mode: models.ModeLadder1v1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, name := range []string{"memory", "bolt"} {
		t.Run(name, func(t *testing.T) {
			g := gateways()[name](t)
			defer g.Close()

			if err := g.Save(ctx, key, testSnapshot(key)); err == nil {
				t.Error("Save() with cancelled context should fail")
			}
			if snap, _ := g.Load(context.Background(), key); snap != nil {
				t.Error("nothing should have been stored")
			}
		})
	}
}
