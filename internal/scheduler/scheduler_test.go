package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/Billy-Davies-2/ladder-bot/internal/dal"
	"github.com/Billy-Davies-2/ladder-bot/internal/ladder"
	"github.com/Billy-Davies-2/ladder-bot/internal/registry"
)

func TestNewRejectsBadSpec(t *testing.T) {
	if _, err := New("every so often", registry.New(dal.NewMemoryDAL(), ladder.Options{})); err == nil {
		t.Fatal("expected an invalid cron spec to fail")
	}
}

func TestSweepExpiresOverdueChallenges(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	reg := registry.New(dal.NewMemoryDAL(), ladder.Options{Now: clock})
	ctx := context.Background()

	s, err := reg.Create(ctx, "general", "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, p := range []string{"alice", "bob", "carol", "dave"} {
		if _, err := s.Register(ctx, p); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if _, err := s.Challenge(ctx, "bob", "alice"); err != nil {
		t.Fatalf("Challenge: %v", err)
	}

	// a second tournament with nothing due
	if _, err := reg.Create(ctx, "random", "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	sched, err := New("@every 1h", reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if n := sched.Sweep(ctx); n != 0 {
		t.Fatalf("expected nothing expired yet, got %d", n)
	}

	now = now.Add(registry.DefaultChallengeTimeout + time.Minute)
	if n := sched.Sweep(ctx); n != 1 {
		t.Fatalf("expected one expired challenge, got %d", n)
	}

	standings, _ := s.Standings()
	if standings[0].ID != "bob" {
		t.Errorf("expected bob to take the top spot after alice timed out, got %+v", standings)
	}
	open, _ := s.OpenChallenges()
	if len(open) != 0 {
		t.Errorf("expected no open challenges, got %d", len(open))
	}
}

func TestStartStop(t *testing.T) {
	sched, err := New("@every 1h", registry.New(dal.NewMemoryDAL(), ladder.Options{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sched.Start()
	sched.Stop()
}
