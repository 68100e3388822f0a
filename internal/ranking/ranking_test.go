package ranking

import (
	"math/rand"
	"reflect"
	"testing"

	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name      string
		outcome   models.Outcome
		forfeiter Side
		c, d      int
		wantC     int
		wantD     int
	}{
		{"lower ranked challenger wins", models.OutcomeWon, 0, 2, 1, 1, 2},
		{"lower ranked challenger loses", models.OutcomeLost, 0, 3, 2, 3, 2},
		{"long climb", models.OutcomeWon, 0, 7, 3, 3, 4},
		{"higher ranked challenger wins", models.OutcomeWon, 0, 1, 4, 1, 4},
		{"higher ranked challenger loses", models.OutcomeLost, 0, 1, 4, 2, 1},
		{"defender forfeits", models.OutcomeForfeited, SideDefender, 5, 2, 2, 3},
		{"challenger forfeits", models.OutcomeForfeited, SideChallenger, 5, 2, 5, 2},
		{"cancelled", models.OutcomeCancelled, 0, 5, 2, 5, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, d, err := Apply(tt.outcome, tt.forfeiter, tt.c, tt.d)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if c != tt.wantC || d != tt.wantD {
				t.Errorf("Apply() = (%d, %d), want (%d, %d)", c, d, tt.wantC, tt.wantD)
			}
		})
	}
}

func TestApplyRejectsUndecidedOutcomes(t *testing.T) {
	for _, outcome := range []models.Outcome{models.OutcomePending, "Draw", ""} {
		if _, _, err := Apply(outcome, 0, 2, 1); !apperrors.Is(err, apperrors.KindInvalidOutcome) {
			t.Errorf("Apply(%q) error = %v, want InvalidOutcome", outcome, err)
		}
	}
	if _, _, err := Apply(models.OutcomeWon, 0, 2, 2); !apperrors.Is(err, apperrors.KindOutOfRange) {
		t.Errorf("same positions error = %v, want OutOfRange", err)
	}
}

func TestRelocate(t *testing.T) {
	order := []string{"a", "b", "c", "d", "e"}

	tests := []struct {
		from, to int
		want     []string
	}{
		{5, 2, []string{"a", "e", "b", "c", "d"}},
		{1, 4, []string{"b", "c", "d", "a", "e"}},
		{3, 3, []string{"a", "b", "c", "d", "e"}},
		{2, 1, []string{"b", "a", "c", "d", "e"}},
	}

	for _, tt := range tests {
		got, err := Relocate(order, tt.from, tt.to)
		if err != nil {
			t.Fatalf("Relocate(%d, %d) error = %v", tt.from, tt.to, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Relocate(%d, %d) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}

	if !reflect.DeepEqual(order, []string{"a", "b", "c", "d", "e"}) {
		t.Error("Relocate must not modify its input")
	}

	if _, err := Relocate(order, 1, 6); !apperrors.Is(err, apperrors.KindOutOfRange) {
		t.Errorf("out of range target error = %v", err)
	}
	if _, err := Relocate(order, 0, 1); !apperrors.Is(err, apperrors.KindOutOfRange) {
		t.Errorf("out of range source error = %v", err)
	}
}

// The worked example from the ladder rules: B beats A, then C loses to A
func TestClimbExample(t *testing.T) {
	order := []string{"A", "B", "C"}

	order, err := Climb(order, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(order, []string{"B", "A", "C"}) {
		t.Fatalf("after B beats A: %v", order)
	}

	// A (position 2) beats challenger C (position 3)
	order, err = Climb(order, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(order, []string{"B", "A", "C"}) {
		t.Fatalf("after C loses to A: %v", order)
	}
}

// Apply and Climb must agree, and Climb must always produce a permutation
func TestClimbPreservesPermutation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	outcomes := []models.Outcome{models.OutcomeWon, models.OutcomeLost, models.OutcomeForfeited}

	for round := 0; round < 200; round++ {
		n := 2 + rng.Intn(12)
		order := make([]string, n)
		for i := range order {
			order[i] = string(rune('a' + i))
		}

		for step := 0; step < 50; step++ {
			c := 1 + rng.Intn(n)
			d := 1 + rng.Intn(n)
			if c == d {
				continue
			}
			outcome := outcomes[rng.Intn(len(outcomes))]
			forfeiter := Side(rng.Intn(2))

			challenger, defender := order[c-1], order[d-1]
			newC, newD, err := Apply(outcome, forfeiter, c, d)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}

			winner, _ := Winner(outcome, forfeiter)
			winnerPos, loserPos := c, d
			if winner == SideDefender {
				winnerPos, loserPos = d, c
			}
			next, err := Climb(order, winnerPos, loserPos)
			if err != nil {
				t.Fatalf("Climb() error = %v", err)
			}

			if next[newC-1] != challenger || next[newD-1] != defender {
				t.Fatalf("Apply and Climb disagree: order=%v c=%d d=%d outcome=%s next=%v", order, c, d, outcome, next)
			}

			seen := make(map[string]bool, n)
			for _, id := range next {
				if seen[id] {
					t.Fatalf("duplicate %q in %v", id, next)
				}
				seen[id] = true
			}
			if len(seen) != n {
				t.Fatalf("lost players: %v", next)
			}
			order = next
		}
	}
}

func TestTier(t *testing.T) {
	want := map[int]int{1: 1, 2: 2, 3: 2, 4: 3, 6: 3, 7: 4, 10: 4, 11: 5}
	for pos, tier := range want {
		if got := Tier(pos); got != tier {
			t.Errorf("Tier(%d) = %d, want %d", pos, got, tier)
		}
	}
}

func TestEligible(t *testing.T) {
	tests := []struct {
		rule models.ChallengeRule
		c, d int
		want bool
	}{
		{models.RuleOpen, 5, 1, true},
		{models.RuleOpen, 1, 5, true},
		{models.RuleOpen, 3, 3, false},
		{models.RuleLadder, 3, 2, true},
		{models.RuleLadder, 3, 1, false},
		{models.RuleLadder, 2, 3, false},
		{models.RulePyramid, 5, 4, true},
		{models.RulePyramid, 5, 2, true},
		{models.RulePyramid, 5, 1, false},
		{models.RulePyramid, 2, 5, false},
	}

	for _, tt := range tests {
		if got := Eligible(tt.rule, tt.c, tt.d); got != tt.want {
			t.Errorf("Eligible(%s, %d, %d) = %v, want %v", tt.rule, tt.c, tt.d, got, tt.want)
		}
	}
}
