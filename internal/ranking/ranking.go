// Package ranking implements the ladder-climb position exchange. Everything
// here is pure: no I/O, no clocks, no shared state
package ranking

import (
	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

// Side names one party of a challenge
type Side int

const (
	SideChallenger Side = iota
	SideDefender
)

// Winner decides which side won. forfeiter is only consulted for forfeits
func Winner(outcome models.Outcome, forfeiter Side) (Side, error) {
	switch outcome {
	case models.OutcomeWon:
		return SideChallenger, nil
	case models.OutcomeLost:
		return SideDefender, nil
	case models.OutcomeForfeited:
		if forfeiter == SideChallenger {
			return SideDefender, nil
		}
		return SideChallenger, nil
	default:
		return 0, apperrors.New(apperrors.KindInvalidOutcome, "outcome %q does not decide a winner", outcome)
	}
}

// Apply returns the positions of both parties after the match. A higher-ranked
// winner keeps everything as it is. A lower-ranked winner takes the loser's
// position and the loser drops one place along with everyone in between.
// Cancelled matches leave positions untouched
func Apply(outcome models.Outcome, forfeiter Side, challengerPos, defenderPos int) (int, int, error) {
	if challengerPos < 1 || defenderPos < 1 || challengerPos == defenderPos {
		return 0, 0, apperrors.New(apperrors.KindOutOfRange, "invalid positions %d and %d", challengerPos, defenderPos)
	}
	if outcome == models.OutcomeCancelled {
		return challengerPos, defenderPos, nil
	}

	winner, err := Winner(outcome, forfeiter)
	if err != nil {
		return 0, 0, err
	}

	winnerPos, loserPos := challengerPos, defenderPos
	if winner == SideDefender {
		winnerPos, loserPos = defenderPos, challengerPos
	}
	if winnerPos < loserPos {
		return challengerPos, defenderPos, nil
	}

	// winner climbs to loserPos, loser shifts to loserPos+1
	if winner == SideChallenger {
		return loserPos, loserPos + 1, nil
	}
	return loserPos + 1, loserPos, nil
}

// Relocate moves the entry at position from to position to, shifting the
// entries in between by one. order[i] holds the player at position i+1. The
// input slice is not modified
func Relocate(order []string, from, to int) ([]string, error) {
	n := len(order)
	if from < 1 || from > n {
		return nil, apperrors.New(apperrors.KindOutOfRange, "position %d outside 1..%d", from, n)
	}
	if to < 1 || to > n {
		return nil, apperrors.New(apperrors.KindOutOfRange, "position %d outside 1..%d", to, n)
	}

	out := make([]string, 0, n)
	moving := order[from-1]
	for i, id := range order {
		if i == from-1 {
			continue
		}
		out = append(out, id)
	}
	out = append(out, "")
	copy(out[to:], out[to-1:])
	out[to-1] = moving
	return out, nil
}

// Climb applies a decided match to a full position order
func Climb(order []string, winnerPos, loserPos int) ([]string, error) {
	if winnerPos < loserPos {
		return append([]string(nil), order...), nil
	}
	return Relocate(order, winnerPos, loserPos)
}
