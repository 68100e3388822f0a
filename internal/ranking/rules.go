package ranking

import "github.com/Billy-Davies-2/ladder-bot/internal/models"

// Tier returns the pyramid tier of a position. Tier t holds t positions:
// tier 1 is position 1, tier 2 is positions 2-3, tier 3 is 4-6, and so on
func Tier(position int) int {
	tier := 1
	last := 1
	for last < position {
		tier++
		last += tier
	}
	return tier
}

// Eligible reports whether the challenge rule allows the pairing
func Eligible(rule models.ChallengeRule, challengerPos, defenderPos int) bool {
	if challengerPos == defenderPos {
		return false
	}
	switch rule {
	case models.RuleLadder:
		return defenderPos == challengerPos-1
	case models.RulePyramid:
		return defenderPos < challengerPos && Tier(defenderPos) >= Tier(challengerPos)-1
	default:
		return true
	}
}
