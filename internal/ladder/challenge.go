package ladder

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
	"github.com/Billy-Davies-2/ladder-bot/internal/pubsub"
	"github.com/Billy-Davies-2/ladder-bot/internal/ranking"
)

// transitions is the challenge lifecycle. Terminal states have no entry
var transitions = map[models.ChallengeState][]models.ChallengeState{
	models.ChallengeProposed: {models.ChallengeAccepted, models.ChallengeCancelled, models.ChallengeForfeited},
	models.ChallengeAccepted: {models.ChallengeResolved, models.ChallengeCancelled, models.ChallengeForfeited},
}

// CanTransition reports whether the lifecycle allows from -> to
func CanTransition(from, to models.ChallengeState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(ch *models.Challenge, to models.ChallengeState) error {
	if !CanTransition(ch.State, to) {
		return apperrors.New(apperrors.KindNoOpenChallenge, "challenge %s cannot move from %s to %s", ch.ID, ch.State, to).
			With("challenge", ch.ID)
	}
	ch.State = to
	return nil
}

// ParseOutcome reads a result report from the reporter's perspective
func ParseOutcome(s string) (won bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "won", "win", "w":
		return true, nil
	case "lost", "loss", "lose", "l":
		return false, nil
	default:
		return false, apperrors.New(apperrors.KindInvalidOutcome, "outcome %q is not one of won or lost", s)
	}
}

// findOpen locates the open challenge of id, narrowed to opponent when given.
// It returns -1 when there is none
func findOpen(snap *models.Snapshot, id, opponent string) (int, error) {
	idx, matches := -1, 0
	for i, ch := range snap.Challenges {
		if !ch.Involves(id) || (opponent != "" && ch.Opponent(id) != opponent) {
			continue
		}
		if idx < 0 {
			idx = i
		}
		matches++
	}
	if matches > 1 {
		return -1, apperrors.New(apperrors.KindInvalidValue, "%s has %d open challenges; name the opponent", id, matches).With("player", id)
	}
	return idx, nil
}

func noOpenChallenge(id string) error {
	return apperrors.New(apperrors.KindNoOpenChallenge, "%s has no open challenge", id).With("player", id)
}

// Challenge opens a challenge from challenger against defender
func (s *State) Challenge(ctx context.Context, challenger, defender string) (models.Challenge, error) {
	if challenger == defender {
		return models.Challenge{}, apperrors.New(apperrors.KindSelfChallenge, "players cannot challenge themselves")
	}

	var created models.Challenge
	_, err := s.mutate(ctx, "challenge", func(t *txn) error {
		c := t.snap.Player(challenger)
		if c == nil || c.Status != models.PlayerActive {
			return apperrors.New(apperrors.KindNotRegistered, "%s is not an active player", challenger).With("player", challenger)
		}
		d := t.snap.Player(defender)
		if d == nil || d.Status != models.PlayerActive {
			return apperrors.New(apperrors.KindNotRegistered, "%s is not an active player", defender).With("player", defender)
		}
		if c.TimedOut(t.now) {
			return apperrors.New(apperrors.KindTimeout, "%s is timed out until %s", challenger, c.TimeoutUntil.Format("2006-01-02 15:04 MST"))
		}
		if d.TimedOut(t.now) {
			return apperrors.New(apperrors.KindTimeout, "%s is timed out until %s", defender, d.TimeoutUntil.Format("2006-01-02 15:04 MST"))
		}

		outgoing, incoming := 0, 0
		for _, ch := range t.snap.Challenges {
			if ch.Involves(challenger) && ch.Involves(defender) {
				return apperrors.New(apperrors.KindDuplicateChallenge, "%s and %s already have an open challenge", challenger, defender).
					With("challenge", ch.ID)
			}
			if ch.Challenger == challenger {
				outgoing++
			}
			if ch.Defender == defender {
				incoming++
			}
		}
		if outgoing >= s.opts.MaxOutgoing {
			return apperrors.New(apperrors.KindDuplicateChallenge, "%s already has %d open challenge(s) issued", challenger, outgoing)
		}
		if incoming >= s.opts.MaxIncoming {
			return apperrors.New(apperrors.KindDuplicateChallenge, "%s already has %d open challenge(s) to answer", defender, incoming)
		}

		rule := t.snap.Tournament.ChallengeRule
		if !ranking.Eligible(rule, c.Position, d.Position) {
			return apperrors.New(apperrors.KindNotEligible, "%s rules do not allow position %d to challenge position %d", rule, c.Position, d.Position)
		}

		created = models.Challenge{
			ID:         uuid.NewString(),
			Challenger: challenger,
			Defender:   defender,
			State:      models.ChallengeProposed,
			CreatedAt:  t.now,
			Outcome:    models.OutcomePending,
		}
		if timeout := t.snap.Tournament.ChallengeTimeout; timeout > 0 {
			deadline := t.now.Add(timeout)
			created.Deadline = &deadline
		}
		t.snap.Challenges = append(t.snap.Challenges, created)

		t.changed = true
		t.emit(pubsub.ChallengeCreated, map[string]any{
			"challenge":  created.ID,
			"challenger": challenger,
			"defender":   defender,
		})
		return nil
	})
	if err != nil {
		return models.Challenge{}, err
	}
	return created, nil
}

// Result reports the outcome of reporter's open challenge. The first report
// decides. A contradicting report from the other party inside the grace
// window fails with ResultConflict and is published for admins
func (s *State) Result(ctx context.Context, reporter, outcome, opponent string) (models.HistoryRecord, error) {
	won, err := ParseOutcome(outcome)
	if err != nil {
		return models.HistoryRecord{}, err
	}

	var rec models.HistoryRecord
	_, err = s.mutate(ctx, "result", func(t *txn) error {
		idx, err := findOpen(t.snap, reporter, opponent)
		if err != nil {
			return err
		}
		if idx < 0 {
			return s.lateReport(t, reporter, opponent, won)
		}
		if opponent == "" {
			// a match the other party decided moments ago competes with this one
			if prior, ok := unconfirmed(t.snap, reporter); ok {
				if challengerOutcome(prior, reporter, won) != prior.Outcome {
					return s.conflict(prior, reporter)
				}
				return apperrors.New(apperrors.KindInvalidValue, "%s was just reported against %s; name the opponent to report another match", reporter, prior.Opponent(reporter)).
					With("player", reporter)
			}
		}

		ch := &t.snap.Challenges[idx]
		claimed := challengerOutcome(*ch, reporter, won)
		if ch.State == models.ChallengeProposed {
			if err := transition(ch, models.ChallengeAccepted); err != nil {
				return err
			}
		}
		ch.ReportedBy = reporter

		rec, err = s.terminate(t, idx, models.ChallengeResolved, claimed, models.ReasonReported, "")
		return err
	})
	if apperrors.Is(err, apperrors.KindResultConflict) {
		s.publishConflict(err)
	}
	if err != nil {
		return models.HistoryRecord{}, err
	}
	return rec, nil
}

// challengerOutcome converts a report into the challenger's perspective
func challengerOutcome(ch models.Challenge, reporter string, won bool) models.Outcome {
	challengerWon := won
	if reporter != ch.Challenger {
		challengerWon = !won
	}
	if challengerWon {
		return models.OutcomeWon
	}
	return models.OutcomeLost
}

// lateReport classifies a report against a challenge that is already closed
func (s *State) lateReport(t *txn, reporter, opponent string, won bool) error {
	for i := len(t.snap.Resolved) - 1; i >= 0; i-- {
		ch := t.snap.Resolved[i]
		if !ch.Involves(reporter) || (opponent != "" && ch.Opponent(reporter) != opponent) {
			continue
		}
		if ch.ReportedBy == reporter || challengerOutcome(ch, reporter, won) == ch.Outcome {
			break
		}

		return s.conflict(ch, reporter)
	}
	return noOpenChallenge(reporter)
}

// unconfirmed returns the latest challenge of id resolved inside the grace
// window on the other party's report
func unconfirmed(snap *models.Snapshot, id string) (models.Challenge, bool) {
	for i := len(snap.Resolved) - 1; i >= 0; i-- {
		ch := snap.Resolved[i]
		if ch.Involves(id) && ch.ReportedBy != id {
			return ch, true
		}
	}
	return models.Challenge{}, false
}

func (s *State) conflict(ch models.Challenge, reporter string) error {
	s.log.Warn("Conflicting result report",
		"challenge", ch.ID,
		"reportedBy", ch.ReportedBy,
		"conflictingReporter", reporter,
		"recorded", ch.Outcome,
	)
	return apperrors.New(apperrors.KindResultConflict, "%s already reported this match as %s for the challenger; an admin must correct it", ch.ReportedBy, ch.Outcome).
		With("challenge", ch.ID).
		With("reportedBy", ch.ReportedBy).
		With("conflictingReporter", reporter).
		With("recorded", string(ch.Outcome))
}

func (s *State) publishConflict(err error) {
	if s.opts.Publisher == nil {
		return
	}
	var payload map[string]any
	var e *apperrors.Error
	if errors.As(err, &e) {
		payload = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			payload[k] = v
		}
	}
	s.opts.Publisher.Publish(pubsub.Event{
		Type:       pubsub.ResultConflict,
		Tournament: s.key.String(),
		Time:       s.opts.Now().UTC(),
		Payload:    payload,
	})
}

// Cancel withdraws requester's open challenge without ranking effect
func (s *State) Cancel(ctx context.Context, requester, opponent string) (models.HistoryRecord, error) {
	return s.close(ctx, "cancel", requester, opponent, func(t *txn, idx int) (models.HistoryRecord, error) {
		return s.terminate(t, idx, models.ChallengeCancelled, models.OutcomeCancelled, models.ReasonCancelled, "")
	})
}

// Forfeit concedes requester's open challenge; requester's side loses
func (s *State) Forfeit(ctx context.Context, requester, opponent string) (models.HistoryRecord, error) {
	return s.close(ctx, "forfeit", requester, opponent, func(t *txn, idx int) (models.HistoryRecord, error) {
		return s.terminate(t, idx, models.ChallengeForfeited, models.OutcomeForfeited, models.ReasonForfeit, requester)
	})
}

func (s *State) close(ctx context.Context, op, requester, opponent string, fn func(*txn, int) (models.HistoryRecord, error)) (models.HistoryRecord, error) {
	var rec models.HistoryRecord
	_, err := s.mutate(ctx, op, func(t *txn) error {
		idx, err := findOpen(t.snap, requester, opponent)
		if err != nil {
			return err
		}
		if idx < 0 {
			return noOpenChallenge(requester)
		}
		rec, err = fn(t, idx)
		return err
	})
	if err != nil {
		return models.HistoryRecord{}, err
	}
	return rec, nil
}

// Expire forfeits, on the defender's behalf, every open challenge whose
// deadline has passed
func (s *State) Expire(ctx context.Context) ([]models.HistoryRecord, error) {
	now := s.opts.Now()
	due := false
	for _, ch := range s.view.Load().Challenges {
		if ch.Deadline != nil && now.After(*ch.Deadline) {
			due = true
			break
		}
	}
	if !due {
		return nil, nil
	}

	t, err := s.mutate(ctx, "expire", func(t *txn) error {
		for i := 0; i < len(t.snap.Challenges); {
			ch := t.snap.Challenges[i]
			if ch.Deadline == nil || !t.now.After(*ch.Deadline) {
				i++
				continue
			}
			if _, err := s.terminate(t, i, models.ChallengeForfeited, models.OutcomeForfeited, models.ReasonTimeout, ch.Defender); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.records, nil
}

// terminate closes the open challenge at idx: it applies the ranking change,
// moves the challenge out of the open list and writes the history record
func (s *State) terminate(t *txn, idx int, to models.ChallengeState, outcome models.Outcome, reason models.Reason, forfeitedBy string) (models.HistoryRecord, error) {
	ch := t.snap.Challenges[idx]
	if err := transition(&ch, to); err != nil {
		return models.HistoryRecord{}, err
	}

	c, err := rankedPlayer(t.snap, ch.Challenger)
	if err != nil {
		return models.HistoryRecord{}, err
	}
	d, err := rankedPlayer(t.snap, ch.Defender)
	if err != nil {
		return models.HistoryRecord{}, err
	}
	cBefore, dBefore := c.Position, d.Position

	forfeiter := ranking.SideDefender
	if forfeitedBy == ch.Challenger {
		forfeiter = ranking.SideChallenger
	}
	cAfter, dAfter, err := ranking.Apply(outcome, forfeiter, cBefore, dBefore)
	if err != nil {
		return models.HistoryRecord{}, err
	}
	if outcome != models.OutcomeCancelled {
		winnerPos, loserPos := cBefore, dBefore
		if w, _ := ranking.Winner(outcome, forfeiter); w == ranking.SideDefender {
			winnerPos, loserPos = dBefore, cBefore
		}
		next, err := ranking.Climb(order(t.snap), winnerPos, loserPos)
		if err != nil {
			return models.HistoryRecord{}, err
		}
		applyOrder(t.snap, next)
	}

	resolvedAt := t.now
	ch.Outcome = outcome
	ch.ForfeitedBy = forfeitedBy
	ch.ResolvedAt = &resolvedAt

	t.snap.Challenges = append(t.snap.Challenges[:idx], t.snap.Challenges[idx+1:]...)
	if to == models.ChallengeResolved {
		t.snap.Resolved = append(t.snap.Resolved, ch)
	}

	rec := t.record(ch, cBefore, cAfter, dBefore, dAfter, reason)

	eventType := pubsub.ChallengeResolved
	switch {
	case reason == models.ReasonTimeout:
		eventType = pubsub.ChallengeExpired
	case to == models.ChallengeCancelled:
		eventType = pubsub.ChallengeCancelled
	case to == models.ChallengeForfeited:
		eventType = pubsub.ChallengeForfeited
	}
	t.emit(eventType, map[string]any{
		"challenge":  ch.ID,
		"challenger": ch.Challenger,
		"defender":   ch.Defender,
		"outcome":    string(outcome),
		"winner":     rec.Winner(),
		"reason":     string(reason),
	})
	return rec, nil
}
