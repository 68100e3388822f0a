package ladder

import (
	"context"
	"strings"

	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
	"github.com/Billy-Davies-2/ladder-bot/internal/pubsub"
	"github.com/Billy-Davies-2/ladder-bot/internal/ranking"
)

// order lists ranked player ids by position
func order(snap *models.Snapshot) []string {
	standings := snap.Standings()
	ids := make([]string, len(standings))
	for i, p := range standings {
		ids[i] = p.ID
	}
	return ids
}

// applyOrder rewrites positions from an ordered id list
func applyOrder(snap *models.Snapshot, ids []string) {
	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i + 1
	}
	for i := range snap.Players {
		if p, ok := pos[snap.Players[i].ID]; ok {
			snap.Players[i].Position = p
		}
	}
}

func rankedPlayer(snap *models.Snapshot, id string) (*models.PlayerEntry, error) {
	p := snap.Player(id)
	if p == nil || !p.Ranked() {
		return nil, apperrors.New(apperrors.KindNotRegistered, "%s is not registered", id).With("player", id)
	}
	return p, nil
}

// Register appends id at the bottom of the ladder and returns its position.
// A previously removed player is reactivated
func (s *State) Register(ctx context.Context, id string) (int, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, apperrors.New(apperrors.KindInvalidValue, "player id is required")
	}

	var position int
	_, err := s.mutate(ctx, "register", func(t *txn) error {
		p := t.snap.Player(id)
		if p != nil && p.Ranked() {
			return apperrors.New(apperrors.KindAlreadyRegistered, "%s is already registered at position %d", id, p.Position).With("player", id)
		}

		position = t.snap.RankedCount() + 1
		if p != nil {
			p.Status = models.PlayerActive
			p.Position = position
			p.TimeoutUntil = nil
		} else {
			t.snap.Players = append(t.snap.Players, models.PlayerEntry{
				ID:           id,
				Position:     position,
				Status:       models.PlayerActive,
				RegisteredAt: t.now,
			})
		}

		t.changed = true
		t.emit(pubsub.PlayerRegistered, map[string]any{"player": id, "position": position})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return position, nil
}

// Unregister removes id from the ladder and closes the gap. With open
// challenges it fails unless force is set, in which case those challenges are
// cancelled first
func (s *State) Unregister(ctx context.Context, id string, force bool) ([]models.HistoryRecord, error) {
	t, err := s.mutate(ctx, "unregister", func(t *txn) error {
		p, err := rankedPlayer(t.snap, id)
		if err != nil {
			return err
		}

		open := 0
		for _, ch := range t.snap.Challenges {
			if ch.Involves(id) {
				open++
			}
		}
		if open > 0 && !force {
			return apperrors.New(apperrors.KindOpenChallengeExists, "%s has %d open challenge(s); cancel them first", id, open).With("player", id)
		}

		for open > 0 {
			idx := -1
			for i, ch := range t.snap.Challenges {
				if ch.Involves(id) {
					idx = i
					break
				}
			}
			if _, err := s.terminate(t, idx, models.ChallengeCancelled, models.OutcomeCancelled, models.ReasonUnregistered, ""); err != nil {
				return err
			}
			open--
		}

		removed := p.Position
		p.Status = models.PlayerRemoved
		p.Position = 0
		for i := range t.snap.Players {
			if q := &t.snap.Players[i]; q.Ranked() && q.Position > removed {
				q.Position--
			}
		}

		t.changed = true
		t.emit(pubsub.PlayerUnregistered, map[string]any{"player": id, "position": removed})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.records, nil
}

// Move places id at position, shifting everyone in between by one. Admin only
func (s *State) Move(ctx context.Context, id string, position int, admin bool) error {
	if !admin {
		return apperrors.New(apperrors.KindForbidden, "only tournament admins can move players")
	}

	_, err := s.mutate(ctx, "move", func(t *txn) error {
		p, err := rankedPlayer(t.snap, id)
		if err != nil {
			return err
		}

		from := p.Position
		next, err := ranking.Relocate(order(t.snap), from, position)
		if err != nil {
			return err
		}
		if from == position {
			return nil
		}
		applyOrder(t.snap, next)

		t.changed = true
		t.emit(pubsub.PlayerMoved, map[string]any{"player": id, "from": from, "to": position})
		return nil
	})
	return err
}
