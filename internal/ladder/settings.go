package ladder

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
	"github.com/Billy-Davies-2/ladder-bot/internal/pubsub"
)

// Level selects what a set command configures
type Level string

const (
	LevelUser   Level = "user"
	LevelSystem Level = "system"
)

// MaxNotesLength bounds notes on players and tournaments, in characters
const MaxNotesLength = 100

// ParseLevel accepts the level names used on the command surface
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "player":
		return LevelUser, nil
	case "system", "tournament":
		return LevelSystem, nil
	default:
		return "", apperrors.New(apperrors.KindInvalidValue, "level %q is not one of user or system", s)
	}
}

// keeps day counts inside time.Duration
const maxDays = 100000

// ParseDuration reads a Go duration, a whole number of days such as "3d", or
// "none" for no limit
func ParseDuration(v string) (time.Duration, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "none", "off", "0":
		return 0, nil
	}
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 || n > maxDays {
			return 0, fmt.Errorf("invalid day count %q", v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return d, nil
}

// parseUntil reads a player timeout: an RFC3339 instant, a duration from now,
// or "none" to clear it
func parseUntil(v string, now time.Time) (*time.Time, error) {
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(v)); err == nil {
		t = t.UTC()
		return &t, nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return nil, err
	}
	if d == 0 {
		return nil, nil
	}
	until := now.Add(d)
	return &until, nil
}

func invalidValue(key, value string, err error) error {
	return apperrors.Wrap(apperrors.KindInvalidValue, err, "%q is not a valid %s", value, key).With("key", key)
}

func unknownKey(level Level, key string) error {
	return apperrors.New(apperrors.KindUnknownKey, "%s settings have no key %q", level, key).With("key", key)
}

func checkNotes(value string) error {
	if n := utf8.RuneCountInString(value); n > MaxNotesLength {
		return apperrors.New(apperrors.KindInvalidValue, "notes are limited to %d characters, got %d", MaxNotesLength, n).With("key", "notes")
	}
	return nil
}

// Set changes one setting. User level targets the player named by target;
// system level changes the tournament itself and requires admin
func (s *State) Set(ctx context.Context, level Level, target, key, value string, admin bool) error {
	key = strings.ToLower(strings.TrimSpace(key))

	switch level {
	case LevelUser:
		return s.setUser(ctx, target, key, value)
	case LevelSystem:
		if !admin {
			return apperrors.New(apperrors.KindForbidden, "only tournament admins can change system settings")
		}
		return s.setSystem(ctx, key, value)
	default:
		return apperrors.New(apperrors.KindInvalidValue, "level %q is not one of user or system", level)
	}
}

func (s *State) setUser(ctx context.Context, target, key, value string) error {
	switch key {
	case "notes", "status", "timeout":
	default:
		return unknownKey(LevelUser, key)
	}

	_, err := s.mutate(ctx, "set", func(t *txn) error {
		p, err := rankedPlayer(t.snap, target)
		if err != nil {
			return err
		}

		switch key {
		case "notes":
			if err := checkNotes(value); err != nil {
				return err
			}
			p.Notes = value
		case "status":
			switch strings.ToLower(strings.TrimSpace(value)) {
			case "active":
				p.Status = models.PlayerActive
			case "suspended", "inactive":
				p.Status = models.PlayerSuspended
			default:
				return invalidValue(key, value, fmt.Errorf("expected active or suspended"))
			}
		case "timeout":
			until, err := parseUntil(value, t.now)
			if err != nil {
				return invalidValue(key, value, err)
			}
			p.TimeoutUntil = until
		}

		t.changed = true
		t.emit(pubsub.PlayerUpdated, map[string]any{"player": target, "key": key, "value": value})
		return nil
	})
	return err
}

func (s *State) setSystem(ctx context.Context, key, value string) error {
	switch key {
	case "notes", "mode", "timeout", "admin_add", "admin_remove":
	default:
		return unknownKey(LevelSystem, key)
	}

	_, err := s.mutate(ctx, "set", func(t *txn) error {
		tour := &t.snap.Tournament

		switch key {
		case "notes":
			if err := checkNotes(value); err != nil {
				return err
			}
			tour.Notes = value
		case "mode":
			rule := models.ChallengeRule(strings.ToLower(strings.TrimSpace(value)))
			switch rule {
			case models.RuleOpen, models.RuleLadder, models.RulePyramid:
				tour.ChallengeRule = rule
			default:
				return invalidValue(key, value, fmt.Errorf("expected open, ladder or pyramid"))
			}
		case "timeout":
			d, err := ParseDuration(value)
			if err != nil {
				return invalidValue(key, value, err)
			}
			tour.ChallengeTimeout = d
		case "admin_add":
			id := strings.TrimSpace(value)
			if id == "" {
				return invalidValue(key, value, fmt.Errorf("player id is required"))
			}
			if !slices.Contains(tour.Admins, id) {
				tour.Admins = append(tour.Admins, id)
			}
		case "admin_remove":
			id := strings.TrimSpace(value)
			i := slices.Index(tour.Admins, id)
			if i < 0 {
				return invalidValue(key, value, fmt.Errorf("%s is not an admin", id))
			}
			tour.Admins = slices.Delete(tour.Admins, i, i+1)
		}

		t.changed = true
		t.emit(pubsub.SettingsUpdated, map[string]any{"key": key, "value": value})
		return nil
	})
	return err
}
