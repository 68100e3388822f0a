// Package command is the command surface of the ladder bot: a closed set of
// command types, a parser from name/parameter pairs, and one dispatcher that
// maps each command to its engine operation
package command

import (
	"strconv"
	"strings"

	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/ladder"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
)

// Command is one of the types below
type Command interface {
	Name() string
	command()
}

type Init struct {
	Mode models.Mode
}

type DeleteTournament struct{}

// Register signs up User, or the caller when User is empty
type Register struct {
	User string
}

type Unregister struct {
	User  string
	Force bool
}

// Challenge is issued by the caller against User
type Challenge struct {
	User string
}

// Result reports Outcome ("won"/"lost") from the reporter's perspective. The
// reporter is User when an admin reports on someone's behalf
type Result struct {
	Outcome  string
	User     string
	Opponent string
}

type Cancel struct {
	User     string
	Opponent string
}

type Forfeit struct {
	User     string
	Opponent string
}

type Move struct {
	User     string
	Position int
}

type Standings struct{}

type ActiveChallenges struct{}

// History lists the Length most recent matches; zero selects the default
type History struct {
	Length int
}

type PrintRaw struct{}

type Set struct {
	Level ladder.Level
	Key   string
	Value string
	User  string
}

type Help struct{}

func (Init) Name() string             { return "init" }
func (DeleteTournament) Name() string { return "delete_tournament" }
func (Register) Name() string         { return "register" }
func (Unregister) Name() string       { return "unregister" }
func (Challenge) Name() string        { return "challenge" }
func (Result) Name() string           { return "result" }
func (Cancel) Name() string           { return "cancel" }
func (Forfeit) Name() string          { return "forfeit" }
func (Move) Name() string             { return "move" }
func (Standings) Name() string        { return "standings" }
func (ActiveChallenges) Name() string { return "active_challenges" }
func (History) Name() string          { return "history" }
func (PrintRaw) Name() string         { return "printraw" }
func (Set) Name() string              { return "set" }
func (Help) Name() string             { return "help" }

func (Init) command()             {}
func (DeleteTournament) command() {}
func (Register) command()         {}
func (Unregister) command()       {}
func (Challenge) command()        {}
func (Result) command()           {}
func (Cancel) command()           {}
func (Forfeit) command()          {}
func (Move) command()             {}
func (Standings) command()        {}
func (ActiveChallenges) command() {}
func (History) command()          {}
func (PrintRaw) command()         {}
func (Set) command()              {}
func (Help) command()             {}

// Params carries named command parameters as received from a transport
type Params map[string]string

func (p Params) get(names ...string) string {
	for _, n := range names {
		if v, ok := p[n]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func missing(cmd, param string) error {
	return apperrors.New(apperrors.KindInvalidValue, "%s needs a %s", cmd, param).With("param", param)
}

// Parse builds a command from its name and parameters
func Parse(name string, params Params) (Command, error) {
	if params == nil {
		params = Params{}
	}
	name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "/")))

	switch name {
	case "init":
		mode, ok := models.ParseMode(params.get("mode"))
		if !ok {
			return nil, apperrors.New(apperrors.KindInvalidValue, "unknown tournament mode %q", params.get("mode")).With("param", "mode")
		}
		return Init{Mode: mode}, nil

	case "delete_tournament":
		return DeleteTournament{}, nil

	case "register":
		return Register{User: params.get("user")}, nil

	case "unregister":
		force := false
		if v := params.get("force"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.KindInvalidValue, err, "force must be true or false").With("param", "force")
			}
			force = b
		}
		return Unregister{User: params.get("user"), Force: force}, nil

	case "challenge":
		user := params.get("user", "opponent")
		if user == "" {
			return nil, missing(name, "user")
		}
		return Challenge{User: user}, nil

	case "result":
		outcome := params.get("outcome", "result")
		if outcome == "" {
			return nil, missing(name, "outcome")
		}
		if _, err := ladder.ParseOutcome(outcome); err != nil {
			return nil, err
		}
		return Result{Outcome: outcome, User: params.get("user"), Opponent: params.get("opponent")}, nil

	case "cancel":
		return Cancel{User: params.get("user"), Opponent: params.get("opponent")}, nil

	case "forfeit":
		return Forfeit{User: params.get("user"), Opponent: params.get("opponent")}, nil

	case "move":
		user := params.get("user")
		if user == "" {
			return nil, missing(name, "user")
		}
		raw := params.get("position")
		if raw == "" {
			return nil, missing(name, "position")
		}
		pos, err := strconv.Atoi(raw)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindInvalidValue, err, "position %q is not a number", raw).With("param", "position")
		}
		return Move{User: user, Position: pos}, nil

	case "standings":
		return Standings{}, nil

	case "active_challenges":
		return ActiveChallenges{}, nil

	case "history":
		length := 0
		if raw := params.get("length", "limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return nil, apperrors.New(apperrors.KindInvalidValue, "length %q must be a positive number", raw).With("param", "length")
			}
			length = n
		}
		return History{Length: length}, nil

	case "printraw":
		return PrintRaw{}, nil

	case "set", "user_settings", "system_settings":
		return parseSet(name, params)

	case "help":
		return Help{}, nil

	default:
		return nil, apperrors.New(apperrors.KindUnknownCommand, "unknown command %q; try help", name)
	}
}

func parseSet(name string, params Params) (Command, error) {
	var level ladder.Level
	switch name {
	case "user_settings":
		level = ladder.LevelUser
	case "system_settings":
		level = ladder.LevelSystem
	default:
		raw := params.get("level")
		if raw == "" {
			return nil, missing(name, "level")
		}
		l, err := ladder.ParseLevel(raw)
		if err != nil {
			return nil, err
		}
		level = l
	}

	key := params.get("key")
	if key == "" {
		return nil, missing(name, "key")
	}
	// notes may be cleared, so value is not trimmed away
	value, ok := params["value"]
	if !ok {
		return nil, missing(name, "value")
	}
	return Set{Level: level, Key: key, Value: value, User: params.get("user")}, nil
}
