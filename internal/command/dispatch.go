package command

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/history"
	"github.com/Billy-Davies-2/ladder-bot/internal/ladder"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
	"github.com/Billy-Davies-2/ladder-bot/internal/registry"
)

// Request is one command invocation. Admin is the capability granted by the
// transport; tournament admins are recognised on top of it
type Request struct {
	Channel string
	Mode    models.Mode
	Caller  string
	Admin   bool
	Command Command
}

// Response is the reply to a command: Text for chat-style callers, Data for
// structured ones
type Response struct {
	Text string `json:"text"`
	Data any    `json:"data,omitempty"`
}

// Dispatcher runs commands against the registry
type Dispatcher struct {
	reg  *registry.Registry
	hist *history.Log
}

func NewDispatcher(reg *registry.Registry, hist *history.Log) *Dispatcher {
	return &Dispatcher{reg: reg, hist: hist}
}

func forbidden(action string) error {
	return apperrors.New(apperrors.KindForbidden, "only tournament admins can %s", action)
}

// actor resolves who a command acts for. Acting for someone else needs admin
func actor(req Request, user string, admin bool) (string, error) {
	if user == "" || user == req.Caller {
		if req.Caller == "" {
			return "", apperrors.New(apperrors.KindInvalidValue, "caller identity is required")
		}
		return req.Caller, nil
	}
	if !admin {
		return "", forbidden("act for another player")
	}
	return user, nil
}

// Dispatch executes req.Command
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Response, error) {
	if req.Command == nil {
		return Response{}, apperrors.New(apperrors.KindUnknownCommand, "no command given")
	}

	resp, err := d.dispatch(ctx, req)
	if err != nil {
		logger.Debug("Command failed",
			"command", req.Command.Name(),
			"channel", req.Channel,
			"caller", req.Caller,
			"kind", apperrors.KindOf(err),
			"error", err,
		)
		return Response{}, err
	}
	return resp, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) (Response, error) {
	switch cmd := req.Command.(type) {
	case Help:
		return Response{Text: HelpText()}, nil

	case Init:
		s, err := d.reg.Create(ctx, req.Channel, cmd.Mode, req.Caller)
		if err != nil {
			return Response{}, err
		}
		tour, err := s.Tournament()
		if err != nil {
			return Response{}, err
		}
		return Response{Text: fmt.Sprintf("Started a %s tournament in %s.", tour.Mode, tour.Channel), Data: tour}, nil
	}

	mode := req.Mode
	s, err := d.reg.GetOrLoad(ctx, req.Channel, mode)
	if err != nil {
		return Response{}, err
	}
	admin := req.Admin || (req.Caller != "" && s.IsAdmin(req.Caller))

	switch cmd := req.Command.(type) {
	case DeleteTournament:
		if !admin {
			return Response{}, forbidden("delete the tournament")
		}
		final, err := d.reg.Delete(ctx, req.Channel, mode)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: fmt.Sprintf("Deleted the %s tournament in %s.", final.Tournament.Mode, final.Tournament.Channel)}, nil

	case Register:
		id, err := actor(req, cmd.User, admin)
		if err != nil {
			return Response{}, err
		}
		pos, err := s.Register(ctx, id)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: fmt.Sprintf("Registered %s at position %d.", id, pos), Data: map[string]any{"player": id, "position": pos}}, nil

	case Unregister:
		id, err := actor(req, cmd.User, admin)
		if err != nil {
			return Response{}, err
		}
		if cmd.Force && !admin {
			return Response{}, forbidden("force an unregister")
		}
		recs, err := s.Unregister(ctx, id, cmd.Force)
		if err != nil {
			return Response{}, err
		}
		text := fmt.Sprintf("Unregistered %s.", id)
		if len(recs) > 0 {
			text += fmt.Sprintf(" Cancelled %d open challenge(s).", len(recs))
		}
		return Response{Text: text, Data: recs}, nil

	case Challenge:
		challenger, err := actor(req, "", admin)
		if err != nil {
			return Response{}, err
		}
		ch, err := s.Challenge(ctx, challenger, cmd.User)
		if err != nil {
			return Response{}, err
		}
		text := fmt.Sprintf("%s challenged %s.", ch.Challenger, ch.Defender)
		if ch.Deadline != nil {
			text += fmt.Sprintf(" Report a result before %s.", ch.Deadline.Format("2006-01-02 15:04 MST"))
		}
		return Response{Text: text, Data: ch}, nil

	case Result:
		reporter, err := actor(req, cmd.User, admin)
		if err != nil {
			return Response{}, err
		}
		rec, err := s.Result(ctx, reporter, cmd.Outcome, cmd.Opponent)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: describeRecord(rec), Data: rec}, nil

	case Cancel:
		requester, err := actor(req, cmd.User, admin)
		if err != nil {
			return Response{}, err
		}
		rec, err := s.Cancel(ctx, requester, cmd.Opponent)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: describeRecord(rec), Data: rec}, nil

	case Forfeit:
		requester, err := actor(req, cmd.User, admin)
		if err != nil {
			return Response{}, err
		}
		rec, err := s.Forfeit(ctx, requester, cmd.Opponent)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: describeRecord(rec), Data: rec}, nil

	case Move:
		if err := s.Move(ctx, cmd.User, cmd.Position, admin); err != nil {
			return Response{}, err
		}
		return Response{Text: fmt.Sprintf("Moved %s to position %d.", cmd.User, cmd.Position)}, nil

	case Standings:
		standings, err := s.Standings()
		if err != nil {
			return Response{}, err
		}
		return Response{Text: formatStandings(standings), Data: standings}, nil

	case ActiveChallenges:
		open, err := s.OpenChallenges()
		if err != nil {
			return Response{}, err
		}
		return Response{Text: formatChallenges(open), Data: open}, nil

	case History:
		recs, err := d.hist.Recent(ctx, s.Key(), cmd.Length)
		if err != nil {
			return Response{}, err
		}
		return Response{Text: formatHistory(recs), Data: recs}, nil

	case PrintRaw:
		raw, err := s.Dump()
		if err != nil {
			return Response{}, err
		}
		return Response{Text: string(raw)}, nil

	case Set:
		target := ""
		if cmd.Level == ladder.LevelUser {
			target, err = actor(req, cmd.User, admin)
			if err != nil {
				return Response{}, err
			}
		}
		if err := s.Set(ctx, cmd.Level, target, cmd.Key, cmd.Value, admin); err != nil {
			return Response{}, err
		}
		if target != "" {
			return Response{Text: fmt.Sprintf("Set %s for %s.", cmd.Key, target)}, nil
		}
		return Response{Text: fmt.Sprintf("Set tournament %s.", cmd.Key)}, nil

	default:
		return Response{}, apperrors.New(apperrors.KindUnknownCommand, "unknown command %q", req.Command.Name())
	}
}

func describeRecord(rec models.HistoryRecord) string {
	switch rec.Outcome {
	case models.OutcomeCancelled:
		return fmt.Sprintf("Challenge between %s and %s cancelled.", rec.Challenger, rec.Defender)
	case models.OutcomeForfeited:
		return fmt.Sprintf("%s forfeited; %s wins. %s", rec.ForfeitedBy, rec.Winner(), positions(rec))
	default:
		return fmt.Sprintf("%s wins. %s", rec.Winner(), positions(rec))
	}
}

func positions(rec models.HistoryRecord) string {
	return fmt.Sprintf("%s: %d -> %d, %s: %d -> %d",
		rec.Challenger, rec.ChallengerBefore, rec.ChallengerAfter,
		rec.Defender, rec.DefenderBefore, rec.DefenderAfter)
}

func formatStandings(standings []models.PlayerEntry) string {
	if len(standings) == 0 {
		return "No players registered yet."
	}
	var b strings.Builder
	b.WriteString("Standings:\n")
	for _, p := range standings {
		fmt.Fprintf(&b, "%d. %s", p.Position, p.ID)
		if p.Status != models.PlayerActive {
			fmt.Fprintf(&b, " (%s)", strings.ToLower(string(p.Status)))
		}
		if p.Notes != "" {
			fmt.Fprintf(&b, " - %s", p.Notes)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatChallenges(open []models.Challenge) string {
	if len(open) == 0 {
		return "No active challenges."
	}
	var b strings.Builder
	b.WriteString("Active challenges:\n")
	for _, ch := range open {
		fmt.Fprintf(&b, "%s vs %s", ch.Challenger, ch.Defender)
		if ch.Deadline != nil {
			fmt.Fprintf(&b, " (due %s)", ch.Deadline.Format("2006-01-02 15:04 MST"))
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatHistory(recs []models.HistoryRecord) string {
	if len(recs) == 0 {
		return "No matches played yet."
	}
	var b strings.Builder
	b.WriteString("Recent matches:\n")
	for _, r := range recs {
		fmt.Fprintf(&b, "%s %s vs %s: ", r.Timestamp.Format("2006-01-02"), r.Challenger, r.Defender)
		switch r.Outcome {
		case models.OutcomeCancelled:
			b.WriteString("cancelled")
		default:
			fmt.Fprintf(&b, "%s won (%s)", r.Winner(), r.Reason)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
