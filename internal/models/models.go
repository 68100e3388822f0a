package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Mode identifies the kind of tournament run in a channel
type Mode string

const (
	ModeLadder1v1 Mode = "Ladder1v1"
)

// ParseMode normalizes user input into a Mode. An empty string selects the default
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ladder1v1", "1v1", "ladder":
		return ModeLadder1v1, true
	default:
		return "", false
	}
}

// Key addresses one tournament: a channel runs at most one tournament per mode
type Key struct {
	Channel string `json:"channel"`
	Mode    Mode   `json:"mode"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Channel, k.Mode)
}

// TournamentStatus is the lifecycle status of a tournament
type TournamentStatus string

const (
	TournamentActive  TournamentStatus = "Active"
	TournamentDeleted TournamentStatus = "Deleted"
)

// ChallengeRule decides which pairings a challenge may target
type ChallengeRule string

const (
	RuleOpen    ChallengeRule = "open"    // anyone may challenge anyone
	RuleLadder  ChallengeRule = "ladder"  // only the player directly above
	RulePyramid ChallengeRule = "pyramid" // same tier or the tier above
)

// Tournament is the metadata of one ladder
type Tournament struct {
	ID               string           `json:"id"`
	Channel          string           `json:"channel"`
	Mode             Mode             `json:"mode"`
	Status           TournamentStatus `json:"status"`
	CreatedAt        time.Time        `json:"createdAt"`
	DeletedAt        *time.Time       `json:"deletedAt,omitempty"`
	ChallengeRule    ChallengeRule    `json:"challengeRule"`
	ChallengeTimeout time.Duration    `json:"challengeTimeout"`
	Notes            string           `json:"notes,omitempty"`
	Admins           []string         `json:"admins"`
}

// Key returns the registry key of the tournament
func (t Tournament) Key() Key {
	return Key{Channel: t.Channel, Mode: t.Mode}
}

// PlayerStatus is the participation status of a roster entry
type PlayerStatus string

const (
	PlayerActive    PlayerStatus = "Active"
	PlayerSuspended PlayerStatus = "Suspended"
	PlayerRemoved   PlayerStatus = "Removed"
)

// PlayerEntry is a registered participant
type PlayerEntry struct {
	ID           string       `json:"id"`
	Position     int          `json:"position"`
	Status       PlayerStatus `json:"status"`
	Notes        string       `json:"notes,omitempty"`
	TimeoutUntil *time.Time   `json:"timeoutUntil,omitempty"`
	Admin        bool         `json:"admin,omitempty"`
	RegisteredAt time.Time    `json:"registeredAt"`
}

// TimedOut reports whether the player is serving a timeout at now
func (p PlayerEntry) TimedOut(now time.Time) bool {
	return p.TimeoutUntil != nil && now.Before(*p.TimeoutUntil)
}

// Ranked reports whether the entry holds a ladder position
func (p PlayerEntry) Ranked() bool {
	return p.Status != PlayerRemoved
}

// ChallengeState is a node of the challenge lifecycle
type ChallengeState string

const (
	ChallengeProposed  ChallengeState = "Proposed"
	ChallengeAccepted  ChallengeState = "Accepted"
	ChallengeResolved  ChallengeState = "Resolved"
	ChallengeCancelled ChallengeState = "Cancelled"
	ChallengeForfeited ChallengeState = "Forfeited"
)

// Open reports whether the state is non-terminal
func (s ChallengeState) Open() bool {
	return s == ChallengeProposed || s == ChallengeAccepted
}

// Outcome is a match result from the challenger's perspective
type Outcome string

const (
	OutcomePending   Outcome = "Pending"
	OutcomeWon       Outcome = "Won"
	OutcomeLost      Outcome = "Lost"
	OutcomeForfeited Outcome = "Forfeited"
	OutcomeCancelled Outcome = "Cancelled"
)

// Challenge is a match request between two players
type Challenge struct {
	ID          string         `json:"id"`
	Challenger  string         `json:"challenger"`
	Defender    string         `json:"defender"`
	State       ChallengeState `json:"state"`
	CreatedAt   time.Time      `json:"createdAt"`
	Deadline    *time.Time     `json:"deadline,omitempty"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty"`
	Outcome     Outcome        `json:"outcome"`
	ReportedBy  string         `json:"reportedBy,omitempty"`
	ForfeitedBy string         `json:"forfeitedBy,omitempty"`
}

// Involves reports whether id is a party to the challenge
func (c Challenge) Involves(id string) bool {
	return c.Challenger == id || c.Defender == id
}

// Opponent returns the other party
func (c Challenge) Opponent(id string) string {
	if c.Challenger == id {
		return c.Defender
	}
	return c.Challenger
}

// Reason explains why a challenge ended
type Reason string

const (
	ReasonReported     Reason = "reported"
	ReasonCancelled    Reason = "cancelled"
	ReasonForfeit      Reason = "forfeit"
	ReasonTimeout      Reason = "timeout"
	ReasonUnregistered Reason = "unregistered"
)

// HistoryRecord is the immutable fact of a terminated challenge
type HistoryRecord struct {
	ID               string    `json:"id"`
	Seq              int64     `json:"seq"`
	TournamentID     string    `json:"tournamentId"`
	Key              Key       `json:"key"`
	Timestamp        time.Time `json:"timestamp"`
	ChallengeID      string    `json:"challengeId"`
	Challenger       string    `json:"challenger"`
	Defender         string    `json:"defender"`
	ChallengerBefore int       `json:"challengerBefore"`
	ChallengerAfter  int       `json:"challengerAfter"`
	DefenderBefore   int       `json:"defenderBefore"`
	DefenderAfter    int       `json:"defenderAfter"`
	Outcome          Outcome   `json:"outcome"`
	ForfeitedBy      string    `json:"forfeitedBy,omitempty"`
	Reason           Reason    `json:"reason"`
}

// Winner returns the player credited with the match, or "" for cancellations
func (r HistoryRecord) Winner() string {
	switch r.Outcome {
	case OutcomeWon:
		return r.Challenger
	case OutcomeLost:
		return r.Defender
	case OutcomeForfeited:
		if r.ForfeitedBy == r.Challenger {
			return r.Defender
		}
		return r.Challenger
	default:
		return ""
	}
}

// Snapshot is the full durable state of one tournament except its history
type Snapshot struct {
	Tournament Tournament    `json:"tournament"`
	Players    []PlayerEntry `json:"players"`
	Challenges []Challenge   `json:"challenges"`
	Resolved   []Challenge   `json:"resolved"`
	NextSeq    int64         `json:"nextSeq"`
}

// Clone returns a deep copy. Committed snapshots are never mutated; every
// mutation works on a clone
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Tournament: s.Tournament,
		Players:    make([]PlayerEntry, len(s.Players)),
		Challenges: make([]Challenge, len(s.Challenges)),
		Resolved:   make([]Challenge, len(s.Resolved)),
		NextSeq:    s.NextSeq,
	}
	out.Tournament.Admins = append([]string(nil), s.Tournament.Admins...)
	if s.Tournament.DeletedAt != nil {
		t := *s.Tournament.DeletedAt
		out.Tournament.DeletedAt = &t
	}
	copy(out.Players, s.Players)
	for i := range out.Players {
		if p := out.Players[i].TimeoutUntil; p != nil {
			t := *p
			out.Players[i].TimeoutUntil = &t
		}
	}
	copy(out.Challenges, s.Challenges)
	copy(out.Resolved, s.Resolved)
	return out
}

// Player finds a roster entry, including removed ones
func (s *Snapshot) Player(id string) *PlayerEntry {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// RankedCount is N, the number of entries holding a position
func (s *Snapshot) RankedCount() int {
	n := 0
	for _, p := range s.Players {
		if p.Ranked() {
			n++
		}
	}
	return n
}

// Standings returns ranked entries ordered by position
func (s *Snapshot) Standings() []PlayerEntry {
	out := make([]PlayerEntry, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Ranked() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// OpenChallenge finds the open challenge involving id, if any
func (s *Snapshot) OpenChallenge(id string) *Challenge {
	for i := range s.Challenges {
		if s.Challenges[i].Involves(id) {
			return &s.Challenges[i]
		}
	}
	return nil
}

// IsAdmin reports whether id is on the tournament admin list. An empty list
// makes everyone an admin
func (t Tournament) IsAdmin(id string) bool {
	if len(t.Admins) == 0 {
		return true
	}
	for _, a := range t.Admins {
		if a == id {
			return true
		}
	}
	return false
}
