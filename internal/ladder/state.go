// Package ladder holds the live state of one tournament. Mutations are
// serialized by a per-tournament permit and applied to a private copy of the
// committed snapshot; the copy becomes visible only once the gateway accepted
// it. Reads never wait for the permit
package ladder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Billy-Davies-2/ladder-bot/internal/dal"
	apperrors "github.com/Billy-Davies-2/ladder-bot/internal/errors"
	"github.com/Billy-Davies-2/ladder-bot/internal/history"
	"github.com/Billy-Davies-2/ladder-bot/internal/logger"
	"github.com/Billy-Davies-2/ladder-bot/internal/models"
	"github.com/Billy-Davies-2/ladder-bot/internal/pubsub"
)

// Options tunes a State. Zero values select the defaults
type Options struct {
	MaxOutgoing   int           // open challenges a player may issue, default 1
	MaxIncoming   int           // open challenges a player may receive, default 1
	ResultGrace   time.Duration // window for flagging conflicting reports, default 10m
	CommitTimeout time.Duration // bound on one gateway commit, default 10s
	Publisher     pubsub.Publisher
	History       *history.Log // mirrors committed records to its sinks
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxOutgoing < 1 {
		o.MaxOutgoing = 1
	}
	if o.MaxIncoming < 1 {
		o.MaxIncoming = 1
	}
	if o.ResultGrace <= 0 {
		o.ResultGrace = 10 * time.Minute
	}
	if o.CommitTimeout <= 0 {
		o.CommitTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// State is the in-memory tournament for one key
type State struct {
	key    models.Key
	gw     dal.Gateway
	opts   Options
	log    *slog.Logger
	permit chan struct{}
	view   atomic.Pointer[models.Snapshot]
}

// New wraps an already committed snapshot
func New(gw dal.Gateway, snap *models.Snapshot, opts Options) *State {
	s := &State{
		key:    snap.Tournament.Key(),
		gw:     gw,
		opts:   opts.withDefaults(),
		permit: make(chan struct{}, 1),
	}
	s.log = logger.With("tournament", s.key.String())
	s.view.Store(snap)
	return s
}

// Key returns the tournament key
func (s *State) Key() models.Key {
	return s.key
}

// txn is one mutation in progress
type txn struct {
	snap    *models.Snapshot
	now     time.Time
	records []models.HistoryRecord
	events  []pubsub.Event
	changed bool
}

func (t *txn) emit(eventType string, payload map[string]any) {
	t.events = append(t.events, pubsub.Event{
		Type:       eventType,
		Tournament: t.snap.Tournament.Key().String(),
		Time:       t.now,
		Payload:    payload,
	})
}

// acquire waits for the permit. Waiters are woken in arrival order
func (s *State) acquire(ctx context.Context) error {
	select {
	case s.permit <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s: %w", s.key, ctx.Err())
	}
}

func (s *State) release() {
	<-s.permit
}

// mutate runs fn on a clone of the committed snapshot and commits the result.
// fn returning an error or leaving the txn unchanged discards the clone
func (s *State) mutate(ctx context.Context, op string, fn func(t *txn) error) (*txn, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	committed := s.view.Load()
	if committed.Tournament.Status != models.TournamentActive {
		s.release()
		return nil, notInitialized(s.key)
	}

	t := &txn{snap: committed.Clone(), now: s.opts.Now().UTC()}
	t.changed = s.pruneResolved(t)

	if err := fn(t); err != nil {
		s.release()
		return nil, err
	}
	if !t.changed {
		s.release()
		return t, nil
	}

	if err := s.commit(ctx, op, committed, t); err != nil {
		s.release()
		return nil, err
	}
	s.view.Store(t.snap)
	s.release()

	s.afterCommit(ctx, t)
	return t, nil
}

// commit writes the snapshot and its records. It is detached from the
// caller's cancellation so a disconnecting caller cannot split a commit
func (s *State) commit(ctx context.Context, op string, prev *models.Snapshot, t *txn) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CommitTimeout)
	defer cancel()

	var err error
	if c, ok := s.gw.(dal.Committer); ok {
		err = c.Commit(cctx, s.key, t.snap, t.records)
	} else {
		err = s.saveThenAppend(cctx, prev, t)
	}
	if err != nil {
		s.log.Error("Commit failed, changes discarded", "op", op, "error", err)
		return apperrors.Unavailable(err, op)
	}

	s.log.Debug("Committed", "op", op, "records", len(t.records), "nextSeq", t.snap.NextSeq)
	return nil
}

// saveThenAppend is the fallback for gateways without Commit. A failed append
// restores the previous snapshot
func (s *State) saveThenAppend(ctx context.Context, prev *models.Snapshot, t *txn) error {
	if err := s.gw.Save(ctx, s.key, t.snap); err != nil {
		return err
	}
	for _, rec := range t.records {
		if err := s.gw.AppendHistory(ctx, s.key, rec); err != nil {
			if rerr := s.gw.Save(ctx, s.key, prev); rerr != nil {
				s.log.Error("Failed to restore snapshot after history append failure", "error", rerr)
			}
			return err
		}
	}
	return nil
}

func (s *State) afterCommit(ctx context.Context, t *txn) {
	if s.opts.Publisher != nil {
		for _, ev := range t.events {
			s.opts.Publisher.Publish(ev)
		}
	}
	if s.opts.History != nil && len(t.records) > 0 {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.opts.History.Mirror(mctx, t.records)
	}
}

// pruneResolved drops resolved challenges older than the grace window
func (s *State) pruneResolved(t *txn) bool {
	kept := t.snap.Resolved[:0]
	for _, ch := range t.snap.Resolved {
		if ch.ResolvedAt != nil && t.now.Sub(*ch.ResolvedAt) <= s.opts.ResultGrace {
			kept = append(kept, ch)
		}
	}
	pruned := len(kept) != len(t.snap.Resolved)
	t.snap.Resolved = kept
	return pruned
}

// record appends a history record for a terminated challenge
func (t *txn) record(ch models.Challenge, cBefore, cAfter, dBefore, dAfter int, reason models.Reason) models.HistoryRecord {
	rec := models.HistoryRecord{
		ID:               uuid.NewString(),
		Seq:              t.snap.NextSeq,
		TournamentID:     t.snap.Tournament.ID,
		Key:              t.snap.Tournament.Key(),
		Timestamp:        t.now,
		ChallengeID:      ch.ID,
		Challenger:       ch.Challenger,
		Defender:         ch.Defender,
		ChallengerBefore: cBefore,
		ChallengerAfter:  cAfter,
		DefenderBefore:   dBefore,
		DefenderAfter:    dAfter,
		Outcome:          ch.Outcome,
		ForfeitedBy:      ch.ForfeitedBy,
		Reason:           reason,
	}
	t.snap.NextSeq++
	t.records = append(t.records, rec)
	t.changed = true
	return rec
}

func notInitialized(key models.Key) error {
	return apperrors.New(apperrors.KindNotInitialized, "no %s tournament in %s", key.Mode, key.Channel)
}

// committed returns the current view, failing once the tournament is deleted
func (s *State) committed() (*models.Snapshot, error) {
	snap := s.view.Load()
	if snap.Tournament.Status != models.TournamentActive {
		return nil, notInitialized(s.key)
	}
	return snap, nil
}

// Tournament returns the committed tournament metadata
func (s *State) Tournament() (models.Tournament, error) {
	snap, err := s.committed()
	if err != nil {
		return models.Tournament{}, err
	}
	t := snap.Tournament
	t.Admins = append([]string(nil), snap.Tournament.Admins...)
	return t, nil
}

// Standings returns ranked players ordered by position
func (s *State) Standings() ([]models.PlayerEntry, error) {
	snap, err := s.committed()
	if err != nil {
		return nil, err
	}
	return snap.Standings(), nil
}

// OpenChallenges returns the challenges that are not yet terminal
func (s *State) OpenChallenges() ([]models.Challenge, error) {
	snap, err := s.committed()
	if err != nil {
		return nil, err
	}
	return append([]models.Challenge{}, snap.Challenges...), nil
}

// Dump returns the committed snapshot as indented JSON
func (s *State) Dump() ([]byte, error) {
	snap, err := s.committed()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(snap, "", "  ")
}

// Snapshot returns a deep copy of the committed snapshot, deleted or not
func (s *State) Snapshot() *models.Snapshot {
	return s.view.Load().Clone()
}

// IsAdmin reports whether id is a tournament admin
func (s *State) IsAdmin(id string) bool {
	snap := s.view.Load()
	return snap.Tournament.Status == models.TournamentActive && snap.Tournament.IsAdmin(id)
}

// Active reports whether the tournament has not been deleted
func (s *State) Active() bool {
	return s.view.Load().Tournament.Status == models.TournamentActive
}

// Delete soft-deletes the tournament and returns the final snapshot. Open
// challenges stay in the snapshot as they were; history is untouched
func (s *State) Delete(ctx context.Context) (*models.Snapshot, error) {
	t, err := s.mutate(ctx, "delete", func(t *txn) error {
		now := t.now
		t.snap.Tournament.Status = models.TournamentDeleted
		t.snap.Tournament.DeletedAt = &now
		t.changed = true
		t.emit(pubsub.TournamentDeleted, map[string]any{"id": t.snap.Tournament.ID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t.snap.Clone(), nil
}
